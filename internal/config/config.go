// Package config provides functionality for managing configuration options
// for the keystore server using command-line flags, a JSON file, a .env file
// and environment variables.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Options holds the configuration values for the application.
type Options struct {
	// Port defines the server's listening address (ip:port).
	Port string `json:"port"`

	// DatabaseDSN holds the database connection string. Empty selects the
	// in-memory store.
	DatabaseDSN string `json:"database_dsn"`

	// Config is the path to the Config file.
	Config string `json:"-"`

	// JWTSecret signs session tokens.
	JWTSecret string `json:"jwt_secret"`

	// TokenTTL is the lifetime of a session token.
	TokenTTL Duration `json:"token_ttl"`

	// KDFIterations is the lowest PBKDF2 iteration count accepted for
	// master-key artifacts.
	KDFIterations int `json:"kdf_iterations"`

	// AuthRateLimit is the number of /api/srp requests per second allowed
	// per client IP.
	AuthRateLimit float64 `json:"auth_rate_limit"`

	// TrustProxy takes the client IP from X-Forwarded-For or X-Real-IP.
	// Leave it off unless a proxy in front of the server sets them.
	TrustProxy bool `json:"trust_proxy"`

	// Retention is how long an unclaimed delegation token survives.
	Retention Duration `json:"retention"`

	// LogLevel is a zap level name.
	LogLevel string `json:"log_level"`

	// TLSCert and TLSKey enable HTTPS when both are set.
	TLSCert string `json:"tls_cert"`
	TLSKey  string `json:"tls_key"`
}

// Duration is a time.Duration that reads "15m"-style strings from JSON.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Default returns the built-in configuration.
func Default() *Options {
	return &Options{
		Port:          "localhost:8080",
		Config:        "config.json",
		TokenTTL:      Duration(15 * time.Minute),
		KDFIterations: 210000,
		AuthRateLimit: 5,
		Retention:     Duration(24 * time.Hour),
		LogLevel:      "info",
	}
}

// Parse loads .env if present, then applies the config file, flags and
// environment variables, in that order of increasing precedence.
func Parse() (*Options, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return ParseArgs(os.Args[1:], os.Getenv)
}

// ParseArgs is Parse without the process globals.
func ParseArgs(args []string, getenv func(string) string) (*Options, error) {
	options := Default()

	fset := flag.NewFlagSet("keystore", flag.ContinueOnError)
	port := fset.String("a", "", "run on ip:port server")
	dsn := fset.String("d", "", "db address")
	configPath := fset.String("config", "", "path to config file")
	fset.StringVar(configPath, "c", "", "path to config file (shorthand)")
	logLevel := fset.String("log-level", "", "log level")
	trustProxy := fset.Bool("trust-proxy", false, "take the client IP from X-Forwarded-For")
	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	if v := getenv("CONFIG"); v != "" {
		options.Config = v
	}
	if *configPath != "" {
		options.Config = *configPath
	}
	if options.Config != "" {
		data, err := os.ReadFile(options.Config)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("error while reading config file: %w", err)
		default:
			if err := json.Unmarshal(data, options); err != nil {
				return nil, fmt.Errorf("error while parsing config file: %w", err)
			}
		}
	}

	if *port != "" {
		options.Port = *port
	}
	if *dsn != "" {
		options.DatabaseDSN = *dsn
	}
	if *logLevel != "" {
		options.LogLevel = *logLevel
	}
	if *trustProxy {
		options.TrustProxy = true
	}

	if err := applyEnv(options, getenv); err != nil {
		return nil, err
	}
	if options.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return options, nil
}

func applyEnv(o *Options, getenv func(string) string) error {
	if v := getenv("SERVER_ADDRESS"); v != "" {
		o.Port = v
	}
	if v := getenv("DATABASE_DSN"); v != "" {
		o.DatabaseDSN = v
	}
	if v := getenv("JWT_SECRET"); v != "" {
		o.JWTSecret = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		o.LogLevel = v
	}
	if v := getenv("TLS_CERT"); v != "" {
		o.TLSCert = v
	}
	if v := getenv("TLS_KEY"); v != "" {
		o.TLSKey = v
	}
	if v := getenv("TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TOKEN_TTL: %w", err)
		}
		o.TokenTTL = Duration(d)
	}
	if v := getenv("RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RETENTION: %w", err)
		}
		o.Retention = Duration(d)
	}
	if v := getenv("KDF_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("KDF_ITERATIONS: %w", err)
		}
		o.KDFIterations = n
	}
	if v := getenv("TRUST_PROXY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TRUST_PROXY: %w", err)
		}
		o.TrustProxy = b
	}
	if v := getenv("AUTH_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("AUTH_RATE_LIMIT: %w", err)
		}
		o.AuthRateLimit = f
	}
	return nil
}
