// Command certgen issues TLS material for a keystore: a private CA (reused
// when it already exists in the output directory) and a server
// certificate signed by it. Clients trust the CA with -ca.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/atinyakov/keyvault/internal/certgen"
)

func main() {
	dir := flag.String("dir", "certs", "output directory")
	hosts := flag.String("hosts", "localhost,127.0.0.1", "comma-separated server host names and IPs")
	flag.Parse()

	if err := run(*dir, strings.Split(*hosts, ",")); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("certificates written to %s\n", *dir)
}

func run(dir string, hosts []string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	caCertPath, caKeyPath := filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key")

	if _, err := os.Stat(caCertPath); errors.Is(err, fs.ErrNotExist) {
		certPEM, keyPEM, err := certgen.GenerateCA("keyvault CA")
		if err != nil {
			return err
		}
		if err := certgen.WriteFiles(caCertPath, caKeyPath, certPEM, keyPEM); err != nil {
			return err
		}
	}
	caCert, caKey, err := certgen.LoadCACredentials(caCertPath, caKeyPath)
	if err != nil {
		return err
	}

	clean := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if h = strings.TrimSpace(h); h != "" {
			clean = append(clean, h)
		}
	}
	certPEM, keyPEM, err := certgen.GenerateServerCertificate(clean, caCert, caKey)
	if err != nil {
		return err
	}
	return certgen.WriteFiles(filepath.Join(dir, "server.crt"), filepath.Join(dir, "server.key"), certPEM, keyPEM)
}
