package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Field is a name=value pair entered at the prompt.
type Field struct {
	Name  string
	Value string
}

// Prompter reads answers line by line.
type Prompter struct {
	scanner *bufio.Scanner
	out     io.Writer
}

// NewPrompter returns a Prompter reading from in and printing to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{scanner: bufio.NewScanner(in), out: out}
}

// Line prints label and returns the next trimmed line.
func (p *Prompter) Line(label string) (string, error) {
	fmt.Fprint(p.out, label)
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(p.scanner.Text()), nil
}

// Required is Line that rejects empty answers.
func (p *Prompter) Required(label string) (string, error) {
	v, err := p.Line(label)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", fmt.Errorf("%s is required", strings.TrimRight(label, ": "))
	}
	return v, nil
}

// Fields reads name=value lines until an empty line or end of input.
func (p *Prompter) Fields(label string) ([]Field, error) {
	fmt.Fprintln(p.out, label)
	var out []Field
	for {
		line, err := p.Line("> ")
		if errors.Is(err, io.EOF) || (err == nil && line == "") {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		name, value, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("expected name=value, got %q", line)
		}
		out = append(out, Field{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
}
