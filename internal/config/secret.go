package config

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ReadSecret prompts on prompt (written to out) and reads a line from in
// without echoing it, for an oper password or CHALLENGE passphrase the
// config file left blank. When in is not a terminal (e.g. piped input in
// tests), it falls back to a plain line read.
func ReadSecret(in *os.File, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		var line string
		if _, err := fmt.Fscanln(in, &line); err != nil && err != io.EOF {
			return "", fmt.Errorf("config: read secret: %w", err)
		}
		return line, nil
	}

	b, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("config: read secret: %w", err)
	}
	return string(b), nil
}

// FillSecrets prompts interactively for the oper password when the config
// omits both it and a CHALLENGE key file, so a deployment can keep the
// password out of the YAML file entirely.
func (c *Config) FillSecrets(in *os.File, out io.Writer) error {
	if c.Oper.ChallengeKey != "" || c.Oper.Password != "" {
		return nil
	}
	pass, err := ReadSecret(in, out, fmt.Sprintf("oper password for %s: ", c.Oper.Name))
	if err != nil {
		return err
	}
	c.Oper.Password = pass
	return nil
}
