package app

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/itsvetkov1/Sentient-Inbox/internal/config"
)

// resolvePassphrase obtains the key-history passphrase. The configured
// environment variable wins; otherwise the user is prompted on the terminal
// with echo disabled. Non-interactive runs without the env var fail rather
// than hang on a prompt nobody will answer.
func resolvePassphrase(cfg config.KeyConfig) (string, error) {
	if cfg.PassphraseEnv != "" {
		if pass := os.Getenv(cfg.PassphraseEnv); pass != "" {
			return pass, nil
		}
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		if cfg.PassphraseEnv != "" {
			return "", fmt.Errorf("passphrase environment variable %s is not set and stdin is not a terminal", cfg.PassphraseEnv)
		}
		return "", fmt.Errorf("no passphrase_env configured and stdin is not a terminal")
	}

	fmt.Fprint(os.Stderr, "Key history passphrase: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}

	pass := strings.TrimSpace(string(raw))
	if pass == "" {
		return "", fmt.Errorf("empty passphrase")
	}
	return pass, nil
}
