package archive

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"filippo.io/age"
	"filippo.io/age/agessh"
)

// LoadRecipients parses age recipients from explicit strings plus an
// optional recipient file. An empty result is not an error here; the
// archiver decides whether missing recipients are fatal.
func LoadRecipients(values []string, recipientFile string) ([]age.Recipient, error) {
	all := append([]string(nil), values...)

	if recipientFile != "" {
		fromFile, err := readRecipientFile(recipientFile)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: recipient file %s not found", ErrArchivePrereqMissing, recipientFile)
			}
			return nil, fmt.Errorf("read age recipients from %s: %w", recipientFile, err)
		}
		all = append(all, fromFile...)
	}

	return parseRecipientStrings(all)
}

func readRecipientFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var recipients []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		recipients = append(recipients, line)
	}
	return recipients, scanner.Err()
}

// parseRecipientStrings accepts native age X25519 recipients and ssh
// public keys.
func parseRecipientStrings(values []string) ([]age.Recipient, error) {
	var parsed []age.Recipient
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, "age1"):
			recipient, err := age.ParseX25519Recipient(trimmed)
			if err != nil {
				return nil, fmt.Errorf("invalid age recipient %q: %w", trimmed, err)
			}
			parsed = append(parsed, recipient)
		case strings.HasPrefix(trimmed, "ssh-"):
			recipient, err := agessh.ParseRecipient(trimmed)
			if err != nil {
				return nil, fmt.Errorf("invalid ssh recipient %q: %w", trimmed, err)
			}
			parsed = append(parsed, recipient)
		default:
			return nil, fmt.Errorf("unrecognized recipient format: %q", trimmed)
		}
	}
	return parsed, nil
}
