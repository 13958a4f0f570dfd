package auth

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// PromptCredentials interactively collects reddit credentials on the
// terminal. Secrets are read without echo when stdin is a TTY.
func PromptCredentials(in io.Reader, out io.Writer) (*Credentials, error) {
	reader := bufio.NewReader(in)

	username, err := promptLine(reader, out, "reddit username: ")
	if err != nil {
		return nil, err
	}
	clientID, err := promptLine(reader, out, "client id: ")
	if err != nil {
		return nil, err
	}
	userAgent, err := promptLine(reader, out, "user agent (blank for default): ")
	if err != nil {
		return nil, err
	}

	password, err := promptSecret(reader, out, "password: ")
	if err != nil {
		return nil, err
	}
	clientSecret, err := promptSecret(reader, out, "client secret: ")
	if err != nil {
		return nil, err
	}

	return &Credentials{
		Username:     username,
		Password:     password,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		UserAgent:    userAgent,
	}, nil
}

func promptLine(reader *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func promptSecret(reader *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(secret)), nil
	}
	// Piped input (tests, scripts) falls back to plain line reads.
	return promptLine(reader, out, "")
}
