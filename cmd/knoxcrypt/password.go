package main

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// readPassword prompts on the controlling terminal with echo disabled and
// returns the entered bytes. It refuses to fall back to a visible read when
// stdin isn't a terminal — piping a password in cleartext is the caller's
// own business, not something this prompt should make easy by accident.
func readPassword(prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("stdin is not a terminal; no interactive password prompt available")
	}

	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	if len(pw) == 0 {
		return nil, fmt.Errorf("empty password")
	}
	return pw, nil
}

// readPasswordWithConfirmation prompts twice and requires both entries to
// match, used when creating a new image — there's no server round trip to
// catch a typo the way a login prompt has.
func readPasswordWithConfirmation() ([]byte, error) {
	pw, err := readPassword("Password: ")
	if err != nil {
		return nil, err
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		return nil, err
	}
	if string(pw) != string(confirm) {
		return nil, fmt.Errorf("passwords do not match")
	}
	return pw, nil
}
