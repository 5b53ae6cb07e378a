package helpers

import (
	"fmt"
	"net/mail"
	"strings"
)

// SplitAddress returns the local part and domain of an email address,
// both lowercased.
func SplitAddress(address string) (localPart, domain string, err error) {
	parts := strings.Split(address, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid email address: %s", address)
	}
	return strings.ToLower(parts[0]), strings.ToLower(parts[1]), nil
}

// NormalizeAddress validates and lowercases an address, dropping any
// display name.
func NormalizeAddress(address string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(address))
	if err != nil {
		return "", fmt.Errorf("invalid email address %q: %w", address, err)
	}
	return strings.ToLower(addr.Address), nil
}

// Domain returns the domain of an address, lowercased, or "" if malformed.
func Domain(address string) string {
	_, domain, err := SplitAddress(address)
	if err != nil {
		return ""
	}
	return domain
}

// StripMessageIDBrackets removes the surrounding <> of a Message-ID header
// value and trims whitespace.
func StripMessageIDBrackets(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return id
}
