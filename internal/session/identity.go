package session

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// MaxNameLength bounds normalized display names in runes.
const MaxNameLength = 32

// Identity is the in-memory representation of a logical user. It exists in
// the registry exactly while it owns at least one live connection; the
// persisted record outlives it in the user store.
type Identity struct {
	ID          string
	Name        string
	Avatar      string
	IsBot       bool
	LastLoginAt time.Time

	// conns is owned by the manager and only touched under its lock.
	conns map[Conn]struct{}
}

// Profile returns the wire form of the identity.
func (i *Identity) Profile() Profile {
	return Profile{
		ID:        i.ID,
		Name:      i.Name,
		AvatarURL: i.Avatar,
		IsBot:     i.IsBot,
	}
}

// NormalizeName trims and collapses whitespace, enforces the allowed charset
// (letters, digits, space, '_', '-', '.') and the length bound. Callers that
// receive an error keep the identity's existing name.
func NormalizeName(raw string) (string, error) {
	name := strings.Join(strings.Fields(raw), " ")
	if name == "" {
		return "", errors.New("name is empty")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", fmt.Errorf("name exceeds %d characters", MaxNameLength)
	}

	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '_' || r == '-' || r == '.' {
			continue
		}
		return "", fmt.Errorf("name contains invalid character %q", r)
	}

	return name, nil
}

// placeholderName derives a deterministic guest name from a connection key so
// anonymous identities are tellable apart without being enumerable.
func placeholderName(connKey string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(connKey))
	return fmt.Sprintf("guest-%04x", h.Sum32()&0xffff)
}
