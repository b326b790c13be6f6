package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidID is wrapped by every identifier validation failure, raised
// before any I/O is attempted.
var ErrInvalidID = errors.New("invalid identifier")

const maxIDLength = 256

// ValidateID rejects empty, oversized, and path-hostile identifiers. File
// backends embed IDs in paths, so separators and dot traversal are refused
// for every backend to keep semantics uniform.
func ValidateID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty %s id", ErrInvalidID, kind)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: %s id exceeds %d bytes", ErrInvalidID, kind, maxIDLength)
	}
	if strings.ContainsAny(id, "/\\") || id == "." || id == ".." || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %s id %q contains path elements", ErrInvalidID, kind, id)
	}
	return nil
}

// ValidateLane validates the (worldID, chatID) pair that scopes events and
// queue messages.
func ValidateLane(worldID, chatID string) error {
	if err := ValidateID("world", worldID); err != nil {
		return err
	}
	return ValidateID("chat", chatID)
}
