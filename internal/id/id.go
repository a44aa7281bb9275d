// Package id formats and parses journal identifiers.
package id

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var runIDPattern = regexp.MustCompile(`^R-\d{5,}$`)

// NewUUID returns a random run UUID.
func NewUUID() string {
	return uuid.NewString()
}

// FormatRun formats a run friendly ID
func FormatRun(seq int) string {
	return fmt.Sprintf("R-%05d", seq)
}

// ParseRun parses a run friendly ID and returns its sequence number
func ParseRun(id string) (int, error) {
	id = strings.TrimSpace(id)
	if !runIDPattern.MatchString(strings.ToUpper(id)) {
		return 0, fmt.Errorf("invalid run ID format: %s", id)
	}
	return strconv.Atoi(id[2:])
}

// IsUUID checks if a string is a valid UUID
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}

// IsRunID checks if a string is a valid run friendly ID
func IsRunID(s string) bool {
	_, err := ParseRun(s)
	return err == nil
}
