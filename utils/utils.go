package utils

import (
	"strings"

	"github.com/google/uuid"
)

func StringInSlice(a string, list []string) bool {
	for _, b := range list {
		if b == a {
			return true
		}
	}
	return false
}

func IsValidUUID(u string) bool {
	_, err := uuid.Parse(u)
	return err == nil
}

// IsValidIdentifier accepts the project/run/individual names allowed in
// composite document ids.
func IsValidIdentifier(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 256 {
		return false
	}
	return !strings.ContainsAny(s, "¤\n\r\t")
}

// SplitAny splits on any of the given separator bytes, dropping empty fields.
func SplitAny(s string, separators string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune(separators, r)
	})
}
