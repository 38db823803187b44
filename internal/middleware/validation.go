package middleware

import (
	"errors"
	"fmt"
	"regexp"
	"unicode"
	"unicode/utf8"
)

// Validation limits, in runes.
const (
	MaxBoxNameLength     = 200
	MaxBoxTypeLength     = 32
	MaxUploaderLength    = 64
	MaxDescriptionLength = 2000
	MaxFileNameLength    = 255
)

// Validation errors.
var (
	ErrFieldTooLong      = errors.New("exceeds maximum length")
	ErrFieldControlChars = errors.New("contains control characters")
	ErrFieldInvalidUTF8  = errors.New("is not valid UTF-8")
	ErrBoxTypeInvalid    = errors.New("may only contain letters, digits, hyphen and underscore")
)

// validBoxTypePattern matches category tags such as "notes" or "past-exam".
var validBoxTypePattern = regexp.MustCompile(`^[\p{L}\p{N}_-]*$`)

// ValidateBoxMetadata checks the user supplied box fields for well-formedness.
// Presence of the name is the service's concern; empty fields pass here.
func ValidateBoxMetadata(name, boxType, description, uploader string) error {
	fields := []struct {
		field    string
		value    string
		max      int
		newlines bool
	}{
		{"name", name, MaxBoxNameLength, false},
		{"type", boxType, MaxBoxTypeLength, false},
		{"description", description, MaxDescriptionLength, true},
		{"uploader", uploader, MaxUploaderLength, false},
	}

	for _, f := range fields {
		if err := validateText(f.value, f.max, f.newlines); err != nil {
			return fmt.Errorf("%s %w", f.field, err)
		}
	}

	if !validBoxTypePattern.MatchString(boxType) {
		return fmt.Errorf("type %w", ErrBoxTypeInvalid)
	}
	return nil
}

// ValidateFileName checks an attachment name as sent by the client.
func ValidateFileName(name string) error {
	if err := validateText(name, MaxFileNameLength, false); err != nil {
		return fmt.Errorf("file name %w", err)
	}
	return nil
}

func validateText(s string, max int, allowNewlines bool) error {
	if !utf8.ValidString(s) {
		return ErrFieldInvalidUTF8
	}
	if utf8.RuneCountInString(s) > max {
		return ErrFieldTooLong
	}
	for _, r := range s {
		if allowNewlines && (r == '\n' || r == '\r' || r == '\t') {
			continue
		}
		if unicode.IsControl(r) {
			return ErrFieldControlChars
		}
	}
	return nil
}
