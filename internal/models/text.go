package models

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidText is returned for empty or overlong question text.
var ErrInvalidText = errors.New("text must be between 1 and 500 characters")

// NormalizeText trims and NFC-normalizes question text and checks that it
// holds between 1 and MaxQuestionLength runes.
func NormalizeText(text string) (string, error) {
	text = norm.NFC.String(strings.TrimSpace(text))
	if n := utf8.RuneCountInString(text); n == 0 || n > MaxQuestionLength {
		return "", ErrInvalidText
	}
	return text, nil
}
