package orchestrator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
)

// DefaultMaxCodeLength is the longest accepted program, in characters.
const DefaultMaxCodeLength = 10000

// ValidateCode rejects empty and oversized programs using the default limit.
// Syntax is not checked; a syntax error is an ordinary program failure.
func ValidateCode(code string) error {
	return validateCode(code, DefaultMaxCodeLength)
}

func validateCode(code string, maxLen int) error {
	if strings.TrimSpace(code) == "" {
		return &ValidationError{Reason: "code is required"}
	}
	if utf8.RuneCountInString(code) > maxLen {
		return &ValidationError{Reason: fmt.Sprintf("code is too long (max %s characters)", humanize.Comma(int64(maxLen)))}
	}
	return nil
}

func validateProblemID(id int64) error {
	if id <= 0 {
		return &ValidationError{Reason: "problem id is required"}
	}
	return nil
}
