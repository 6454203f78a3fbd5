package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/mailcanary/renderq/pkg/core"
)

// Security limits and configuration
const (
	// MaxHTMLSize is the maximum size in bytes for submitted email HTML (2MB)
	MaxHTMLSize = 2 << 20

	// MaxTargetClients is the maximum number of target clients per job
	MaxTargetClients = 25

	// MaxClientIDLength is the maximum length for email-client IDs
	MaxClientIDLength = 64

	// MinPriority and MaxPriority bound the submission priority range
	MinPriority = 0
	MaxPriority = 100

	// MaxRetries is the hard limit for retry attempts on jobs and captures
	MaxRetries = 10

	// MaxWorkerConcurrency is the hard limit for a worker's concurrent jobs
	MaxWorkerConcurrency = 64

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096
)

// validClientID matches lowercase alphanumeric IDs with hyphens, e.g. "gmail-web"
var validClientID = regexp.MustCompile(`^[a-z][a-z0-9\-]*$`)

// ValidateClientID validates an email-client ID
func ValidateClientID(id string) error {
	if id == "" {
		return core.ErrInvalidClientID
	}
	if len(id) > MaxClientIDLength {
		return core.ErrInvalidClientID
	}
	if !validClientID.MatchString(id) {
		return core.ErrInvalidClientID
	}
	return nil
}

// ValidateHTML validates submitted email HTML content
func ValidateHTML(html string) error {
	if strings.TrimSpace(html) == "" {
		return core.ErrEmptyHTML
	}
	if len(html) > MaxHTMLSize {
		return core.ErrHTMLTooLarge
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	// Truncate if too long
	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampPriority ensures a submitted priority is within the allowed range
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// ClampRetries ensures retry count is within limits
func ClampRetries(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxRetries {
		return MaxRetries
	}
	return n
}

// ClampConcurrency ensures a worker's concurrency is within limits
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxWorkerConcurrency {
		return MaxWorkerConcurrency
	}
	return n
}
