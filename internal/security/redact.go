// Package security masks credentials before they reach logs, errors or output.
package security

import (
	"regexp"
	"strings"
)

// credentialPatterns match secrets that end up inside URLs and error strings.
var credentialPatterns = []*regexp.Regexp{
	// Telegram puts the bot token in the request path: /bot<id>:<secret>/sendMessage
	regexp.MustCompile(`bot([0-9]{5,}:[A-Za-z0-9_-]{20,})`),
	// key=value pairs in query strings and messages.
	regexp.MustCompile(`(?i)(?:api[_-]?key|api[_-]?secret|secret[_-]?key|access[_-]?token|auth[_-]?token|token|password|signature)[=:]\s*["']?([^\s"'&]+)`),
	// user:password@ in URLs.
	regexp.MustCompile(`://[^/\s:@]+:([^@\s/]+)@`),
}

// MaskCredential keeps a short prefix and suffix of long values so they
// can still be told apart.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// Redact masks every known secret and every credential-looking pattern in s.
func Redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if len(secret) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, secret, MaskCredential(secret))
	}
	for _, pattern := range credentialPatterns {
		s = pattern.ReplaceAllStringFunc(s, func(match string) string {
			sub := pattern.FindStringSubmatchIndex(match)
			if len(sub) < 4 || sub[2] < 0 {
				return match
			}
			return match[:sub[2]] + MaskCredential(match[sub[2]:sub[3]]) + match[sub[3]:]
		})
	}
	return s
}

// RedactError returns err with its message redacted. errors.Is and
// errors.As still see the original error.
func RedactError(err error, secrets ...string) error {
	if err == nil {
		return nil
	}
	msg := Redact(err.Error(), secrets...)
	if msg == err.Error() {
		return err
	}
	return &redactedError{msg: msg, err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }
