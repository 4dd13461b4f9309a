package datachangelog

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var emailPattern = regexp.MustCompile(`^(.{2})[^@]*(@.*)$`)

// Sanitizer masks sensitive fields of history documents
type Sanitizer struct {
	sensitiveFields map[string]bool
	redactionChar   string
}

// NewSanitizer creates a new sanitizer instance. Field names are compared case-insensitively.
func NewSanitizer(sensitiveFields []string) *Sanitizer {
	fieldMap := make(map[string]bool)
	for _, field := range sensitiveFields {
		fieldMap[strings.ToLower(field)] = true
	}

	return &Sanitizer{
		sensitiveFields: fieldMap,
		redactionChar:   "*",
	}
}

// IsSensitive checks if a field is marked as sensitive
func (s *Sanitizer) IsSensitive(fieldName string) bool {
	return s.sensitiveFields[strings.ToLower(fieldName)]
}

// SanitizeValue masks a sensitive value. Strings keep a few characters, other values are replaced.
func (s *Sanitizer) SanitizeValue(fieldName string, value interface{}) interface{} {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case string:
		if IsFieldLikeEmail(fieldName) && strings.Contains(v, "@") {
			return s.MaskEmail(v)
		}
		if IsFieldLikePhoneNumber(fieldName) {
			return s.MaskPhoneNumber(v)
		}
		return s.redactString(v)
	case []byte:
		return s.redactString(string(v))
	default:
		return "****"
	}
}

// SanitizeDocument masks the sensitive values of doc in place and records which fields were masked
func (s *Sanitizer) SanitizeDocument(doc *HistoryDocument) {
	doc.Masked = nil
	for key, value := range doc.Values {
		if !s.IsSensitive(key) {
			continue
		}
		doc.Values[key] = s.SanitizeValue(key, value)
		doc.Masked = append(doc.Masked, key)
	}
	sort.Strings(doc.Masked)
}

// redactString keeps about a fifth of the characters, split between both ends; short values are fully masked
func (s *Sanitizer) redactString(value string) string {
	runes := []rune(value)
	n := len(runes)
	if n == 0 {
		return value
	}

	if n <= 4 {
		return strings.Repeat(s.redactionChar, n)
	}

	visible := int(math.Ceil(float64(n) * 0.2))
	if visible < 2 {
		visible = 2
	}

	prefixLen := visible / 2
	suffixLen := visible - prefixLen

	prefix := string(runes[:prefixLen])
	suffix := string(runes[n-suffixLen:])
	middle := strings.Repeat(s.redactionChar, n-prefixLen-suffixLen)

	return prefix + middle + suffix
}

// MaskEmail masks an email address
func (s *Sanitizer) MaskEmail(email string) string {
	return emailPattern.ReplaceAllString(email, "$1****$2")
}

// MaskPhoneNumber masks a phone number
func (s *Sanitizer) MaskPhoneNumber(phone string) string {
	// Keep first 3 and last 2 digits
	if len(phone) <= 5 {
		return strings.Repeat(s.redactionChar, len(phone))
	}

	prefix := phone[:3]
	suffix := phone[len(phone)-2:]
	middle := strings.Repeat(s.redactionChar, len(phone)-5)

	return prefix + middle + suffix
}

// IsFieldLikeEmail checks if a field name looks like an email
func IsFieldLikeEmail(fieldName string) bool {
	lowerName := strings.ToLower(fieldName)
	return strings.Contains(lowerName, "email") ||
		strings.Contains(lowerName, "mail")
}

// IsFieldLikePhoneNumber checks if a field name looks like a phone number
func IsFieldLikePhoneNumber(fieldName string) bool {
	lowerName := strings.ToLower(fieldName)
	return strings.Contains(lowerName, "phone") ||
		strings.Contains(lowerName, "mobile") ||
		strings.Contains(lowerName, "telephone")
}

// IsFieldLikeSSN checks if a field name looks like an SSN
func IsFieldLikeSSN(fieldName string) bool {
	lowerName := strings.ToLower(fieldName)
	return strings.Contains(lowerName, "ssn") ||
		strings.Contains(lowerName, "social_security")
}

// IsFieldLikePassword checks if a field name looks like a password
func IsFieldLikePassword(fieldName string) bool {
	lowerName := strings.ToLower(fieldName)
	return strings.Contains(lowerName, "password") ||
		strings.Contains(lowerName, "passwd") ||
		strings.Contains(lowerName, "secret") ||
		strings.Contains(lowerName, "token")
}

// AutoDetectSensitiveFields returns the field names that look like personal data or credentials
func AutoDetectSensitiveFields(fieldNames []string) []string {
	var result []string

	for _, name := range fieldNames {
		if IsFieldLikeEmail(name) ||
			IsFieldLikePhoneNumber(name) ||
			IsFieldLikeSSN(name) ||
			IsFieldLikePassword(name) {
			result = append(result, name)
		}
	}

	return result
}
