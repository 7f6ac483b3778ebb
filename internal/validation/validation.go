package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// ValidationError represents a structured validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors collects multiple field errors.
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (ve *ValidationErrors) Add(field, message string) {
	ve.Errors = append(ve.Errors, ValidationError{Field: field, Message: message})
}

func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

func (ve *ValidationErrors) Error() string {
	msgs := make([]string, len(ve.Errors))
	for i, e := range ve.Errors {
		msgs[i] = e.Field + ": " + e.Message
	}
	return strings.Join(msgs, "; ")
}

// RequireField checks a required string field is non-empty.
func RequireField(ve *ValidationErrors, field, value string) {
	if strings.TrimSpace(value) == "" {
		ve.Add(field, "is required")
	}
}

// ValidatePositiveInt checks a field is > 0.
func ValidatePositiveInt(ve *ValidationErrors, field string, value int) {
	if value <= 0 {
		ve.Add(field, "must be a positive integer")
	}
}

// ValidateIntRange checks a field is within a specified range.
func ValidateIntRange(ve *ValidationErrors, field string, value, min, max int) {
	if value < min || value > max {
		ve.Add(field, fmt.Sprintf("must be between %d and %d", min, max))
	}
}

// MaxStringLength caps free-text fields.
const MaxStringLength = 10000

// ValidateMaxLength checks a string field doesn't exceed maxLen.
func ValidateMaxLength(ve *ValidationErrors, field, value string, maxLen int) {
	if len(value) > maxLen {
		ve.Add(field, fmt.Sprintf("exceeds maximum length of %d characters", maxLen))
	}
}

var partIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]*$`)

// ValidatePartID checks an identifier is safe for URLs and filenames.
func ValidatePartID(ve *ValidationErrors, field, value string) {
	if value == "" {
		return
	}
	if len(value) > 100 {
		ve.Add(field, "exceeds maximum length of 100 characters")
		return
	}
	if !partIDPattern.MatchString(value) {
		ve.Add(field, "may only contain letters, digits, '.', '_', '/' and '-'")
	}
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeFilename strips path components and unsafe characters from an
// uploaded filename, keeping the extension.
func SanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "..", "")
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	if name == "" || name == "." {
		name = "file"
	}
	return name
}

// AllowedDrawingExts lists accepted drawing upload extensions.
var AllowedDrawingExts = map[string]bool{
	".pdf": true, ".png": true, ".jpg": true, ".jpeg": true,
	".dxf": true, ".dwg": true, ".step": true, ".stp": true,
}

// ValidateDrawingUpload checks an uploaded drawing's name and size.
func ValidateDrawingUpload(ve *ValidationErrors, filename string, size int64) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !AllowedDrawingExts[ext] {
		ve.Add("drawing", "unsupported file type: "+ext)
	}
	if size > 20<<20 {
		ve.Add("drawing", "file exceeds 20 MB limit")
	}
}
