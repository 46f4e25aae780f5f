package utils

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// JSON size limits (in bytes)
const (
	MaxJSONSize    = 1 * 1024 * 1024 // request body limit
	MaxPayloadSize = 512 * 1024      // single block payload
	MaxJSONDepth   = 32
)

// String length limits
const (
	MaxIDLength          = 128
	MaxKeyLength         = 64
	MaxSlotLength        = 128
	MaxNameLength        = 256
	MaxDescriptionLength = 2048
)

var (
	// SafeIDPattern allows alphanumeric, hyphens, underscores
	SafeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	// KeyPattern allows lowercase type keys such as "task-list" or "core.note"
	KeyPattern = regexp.MustCompile(`^[a-z][a-z0-9._-]*$`)
	// SlotPattern allows slot names with nested segments
	SlotPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

// JSONSizeValidator validates JSON size limits
type JSONSizeValidator struct {
	maxSize int
}

// NewJSONSizeValidator creates a new validator with the specified max size
func NewJSONSizeValidator(maxSize int) *JSONSizeValidator {
	return &JSONSizeValidator{maxSize: maxSize}
}

// DefaultJSONValidator returns a validator with the default 1MB limit
func DefaultJSONValidator() *JSONSizeValidator {
	return NewJSONSizeValidator(MaxJSONSize)
}

// ValidateSize checks if the data size is within limits
func (v *JSONSizeValidator) ValidateSize(data []byte) error {
	if size := len(data); size > v.maxSize {
		return fmt.Errorf("JSON size %d bytes exceeds maximum %d bytes", size, v.maxSize)
	}
	return nil
}

// ValidatePayload checks the encoded size and nesting depth of block data
func ValidatePayload(data map[string]any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("payload is not JSON-encodable: %w", err)
	}
	if err := NewJSONSizeValidator(MaxPayloadSize).ValidateSize(encoded); err != nil {
		return err
	}
	return ValidateJSONDepth(data, MaxJSONDepth)
}

// ValidateJSONDepth checks if JSON nesting depth is within limits
func ValidateJSONDepth(data any, maxDepth int) error {
	return checkDepth(data, 0, maxDepth)
}

func checkDepth(data any, currentDepth int, maxDepth int) error {
	if currentDepth > maxDepth {
		return fmt.Errorf("JSON nesting depth %d exceeds maximum %d", currentDepth, maxDepth)
	}

	switch v := data.(type) {
	case map[string]any:
		for _, value := range v {
			if err := checkDepth(value, currentDepth+1, maxDepth); err != nil {
				return err
			}
		}
	case []any:
		for _, value := range v {
			if err := checkDepth(value, currentDepth+1, maxDepth); err != nil {
				return err
			}
		}
	}

	return nil
}

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if value == "" {
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}
	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateID validates an ID field
func ValidateID(id, fieldName string, required bool) error {
	if err := ValidateString(id, fieldName, 1, MaxIDLength, required); err != nil {
		return err
	}
	if id != "" && !SafeIDPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (only alphanumeric, hyphens, and underscores allowed)", fieldName)
	}
	return nil
}

// ValidateKey validates a block type key
func ValidateKey(key string) error {
	if err := ValidateString(key, "key", 1, MaxKeyLength, true); err != nil {
		return err
	}
	if !KeyPattern.MatchString(key) {
		return fmt.Errorf("key must start with a lowercase letter and contain only lowercase letters, digits, dots, hyphens, and underscores")
	}
	return nil
}

// ValidateSlot validates a slot name. Empty means the default slot.
func ValidateSlot(slot string) error {
	if err := ValidateString(slot, "slot", 1, MaxSlotLength, false); err != nil {
		return err
	}
	if slot != "" && !SlotPattern.MatchString(slot) {
		return fmt.Errorf("slot contains invalid characters")
	}
	return nil
}

// ValidateName validates a name field
func ValidateName(name, fieldName string) error {
	return ValidateString(name, fieldName, 1, MaxNameLength, true)
}

// ValidateDescription validates a description field
func ValidateDescription(description, fieldName string, required bool) error {
	return ValidateString(description, fieldName, 0, MaxDescriptionLength, required)
}
