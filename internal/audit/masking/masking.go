// Package masking redacts payment references and proof locations before they
// reach audit metadata.
package masking

import "strings"

const maskToken = "****"

// SensitiveKeys are metadata keys masked by MaskMetadata.
var SensitiveKeys = map[string]struct{}{
	"payment_reference": {},
	"image_proof":       {},
}

// MaskReference keeps the last four characters of a reference.
func MaskReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 4 {
		return maskToken
	}
	return maskToken + trimmed[len(trimmed)-4:]
}

// MaskMetadata returns a copy of input with sensitive string values masked.
func MaskMetadata(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if s, ok := value.(string); ok {
			if _, sensitive := SensitiveKeys[key]; sensitive {
				masked[key] = MaskReference(s)
				continue
			}
		}
		masked[key] = value
	}
	return masked
}
