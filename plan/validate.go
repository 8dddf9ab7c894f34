package plan

import (
	"fmt"
	"strings"
)

type ValidationSettings struct {
	// plans with fewer words than this are rejected before parsing
	MinWordCount int
}

func DefaultValidationSettings() *ValidationSettings {
	return &ValidationSettings{
		MinWordCount: 10,
	}
}

// Validate gates raw content before parsing. A non-empty result means the
// content must not be passed to the heading scanner. The messages are
// human-readable and surfaced to the caller as-is.
func Validate(content string, settings *ValidationSettings) []string {
	var errors []string

	if strings.TrimSpace(content) == "" {
		errors = append(errors, "Master plan content is empty")
		return errors
	}

	hasHeading := false
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			hasHeading = true
			break
		}
	}
	if !hasHeading {
		errors = append(errors, "No markdown headings found in master plan")
	}

	if len(strings.Fields(content)) < settings.MinWordCount {
		errors = append(errors, fmt.Sprintf("Master plan seems too short (less than %d words)", settings.MinWordCount))
	}

	return errors
}
