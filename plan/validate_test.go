package plan

import (
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestValidateEmptyContent(t *testing.T) {
	errors := Validate("", DefaultValidationSettings())
	assert.Equal(t, errors, []string{"Master plan content is empty"})

	errors = Validate("   \n\t  ", DefaultValidationSettings())
	assert.Equal(t, errors, []string{"Master plan content is empty"})
}

func TestValidateNoHeadings(t *testing.T) {
	content := strings.Repeat("plain words without any structure ", 10)
	errors := Validate(content, DefaultValidationSettings())
	assert.Equal(t, errors, []string{"No markdown headings found in master plan"})
}

func TestValidateTooShort(t *testing.T) {
	errors := Validate("## Plan\nshort", DefaultValidationSettings())
	assert.Equal(t, len(errors), 1)
	assert.Equal(t, strings.Contains(errors[0], "too short"), true)
}

func TestValidateThresholdIsConfigurable(t *testing.T) {
	content := "## Plan\none two three four five six seven eight nine"

	settings := DefaultValidationSettings()
	assert.Equal(t, len(Validate(content, settings)), 0)

	settings.MinWordCount = 50
	errors := Validate(content, settings)
	assert.Equal(t, len(errors), 1)
	assert.Equal(t, strings.Contains(errors[0], "less than 50 words"), true)
}

func TestValidateAcceptsPlan(t *testing.T) {
	content := `# Master Plan
## Waypoint: Foundations
### Project: Garden Design
#### Task: Site Analysis
Survey the site and collect soil samples for testing.
`
	assert.Equal(t, len(Validate(content, DefaultValidationSettings())), 0)
}
