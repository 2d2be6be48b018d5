// internal/nurture/personalize/renderer.go
package personalize

import (
	"strings"

	"nurture-engine/internal/models"
)

// TrackingPixelVar is the reserved placeholder the dispatcher fills with the
// pixel tag for email HTML. Other channels strip it.
const TrackingPixelVar = "tracking_pixel"

// Fill replaces every {name} token that has a value in vars. Unknown
// placeholders stay in the text verbatim.
func Fill(text string, vars map[string]string) string {
	result := text
	for k, v := range vars {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

// Render personalizes a template's subject and body with the lead's
// attributes. Custom attributes never shadow the fixed set; extra values
// (such as the tracking pixel) are applied last and may override both.
func Render(tmpl models.MessageTemplate, lead *models.Lead, extra map[string]string) (subject, body string) {
	vars := lead.Attributes()
	for k, v := range extra {
		vars[k] = v
	}
	return Fill(tmpl.Subject, vars), Fill(tmpl.Body, vars)
}
