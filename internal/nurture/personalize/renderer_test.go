// internal/nurture/personalize/renderer_test.go
package personalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"nurture-engine/internal/models"
)

// ==========================
// Core Functionality Tests
// ==========================

func TestFill(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		vars     map[string]string
		expected string
	}{
		{
			name:     "single placeholder",
			text:     "Hi {first_name},",
			vars:     map[string]string{"first_name": "Dana"},
			expected: "Hi Dana,",
		},
		{
			name:     "repeated placeholder",
			text:     "{company_name} news for {company_name}",
			vars:     map[string]string{"company_name": "Acme"},
			expected: "Acme news for Acme",
		},
		{
			name:     "unknown placeholder stays verbatim",
			text:     "Your {discount_code} awaits",
			vars:     map[string]string{"first_name": "Dana"},
			expected: "Your {discount_code} awaits",
		},
		{
			name:     "empty value blanks the token",
			text:     "Hi {first_name}{last_name}",
			vars:     map[string]string{"first_name": "", "last_name": ""},
			expected: "Hi ",
		},
		{
			name:     "no placeholders",
			text:     "Plain text only",
			vars:     map[string]string{"first_name": "Dana"},
			expected: "Plain text only",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Fill(tt.text, tt.vars))
		})
	}
}

func TestRender(t *testing.T) {
	lead := &models.Lead{
		ID:          "lead-1",
		FirstName:   "Dana",
		LastName:    "Reyes",
		Email:       "dana@acme.example",
		CompanyName: "Acme Corp",
		JobTitle:    "VP Engineering",
		Industry:    "logistics",
	}
	tmpl := models.MessageTemplate{
		Name:    "intro_email",
		Channel: models.ChannelEmail,
		Subject: "Hi {first_name}, ideas for {company_name}",
		Body:    "Hello {full_name},\n\nTeams in {industry} use us.\n{tracking_pixel}",
	}

	subject, body := Render(tmpl, lead, map[string]string{
		TrackingPixelVar: `<img src="https://t.example/track/abc.gif">`,
	})

	assert.Equal(t, "Hi Dana, ideas for Acme Corp", subject)
	assert.Contains(t, body, "Hello Dana Reyes,")
	assert.Contains(t, body, "Teams in logistics use us.")
	assert.Contains(t, body, `<img src="https://t.example/track/abc.gif">`)
	assert.NotContains(t, body, "{tracking_pixel}")
}

func TestRenderCustomAttributesNeverShadowFixedKeys(t *testing.T) {
	lead := &models.Lead{
		ID:          "lead-1",
		FirstName:   "Dana",
		CompanyName: "Acme Corp",
		CustomAttributes: map[string]string{
			"first_name": "Impostor",
			"favorite":   "chess",
		},
	}
	tmpl := models.MessageTemplate{
		Subject: "{first_name} likes {favorite}",
	}

	subject, _ := Render(tmpl, lead, nil)

	assert.Equal(t, "Dana likes chess", subject)
}

func TestRenderExtraOverridesEverything(t *testing.T) {
	lead := &models.Lead{ID: "lead-1", FirstName: "Dana"}
	tmpl := models.MessageTemplate{Subject: "Hi {first_name}"}

	subject, _ := Render(tmpl, lead, map[string]string{"first_name": "override"})

	assert.Equal(t, "Hi override", subject)
}

// ==========================
// Edge Cases
// ==========================

func TestRenderEmptyTemplate(t *testing.T) {
	subject, body := Render(models.MessageTemplate{}, &models.Lead{ID: "lead-1"}, nil)

	assert.Empty(t, subject)
	assert.Empty(t, body)
}

// ==========================
// Benchmark Tests
// ==========================

func BenchmarkRender(b *testing.B) {
	lead := &models.Lead{
		ID:          "lead-1",
		FirstName:   "Dana",
		LastName:    "Reyes",
		CompanyName: "Acme Corp",
		CustomAttributes: map[string]string{
			"favorite": "chess",
		},
	}
	tmpl := models.MessageTemplate{
		Subject: "Hi {first_name}, ideas for {company_name}",
		Body:    "Hello {full_name}, teams like yours rely on us. {tracking_pixel}",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Render(tmpl, lead, map[string]string{TrackingPixelVar: "<img>"})
	}
}
