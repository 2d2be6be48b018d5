// internal/store/templates_test.go
package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	commonerrors "nurture-engine/internal/common/errors"
	"nurture-engine/internal/llm"
	"nurture-engine/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

func createTemplateStore(t *testing.T) *TemplateStore {
	t.Helper()

	store, err := NewTemplateStore("", "templates", llm.LocalEmbeddingFunc())
	if err != nil {
		t.Fatalf("failed to create template store: %v", err)
	}
	return store
}

func emailTemplate(name, body string) models.MessageTemplate {
	return models.MessageTemplate{
		Name:    name,
		Channel: models.ChannelEmail,
		Subject: "Quick question for {first_name}",
		Body:    body,
	}
}

// ==========================
// Core Functionality Tests
// ==========================

func TestTemplateStorePutAndGet(t *testing.T) {
	store := createTemplateStore(t)

	tmpl := emailTemplate("intro_email", "Hi {first_name}, saw {company_name} is growing.")
	err := store.Put(context.Background(), tmpl)

	assert.NoError(t, err)
	assert.True(t, store.Has("intro_email"))
	assert.Equal(t, 1, store.Count())

	got, err := store.Get("intro_email")
	assert.NoError(t, err)
	assert.Equal(t, tmpl, got)
}

func TestTemplateStoreGetMissing(t *testing.T) {
	store := createTemplateStore(t)

	_, err := store.Get("no_such_template")

	assert.Error(t, err)
	var stdErr *commonerrors.StandardError
	if assert.ErrorAs(t, err, &stdErr) {
		assert.Equal(t, commonerrors.ErrCodeTemplateNotFound, stdErr.Code)
	}
}

func TestTemplateStorePutReplacesExisting(t *testing.T) {
	store := createTemplateStore(t)
	ctx := context.Background()

	assert.NoError(t, store.Put(ctx, emailTemplate("intro_email", "first version")))
	assert.NoError(t, store.Put(ctx, emailTemplate("intro_email", "second version")))

	assert.Equal(t, 1, store.Count())
	got, err := store.Get("intro_email")
	assert.NoError(t, err)
	assert.Equal(t, "second version", got.Body)
}

func TestTemplateStoreNamesSorted(t *testing.T) {
	store := createTemplateStore(t)
	ctx := context.Background()

	assert.NoError(t, store.Put(ctx, emailTemplate("slack_check_in", "ping")))
	assert.NoError(t, store.Put(ctx, emailTemplate("case_study_share", "story")))
	assert.NoError(t, store.Put(ctx, emailTemplate("intro_email", "hello")))

	assert.Equal(t, []string{"case_study_share", "intro_email", "slack_check_in"}, store.Names())
}

func TestTemplateStoreSeed(t *testing.T) {
	store := createTemplateStore(t)

	err := store.Seed(context.Background(), []models.MessageTemplate{
		emailTemplate("intro_email", "hello"),
		emailTemplate("general_followup", "checking in"),
		{Name: "slack_check_in", Channel: models.ChannelSlack, Body: "quick ping"},
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, store.Count())
	assert.True(t, store.Has("general_followup"))
}

func TestTemplateStoreSeedStopsOnInvalidTemplate(t *testing.T) {
	store := createTemplateStore(t)

	err := store.Seed(context.Background(), []models.MessageTemplate{
		emailTemplate("intro_email", "hello"),
		emailTemplate("Bad-Name", "broken"),
		emailTemplate("general_followup", "never reached"),
	})

	assert.Error(t, err)
	assert.Equal(t, 1, store.Count())
	assert.False(t, store.Has("general_followup"))
}

func TestTemplateStoreSearchSimilar(t *testing.T) {
	store := createTemplateStore(t)
	ctx := context.Background()

	assert.NoError(t, store.Put(ctx, emailTemplate("logistics_pitch",
		"Hi {first_name}, freight and logistics teams use us to track shipping lanes.")))
	assert.NoError(t, store.Put(ctx, emailTemplate("finance_pitch",
		"Hi {first_name}, payroll and accounting teams close invoices faster with us.")))

	results, err := store.SearchSimilar(ctx, "freight logistics shipping", 2)

	assert.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, "logistics_pitch", results[0].Name)
}

// ==========================
// Edge Cases
// ==========================

func TestTemplateStorePutRejectsBadName(t *testing.T) {
	store := createTemplateStore(t)

	tests := []struct {
		name     string
		template models.MessageTemplate
	}{
		{
			name:     "uppercase name",
			template: emailTemplate("IntroEmail", "hello"),
		},
		{
			name:     "dashes",
			template: emailTemplate("intro-email", "hello"),
		},
		{
			name:     "empty name",
			template: emailTemplate("", "hello"),
		},
		{
			name:     "unknown channel",
			template: models.MessageTemplate{Name: "sms_blast", Channel: "sms", Body: "hello"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Put(context.Background(), tt.template)

			assert.Error(t, err)
			var stdErr *commonerrors.StandardError
			if assert.ErrorAs(t, err, &stdErr) {
				assert.Equal(t, commonerrors.ErrCodeValidationFailed, stdErr.Code)
			}
		})
	}

	assert.Equal(t, 0, store.Count())
}

func TestTemplateStoreSearchSimilarCapsTopK(t *testing.T) {
	store := createTemplateStore(t)
	ctx := context.Background()

	assert.NoError(t, store.Put(ctx, emailTemplate("intro_email", "hello there")))
	assert.NoError(t, store.Put(ctx, emailTemplate("general_followup", "checking in")))

	results, err := store.SearchSimilar(ctx, "hello", 50)

	assert.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestTemplateStoreSearchSimilarEmptyStore(t *testing.T) {
	store := createTemplateStore(t)

	results, err := store.SearchSimilar(context.Background(), "anything", 5)

	assert.NoError(t, err)
	assert.Nil(t, results)
}

func TestTemplateStoreSearchSimilarDefaultTopK(t *testing.T) {
	store := createTemplateStore(t)

	assert.NoError(t, store.Put(context.Background(), emailTemplate("intro_email", "hello")))

	results, err := store.SearchSimilar(context.Background(), "hello", 0)

	assert.NoError(t, err)
	assert.Len(t, results, 1)
}
