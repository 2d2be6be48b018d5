// internal/store/templates.go
package store

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"nurture-engine/internal/common/errors"
	"nurture-engine/internal/common/validation"
	"nurture-engine/internal/models"
)

// TemplateStore keeps message templates in a chromem-go collection so the
// planner can shortlist templates by similarity to a lead profile. Full
// template bodies live in an in-memory index keyed by name; the collection
// only serves similarity lookups.
type TemplateStore struct {
	db         *chromem.DB
	collection *chromem.Collection

	mu     sync.RWMutex
	byName map[string]models.MessageTemplate
}

// NewTemplateStore opens the template collection. An empty persistPath keeps
// everything in memory, which tests rely on.
func NewTemplateStore(persistPath, collectionName string, embed chromem.EmbeddingFunc) (*TemplateStore, error) {
	if collectionName == "" {
		collectionName = "templates"
	}

	var db *chromem.DB
	var err error
	if persistPath != "" {
		db, err = chromem.NewPersistentDB(filepath.Join(persistPath, "templates.gob"), false)
		if err != nil {
			return nil, errors.NewConfigurationError("open template store: " + err.Error())
		}
	} else {
		db = chromem.NewDB()
	}

	collection, err := db.GetOrCreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, errors.NewConfigurationError("create template collection: " + err.Error())
	}

	return &TemplateStore{
		db:         db,
		collection: collection,
		byName:     map[string]models.MessageTemplate{},
	}, nil
}

// Put stores or replaces a template under its name.
func (s *TemplateStore) Put(ctx context.Context, tmpl models.MessageTemplate) error {
	if err := validation.ValidateTemplateName(tmpl.Name); err != nil {
		return errors.NewValidationError(err.Error())
	}
	if !tmpl.Channel.IsValid() {
		return errors.NewValidationError("unknown channel: " + string(tmpl.Channel))
	}

	s.mu.Lock()
	_, replacing := s.byName[tmpl.Name]
	s.mu.Unlock()

	if replacing {
		// Documents are keyed by template name, so replace is delete by ID.
		if err := s.collection.Delete(ctx, nil, nil, tmpl.Name); err != nil {
			return errors.NewQueryExecutionFailedError("replace template", err)
		}
	}

	err := s.collection.AddDocument(ctx, chromem.Document{
		ID:      tmpl.Name,
		Content: tmpl.Subject + "\n\n" + tmpl.Body,
		Metadata: map[string]string{
			"name":     tmpl.Name,
			"channel":  string(tmpl.Channel),
			"industry": tmpl.Industry,
			"tags":     strings.Join(tmpl.Tags, ","),
		},
	})
	if err != nil {
		return errors.NewQueryExecutionFailedError("add template", err)
	}

	s.mu.Lock()
	s.byName[tmpl.Name] = tmpl
	s.mu.Unlock()
	return nil
}

// Seed loads a batch of templates, typically the registry file at startup.
func (s *TemplateStore) Seed(ctx context.Context, templates []models.MessageTemplate) error {
	for _, tmpl := range templates {
		if err := s.Put(ctx, tmpl); err != nil {
			return err
		}
	}
	return nil
}

func (s *TemplateStore) Get(name string) (models.MessageTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tmpl, ok := s.byName[name]
	if !ok {
		return models.MessageTemplate{}, errors.NewTemplateNotFoundError(name)
	}
	return tmpl, nil
}

func (s *TemplateStore) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byName[name]
	return ok
}

// Names returns every stored template name in sorted order.
func (s *TemplateStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *TemplateStore) Count() int {
	return s.collection.Count()
}

// SearchSimilar returns the templates closest to the query text, best match
// first.
func (s *TemplateStore) SearchSimilar(ctx context.Context, query string, topK int) ([]models.MessageTemplate, error) {
	if topK <= 0 {
		topK = 5
	}
	if count := s.collection.Count(); topK > count {
		topK = count
	}
	if topK == 0 {
		return nil, nil
	}

	results, err := s.collection.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("query templates", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	templates := make([]models.MessageTemplate, 0, len(results))
	for _, r := range results {
		if tmpl, ok := s.byName[r.ID]; ok {
			templates = append(templates, tmpl)
		}
	}
	return templates, nil
}
