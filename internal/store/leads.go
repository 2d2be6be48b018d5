// internal/store/leads.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"nurture-engine/internal/common/errors"
	"nurture-engine/internal/models"
)

const leadColumns = `id, first_name, last_name, email, company_name, job_title, industry,
	company_size, phone, website, source, status, unsubscribed, notes,
	custom_attributes, created_at, updated_at, last_contact_at, converted_at`

// LeadStore persists leads in PostgreSQL.
type LeadStore struct {
	db *sql.DB
}

func NewLeadStore(db *sql.DB) *LeadStore {
	return &LeadStore{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLead(row rowScanner) (*models.Lead, error) {
	var l models.Lead
	var attrs []byte
	var lastContact, converted sql.NullTime

	err := row.Scan(
		&l.ID, &l.FirstName, &l.LastName, &l.Email, &l.CompanyName, &l.JobTitle,
		&l.Industry, &l.CompanySize, &l.Phone, &l.Website, &l.Source, &l.Status,
		&l.Unsubscribed, &l.Notes, &attrs, &l.CreatedAt, &l.UpdatedAt,
		&lastContact, &converted,
	)
	if err != nil {
		return nil, err
	}

	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &l.CustomAttributes); err != nil {
			return nil, err
		}
	}
	if lastContact.Valid {
		l.LastContactAt = lastContact.Time
	}
	if converted.Valid {
		t := converted.Time
		l.ConvertedAt = &t
	}
	return &l, nil
}

func marshalAttrs(attrs map[string]string) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return json.Marshal(attrs)
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// Create inserts a new lead. When the lead carries no ID one is assigned.
func (s *LeadStore) Create(ctx context.Context, lead *models.Lead) error {
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	if lead.Status == "" {
		lead.Status = models.LeadStatusNew
	}
	now := time.Now().UTC()
	lead.CreatedAt = now
	lead.UpdatedAt = now

	attrs, err := marshalAttrs(lead.CustomAttributes)
	if err != nil {
		return errors.NewInvalidLeadDataError("custom_attributes: " + err.Error())
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO leads (id, first_name, last_name, email, company_name, job_title,
			industry, company_size, phone, website, source, status, unsubscribed,
			notes, custom_attributes, created_at, updated_at, last_contact_at, converted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		lead.ID, lead.FirstName, lead.LastName, lead.Email, lead.CompanyName,
		lead.JobTitle, lead.Industry, lead.CompanySize, lead.Phone, lead.Website,
		lead.Source, lead.Status, lead.Unsubscribed, lead.Notes, attrs,
		lead.CreatedAt, lead.UpdatedAt, nullTime(lead.LastContactAt), nil,
	)
	if err != nil {
		return errors.NewDatabaseInsertFailedError(err)
	}
	return nil
}

// Upsert inserts the lead or refreshes an existing row with the same email.
// Returns the stored lead ID so importers can reconcile duplicates.
func (s *LeadStore) Upsert(ctx context.Context, lead *models.Lead) (string, error) {
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	if lead.Status == "" {
		lead.Status = models.LeadStatusNew
	}

	attrs, err := marshalAttrs(lead.CustomAttributes)
	if err != nil {
		return "", errors.NewInvalidLeadDataError("custom_attributes: " + err.Error())
	}

	var id string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO leads (id, first_name, last_name, email, company_name, job_title,
			industry, company_size, phone, website, source, status, unsubscribed,
			notes, custom_attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (email) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			company_name = EXCLUDED.company_name,
			job_title = EXCLUDED.job_title,
			industry = EXCLUDED.industry,
			company_size = EXCLUDED.company_size,
			phone = EXCLUDED.phone,
			website = EXCLUDED.website,
			source = EXCLUDED.source,
			custom_attributes = EXCLUDED.custom_attributes,
			updated_at = NOW()
		RETURNING id`,
		lead.ID, lead.FirstName, lead.LastName, lead.Email, lead.CompanyName,
		lead.JobTitle, lead.Industry, lead.CompanySize, lead.Phone, lead.Website,
		lead.Source, lead.Status, lead.Unsubscribed, lead.Notes, attrs,
	).Scan(&id)
	if err != nil {
		return "", errors.NewDatabaseInsertFailedError(err)
	}
	return id, nil
}

func (s *LeadStore) Get(ctx context.Context, id string) (*models.Lead, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE id = $1`, id)

	lead, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewLeadNotFoundError(id)
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("get lead", err)
	}
	return lead, nil
}

func (s *LeadStore) GetByEmail(ctx context.Context, email string) (*models.Lead, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE email = $1`, email)

	lead, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewLeadNotFoundError(email)
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("get lead by email", err)
	}
	return lead, nil
}

// List returns leads filtered by status. An empty filter returns every lead.
func (s *LeadStore) List(ctx context.Context, statuses ...models.LeadStatus) ([]*models.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads ORDER BY created_at`
	args := []interface{}{}
	if len(statuses) > 0 {
		query = `SELECT ` + leadColumns + ` FROM leads WHERE status = ANY($1) ORDER BY created_at`
		values := make([]string, len(statuses))
		for i, st := range statuses {
			values[i] = string(st)
		}
		args = append(args, pq.Array(values))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("list leads", err)
	}
	defer rows.Close()

	var leads []*models.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, errors.NewQueryExecutionFailedError("list leads", err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("list leads", err)
	}
	return leads, nil
}

func (s *LeadStore) UpdateStatus(ctx context.Context, id string, status models.LeadStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE leads SET status = $2, updated_at = NOW()
		WHERE id = $1`, id, status)
	if err != nil {
		return errors.NewQueryExecutionFailedError("update lead status", err)
	}
	return noRowsToNotFound(res, id)
}

func (s *LeadStore) SetUnsubscribed(ctx context.Context, id string, unsubscribed bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE leads SET unsubscribed = $2, updated_at = NOW()
		WHERE id = $1`, id, unsubscribed)
	if err != nil {
		return errors.NewQueryExecutionFailedError("set unsubscribed", err)
	}
	return noRowsToNotFound(res, id)
}

// MarkConverted records the conversion timestamp and moves the lead to the
// converted status.
func (s *LeadStore) MarkConverted(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE leads SET status = $2, converted_at = $3, updated_at = NOW()
		WHERE id = $1`, id, models.LeadStatusConverted, at.UTC())
	if err != nil {
		return errors.NewQueryExecutionFailedError("mark converted", err)
	}
	return noRowsToNotFound(res, id)
}

func (s *LeadStore) TouchLastContact(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE leads SET last_contact_at = $2, updated_at = NOW()
		WHERE id = $1`, id, at.UTC())
	if err != nil {
		return errors.NewQueryExecutionFailedError("touch last contact", err)
	}
	return noRowsToNotFound(res, id)
}

func noRowsToNotFound(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if affected == 0 {
		return errors.NewLeadNotFoundError(id)
	}
	return nil
}
