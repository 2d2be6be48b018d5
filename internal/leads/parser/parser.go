// internal/leads/parser/parser.go
package parser

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"nurture-engine/internal/common/errors"
	commonhttp "nurture-engine/internal/common/http"
	"nurture-engine/internal/common/logger"
	"nurture-engine/internal/models"
)

// headerAliases maps the column-name variants seen in real CRM exports to
// canonical lead fields. Keys are normalized: lowercased, spaces and hyphens
// folded to underscores.
var headerAliases = map[string]string{
	"first_name": "first_name",
	"firstname":  "first_name",
	"fname":      "first_name",
	"first":      "first_name",

	"last_name": "last_name",
	"lastname":  "last_name",
	"lname":     "last_name",
	"last":      "last_name",
	"surname":   "last_name",

	"email":         "email",
	"email_address": "email",
	"e_mail":        "email",
	"mail":          "email",

	"company":      "company_name",
	"company_name": "company_name",
	"organization": "company_name",
	"employer":     "company_name",

	"title":     "job_title",
	"job_title": "job_title",
	"position":  "job_title",
	"role":      "job_title",

	"industry": "industry",
	"sector":   "industry",
	"vertical": "industry",

	"company_size": "company_size",
	"size":         "company_size",
	"employees":    "company_size",

	"phone":        "phone",
	"phone_number": "phone",
	"mobile":       "phone",
	"telephone":    "phone",

	"website": "website",
	"url":     "website",
	"web":     "website",

	"source":      "source",
	"lead_source": "source",

	"notes":    "notes",
	"comments": "notes",
}

var requiredFields = []string{"first_name", "last_name", "email", "company_name"}

// Parser converts external lead feeds (CSV exports, JSON APIs) into lead
// records. Rows that fail validation are skipped and counted, never fatal.
type Parser struct {
	httpClient *commonhttp.Client
	logger     logger.Logger
}

func New(client *commonhttp.Client, log logger.Logger) *Parser {
	return &Parser{
		httpClient: client,
		logger:     log,
	}
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, " ", "_")
	h = strings.ReplaceAll(h, "-", "_")
	return h
}

// ParseCSV reads a CSV export. The first row must be a header; columns are
// matched through the alias table so exports from different CRMs work
// without reformatting.
func (p *Parser) ParseCSV(ctx context.Context, path string) ([]models.Lead, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, errors.NewInvalidLeadDataError("csv file has no header row")
	}

	columns := make(map[string]int)
	for i, col := range header {
		if canon, ok := headerAliases[normalizeHeader(col)]; ok {
			columns[canon] = i
		}
	}

	var missing []string
	for _, field := range requiredFields {
		if _, ok := columns[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, errors.NewInvalidLeadDataError("csv missing required columns: " + strings.Join(missing, ", "))
	}

	var leads []models.Lead
	skipped := 0
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}

		lead := p.leadFromRow(columns, row)
		if err := validateLead(&lead); err != nil {
			skipped++
			continue
		}
		if lead.Source == "" {
			lead.Source = "csv_import"
		}
		leads = append(leads, lead)
	}

	p.logger.Info("csv parsed", map[string]interface{}{
		"path":    path,
		"leads":   len(leads),
		"skipped": skipped,
	})
	return leads, nil
}

// ParsePDF recognizes PDF lead lists but extraction is not implemented yet.
// TODO: wire a PDF text extractor once the export format from the sales team
// stabilizes.
func (p *Parser) ParsePDF(_ context.Context, path string) ([]models.Lead, error) {
	p.logger.Warn("pdf extraction not implemented, returning no leads", map[string]interface{}{
		"path": path,
	})
	return []models.Lead{}, nil
}

// FetchAPI pulls a JSON array of lead objects from a remote endpoint. Field
// names go through the same alias table as CSV headers.
func (p *Parser) FetchAPI(ctx context.Context, url string) ([]models.Lead, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.DoWithContext(ctx, req)
	if err != nil {
		return nil, errors.NewExternalServiceError("lead_api", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, errors.NewExternalServiceError("lead_api", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body)))
	}

	var rows []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, errors.NewInvalidLeadDataError("lead api response is not a JSON array: " + err.Error())
	}

	var leads []models.Lead
	skipped := 0
	for _, row := range rows {
		lead := p.leadFromObject(row)
		if err := validateLead(&lead); err != nil {
			skipped++
			continue
		}
		if lead.Source == "" {
			lead.Source = "api_import"
		}
		leads = append(leads, lead)
	}

	p.logger.Info("api leads fetched", map[string]interface{}{
		"url":     url,
		"leads":   len(leads),
		"skipped": skipped,
	})
	return leads, nil
}

func (p *Parser) leadFromRow(columns map[string]int, row []string) models.Lead {
	field := func(name string) string {
		i, ok := columns[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	return models.Lead{
		FirstName:   field("first_name"),
		LastName:    field("last_name"),
		Email:       strings.ToLower(field("email")),
		CompanyName: field("company_name"),
		JobTitle:    field("job_title"),
		Industry:    field("industry"),
		CompanySize: field("company_size"),
		Phone:       field("phone"),
		Website:     field("website"),
		Source:      field("source"),
		Notes:       field("notes"),
		Status:      models.LeadStatusNew,
	}
}

func (p *Parser) leadFromObject(row map[string]interface{}) models.Lead {
	values := make(map[string]string)
	for key, raw := range row {
		canon, ok := headerAliases[normalizeHeader(key)]
		if !ok {
			continue
		}
		if s, ok := raw.(string); ok {
			values[canon] = strings.TrimSpace(s)
		}
	}

	return models.Lead{
		FirstName:   values["first_name"],
		LastName:    values["last_name"],
		Email:       strings.ToLower(values["email"]),
		CompanyName: values["company_name"],
		JobTitle:    values["job_title"],
		Industry:    values["industry"],
		CompanySize: values["company_size"],
		Phone:       values["phone"],
		Website:     values["website"],
		Source:      values["source"],
		Notes:       values["notes"],
		Status:      models.LeadStatusNew,
	}
}

func validateLead(lead *models.Lead) error {
	if lead.FirstName == "" || lead.LastName == "" || lead.Email == "" || lead.CompanyName == "" {
		return errors.NewInvalidLeadDataError("first name, last name, email and company are required")
	}
	if !strings.Contains(lead.Email, "@") || !strings.Contains(lead.Email, ".") {
		return errors.NewInvalidLeadDataError("invalid email: " + lead.Email)
	}
	return nil
}
