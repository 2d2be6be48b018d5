// internal/models/lead.go
package models

import (
	"strings"
	"time"
)

type LeadStatus string

const (
	LeadStatusNew        LeadStatus = "new"
	LeadStatusNurturing  LeadStatus = "nurturing"
	LeadStatusEngaged    LeadStatus = "engaged"
	LeadStatusQualified  LeadStatus = "qualified"
	LeadStatusConverted  LeadStatus = "converted"
	LeadStatusClosed     LeadStatus = "closed"
	LeadStatusOnHold     LeadStatus = "on_hold"
)

// IsValid reports whether the status is one of the known lifecycle values.
func (s LeadStatus) IsValid() bool {
	switch s {
	case LeadStatusNew, LeadStatusNurturing, LeadStatusEngaged,
		LeadStatusQualified, LeadStatusConverted, LeadStatusClosed,
		LeadStatusOnHold:
		return true
	}
	return false
}

// Lead is a prospective customer record with contact and segmentation data.
type Lead struct {
	ID               string            `json:"id" db:"id"`
	FirstName        string            `json:"firstName" db:"first_name"`
	LastName         string            `json:"lastName" db:"last_name"`
	Email            string            `json:"email" db:"email"`
	CompanyName      string            `json:"companyName" db:"company_name"`
	JobTitle         string            `json:"jobTitle,omitempty" db:"job_title"`
	Industry         string            `json:"industry,omitempty" db:"industry"`
	CompanySize      string            `json:"companySize,omitempty" db:"company_size"`
	Phone            string            `json:"phone,omitempty" db:"phone"`
	Website          string            `json:"website,omitempty" db:"website"`
	Source           string            `json:"source,omitempty" db:"source"`
	Status           LeadStatus        `json:"status" db:"status"`
	Unsubscribed     bool              `json:"unsubscribed" db:"unsubscribed"`
	Notes            string            `json:"notes,omitempty" db:"notes"`
	CustomAttributes map[string]string `json:"customAttributes,omitempty" db:"custom_attributes"`
	CreatedAt        time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time         `json:"updatedAt" db:"updated_at"`
	LastContactAt    time.Time         `json:"lastContactAt,omitempty" db:"last_contact_at"`
	ConvertedAt      *time.Time        `json:"convertedAt,omitempty" db:"converted_at"`
}

// FullName joins first and last name, tolerating either being empty.
func (l *Lead) FullName() string {
	return strings.TrimSpace(l.FirstName + " " + l.LastName)
}

// ConvertedWithin reports whether the lead converted inside the trailing window.
func (l *Lead) ConvertedWithin(window time.Duration) bool {
	if l.ConvertedAt == nil {
		return false
	}
	return time.Since(*l.ConvertedAt) <= window
}

// Attributes returns the placeholder substitution set for message rendering.
// Custom attributes never shadow the fixed keys.
func (l *Lead) Attributes() map[string]string {
	attrs := make(map[string]string, len(l.CustomAttributes)+10)
	for k, v := range l.CustomAttributes {
		attrs[k] = v
	}
	attrs["first_name"] = l.FirstName
	attrs["last_name"] = l.LastName
	attrs["full_name"] = l.FullName()
	attrs["email"] = l.Email
	attrs["company_name"] = l.CompanyName
	attrs["job_title"] = l.JobTitle
	attrs["industry"] = l.Industry
	attrs["company_size"] = l.CompanySize
	attrs["phone"] = l.Phone
	attrs["website"] = l.Website
	return attrs
}
