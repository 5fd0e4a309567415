package schema

import (
	"fmt"
	"time"
)

// Payload contracts for the entity types tracked by the desktop client.
// Blob contents for documents live in external storage; only metadata is
// synchronized here.

// Organization is a client organization under audit.
type Organization struct {
	Name          string `json:"name"`
	Country       string `json:"country,omitempty"`
	FiscalYearEnd string `json:"fiscal_year_end,omitempty"` // MM-DD
}

func (o *Organization) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// User is a member of the audit team.
type User struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role,omitempty"` // partner, manager, staff
}

func (u *User) Validate() error {
	if u.Email == "" {
		return fmt.Errorf("email is required")
	}
	return nil
}

// Engagement is one audit engagement for an organization and period.
type Engagement struct {
	OrganizationID string     `json:"organization_id"`
	Name           string     `json:"name"`
	Status         string     `json:"status,omitempty"` // planning, fieldwork, review, closed
	PeriodStart    *time.Time `json:"period_start,omitempty"`
	PeriodEnd      *time.Time `json:"period_end,omitempty"`
}

func (e *Engagement) Validate() error {
	if e.OrganizationID == "" {
		return fmt.Errorf("organization_id is required")
	}
	if e.Name == "" {
		return fmt.Errorf("name is required")
	}
	if e.PeriodStart != nil && e.PeriodEnd != nil && e.PeriodEnd.Before(*e.PeriodStart) {
		return fmt.Errorf("period_end precedes period_start")
	}
	return nil
}

// TrialBalanceLine is one account line of an imported trial balance.
type TrialBalanceLine struct {
	EngagementID string  `json:"engagement_id"`
	AccountCode  string  `json:"account_code"`
	AccountName  string  `json:"account_name,omitempty"`
	Debit        float64 `json:"debit"`
	Credit       float64 `json:"credit"`
	PeriodEnd    string  `json:"period_end,omitempty"` // YYYY-MM-DD
}

func (t *TrialBalanceLine) Validate() error {
	if t.EngagementID == "" {
		return fmt.Errorf("engagement_id is required")
	}
	if t.AccountCode == "" {
		return fmt.Errorf("account_code is required")
	}
	if t.Debit < 0 || t.Credit < 0 {
		return fmt.Errorf("debit and credit must be non-negative")
	}
	return nil
}

// AccountMapping maps an account code onto a financial statement line.
type AccountMapping struct {
	EngagementID  string `json:"engagement_id"`
	AccountCode   string `json:"account_code"`
	StatementLine string `json:"statement_line"`
	Category      string `json:"category,omitempty"` // assets, liabilities, equity, income, expenses
}

func (m *AccountMapping) Validate() error {
	if m.EngagementID == "" {
		return fmt.Errorf("engagement_id is required")
	}
	if m.AccountCode == "" {
		return fmt.Errorf("account_code is required")
	}
	if m.StatementLine == "" {
		return fmt.Errorf("statement_line is required")
	}
	return nil
}

// AnalyticsResult is a computed metric produced by the client's analysis
// routines. The computation itself happens outside the sync core.
type AnalyticsResult struct {
	EngagementID string  `json:"engagement_id"`
	Metric       string  `json:"metric"`
	Value        float64 `json:"value"`
	Flagged      bool    `json:"flagged,omitempty"`
}

func (a *AnalyticsResult) Validate() error {
	if a.EngagementID == "" {
		return fmt.Errorf("engagement_id is required")
	}
	if a.Metric == "" {
		return fmt.Errorf("metric is required")
	}
	return nil
}

// Document is metadata for an engagement document. Contents are uploaded
// through the document store, not the sync engine.
type Document struct {
	EngagementID string `json:"engagement_id"`
	Name         string `json:"name"`
	ContentType  string `json:"content_type,omitempty"`
	Size         int64  `json:"size,omitempty"`
	Checksum     string `json:"checksum,omitempty"`
}

func (d *Document) Validate() error {
	if d.EngagementID == "" {
		return fmt.Errorf("engagement_id is required")
	}
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if d.Size < 0 {
		return fmt.Errorf("size must be non-negative")
	}
	return nil
}

func init() {
	Register(EntityType{Name: "organization", Table: "organizations", New: func() Payload { return &Organization{} }})
	Register(EntityType{Name: "user", Table: "users", New: func() Payload { return &User{} }})
	Register(EntityType{Name: "engagement", Table: "engagements", New: func() Payload { return &Engagement{} }})
	Register(EntityType{Name: "trial_balance", Table: "trial_balance_lines", New: func() Payload { return &TrialBalanceLine{} }})
	Register(EntityType{Name: "account_mapping", Table: "account_mappings", New: func() Payload { return &AccountMapping{} }})
	Register(EntityType{Name: "analytics_result", Table: "analytics_results", New: func() Payload { return &AnalyticsResult{} }})
	Register(EntityType{Name: "document", Table: "documents", New: func() Payload { return &Document{} }})
}
