package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/oapi-codegen/runtime/types"
)

// AnnouncementMetadata holds structured facts pulled from an announcement.
// Every field is optional; the record is keyed by DocumentID.
type AnnouncementMetadata struct {
	DocumentID     string          `json:"document_id"`
	Title          string          `json:"title,omitempty"`
	BudgetMin      *int64          `json:"budget_min,omitempty"`
	BudgetMax      *int64          `json:"budget_max,omitempty"`
	DurationMonths *int            `json:"duration_months,omitempty"`
	TechStack      []string        `json:"tech_stack"`
	Organization   string          `json:"organization,omitempty"`
	Region         string          `json:"region,omitempty"`
	Deadline       *types.Date     `json:"deadline,omitempty"`
	Summary        string          `json:"summary,omitempty"`
	Analysis       *AnalysisResult `json:"analysis,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (m *AnnouncementMetadata) Validate() error {
	var errs []error
	if m.BudgetMin != nil && *m.BudgetMin < 0 {
		errs = append(errs, fmt.Errorf("budget_min must be non-negative, got %d", *m.BudgetMin))
	}
	if m.BudgetMax != nil && *m.BudgetMax < 0 {
		errs = append(errs, fmt.Errorf("budget_max must be non-negative, got %d", *m.BudgetMax))
	}
	if m.BudgetMin != nil && m.BudgetMax != nil && *m.BudgetMin > *m.BudgetMax {
		errs = append(errs, fmt.Errorf("budget_min %d exceeds budget_max %d", *m.BudgetMin, *m.BudgetMax))
	}
	if m.DurationMonths != nil && *m.DurationMonths < 0 {
		errs = append(errs, fmt.Errorf("duration_months must be non-negative, got %d", *m.DurationMonths))
	}
	return errors.Join(errs...)
}
