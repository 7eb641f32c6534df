package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oapi-codegen/runtime/types"
)

type Milestone struct {
	Title     string     `json:"title"`
	Detail    string     `json:"detail,omitempty"`
	Amount    int64      `json:"amount"`
	StartDate types.Date `json:"start_date"`
	EndDate   types.Date `json:"end_date"`
}

// EstimateDraft is the current proposal for one (document, candidate) pair.
// Warnings list soft invariant violations found at generation time.
type EstimateDraft struct {
	DocumentID  string      `json:"document_id"`
	CandidateID string      `json:"candidate_id"`
	TotalAmount int64       `json:"total_amount"`
	StartDate   types.Date  `json:"start_date"`
	EndDate     types.Date  `json:"end_date"`
	Detail      string      `json:"detail,omitempty"`
	Milestones  []Milestone `json:"milestones"`
	Warnings    []string    `json:"warnings,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Validate rejects drafts whose shape cannot be used at all.
func (d *EstimateDraft) Validate() error {
	var errs []error
	if d.TotalAmount < 0 {
		errs = append(errs, fmt.Errorf("total_amount must be non-negative, got %d", d.TotalAmount))
	}
	if d.StartDate.Time.IsZero() || d.EndDate.Time.IsZero() {
		errs = append(errs, errors.New("start_date and end_date are required"))
	} else if d.EndDate.Time.Before(d.StartDate.Time) {
		errs = append(errs, fmt.Errorf("end_date %s precedes start_date %s", d.EndDate, d.StartDate))
	}
	for i, m := range d.Milestones {
		if strings.TrimSpace(m.Title) == "" {
			errs = append(errs, fmt.Errorf("milestone %d: title is required", i))
		}
		if m.Amount < 0 {
			errs = append(errs, fmt.Errorf("milestone %d: amount must be non-negative", i))
		}
		if m.EndDate.Time.Before(m.StartDate.Time) {
			errs = append(errs, fmt.Errorf("milestone %d: end_date precedes start_date", i))
		}
	}
	return errors.Join(errs...)
}

// SoftCheck reports violations of the draft's best-effort invariants:
// milestone dates inside the draft range and milestone payments not above the total.
func (d *EstimateDraft) SoftCheck() []string {
	var warnings []string
	var sum int64
	for i, m := range d.Milestones {
		sum += m.Amount
		if m.StartDate.Time.Before(d.StartDate.Time) || m.EndDate.Time.After(d.EndDate.Time) {
			warnings = append(warnings, fmt.Sprintf(
				"milestone %d (%s) runs %s..%s outside draft range %s..%s",
				i, m.Title, m.StartDate, m.EndDate, d.StartDate, d.EndDate,
			))
		}
	}
	if sum > d.TotalAmount {
		warnings = append(warnings, fmt.Sprintf("milestone payments sum %d exceeds total amount %d", sum, d.TotalAmount))
	}
	return warnings
}
