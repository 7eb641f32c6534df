package domain

import (
	"testing"
	"time"

	"github.com/oapi-codegen/runtime/types"
)

func date(y int, m time.Month, d int) types.Date {
	return types.Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func TestEstimateDraftValidate(t *testing.T) {
	valid := EstimateDraft{
		TotalAmount: 1000,
		StartDate:   date(2026, 1, 1),
		EndDate:     date(2026, 6, 30),
		Milestones: []Milestone{
			{Title: "design", Amount: 400, StartDate: date(2026, 1, 1), EndDate: date(2026, 2, 28)},
		},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	inverted := valid
	inverted.EndDate = date(2025, 12, 1)
	if err := inverted.Validate(); err == nil {
		t.Fatalf("expected error for end before start")
	}

	untitled := valid
	untitled.Milestones = []Milestone{{Amount: 1, StartDate: date(2026, 1, 1), EndDate: date(2026, 1, 2)}}
	if err := untitled.Validate(); err == nil {
		t.Fatalf("expected error for milestone without title")
	}
}

func TestEstimateDraftSoftCheckWarnsWithoutRejecting(t *testing.T) {
	draft := EstimateDraft{
		TotalAmount: 1000,
		StartDate:   date(2026, 1, 1),
		EndDate:     date(2026, 3, 31),
		Milestones: []Milestone{
			{Title: "build", Amount: 800, StartDate: date(2026, 1, 1), EndDate: date(2026, 2, 28)},
			{Title: "support", Amount: 400, StartDate: date(2026, 3, 1), EndDate: date(2026, 5, 31)},
		},
	}
	if err := draft.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	warnings := draft.SoftCheck()
	if len(warnings) != 2 {
		t.Fatalf("expected range and sum warnings, got %v", warnings)
	}
}

func TestAnnouncementMetadataValidateBudgetRange(t *testing.T) {
	low, high := int64(100), int64(50)
	meta := AnnouncementMetadata{BudgetMin: &low, BudgetMax: &high}
	if err := meta.Validate(); err == nil {
		t.Fatalf("expected budget range error")
	}
	meta.BudgetMax = nil
	if err := meta.Validate(); err != nil {
		t.Fatalf("expected independent nullable budget to pass, got %v", err)
	}
}

func TestMatchWeightsNormalize(t *testing.T) {
	w := MatchWeights{Skill: 2, Experience: 1, Location: 1, Rating: 0}.Normalize()
	if w.Skill != 0.5 || w.Experience != 0.25 || w.Location != 0.25 || w.Rating != 0 {
		t.Fatalf("unexpected normalized weights %+v", w)
	}
	if got := (MatchWeights{}).Normalize(); got != DefaultMatchWeights() {
		t.Fatalf("expected defaults for zero weights, got %+v", got)
	}
}
