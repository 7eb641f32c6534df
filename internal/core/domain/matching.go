package domain

import "time"

// Candidate is a team or contractor that can bid on announcements.
type Candidate struct {
	ID                string    `json:"id" yaml:"id"`
	Name              string    `json:"name" yaml:"name"`
	Skills            []string  `json:"skills" yaml:"skills"`
	ExperienceYears   float64   `json:"experience_years" yaml:"experience_years"`
	CompletedProjects int       `json:"completed_projects" yaml:"completed_projects"`
	Location          string    `json:"location,omitempty" yaml:"location"`
	Rating            float64   `json:"rating" yaml:"rating"`
	MonthlyRate       int64     `json:"monthly_rate,omitempty" yaml:"monthly_rate"`
	UpdatedAt         time.Time `json:"updated_at" yaml:"-"`
}

type MatchBreakdown struct {
	SkillMatch      float64 `json:"skill_match"`
	ExperienceMatch float64 `json:"experience_match"`
	LocationMatch   bool    `json:"location_match"`
	Rating          float64 `json:"rating"`
}

type MatchStatus string

// MatchPendingReview is the only status the matcher assigns; review happens
// outside this service.
const MatchPendingReview MatchStatus = "pending_review"

type MatchedCandidate struct {
	DocumentID    string         `json:"document_id"`
	CandidateID   string         `json:"candidate_id"`
	CandidateName string         `json:"candidate_name,omitempty"`
	Score         float64        `json:"match_score"`
	Breakdown     MatchBreakdown `json:"breakdown"`
	Status        MatchStatus    `json:"status"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

type MatchOptions struct {
	TopN     int
	MinScore *float64
}

// MatchWeights weigh the sub-scores of a match. Normalized weights sum to 1.
type MatchWeights struct {
	Skill      float64 `json:"skill"`
	Experience float64 `json:"experience"`
	Location   float64 `json:"location"`
	Rating     float64 `json:"rating"`
}

func DefaultMatchWeights() MatchWeights {
	return MatchWeights{Skill: 0.4, Experience: 0.25, Location: 0.1, Rating: 0.25}
}

func (w MatchWeights) Normalize() MatchWeights {
	if w.Skill < 0 || w.Experience < 0 || w.Location < 0 || w.Rating < 0 {
		return DefaultMatchWeights()
	}
	sum := w.Skill + w.Experience + w.Location + w.Rating
	if sum <= 0 {
		return DefaultMatchWeights()
	}
	return MatchWeights{
		Skill:      w.Skill / sum,
		Experience: w.Experience / sum,
		Location:   w.Location / sum,
		Rating:     w.Rating / sum,
	}
}

// Combine folds a breakdown into one score in [0,1].
func (w MatchWeights) Combine(b MatchBreakdown) float64 {
	location := 0.0
	if b.LocationMatch {
		location = 1
	}
	return w.Skill*b.SkillMatch + w.Experience*b.ExperienceMatch + w.Location*location + w.Rating*b.Rating
}
