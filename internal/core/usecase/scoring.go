package usecase

import (
	"math"
	"strings"

	"github.com/kirillkom/bidmatch/internal/core/domain"
)

const neutralSkillScore = 0.5

// skillOverlap is the share of required skills the candidate lists. Matching
// is case-insensitive and tolerates qualifiers such as "Go 1.22" vs "go".
func skillOverlap(required, offered []string) float64 {
	if len(required) == 0 {
		return neutralSkillScore
	}
	have := make([]string, 0, len(offered))
	for _, s := range offered {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			have = append(have, s)
		}
	}
	hits := 0
	for _, req := range required {
		req = strings.ToLower(strings.TrimSpace(req))
		for _, s := range have {
			if s == req || containsWord(s, req) || containsWord(req, s) {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(required))
}

// containsWord reports whether needle appears in s as a whole
// whitespace-separated word sequence.
func containsWord(s, needle string) bool {
	if needle == "" {
		return false
	}
	words := strings.Fields(s)
	target := strings.Fields(needle)
	for i := 0; i+len(target) <= len(words); i++ {
		match := true
		for j := range target {
			if words[i+j] != target[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func experienceScore(c domain.Candidate) float64 {
	projects := math.Min(float64(max(c.CompletedProjects, 0))/10, 1)
	years := math.Min(math.Max(c.ExperienceYears, 0)/5, 1)
	return (projects + years) / 2
}

// locationMatch is true when the announcement names no region or the
// candidate is based there.
func locationMatch(region, location string) bool {
	region = strings.TrimSpace(region)
	if region == "" {
		return true
	}
	location = strings.TrimSpace(location)
	if location == "" {
		return false
	}
	if strings.EqualFold(region, location) {
		return true
	}
	r, l := strings.ToLower(region), strings.ToLower(location)
	return containsWord(l, r) || containsWord(r, l)
}

func ratingScore(rating float64) float64 {
	if math.IsNaN(rating) {
		return 0
	}
	return math.Max(0, math.Min(rating/5, 1))
}

func scoreCandidate(required []string, region string, c domain.Candidate, w domain.MatchWeights) (float64, domain.MatchBreakdown) {
	b := domain.MatchBreakdown{
		SkillMatch:      skillOverlap(required, c.Skills),
		ExperienceMatch: experienceScore(c),
		LocationMatch:   locationMatch(region, c.Location),
		Rating:          ratingScore(c.Rating),
	}
	return w.Combine(b), b
}

// requiredSkills unions the announcement tech stack with the skills of every
// extracted requirement.
func requiredSkills(meta *domain.AnnouncementMetadata) []string {
	skills := append([]string{}, meta.TechStack...)
	if meta.Analysis != nil {
		for _, r := range meta.Analysis.Requirements {
			skills = append(skills, r.Skills...)
		}
	}
	return normalizeTags(skills)
}
