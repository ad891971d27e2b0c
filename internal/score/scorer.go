package score

import (
	"fmt"
	"math"

	"github.com/ppiankov/kbpublish/internal/model"
)

const (
	coverageWeight  = 60
	referenceWeight = 30
	contextBonus    = 10
)

// Scorer calculates the entity quality score and generates signals
type Scorer struct {
	expected []model.PropertyID
	citable  []model.PropertyID
}

// NewScorer creates a new scorer over the default property sets
func NewScorer() *Scorer {
	return &Scorer{
		expected: model.ExpectedProperties,
		citable:  model.CitableProperties,
	}
}

// Calculate scores an entity. The result depends only on which claims are
// present and whether they carry references, never on claim values or dates.
func (s *Scorer) Calculate(entity *model.StructuredEntity) model.Quality {
	var signals []model.Signal

	// 1. Property coverage (0-60 points)
	coverageScore, coverageSignal := s.calculateCoverage(entity)
	signals = append(signals, coverageSignal)

	// 2. Reference coverage (0-30 points)
	referenceScore, referenceSignal := s.calculateReferences(entity)
	signals = append(signals, referenceSignal)

	// 3. Resolved context bonus (0 or 10 points)
	bonus, contextSignal := s.calculateContext(entity)
	signals = append(signals, contextSignal)

	total := coverageScore + referenceScore + bonus
	if total > 100 {
		total = 100
	}

	return model.Quality{
		Score:   total,
		Signals: signals,
	}
}

// calculateCoverage scores the share of expected properties present (0-60 points)
func (s *Scorer) calculateCoverage(entity *model.StructuredEntity) (int, model.Signal) {
	present := 0
	var missing []string
	for _, p := range s.expected {
		if entity.HasClaim(p) {
			present++
		} else {
			missing = append(missing, string(p))
		}
	}

	ratio := float64(present) / float64(len(s.expected))
	score := int(math.Round(ratio * coverageWeight))

	severity := model.SeverityInfo
	if ratio < 0.3 {
		severity = model.SeverityCritical
	} else if ratio < 0.6 {
		severity = model.SeverityWarning
	}

	return score, model.Signal{
		Type:        model.SignalPropertyCoverage,
		Severity:    severity,
		Description: fmt.Sprintf("Property coverage: %d/%d expected properties", present, len(s.expected)),
		Data: map[string]interface{}{
			"present":  present,
			"expected": len(s.expected),
			"missing":  missing,
			"ratio":    ratio,
			"score":    score,
			"formula":  "round(present / expected * 60)",
		},
	}
}

// calculateReferences scores the share of citable claims carrying at least
// one reference (0-30 points)
func (s *Scorer) calculateReferences(entity *model.StructuredEntity) (int, model.Signal) {
	citable := 0
	referenced := 0
	for _, p := range s.citable {
		for _, c := range entity.Claims[p] {
			citable++
			if c.HasReferences() {
				referenced++
			}
		}
	}

	if citable == 0 {
		return 0, model.Signal{
			Type:        model.SignalReferenceCoverage,
			Severity:    model.SeverityCritical,
			Description: "No citable claims",
			Data:        map[string]interface{}{"citable": 0},
		}
	}

	ratio := float64(referenced) / float64(citable)
	score := int(math.Round(ratio * referenceWeight))

	severity := model.SeverityInfo
	if referenced == 0 {
		severity = model.SeverityWarning
	}

	return score, model.Signal{
		Type:        model.SignalReferenceCoverage,
		Severity:    severity,
		Description: fmt.Sprintf("Referenced claims: %d/%d", referenced, citable),
		Data: map[string]interface{}{
			"referenced": referenced,
			"citable":    citable,
			"ratio":      ratio,
			"score":      score,
			"formula":    "round(referenced_citable_claims / citable_claims * 30)",
		},
	}
}

// calculateContext awards the bonus when both location and industry resolved
func (s *Scorer) calculateContext(entity *model.StructuredEntity) (int, model.Signal) {
	location := entity.HasClaim(model.PropLocatedIn)
	industry := entity.HasClaim(model.PropIndustry)

	score := 0
	severity := model.SeverityInfo
	description := "Location and industry resolved"
	if location && industry {
		score = contextBonus
	} else {
		description = "Location or industry unresolved"
		severity = model.SeverityWarning
	}

	return score, model.Signal{
		Type:        model.SignalResolvedContext,
		Severity:    severity,
		Description: description,
		Data: map[string]interface{}{
			"location": location,
			"industry": industry,
			"score":    score,
			"formula":  "10 if location and industry resolved else 0",
		},
	}
}
