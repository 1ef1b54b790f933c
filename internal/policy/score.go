package policy

// Scoring rules for instruction-template reliability. Scores live in
// [0.0, 1.0]; a fresh template starts at the neutral prior and moves with
// every connector outcome for an instruction it produced.

const (
	// NeutralScore is the prior for templates with no recorded outcomes.
	NeutralScore = 0.5

	// outcomeWeight is the score increment for a successfully parsed call.
	outcomeWeight = 0.02

	// DegradedThreshold marks a template whose phrasing the connector has
	// stopped parsing reliably.
	DegradedThreshold = 0.3
)

// UpdateScore calculates the new reliability score after one outcome.
//
// Formula: new_score = old_score + (weight x direction)
// Degradation is asymmetric: failures count 2x.
func UpdateScore(currentScore float64, success bool) float64 {
	if success {
		return clamp(currentScore + outcomeWeight)
	}
	return clamp(currentScore - outcomeWeight*2.0)
}

// DecayScore drifts a stale score back toward the neutral prior, one step
// per day without outcomes. The connector's parser changes under us, so
// old evidence loses force in both directions.
func DecayScore(currentScore float64, decayRate float64, days int) float64 {
	score := currentScore
	for i := 0; i < days; i++ {
		score += (NeutralScore - score) * decayRate
	}
	return clamp(score)
}

func clamp(score float64) float64 {
	if score < 0.0 {
		return 0.0
	}
	if score > 1.0 {
		return 1.0
	}
	return score
}
