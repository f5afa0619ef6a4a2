package features

import "github.com/jonreiter/govader"

// Scorer maps a headline to a compound sentiment in [-1, 1].
type Scorer interface {
	Score(text string) float64
}

// NeutralScorer is used when sentiment is switched off.
type NeutralScorer struct{}

func (NeutralScorer) Score(string) float64 { return 0 }

// VaderScorer returns the VADER compound score from the full VADER lexicon.
// The analyzer is read-only after construction and safe for concurrent use.
type VaderScorer struct {
	sia *govader.SentimentIntensityAnalyzer
}

func NewVaderScorer() *VaderScorer {
	return &VaderScorer{sia: govader.NewSentimentIntensityAnalyzer()}
}

func (s *VaderScorer) Score(text string) float64 {
	return s.sia.PolarityScores(text).Compound
}

// ScoreAll scores each text.
func ScoreAll(s Scorer, texts []string) []float64 {
	out := make([]float64, len(texts))
	for i, t := range texts {
		out[i] = s.Score(t)
	}
	return out
}
