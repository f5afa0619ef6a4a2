package tuning

import (
	"math/rand/v2"

	"ForecastMCP/internal/domain/models"

	"gonum.org/v1/gonum/stat/distuv"
)

// Sampler draws independent uniform samples from a search space.
// It is not safe for concurrent use; the study samples from one goroutine.
type Sampler struct {
	space     models.SearchSpace
	rng       *rand.Rand
	regAlpha  distuv.Uniform
	regLambda distuv.Uniform
}

// NewSampler seeds deterministically when seed != 0.
func NewSampler(space models.SearchSpace, seed int64) *Sampler {
	src := newSource(seed)
	return &Sampler{
		space:     space,
		rng:       rand.New(src),
		regAlpha:  distuv.Uniform{Min: space.RegAlpha.Low, Max: space.RegAlpha.High, Src: src},
		regLambda: distuv.Uniform{Min: space.RegLambda.Low, Max: space.RegLambda.High, Src: src},
	}
}

func (s *Sampler) Sample() models.ModelParams {
	return models.ModelParams{
		MaxDepth:  s.intIn(s.space.MaxDepth),
		NumLeaves: s.intIn(s.space.NumLeaves),
		RegAlpha:  s.regAlpha.Rand(),
		RegLambda: s.regLambda.Rand(),
	}
}

func (s *Sampler) intIn(r models.IntRange) int {
	if r.High <= r.Low {
		return r.Low
	}
	return r.Low + s.rng.IntN(r.High-r.Low+1)
}

func newSource(seed int64) rand.Source {
	if seed == 0 {
		return rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)
}
