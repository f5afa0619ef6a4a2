package models

// ModelParams is the fixed-shape record handed to the (stub) estimator.
type ModelParams struct {
	MaxDepth  int     `json:"max_depth"`
	NumLeaves int     `json:"num_leaves"`
	RegAlpha  float64 `json:"reg_alpha"`
	RegLambda float64 `json:"reg_lambda"`
}

// AsMap is the wire shape returned by the optimize tool.
func (p ModelParams) AsMap() map[string]interface{} {
	return map[string]interface{}{
		"max_depth":  p.MaxDepth,
		"num_leaves": p.NumLeaves,
		"reg_alpha":  p.RegAlpha,
		"reg_lambda": p.RegLambda,
	}
}

type IntRange struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

type FloatRange struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// SearchSpace bounds every sampled parameter; both ends are inclusive.
type SearchSpace struct {
	MaxDepth  IntRange   `json:"max_depth"`
	NumLeaves IntRange   `json:"num_leaves"`
	RegAlpha  FloatRange `json:"reg_alpha"`
	RegLambda FloatRange `json:"reg_lambda"`
}

func DefaultSearchSpace() SearchSpace {
	return SearchSpace{
		MaxDepth:  IntRange{Low: 3, High: 8},
		NumLeaves: IntRange{Low: 10, High: 30},
		RegAlpha:  FloatRange{Low: 0, High: 1},
		RegLambda: FloatRange{Low: 0, High: 1},
	}
}

// Contains reports whether p lies inside the space.
func (s SearchSpace) Contains(p ModelParams) bool {
	return p.MaxDepth >= s.MaxDepth.Low && p.MaxDepth <= s.MaxDepth.High &&
		p.NumLeaves >= s.NumLeaves.Low && p.NumLeaves <= s.NumLeaves.High &&
		p.RegAlpha >= s.RegAlpha.Low && p.RegAlpha <= s.RegAlpha.High &&
		p.RegLambda >= s.RegLambda.Low && p.RegLambda <= s.RegLambda.High
}
