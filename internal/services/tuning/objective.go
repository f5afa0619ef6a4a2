package tuning

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"ForecastMCP/internal/domain/models"
	xhttp "ForecastMCP/pkg/http"

	"gonum.org/v1/gonum/stat/distuv"
)

// RandomObjective stands in for a real evaluation: it returns -uniform(0.05, 0.2),
// the shape of a negated R² from a weak model.
type RandomObjective struct {
	mu   sync.Mutex
	dist distuv.Uniform
}

func NewRandomObjective(seed int64) *RandomObjective {
	return &RandomObjective{dist: distuv.Uniform{Min: 0.05, Max: 0.2, Src: newSource(seed)}}
}

func (o *RandomObjective) Evaluate(ctx context.Context, _ models.ModelParams) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return -o.dist.Rand(), nil
}

type evaluateResponse struct {
	R2 *float64 `json:"r2"`
}

// RemoteObjective asks an evaluator service to score each parameter set.
// The evaluator answers POST <base>/evaluate with {"r2": <float>}.
type RemoteObjective struct {
	client *xhttp.Client
	url    string
}

func NewRemoteObjective(client *xhttp.Client, baseURL string) *RemoteObjective {
	return &RemoteObjective{client: client, url: strings.TrimRight(baseURL, "/") + "/evaluate"}
}

func (o *RemoteObjective) Evaluate(ctx context.Context, p models.ModelParams) (float64, error) {
	var resp evaluateResponse
	err := o.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    o.url,
		Body:   p,
	}, &resp)
	if err != nil {
		return 0, fmt.Errorf("evaluate: %w", err)
	}
	if resp.R2 == nil {
		return 0, fmt.Errorf("evaluate: response has no r2")
	}
	if math.IsNaN(*resp.R2) || math.IsInf(*resp.R2, 0) {
		return 0, fmt.Errorf("evaluate: r2 is not finite")
	}
	return -*resp.R2, nil
}
