package model

import (
	"fmt"
	"math"

	"ForecastMCP/internal/domain/models"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Reasons recorded in Selection.Dropped.
const (
	DropAllMissing     = "all_missing"
	DropLowVariance    = "low_variance"
	DropLowCorrelation = "low_correlation"
)

// Pipeline reduces a feature matrix in three passes:
// mean imputation, a variance floor, and a target-correlation floor.
type Pipeline struct {
	varianceThreshold float64
	corrThreshold     float64
}

func NewPipeline(varianceThreshold, corrThreshold float64) *Pipeline {
	return &Pipeline{varianceThreshold: varianceThreshold, corrThreshold: corrThreshold}
}

// Result is the reduced matrix and which input columns it keeps.
// X is nil when no column survives.
type Result struct {
	X         *mat.Dense
	Selection models.Selection
}

// Reduce runs the pipeline. NaN and ±Inf in x count as missing.
// names may be empty, in which case columns are called f0, f1, ...
func (p *Pipeline) Reduce(x [][]float64, y []float64, names []string) (*Result, error) {
	rows, cols, err := checkShape(x, y, names)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		names = make([]string, cols)
		for j := range names {
			names[j] = fmt.Sprintf("f%d", j)
		}
	}

	dropped := make(map[string]string)
	columns := make([][]float64, 0, cols)
	kept := make([]int, 0, cols)

	for j := 0; j < cols; j++ {
		col, ok := imputeColumn(x, j)
		if !ok {
			dropped[names[j]] = DropAllMissing
			continue
		}
		// population variance, kept only when strictly above the floor
		if _, v := stat.PopMeanVariance(col, nil); !(v > p.varianceThreshold) {
			dropped[names[j]] = DropLowVariance
			continue
		}
		columns = append(columns, col)
		kept = append(kept, j)
	}

	_, yVar := stat.PopMeanVariance(y, nil)
	selected := make([]int, 0, len(kept))
	selCols := make([][]float64, 0, len(kept))
	for i, j := range kept {
		// a constant target has no defined correlation; nothing passes
		if yVar == 0 {
			dropped[names[j]] = DropLowCorrelation
			continue
		}
		r := stat.Correlation(columns[i], y, nil)
		if math.IsNaN(r) || !(math.Abs(r) > p.corrThreshold) {
			dropped[names[j]] = DropLowCorrelation
			continue
		}
		selected = append(selected, j)
		selCols = append(selCols, columns[i])
	}

	res := &Result{
		Selection: models.Selection{
			Indices: selected,
			Names:   make([]string, len(selected)),
			Rows:    rows,
			Cols:    len(selected),
			Dropped: dropped,
		},
	}
	for k, j := range selected {
		res.Selection.Names[k] = names[j]
	}
	if len(selected) > 0 {
		res.X = mat.NewDense(rows, len(selected), nil)
		for k, col := range selCols {
			res.X.SetCol(k, col)
		}
	}
	return res, nil
}

func checkShape(x [][]float64, y []float64, names []string) (rows, cols int, err error) {
	rows = len(x)
	if rows == 0 {
		return 0, 0, fmt.Errorf("%w: empty matrix", models.ErrInvalidShape)
	}
	cols = len(x[0])
	if cols == 0 {
		return 0, 0, fmt.Errorf("%w: matrix has no columns", models.ErrInvalidShape)
	}
	for i, row := range x {
		if len(row) != cols {
			return 0, 0, fmt.Errorf("%w: row %d has %d columns, want %d", models.ErrInvalidShape, i, len(row), cols)
		}
	}
	if len(y) != rows {
		return 0, 0, fmt.Errorf("%w: %d rows but %d targets", models.ErrInvalidShape, rows, len(y))
	}
	if len(names) != 0 && len(names) != cols {
		return 0, 0, fmt.Errorf("%w: %d columns but %d names", models.ErrInvalidShape, cols, len(names))
	}
	for i, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, 0, fmt.Errorf("%w: target %d is not finite", models.ErrInvalidTarget, i)
		}
	}
	return rows, cols, nil
}

// imputeColumn copies column j with missing cells set to the column mean.
// It reports false when every cell is missing.
func imputeColumn(x [][]float64, j int) ([]float64, bool) {
	col := make([]float64, len(x))
	present := make([]float64, 0, len(x))
	for i, row := range x {
		col[i] = row[j]
		if !missing(row[j]) {
			present = append(present, row[j])
		}
	}
	if len(present) == 0 {
		return nil, false
	}
	mean := stat.Mean(present, nil)
	for i, v := range col {
		if missing(v) {
			col[i] = mean
		}
	}
	return col, true
}

func missing(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
