package api

// Tool describes one callable tool and its JSON-schema parameters.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

// Tools is the manifest served on GET /tools.
var Tools = []Tool{
	{
		Name:        "optimize",
		Description: "Triggers model optimization using hyper-parameter tuning and returns the best parameters.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"n_trials": map[string]interface{}{
					"type":        "integer",
					"description": "Number of trials; defaults to the configured count.",
					"minimum":     1,
					"maximum":     1000,
				},
			},
		},
	},
	{
		Name:        "write_code",
		Description: "Writes complete source code to a specified file, overwriting existing content.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"filename": stringProp("The file to write to."),
				"code":     stringProp("The code to write."),
			},
			"required": []string{"filename", "code"},
		},
	},
	{
		Name:        "fit",
		Description: "Runs feature reduction (impute, variance filter, correlation filter) on a matrix or on candles.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"x": map[string]interface{}{
					"type":        "array",
					"description": "Rows of feature values; null marks a missing value.",
					"items":       map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": []string{"number", "null"}}},
				},
				"y":         map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "number"}},
				"columns":   map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				"candles":   map[string]interface{}{"type": "array", "description": "OHLCV bars, oldest first.", "items": map[string]interface{}{"type": "object"}},
				"headlines": map[string]interface{}{"type": "array", "description": "One headline per candle.", "items": map[string]interface{}{"type": "string"}},
				"persist":   map[string]interface{}{"type": "boolean", "description": "Write selected_features.json."},
			},
		},
	},
	{
		Name:        "predict",
		Description: "Returns placeholder predictions.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"rows": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 100000},
			},
		},
	},
}
