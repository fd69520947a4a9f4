package dal

// PredictResponse defines the JSON body returned for a single prediction
type PredictResponse struct {
	Prediction float64             `json:"prediction"`
	Display    string              `json:"display"`
	Features   []float64           `json:"features"`
	Degraded   map[string][]string `json:"degraded,omitempty"`
}

// ErrorResponse defines the JSON body returned when a request fails
type ErrorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// BatchRequest defines the JSON body of a batch prediction request
type BatchRequest struct {
	Submissions []map[string]any `json:"submissions"`
}

// BatchItem is the outcome for one submission of a batch. Exactly one of
// Result and Error is set.
type BatchItem struct {
	Index  int              `json:"index"`
	Result *PredictResponse `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// BatchResponse defines the JSON body returned for a batch request
type BatchResponse struct {
	Results   []BatchItem `json:"results"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// SchemaResponse describes the feature order and the category encodings
type SchemaResponse struct {
	Features   []string                  `json:"features"`
	Categories map[string]map[string]int `json:"categories"`
	Sentinel   int                       `json:"sentinel"`
}

// HealthResponse defines the JSON body of the health endpoint
type HealthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}
