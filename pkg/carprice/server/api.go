package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cast"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nekruzvatanshoev/carprice/pkg/carprice/dal"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/features"
)

const maxBodyBytes = 1 << 20

// APIPredict defines a POST handler predicting the price of one JSON submission
func (h *httpServer) APIPredict(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	raw, err := submissionFromJSON(body)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := h.predict(r, raw)
	if err != nil {
		h.writeError(w, r, statusFor(err), err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// APIPredictBatch defines a POST handler predicting many submissions at once.
// Items are independent: one failing item does not fail the batch.
func (h *httpServer) APIPredictBatch(w http.ResponseWriter, r *http.Request) {
	var req dal.BatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if len(req.Submissions) == 0 {
		h.writeError(w, r, http.StatusBadRequest, errors.New("batch contains no submissions"))
		return
	}
	if len(req.Submissions) > h.batch.MaxSize {
		h.writeError(w, r, http.StatusRequestEntityTooLarge,
			fmt.Errorf("batch of %d submissions exceeds the limit of %d", len(req.Submissions), h.batch.MaxSize))
		return
	}

	results := make([]dal.BatchItem, len(req.Submissions))
	var g errgroup.Group
	g.SetLimit(h.batch.Concurrency)
	for i, body := range req.Submissions {
		i, body := i, body
		g.Go(func() error {
			results[i] = h.predictItem(r, i, body)
			return nil
		})
	}
	_ = g.Wait()

	resp := dal.BatchResponse{Results: results}
	for _, item := range results {
		if item.Error != "" {
			resp.Failed++
		} else {
			resp.Succeeded++
		}
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

func (h *httpServer) predictItem(r *http.Request, index int, body map[string]any) dal.BatchItem {
	item := dal.BatchItem{Index: index}
	raw, err := submissionFromJSON(body)
	if err == nil {
		var resp dal.PredictResponse
		if resp, err = h.predict(r, raw); err == nil {
			item.Result = &resp
			return item
		}
	}
	item.Error = err.Error()
	return item
}

// Schema returns the feature order and the category encodings
func (h *httpServer) Schema(w http.ResponseWriter, r *http.Request) {
	resp := dal.SchemaResponse{
		Features:   dal.FeatureNames[:],
		Categories: make(map[string]map[string]int),
		Sentinel:   features.Sentinel,
	}
	for _, t := range features.Tables() {
		resp.Categories[t.Name()] = t.Codes()
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// Health reports that the service is up and which model it serves
func (h *httpServer) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, dal.HealthResponse{Status: "ok", Model: h.invoker.Name()})
}

// submissionFromJSON converts a decoded JSON object into a submission.
// Strings and numbers are accepted; null counts as not submitted.
func submissionFromJSON(body map[string]any) (dal.RawSubmission, error) {
	raw := make(dal.RawSubmission, len(body))
	for _, field := range dal.FeatureNames {
		v, ok := body[field]
		if !ok || v == nil {
			continue
		}
		switch v.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("field %s must be a string or a number", field)
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}
		raw[field] = s
	}
	return raw, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (h *httpServer) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger(r).Error("writing response failed", zap.Error(err))
	}
}

func (h *httpServer) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	h.writeJSON(w, r, status, dal.ErrorResponse{Error: err.Error(), Status: status})
}
