package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/nekruzvatanshoev/carprice/pkg/carprice/dal"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/features"
)

type textField struct {
	Field       string
	Label       string
	Placeholder string
}

// textFields are the form inputs that are typed rather than selected.
var textFields = []textField{
	{Field: dal.FieldYear, Label: "Year", Placeholder: "2015"},
	{Field: dal.FieldKmDriven, Label: "Kilometers driven", Placeholder: "50000"},
	{Field: dal.FieldMileage, Label: "Mileage", Placeholder: "21.4 kmpl"},
	{Field: dal.FieldEngine, Label: "Engine", Placeholder: "1248 CC"},
	{Field: dal.FieldMaxPower, Label: "Max power", Placeholder: "74 bhp"},
	{Field: dal.FieldSeats, Label: "Seats", Placeholder: "5"},
}

var categoryLabels = map[string]string{
	dal.FieldName:         "Brand",
	dal.FieldFuel:         "Fuel",
	dal.FieldSellerType:   "Seller type",
	dal.FieldTransmission: "Transmission",
	dal.FieldOwner:        "Owner",
}

type categoryField struct {
	Field   string
	Label   string
	Options []string
}

type formPage struct {
	Categories   []categoryField
	Inputs       []textField
	Values       map[string]string
	ErrorMessage string
}

type resultPage struct {
	PredictionText string
	Values         map[string]string
}

func newFormPage(values map[string]string, errMsg string) formPage {
	page := formPage{
		Inputs:       textFields,
		Values:       values,
		ErrorMessage: errMsg,
	}
	for _, t := range features.Tables() {
		page.Categories = append(page.Categories, categoryField{
			Field:   t.Name(),
			Label:   categoryLabels[t.Name()],
			Options: t.Labels(),
		})
	}
	return page
}

// Home renders the input form
func (h *httpServer) Home(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "index.html", newFormPage(nil, ""))
}

// Predict handles a form submission and renders the predicted price, or the
// form again with an error message.
func (h *httpServer) Predict(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.logger(r).Warn("form parsing failed", zap.Error(err))
		h.render(w, r, http.StatusBadRequest, "index.html",
			newFormPage(nil, fmt.Sprintf("Error processing input: %v", err)))
		return
	}

	raw := submissionFromForm(r.PostForm)
	resp, err := h.predict(r, raw)
	if err != nil {
		h.render(w, r, statusFor(err), "index.html",
			newFormPage(raw, fmt.Sprintf("Error processing input: %v", err)))
		return
	}

	h.render(w, r, http.StatusOK, "result.html", resultPage{
		PredictionText: resp.Display,
		Values:         raw,
	})
}

// predict runs the full pipeline for one submission.
func (h *httpServer) predict(r *http.Request, raw dal.RawSubmission) (dal.PredictResponse, error) {
	log := h.logger(r)

	vector, rep, err := features.AssembleReport(raw)
	if h.metrics != nil {
		h.metrics.RecordAssembly(rep, err)
	}
	if err != nil {
		log.Info("submission rejected", zap.Error(err))
		return dal.PredictResponse{}, err
	}
	if rep.Degraded() {
		log.Warn("submission degraded",
			zap.Any("unknown_labels", rep.UnknownLabels),
			zap.Strings("defaulted", rep.Defaulted))
	}

	price, err := h.invoker.Invoke(vector)
	if err != nil {
		log.Error("prediction failed", zap.String("model", h.invoker.Name()), zap.Error(err))
		return dal.PredictResponse{}, err
	}

	result := dal.PredictionResult{Price: price}
	return dal.PredictResponse{
		Prediction: price,
		Display:    result.Display(),
		Features:   vector.Values(),
		Degraded:   rep.Fields(),
	}, nil
}

// render executes a template into a buffer so a failing template never
// leaves a half-written page.
func (h *httpServer) render(w http.ResponseWriter, r *http.Request, status int, name string, data interface{}) {
	var buf bytes.Buffer
	if err := views.ExecuteTemplate(&buf, name, data); err != nil {
		h.logger(r).Error("template rendering failed", zap.String("template", name), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// submissionFromForm keeps only the submitted fields so that a missing
// required field can be told apart from an empty one.
func submissionFromForm(form url.Values) dal.RawSubmission {
	raw := make(dal.RawSubmission, len(dal.FeatureNames))
	for _, field := range dal.FeatureNames {
		if values, ok := form[field]; ok && len(values) > 0 {
			raw[field] = values[0]
		}
	}
	return raw
}

func statusFor(err error) int {
	var fieldErr *features.FieldError
	if errors.As(err, &fieldErr) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
