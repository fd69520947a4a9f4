package features

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nekruzvatanshoev/carprice/pkg/carprice/dal"
)

var (
	// ErrMissingField is returned when a required integer field was not submitted.
	ErrMissingField = errors.New("missing required field")
	// ErrNotInteger is returned when a required integer field does not parse.
	ErrNotInteger = errors.New("not a valid integer")
)

// FieldError describes a required field that prevented assembly.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	if errors.Is(e.Err, ErrMissingField) {
		return fmt.Sprintf("%s: %s", e.Err, e.Field)
	}
	return fmt.Sprintf("%s: %q is %s", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Report lists the fields that were degraded while assembling a vector.
type Report struct {
	// UnknownLabels maps a category field to the label that encoded to Sentinel.
	UnknownLabels map[string]string
	// Defaulted lists measurement fields that sanitized to 0.
	Defaulted []string
}

// Degraded reports whether any field was degraded.
func (r Report) Degraded() bool {
	return len(r.UnknownLabels) > 0 || len(r.Defaulted) > 0
}

// Fields groups the degraded field names by reason.
func (r Report) Fields() map[string][]string {
	if !r.Degraded() {
		return nil
	}
	out := make(map[string][]string, 2)
	for _, t := range Tables() {
		if _, ok := r.UnknownLabels[t.Name()]; ok {
			out["unknown_label"] = append(out["unknown_label"], t.Name())
		}
	}
	if len(r.Defaulted) > 0 {
		out["defaulted"] = append([]string(nil), r.Defaulted...)
	}
	return out
}

// Assemble converts a submission into the feature vector the model expects.
// It fails only when year, km_driven or seats is missing or not an integer.
func Assemble(raw dal.RawSubmission) (dal.FeatureVector, error) {
	v, _, err := AssembleReport(raw)
	return v, err
}

// AssembleReport is Assemble that also reports fail-soft degradations.
func AssembleReport(raw dal.RawSubmission) (dal.FeatureVector, Report, error) {
	var (
		v   dal.FeatureVector
		rep Report
		err error
	)

	if v.Year, err = requireInt(raw, dal.FieldYear); err != nil {
		return dal.FeatureVector{}, Report{}, err
	}
	if v.KmDriven, err = requireInt(raw, dal.FieldKmDriven); err != nil {
		return dal.FeatureVector{}, Report{}, err
	}
	if v.Seats, err = requireInt(raw, dal.FieldSeats); err != nil {
		return dal.FeatureVector{}, Report{}, err
	}

	encode := func(t *CategoryTable) int {
		label := raw[t.Name()]
		code, ok := t.Code(label)
		if !ok {
			if rep.UnknownLabels == nil {
				rep.UnknownLabels = make(map[string]string)
			}
			rep.UnknownLabels[t.Name()] = label
		}
		return code
	}
	v.Brand = encode(Brand)
	v.Fuel = encode(Fuel)
	v.SellerType = encode(SellerType)
	v.Transmission = encode(Transmission)
	v.Owner = encode(Owner)

	measure := func(field string) float64 {
		f, ok := sanitize(raw[field])
		if !ok {
			rep.Defaulted = append(rep.Defaulted, field)
		}
		return f
	}
	v.Mileage = measure(dal.FieldMileage)
	v.Engine = measure(dal.FieldEngine)
	v.MaxPower = measure(dal.FieldMaxPower)

	return v, rep, nil
}

func requireInt(raw dal.RawSubmission, field string) (int, error) {
	s, ok := raw.Lookup(field)
	if !ok {
		return 0, &FieldError{Field: field, Err: ErrMissingField}
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, &FieldError{Field: field, Value: s, Err: ErrNotInteger}
	}
	return n, nil
}
