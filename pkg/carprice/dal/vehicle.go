package dal

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Submission field names, as posted by the input form and the JSON API.
const (
	FieldName         = "name"
	FieldYear         = "year"
	FieldKmDriven     = "km_driven"
	FieldFuel         = "fuel"
	FieldSellerType   = "seller_type"
	FieldTransmission = "transmission"
	FieldOwner        = "owner"
	FieldMileage      = "mileage"
	FieldEngine       = "engine"
	FieldMaxPower     = "max_power"
	FieldSeats        = "seats"
)

// FeatureNames is the column order the model was trained on.
var FeatureNames = [FeatureCount]string{
	FieldName,
	FieldYear,
	FieldKmDriven,
	FieldFuel,
	FieldSellerType,
	FieldTransmission,
	FieldOwner,
	FieldMileage,
	FieldEngine,
	FieldMaxPower,
	FieldSeats,
}

// FeatureCount is the number of columns in a FeatureVector.
const FeatureCount = 11

// RawSubmission holds the untyped field values of one submission.
// A key that was not submitted is absent from the map.
type RawSubmission map[string]string

// Lookup returns the value of field and whether it was submitted.
func (s RawSubmission) Lookup(field string) (string, bool) {
	v, ok := s[field]
	return v, ok
}

// FeatureVector is the fixed-schema record passed to the model.
type FeatureVector struct {
	Brand        int
	Year         int
	KmDriven     int
	Fuel         int
	SellerType   int
	Transmission int
	Owner        int
	Mileage      float64
	Engine       float64
	MaxPower     float64
	Seats        int
}

// Values returns the vector in FeatureNames order.
func (v FeatureVector) Values() []float64 {
	return []float64{
		float64(v.Brand),
		float64(v.Year),
		float64(v.KmDriven),
		float64(v.Fuel),
		float64(v.SellerType),
		float64(v.Transmission),
		float64(v.Owner),
		v.Mileage,
		v.Engine,
		v.MaxPower,
		float64(v.Seats),
	}
}

// Key returns a canonical string for the vector, usable as a cache key.
func (v FeatureVector) Key() string {
	vals := v.Values()
	parts := make([]string, len(vals))
	for i, f := range vals {
		parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strings.Join(parts, "|")
}

// PredictionResult is the rounded price for one submission.
type PredictionResult struct {
	Price float64
}

// Display formats the price the way the result page shows it.
func (p PredictionResult) Display() string {
	return fmt.Sprintf("Predicted Car Price: ₹ %s", FormatPrice(p.Price))
}

var pricePrinter = message.NewPrinter(language.English)

// FormatPrice renders a price with two decimals and digit grouping.
func FormatPrice(price float64) string {
	return pricePrinter.Sprintf("%.2f", price)
}
