package features

import "sort"

// Sentinel is the code returned for a label a table does not know.
const Sentinel = 0

// CategoryTable maps the labels of one categorical feature to the integer
// codes the model was trained with. A table is immutable once built.
type CategoryTable struct {
	name  string
	codes map[string]int
}

func newTable(name string, codes map[string]int) *CategoryTable {
	return &CategoryTable{name: name, codes: codes}
}

// Name returns the submission field the table encodes.
func (t *CategoryTable) Name() string {
	return t.name
}

// Code returns the code for label and whether the label is known.
// Matching is exact: case and surrounding whitespace are significant.
func (t *CategoryTable) Code(label string) (int, bool) {
	code, ok := t.codes[label]
	if !ok {
		return Sentinel, false
	}
	return code, true
}

// Labels returns the known labels ordered by code.
func (t *CategoryTable) Labels() []string {
	labels := make([]string, 0, len(t.codes))
	for label := range t.codes {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		return t.codes[labels[i]] < t.codes[labels[j]]
	})
	return labels
}

// Codes returns a copy of the label to code mapping.
func (t *CategoryTable) Codes() map[string]int {
	out := make(map[string]int, len(t.codes))
	for label, code := range t.codes {
		out[label] = code
	}
	return out
}

// Encode returns the code of label in table, or Sentinel when the label is
// unknown. It never fails.
func Encode(table *CategoryTable, label string) int {
	code, _ := table.Code(label)
	return code
}

var (
	Brand = newTable("name", map[string]int{
		"Maruti": 1, "Skoda": 2, "Honda": 3, "Hyundai": 4, "Toyota": 5, "Ford": 6, "Renault": 7,
		"Mahindra": 8, "Tata": 9, "Chevrolet": 10, "Datsun": 11, "Jeep": 12, "Mercedes-Benz": 13,
		"Mitsubishi": 14, "Audi": 15, "Volkswagen": 16, "BMW": 17, "Nissan": 18, "Lexus": 19,
		"Jaguar": 20, "Land": 21, "MG": 22, "Volvo": 23, "Daewoo": 24, "Kia": 25, "Fiat": 26,
		"Force": 27, "Ambassador": 28, "Ashok": 29, "Isuzu": 30, "Opel": 31,
	})

	Fuel = newTable("fuel", map[string]int{
		"Diesel": 1,
		"Petrol": 2,
		"LPG":    3,
		"CNG":    4,
	})

	SellerType = newTable("seller_type", map[string]int{
		"Individual":       1,
		"Dealer":           2,
		"Trustmark Dealer": 3,
	})

	Transmission = newTable("transmission", map[string]int{
		"Manual":    1,
		"Automatic": 2,
	})

	Owner = newTable("owner", map[string]int{
		"First Owner":          1,
		"Second Owner":         2,
		"Third Owner":          3,
		"Fourth & Above Owner": 4,
		"Test Drive Car":       5,
	})
)

// Tables lists every category table in feature order.
func Tables() []*CategoryTable {
	return []*CategoryTable{Brand, Fuel, SellerType, Transmission, Owner}
}
