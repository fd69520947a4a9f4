package features

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/spf13/cast"
)

// Sanitize extracts the leading number of a measurement such as "23.4 kmpl".
// Empty, malformed or non-finite input yields 0.
func Sanitize(raw any) float64 {
	v, _ := sanitize(raw)
	return v
}

// sanitize reports false when the value fell back to 0.
func sanitize(raw any) (float64, bool) {
	s, err := cast.ToStringE(raw)
	if err != nil {
		return 0, false
	}
	if i := strings.IndexFunc(s, unicode.IsSpace); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
