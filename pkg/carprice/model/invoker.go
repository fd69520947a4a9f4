package model

import (
	"errors"
	"math"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/nekruzvatanshoev/carprice/pkg/carprice/dal"
)

// ErrNoOutput is returned when the predictor returns an empty result.
var ErrNoOutput = errors.New("model returned no prediction")

// Recorder receives the outcome of every model call.
type Recorder interface {
	RecordPrediction(model string, duration time.Duration, err error)
	RecordCacheHit(model string)
}

// Invoker runs a Predictor on feature vectors and rounds the result.
type Invoker struct {
	predictor Predictor
	name      string
	cache     *cache.Cache
	recorder  Recorder
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithName sets the model name used for metrics.
func WithName(name string) Option {
	return func(i *Invoker) { i.name = name }
}

// WithCache memoizes rounded predictions per vector for ttl.
func WithCache(ttl time.Duration) Option {
	return func(i *Invoker) {
		if ttl > 0 {
			i.cache = cache.New(ttl, 2*ttl)
		}
	}
}

// WithRecorder reports every model call to r.
func WithRecorder(r Recorder) Option {
	return func(i *Invoker) { i.recorder = r }
}

// NewInvoker returns an Invoker around p.
func NewInvoker(p Predictor, opts ...Option) *Invoker {
	i := &Invoker{predictor: p, name: "default"}
	if named, ok := p.(interface{ Name() string }); ok {
		i.name = named.Name()
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Name returns the model name.
func (i *Invoker) Name() string {
	return i.name
}

// Invoke predicts the price for v rounded to two decimals. Errors from the
// predictor are returned unchanged.
func (i *Invoker) Invoke(v dal.FeatureVector) (float64, error) {
	var key string
	if i.cache != nil {
		key = v.Key()
		if cached, found := i.cache.Get(key); found {
			if i.recorder != nil {
				i.recorder.RecordCacheHit(i.name)
			}
			return cached.(float64), nil
		}
	}

	start := time.Now()
	out, err := i.predictor.Predict(v.Values())
	if err == nil && len(out) == 0 {
		err = ErrNoOutput
	}
	if i.recorder != nil {
		i.recorder.RecordPrediction(i.name, time.Since(start), err)
	}
	if err != nil {
		return 0, err
	}

	price := Round(out[0])
	if i.cache != nil {
		i.cache.Set(key, price, cache.DefaultExpiration)
	}
	return price, nil
}

// Round rounds x to two decimal places, halves away from zero.
func Round(x float64) float64 {
	return math.Round(x*100) / 100
}
