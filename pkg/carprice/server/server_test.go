package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nekruzvatanshoev/carprice/pkg/carprice/config"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/dal"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/metrics"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

var scenarioForm = url.Values{
	"name":         {"Maruti"},
	"year":         {"2015"},
	"km_driven":    {"50000"},
	"fuel":         {"Diesel"},
	"seller_type":  {"Individual"},
	"transmission": {"Manual"},
	"owner":        {"First Owner"},
	"mileage":      {"21.4 kmpl"},
	"engine":       {"1248 CC"},
	"max_power":    {"74 bhp"},
	"seats":        {"5"},
}

func formWith(overrides map[string]string, drop ...string) url.Values {
	form := url.Values{}
	for k, v := range scenarioForm {
		form[k] = append([]string(nil), v...)
	}
	for k, v := range overrides {
		form.Set(k, v)
	}
	for _, k := range drop {
		form.Del(k)
	}
	return form
}

// recordingPredictor returns a fixed price and remembers the last vector.
type recordingPredictor struct {
	price float64
	err   error
	last  atomic.Value
}

func (p *recordingPredictor) Predict(x []float64) ([]float64, error) {
	p.last.Store(append([]float64(nil), x...))
	if p.err != nil {
		return nil, p.err
	}
	return []float64{p.price}, nil
}

func (p *recordingPredictor) lastVector() []float64 {
	v, _ := p.last.Load().([]float64)
	return v
}

type testEnv struct {
	server    *httpServer
	predictor *recordingPredictor
	metrics   *metrics.Metrics
	logs      *observer.ObservedLogs
	handler   http.Handler
}

func newTestEnv(t *testing.T, predictor *recordingPredictor) *testEnv {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	invoker := model.NewInvoker(predictor, model.WithName("stub"), model.WithRecorder(m))
	s := newHTTPServer(invoker, zap.New(core), m, config.BatchSettings{MaxSize: 5, Concurrency: 2})

	return &testEnv{
		server:    s,
		predictor: predictor,
		metrics:   m,
		logs:      logs,
		handler:   s.router("/metrics"),
	}
}

func (e *testEnv) do(method, path, contentType string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) postForm(form url.Values) *httptest.ResponseRecorder {
	return e.do(http.MethodPost, "/predict", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
}

func (e *testEnv) postJSON(path, body string) *httptest.ResponseRecorder {
	return e.do(http.MethodPost, path, "application/json", strings.NewReader(body))
}

func TestHome(t *testing.T) {
	env := newTestEnv(t, &recordingPredictor{price: 1})

	rec := env.do(http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `<form action="/predict" method="post">`)
	for _, option := range []string{"Maruti", "Opel", "Diesel", "Trustmark Dealer", "Automatic", "Fourth &amp; Above Owner"} {
		assert.Contains(t, body, option)
	}
	for _, field := range dal.FeatureNames {
		assert.Contains(t, body, `name="`+field+`"`)
	}
	assert.NotContains(t, body, `class="error"`)
}

func TestPredictForm(t *testing.T) {
	tests := []struct {
		name       string
		form       url.Values
		wantStatus int
		wantBody   []string
		wantVector []float64
	}{
		{
			name:       "Scenario",
			form:       scenarioForm,
			wantStatus: http.StatusOK,
			wantBody:   []string{"Predicted Car Price: ₹ 452,317.46"},
			wantVector: []float64{1, 2015, 50000, 1, 1, 1, 1, 21.4, 1248, 74, 5},
		},
		{
			name:       "UnknownLabels",
			form:       formWith(map[string]string{"name": "Tesla", "fuel": "Electric"}),
			wantStatus: http.StatusOK,
			wantBody:   []string{"Predicted Car Price"},
			wantVector: []float64{0, 2015, 50000, 0, 1, 1, 1, 21.4, 1248, 74, 5},
		},
		{
			name:       "EmptyMileage",
			form:       formWith(map[string]string{"mileage": ""}),
			wantStatus: http.StatusOK,
			wantBody:   []string{"Predicted Car Price"},
			wantVector: []float64{1, 2015, 50000, 1, 1, 1, 1, 0, 1248, 74, 5},
		},
		{
			name:       "TextKmDriven",
			form:       formWith(map[string]string{"km_driven": "abc"}),
			wantStatus: http.StatusUnprocessableEntity,
			wantBody:   []string{`class="error"`, "Error processing input", "km_driven", "not a valid integer"},
		},
		{
			name:       "MissingSeats",
			form:       formWith(nil, "seats"),
			wantStatus: http.StatusUnprocessableEntity,
			wantBody:   []string{"Error processing input", "missing required field: seats"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, &recordingPredictor{price: 452317.456})

			rec := env.postForm(tc.form)
			assert.Equal(t, tc.wantStatus, rec.Code)
			for _, want := range tc.wantBody {
				assert.Contains(t, rec.Body.String(), want)
			}
			assert.Equal(t, tc.wantVector, env.predictor.lastVector())
		})
	}
}

func TestPredictFormKeepsValuesOnError(t *testing.T) {
	env := newTestEnv(t, &recordingPredictor{price: 1})

	rec := env.postForm(formWith(map[string]string{"year": "twenty"}))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `value="twenty"`)
	assert.Contains(t, body, `<option value="Maruti" selected>`)
}

func TestPredictFormModelFailure(t *testing.T) {
	env := newTestEnv(t, &recordingPredictor{err: errors.New("model unavailable")})

	rec := env.postForm(scenarioForm)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Error processing input: model unavailable")
	assert.Contains(t, rec.Body.String(), "<form")
	assert.Equal(t, 1, env.logs.FilterMessage("prediction failed").Len())
}

func TestPredictLogsDegradedInput(t *testing.T) {
	env := newTestEnv(t, &recordingPredictor{price: 1})

	rec := env.postForm(formWith(map[string]string{"name": "Tesla", "engine": "n/a"}))
	require.Equal(t, http.StatusOK, rec.Code)

	entries := env.logs.FilterMessage("submission degraded").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.NotEmpty(t, entries[0].ContextMap()["request_id"])

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.UnknownLabels.WithLabelValues("name")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.DefaultedFields.WithLabelValues("engine")))
}

func TestAPIPredict(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantPrice  float64
		wantError  string
	}{
		{
			name: "Strings",
			body: `{"name":"Maruti","year":"2015","km_driven":"50000","fuel":"Diesel","seller_type":"Individual",
				"transmission":"Manual","owner":"First Owner","mileage":"21.4 kmpl","engine":"1248 CC","max_power":"74 bhp","seats":"5"}`,
			wantStatus: http.StatusOK,
			wantPrice:  452317.46,
		},
		{
			name:       "Numbers",
			body:       `{"name":"Maruti","year":2015,"km_driven":50000,"mileage":21.4,"engine":1248,"max_power":74,"seats":5}`,
			wantStatus: http.StatusOK,
			wantPrice:  452317.46,
		},
		{
			name:       "FractionalYear",
			body:       `{"year":2015.5,"km_driven":1,"seats":5}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "year",
		},
		{
			name:       "NullSeats",
			body:       `{"year":2015,"km_driven":1,"seats":null}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "missing required field: seats",
		},
		{
			name:       "NestedValue",
			body:       `{"year":{"value":2015},"km_driven":1,"seats":5}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "field year must be a string or a number",
		},
		{
			name:       "NotJSON",
			body:       `year=2015`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid JSON body",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, &recordingPredictor{price: 452317.456})

			rec := env.postJSON("/api/v1/predict", tc.body)
			require.Equal(t, tc.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			if tc.wantError != "" {
				var resp dal.ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Contains(t, resp.Error, tc.wantError)
				assert.Equal(t, tc.wantStatus, resp.Status)
				return
			}

			var resp dal.PredictResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tc.wantPrice, resp.Prediction)
			assert.Equal(t, "Predicted Car Price: ₹ 452,317.46", resp.Display)
			assert.Len(t, resp.Features, dal.FeatureCount)
		})
	}
}

func TestAPIPredictReportsDegradedFields(t *testing.T) {
	env := newTestEnv(t, &recordingPredictor{price: 10})

	rec := env.postJSON("/api/v1/predict", `{"name":"Tesla","fuel":"Electric","year":2020,"km_driven":100,"seats":5}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dal.PredictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []float64{0, 2020, 100, 0, 0, 0, 0, 0, 0, 0, 5}, resp.Features)
	assert.Equal(t, []string{"name", "fuel", "seller_type", "transmission", "owner"}, resp.Degraded["unknown_label"])
	assert.Equal(t, []string{"mileage", "engine", "max_power"}, resp.Degraded["defaulted"])
}

func TestAPIPredictBatch(t *testing.T) {
	env := newTestEnv(t, &recordingPredictor{price: 99.999})

	rec := env.postJSON("/api/v1/predict/batch", `{"submissions":[
		{"name":"Honda","year":2018,"km_driven":20000,"seats":5},
		{"name":"Honda","year":"abc","km_driven":20000,"seats":5},
		{"name":"Kia","year":2021,"km_driven":5000,"seats":7}
	]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp dal.BatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 3)
	assert.Equal(t, 2, resp.Succeeded)
	assert.Equal(t, 1, resp.Failed)

	for i, item := range resp.Results {
		assert.Equal(t, i, item.Index)
	}
	require.NotNil(t, resp.Results[0].Result)
	assert.Equal(t, 100.0, resp.Results[0].Result.Prediction)
	assert.Equal(t, 3.0, resp.Results[0].Result.Features[0])
	assert.Nil(t, resp.Results[1].Result)
	assert.Contains(t, resp.Results[1].Error, "not a valid integer")
	assert.Equal(t, 25.0, resp.Results[2].Result.Features[0])
}

func TestAPIPredictBatchLimits(t *testing.T) {
	env := newTestEnv(t, &recordingPredictor{price: 1})

	rec := env.postJSON("/api/v1/predict/batch", `{"submissions":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	items := strings.TrimSuffix(strings.Repeat(`{"year":2015,"km_driven":1,"seats":5},`, 6), ",")
	rec = env.postJSON("/api/v1/predict/batch", `{"submissions":[`+items+`]}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSchema(t *testing.T) {
	env := newTestEnv(t, &recordingPredictor{price: 1})

	rec := env.do(http.MethodGet, "/api/v1/schema", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dal.SchemaResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, dal.FeatureNames[:], resp.Features)
	assert.Equal(t, 0, resp.Sentinel)
	assert.Equal(t, 1, resp.Categories["fuel"]["Diesel"])
	assert.Equal(t, 31, resp.Categories["name"]["Opel"])
	assert.Len(t, resp.Categories, 5)
}

func TestHealthAndRequestID(t *testing.T) {
	env := newTestEnv(t, &recordingPredictor{price: 1})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	var resp dal.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, dal.HealthResponse{Status: "ok", Model: "stub"}, resp)

	rec = env.do(http.MethodGet, "/healthz", "", nil)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	access := env.logs.FilterMessage("HTTP request").All()
	require.Len(t, access, 2)
	assert.Equal(t, "/healthz", access[0].ContextMap()["path"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, &recordingPredictor{price: 1})
	env.postForm(scenarioForm)

	rec := env.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `carprice_predictions_total{model="stub",status="success"} 1`)
	assert.Contains(t, rec.Body.String(), `carprice_http_requests_total{method="POST",route="/predict",status_code="200"} 1`)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, &recordingPredictor{price: 1})

	rec := env.do(http.MethodGet, "/predict", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNewHTTPServerEndToEnd(t *testing.T) {
	settings := &config.Settings{
		Server:  config.ServerSettings{Address: ":0", ReadTimeout: time.Second, WriteTimeout: time.Second},
		Batch:   config.BatchSettings{MaxSize: 2, Concurrency: 1},
		Metrics: config.MetricsSettings{Enabled: false, Path: "/metrics"},
	}
	invoker := model.NewInvoker(&recordingPredictor{price: 452317.456}, model.WithCache(time.Minute))
	srv := NewHTTPServer(settings, invoker, zap.NewNop(), nil)
	assert.Equal(t, ":0", srv.Addr)

	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	resp, err := http.PostForm(ts.URL+"/predict", scenarioForm)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "452,317.46")

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
