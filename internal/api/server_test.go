package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lox/climateapi/internal/api"
	"github.com/lox/climateapi/internal/models"
	"github.com/lox/climateapi/internal/store"
	"github.com/lox/climateapi/internal/store/storetest"
)

func setupTestServer(t *testing.T, f storetest.Fixture) *api.Server {
	t.Helper()
	path := storetest.NewDB(t, f)
	s, err := store.Open(context.Background(), store.Options{Path: path, MaxOpenConns: 2})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return api.NewServer(s, nil, api.Options{Addr: ":0"})
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

// singleKey unpacks a one-entry object such as {"2017-08-23": 77}.
func singleKey[V any](t *testing.T, m map[string]V) (string, V) {
	t.Helper()
	if len(m) != 1 {
		t.Fatalf("object %v has %d keys, want 1", m, len(m))
	}
	for k, v := range m {
		return k, v
	}
	panic("unreachable")
}

func TestHomePage(t *testing.T) {
	t.Parallel()
	srv := setupTestServer(t, storetest.Fixture{})

	w := get(t, srv.Handler(), "/")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}

	body := w.Body.String()
	for _, want := range []string{
		"Available Routes:",
		"/api/v1.0/precipitation",
		"/api/v1.0/stations",
		"/api/v1.0/tobs",
		"/api/v1.0/min_max_avg/&lt;start&gt;",
		"/api/v1.0/min_max_avg/&lt;start&gt;/&lt;end&gt;",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("home page missing %q", want)
		}
	}
}

func TestPrecipitation(t *testing.T) {
	t.Parallel()
	srv := setupTestServer(t, storetest.Hawaii())

	w := get(t, srv.Handler(), "/api/v1.0/precipitation")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var got []map[string]*float64
	decode(t, w, &got)
	if len(got) != 8 {
		t.Fatalf("len = %d, want 8", len(got))
	}

	prev := ""
	var sawNull bool
	for _, entry := range got {
		date, prcp := singleKey(t, entry)
		if date < prev {
			t.Errorf("%s listed after %s", date, prev)
		}
		prev = date
		if prcp == nil {
			sawNull = true
		}
	}
	if !sawNull {
		t.Error("expected a null precipitation value for the missing reading")
	}
	if !strings.Contains(w.Body.String(), `{"2017-01-02":null}`) {
		t.Errorf("missing reading not encoded as null: %s", w.Body.String())
	}
}

func TestStations(t *testing.T) {
	t.Parallel()
	srv := setupTestServer(t, storetest.Hawaii())

	w := get(t, srv.Handler(), "/api/v1.0/stations")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var got map[string]string
	decode(t, w, &got)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got["USC00519281"] != "WAIHEE 837.5, HI US" {
		t.Errorf("USC00519281 = %q", got["USC00519281"])
	}
}

func TestStations_Empty(t *testing.T) {
	t.Parallel()
	srv := setupTestServer(t, storetest.Fixture{})

	w := get(t, srv.Handler(), "/api/v1.0/stations")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "{}" {
		t.Errorf("body = %s, want {}", body)
	}
}

func TestTobs_LastYear(t *testing.T) {
	t.Parallel()
	srv := setupTestServer(t, storetest.Hawaii())

	w := get(t, srv.Handler(), "/api/v1.0/tobs")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var got []map[string]float64
	decode(t, w, &got)
	if len(got) == 0 {
		t.Fatal("expected observations")
	}

	prev := ""
	var sawLatest bool
	for _, entry := range got {
		date, tobs := singleKey(t, entry)
		if date < "2016-08-23" {
			t.Errorf("%s is earlier than the cutoff 2016-08-23", date)
		}
		if date < prev {
			t.Errorf("%s listed after %s", date, prev)
		}
		prev = date
		if date == "2017-08-23" && tobs == 77 {
			sawLatest = true
		}
	}
	if !sawLatest {
		t.Error("expected the 2017-08-23 reading of 77")
	}
}

func TestTobs_Empty(t *testing.T) {
	t.Parallel()
	srv := setupTestServer(t, storetest.Fixture{})

	w := get(t, srv.Handler(), "/api/v1.0/tobs")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("body = %s, want []", body)
	}
}

func TestTempsSince(t *testing.T) {
	t.Parallel()
	srv := setupTestServer(t, storetest.Hawaii())

	w := get(t, srv.Handler(), "/api/v1.0/min_max_avg/2017-01-01")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var got []models.DailyTemps
	decode(t, w, &got)
	if len(got) != 3 {
		t.Fatalf("len = %d, want one entry per date", len(got))
	}
	want := models.DailyTemps{Date: "2017-01-02", TMin: 60, TAvg: 65, TMax: 70}
	if got[0] != want {
		t.Errorf("first = %+v, want %+v", got[0], want)
	}
	for _, d := range got {
		if !(d.TMin <= d.TAvg && d.TAvg <= d.TMax) {
			t.Errorf("%s: %v/%v/%v not ordered", d.Date, d.TMin, d.TAvg, d.TMax)
		}
	}
	if !strings.Contains(w.Body.String(), `"TMIN":60`) {
		t.Errorf("expected TMIN key in body: %s", w.Body.String())
	}
}

func TestTempsRange(t *testing.T) {
	t.Parallel()
	srv := setupTestServer(t, storetest.Hawaii())

	w := get(t, srv.Handler(), "/api/v1.0/min_max_avg/2016-08-23/2017-01-02")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var got []models.RangeTemps
	decode(t, w, &got)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	r := got[0]
	if r.StartDate != "2016-08-23" || r.EndDate != "2017-01-02" {
		t.Errorf("range = %s..%s", r.StartDate, r.EndDate)
	}
	// Readings in range: 81, 76, 70, 60.
	if r.TMin != 60 || r.TMax != 81 || r.TAvg != 71.75 {
		t.Errorf("got %+v, want 60/71.75/81", r)
	}
}

func TestTempsRange_NoRows(t *testing.T) {
	t.Parallel()
	srv := setupTestServer(t, storetest.Hawaii())

	w := get(t, srv.Handler(), "/api/v1.0/min_max_avg/2010-01-01/2010-12-31")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("body = %s, want []", body)
	}
}

func TestMalformedDates(t *testing.T) {
	t.Parallel()
	srv := setupTestServer(t, storetest.Hawaii())

	paths := []string{
		"/api/v1.0/min_max_avg/2017-13-40",
		"/api/v1.0/min_max_avg/2017-1-1",
		"/api/v1.0/min_max_avg/not-a-date",
		"/api/v1.0/min_max_avg/2017-13-40/2017-12-31",
		"/api/v1.0/min_max_avg/2017-01-01/2017-13-40",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			w := get(t, srv.Handler(), path)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			var body struct {
				Error struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			decode(t, w, &body)
			if body.Error.Code != "INVALID_DATE" {
				t.Errorf("code = %q, want INVALID_DATE", body.Error.Code)
			}
			if !strings.Contains(body.Error.Message, "YYYY-MM-DD") {
				t.Errorf("message = %q", body.Error.Message)
			}
		})
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	t.Parallel()
	srv := setupTestServer(t, storetest.Fixture{})
	h := srv.Handler()

	if w := get(t, h, "/api/v1.0/nothing"); w.Code != http.StatusNotFound {
		t.Errorf("unknown route: expected 404, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1.0/precipitation", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST: expected 405, got %d", w.Code)
	}
}

func TestUnmatchedRequestsPassMiddleware(t *testing.T) {
	t.Parallel()
	srv := setupTestServer(t, storetest.Fixture{})
	h := srv.Handler()

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"not found", http.MethodGet, "/api/v1.0/nothing", http.StatusNotFound},
		{"method not allowed", http.MethodPost, "/api/v1.0/precipitation", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("X-Request-ID", "fallback-"+tt.method)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, w.Code)
			}
			if got := w.Header().Get("X-Request-ID"); got != "fallback-"+tt.method {
				t.Errorf("X-Request-ID = %q", got)
			}
			var body struct {
				Error struct {
					RequestID string `json:"requestId"`
				} `json:"error"`
			}
			decode(t, w, &body)
			if body.Error.RequestID != "fallback-"+tt.method {
				t.Errorf("requestId = %q", body.Error.RequestID)
			}
		})
	}

	w := get(t, h, "/metrics")
	if !strings.Contains(w.Body.String(), `route="unmatched",status="4xx"`) {
		t.Error("expected fallback responses counted under the unmatched route label")
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	srv := setupTestServer(t, storetest.Hawaii())

	w := get(t, srv.Handler(), "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	decode(t, w, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %q", body["status"])
	}
	if body["latest_date"] != "2017-08-23" {
		t.Errorf("latest_date = %q", body["latest_date"])
	}
}

func TestRequestID(t *testing.T) {
	t.Parallel()
	srv := setupTestServer(t, storetest.Fixture{})
	h := srv.Handler()

	w := get(t, h, "/api/v1.0/stations")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated X-Request-ID")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1.0/stations", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	srv := setupTestServer(t, storetest.Hawaii())
	h := srv.Handler()

	get(t, h, "/api/v1.0/min_max_avg/2017-01-01")
	w := get(t, h, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `route="/api/v1.0/min_max_avg/{start}"`) {
		t.Error("expected request counter labelled with the route template")
	}
	if !strings.Contains(body, "climateapi_db_query_duration_seconds") {
		t.Error("expected db query histogram")
	}
}

// failingStore fails every query, standing in for an unreachable database.
type failingStore struct {
	err    error
	panic  bool
	pingOK bool
}

func (f failingStore) fail() error {
	if f.panic {
		panic("boom")
	}
	return f.err
}

func (f failingStore) Precipitation(context.Context) ([]models.DatePrecipitation, error) {
	return nil, f.fail()
}
func (f failingStore) Stations(context.Context) ([]models.Station, error) { return nil, f.fail() }
func (f failingStore) LastYearTemperatures(context.Context) ([]models.DateTemperature, error) {
	return nil, f.fail()
}
func (f failingStore) DailyTempsSince(context.Context, string) ([]models.DailyTemps, error) {
	return nil, f.fail()
}
func (f failingStore) RangeTemps(context.Context, string, string) (*models.RangeTemps, error) {
	return nil, f.fail()
}
func (f failingStore) LatestDate(context.Context) (string, error) { return "", f.fail() }
func (f failingStore) Ping(context.Context) error {
	if f.pingOK {
		return nil
	}
	return f.fail()
}

func TestStoreFailure(t *testing.T) {
	t.Parallel()
	srv := api.NewServer(failingStore{err: errors.New("disk I/O error")}, nil, api.Options{})
	h := srv.Handler()

	for _, path := range []string{
		"/api/v1.0/precipitation",
		"/api/v1.0/stations",
		"/api/v1.0/tobs",
		"/api/v1.0/min_max_avg/2017-01-01",
		"/api/v1.0/min_max_avg/2017-01-01/2017-02-01",
	} {
		w := get(t, h, path)
		if w.Code != http.StatusInternalServerError {
			t.Errorf("%s: expected 500, got %d", path, w.Code)
		}
		if strings.Contains(w.Body.String(), "disk I/O") {
			t.Errorf("%s: internal error leaked to client: %s", path, w.Body.String())
		}
	}

	if w := get(t, h, "/health"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("/health: expected 503, got %d", w.Code)
	}
}

func TestHealthEndpoint_HidesErrorDetail(t *testing.T) {
	t.Parallel()
	stores := map[string]failingStore{
		"ping fails":        {err: errors.New("disk I/O error")},
		"latest date fails": {err: errors.New("disk I/O error"), pingOK: true},
	}
	for name, st := range stores {
		t.Run(name, func(t *testing.T) {
			w := get(t, api.NewServer(st, nil, api.Options{}).Handler(), "/health")
			if w.Code != http.StatusServiceUnavailable {
				t.Fatalf("expected 503, got %d", w.Code)
			}
			if strings.Contains(w.Body.String(), "disk I/O") {
				t.Errorf("internal error leaked to client: %s", w.Body.String())
			}
			var body map[string]string
			decode(t, w, &body)
			if body["status"] != "error" || body["error"] != "database unavailable" {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestStoreFailure_BadDateStillClientError(t *testing.T) {
	t.Parallel()
	srv := api.NewServer(failingStore{err: errors.New("unreachable")}, nil, api.Options{})

	w := get(t, srv.Handler(), "/api/v1.0/min_max_avg/2017-13-40")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 before any query runs, got %d", w.Code)
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	t.Parallel()
	srv := api.NewServer(failingStore{panic: true}, nil, api.Options{})

	w := get(t, srv.Handler(), "/api/v1.0/precipitation")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()
	srv := api.NewServer(failingStore{}, nil, api.Options{Addr: "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
