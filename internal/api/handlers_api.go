package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/lox/climateapi/internal/dateutil"
	"github.com/lox/climateapi/internal/models"
	"github.com/lox/climateapi/internal/store"
)

type homeRoute struct {
	Description string
	Path        string
}

type homeData struct {
	Routes []homeRoute
}

var homeRoutes = []homeRoute{
	{"List precipitation data with dates", "/api/v1.0/precipitation"},
	{"List precipitation stations names", "/api/v1.0/stations"},
	{"List of temperature observations a year from the last data point", "/api/v1.0/tobs"},
	{"Display minimum, average and maximum temperatures from a given start date", "/api/v1.0/min_max_avg/<start>"},
	{"Display minimum, average and maximum temperatures for a given start and end date", "/api/v1.0/min_max_avg/<start>/<end>"},
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "home.html", homeData{Routes: homeRoutes}); err != nil {
		loggerFrom(r.Context()).Error("render home", zap.Error(err))
	}
}

func (s *Server) handlePrecipitation(w http.ResponseWriter, r *http.Request) {
	data, err := s.store.Precipitation(r.Context())
	if err != nil {
		storeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, data)
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	stations, err := s.store.Stations(r.Context())
	if err != nil {
		storeError(w, r, err)
		return
	}
	names := make(map[string]string, len(stations))
	for _, st := range stations {
		names[st.Station] = st.Name
	}
	writeJSON(w, r, http.StatusOK, names)
}

func (s *Server) handleTobs(w http.ResponseWriter, r *http.Request) {
	data, err := s.store.LastYearTemperatures(r.Context())
	if err != nil {
		storeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, data)
}

func (s *Server) handleTempsSince(w http.ResponseWriter, r *http.Request) {
	start, ok := dateParam(w, r, "start")
	if !ok {
		return
	}
	data, err := s.store.DailyTempsSince(r.Context(), start)
	if err != nil {
		storeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, data)
}

func (s *Server) handleTempsRange(w http.ResponseWriter, r *http.Request) {
	start, ok := dateParam(w, r, "start")
	if !ok {
		return
	}
	end, ok := dateParam(w, r, "end")
	if !ok {
		return
	}
	agg, err := s.store.RangeTemps(r.Context(), start, end)
	if err != nil {
		storeError(w, r, err)
		return
	}
	out := []models.RangeTemps{}
	if agg != nil {
		out = append(out, *agg)
	}
	writeJSON(w, r, http.StatusOK, out)
}

type healthStatus struct {
	Status     string `json:"status"`
	LatestDate string `json:"latest_date,omitempty"`
	Error      string `json:"error,omitempty"`
}

// healthUnavailable is the only failure detail /health reports; the cause is
// logged.
const healthUnavailable = "database unavailable"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.store.Ping(ctx); err != nil {
		loggerFrom(ctx).Warn("health check failed", zap.Error(err))
		writeJSON(w, r, http.StatusServiceUnavailable, healthStatus{Status: "error", Error: healthUnavailable})
		return
	}

	health := healthStatus{Status: "ok"}
	latest, err := s.store.LatestDate(ctx)
	switch {
	case errors.Is(err, store.ErrNoData):
	case err != nil:
		loggerFrom(ctx).Warn("health check failed", zap.Error(err))
		writeJSON(w, r, http.StatusServiceUnavailable, healthStatus{Status: "error", Error: healthUnavailable})
		return
	default:
		health.LatestDate = latest
	}
	writeJSON(w, r, http.StatusOK, health)
}

// dateParam reads a path variable and parses it as a YYYY-MM-DD date. On
// failure it writes a 400 and reports false.
func dateParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	raw := mux.Vars(r)[name]
	t, err := dateutil.Parse(name, raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_DATE", err.Error())
		return "", false
	}
	return dateutil.Format(t), true
}
