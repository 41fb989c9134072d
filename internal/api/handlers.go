package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lox/forecastbot/internal/chart"
	"github.com/lox/forecastbot/internal/delivery"
	"github.com/lox/forecastbot/internal/ingest"
	"github.com/lox/forecastbot/internal/models"
	"github.com/lox/forecastbot/internal/scheduler"
	"github.com/lox/forecastbot/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type HealthStatus struct {
	Status        string   `json:"status"`
	SchemaVersion int      `json:"schema_version"`
	Locations     int      `json:"locations"`
	Errors        []string `json:"errors,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	health := HealthStatus{Status: "ok"}

	if err := s.store.Ping(ctx); err != nil {
		health.Errors = append(health.Errors, err.Error())
	}
	if v, err := s.store.MigrationVersion(); err != nil {
		health.Errors = append(health.Errors, err.Error())
	} else {
		health.SchemaVersion = v
	}
	if n, err := s.store.CountLocations(ctx); err != nil {
		health.Errors = append(health.Errors, err.Error())
	} else {
		health.Locations = n
	}

	status := http.StatusOK
	if len(health.Errors) > 0 {
		health.Status = "error"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// handleChart renders a preview chart for ?domain=&owner= or an explicit ?place=.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	domain, owner, place := q.Get("domain"), q.Get("owner"), q.Get("place")

	kindArg := q.Get("kind")
	if kindArg == "" {
		kindArg = string(chart.KindHourly)
	}
	kind, err := chart.ParseKind(kindArg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if place == "" && (domain == "" || owner == "") {
		writeError(w, http.StatusBadRequest, "domain and owner, or place, are required")
		return
	}

	key := newChartKey(domain, owner, string(kind), place)
	if data, ok := s.cache.Get(key); ok {
		servePNG(w, data)
		return
	}

	req := delivery.Request{Domain: domain, Owner: owner, Kind: kind, Trigger: "http"}
	if place != "" {
		if s.resolver == nil {
			writeError(w, http.StatusBadRequest, "place lookup is not available")
			return
		}
		loc, err := s.resolver.Resolve(r.Context(), place)
		if errors.Is(err, ingest.ErrNoResults) {
			writeError(w, http.StatusNotFound, "no place found matching "+strconv.Quote(place))
			return
		}
		if err != nil {
			s.log.Warn("api: place lookup failed", zap.String("place", place), zap.Error(err))
			writeError(w, http.StatusBadGateway, "place lookup failed")
			return
		}
		req.Location = &loc
	}

	ch, err := s.charts.Render(r.Context(), req)
	if err != nil {
		writeError(w, chartStatus(err), delivery.UserMessage(err))
		return
	}
	s.cache.Set(key, ch.Image)
	servePNG(w, ch.Image)
}

func chartStatus(err error) int {
	switch delivery.ErrorKind(err) {
	case "no_location":
		return http.StatusNotFound
	case "fetch":
		return http.StatusBadGateway
	case "canceled":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func servePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Write(data)
}

// LocationJSON is the wire form of a stored location.
type LocationJSON struct {
	Domain      string  `json:"domain"`
	Owner       string  `json:"owner"`
	PlaceName   *string `json:"place_name,omitempty"`
	Country     *string `json:"country,omitempty"`
	FeatureCode *string `json:"feature_code,omitempty"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

func toJSON(domain, owner string, loc *models.Location) LocationJSON {
	out := LocationJSON{
		Domain:    domain,
		Owner:     owner,
		Latitude:  loc.Coordinates.Latitude,
		Longitude: loc.Coordinates.Longitude,
	}
	if loc.PlaceName.Valid {
		out.PlaceName = &loc.PlaceName.String
	}
	if loc.Country.Valid {
		out.Country = &loc.Country.String
	}
	if loc.FeatureCode.Valid {
		out.FeatureCode = &loc.FeatureCode.String
	}
	return out
}

func (l LocationJSON) location() models.Location {
	loc := models.CoordinatesLocation(l.Latitude, l.Longitude)
	if l.PlaceName != nil {
		loc.PlaceName.String, loc.PlaceName.Valid = *l.PlaceName, true
	}
	if l.Country != nil {
		loc.Country.String, loc.Country.Valid = *l.Country, true
	}
	if l.FeatureCode != nil {
		loc.FeatureCode.String, loc.FeatureCode.Valid = *l.FeatureCode, true
	}
	return loc
}

func identity(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	domain, owner := r.URL.Query().Get("domain"), r.URL.Query().Get("owner")
	if domain == "" || owner == "" {
		writeError(w, http.StatusBadRequest, "domain and owner are required")
		return "", "", false
	}
	return domain, owner, true
}

func (s *Server) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	domain, owner, ok := identity(w, r)
	if !ok {
		return
	}
	loc, err := s.store.GetLocation(r.Context(), domain, owner)
	if err != nil {
		s.log.Error("api: get location failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if loc == nil {
		writeError(w, http.StatusNotFound, "no location set")
		return
	}
	writeJSON(w, http.StatusOK, toJSON(domain, owner, loc))
}

func (s *Server) handlePutLocation(w http.ResponseWriter, r *http.Request) {
	var body LocationJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if body.Domain == "" || body.Owner == "" {
		writeError(w, http.StatusBadRequest, "domain and owner are required")
		return
	}

	loc := body.location()
	err := s.store.SetLocation(r.Context(), body.Domain, body.Owner, loc)
	if errors.Is(err, store.ErrInvalidLocation) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		s.log.Error("api: set location failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	s.cache.Invalidate(body.Domain, body.Owner)
	writeJSON(w, http.StatusOK, toJSON(body.Domain, body.Owner, &loc))
}

func (s *Server) handleDeleteLocation(w http.ResponseWriter, r *http.Request) {
	domain, owner, ok := identity(w, r)
	if !ok {
		return
	}
	removed, err := s.store.DeleteLocation(r.Context(), domain, owner)
	if err != nil {
		s.log.Error("api: delete location failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "no location set")
		return
	}
	s.cache.Invalidate(domain, owner)
	w.WriteHeader(http.StatusNoContent)
}

type runJSON struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Trigger    string     `json:"trigger"`
	Kind       string     `json:"kind"`
	Domain     string     `json:"domain"`
	Owner      string     `json:"owner"`
	Stage      string     `json:"stage"`
	ErrorKind  string     `json:"error_kind,omitempty"`
	Error      string     `json:"error,omitempty"`
}

type runsResponse struct {
	Health []store.RunHealthSummary `json:"health"`
	Failed []runJSON                `json:"recent_failures"`
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 90 {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 90")
			return
		}
		days = n
	}

	health, err := s.store.GetRunHealth(r.Context(), days)
	if err != nil {
		s.log.Error("api: run health failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	failed, err := s.store.GetRecentFailedRuns(r.Context(), 20)
	if err != nil {
		s.log.Error("api: recent failed runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	resp := runsResponse{Health: health, Failed: make([]runJSON, 0, len(failed))}
	if resp.Health == nil {
		resp.Health = []store.RunHealthSummary{}
	}
	for _, run := range failed {
		rj := runJSON{
			ID:        run.ID,
			StartedAt: run.StartedAt,
			Trigger:   run.Trigger,
			Kind:      run.Kind,
			Domain:    run.Domain,
			Owner:     run.Owner,
			Stage:     run.Stage,
			ErrorKind: run.ErrorKind.String,
			Error:     run.ErrorMessage.String,
		}
		if run.FinishedAt.Valid {
			rj.FinishedAt = &run.FinishedAt.Time
		}
		resp.Failed = append(resp.Failed, rj)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePayloads(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetRawPayloadStats(r.Context())
	if err != nil {
		s.log.Error("api: payload stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeJSON(w, http.StatusOK, []scheduler.JobInfo{})
		return
	}
	writeJSON(w, http.StatusOK, s.schedules.Jobs())
}

func (s *Server) handleRunSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeError(w, http.StatusNotFound, "no schedules configured")
		return
	}
	res, err := s.schedules.RunOnce(r.Context(), r.PathValue("name"))
	if errors.Is(err, scheduler.ErrUnknownSchedule) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, chartStatus(err), delivery.UserMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"run_id": res.RunID, "target": res.Target})
}
