package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/samber/mo"

	"schedcal/internal/calendar"
	"schedcal/internal/config"
	"schedcal/internal/filter"
	"schedcal/internal/ics"
	appLog "schedcal/internal/log"
	"schedcal/internal/model"
	"schedcal/internal/projector"
	"schedcal/internal/store"
)

// Server exposes projected occurrences and calendar grids over HTTP.
// The current snapshot is swapped in by the refresh loop; projections are
// memoized per snapshot version.
type Server struct {
	cfg    *config.Config
	router *mux.Router

	proj *projector.Projector
	agg  *calendar.Aggregator
	memo *projector.Memo
	hub  *Hub

	snapMu sync.RWMutex
	snap   store.Snapshot

	// now is swapped in tests.
	now func() time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, proj *projector.Projector, agg *calendar.Aggregator, memo *projector.Memo, hub *Hub) *Server {
	s := &Server{
		cfg:    cfg,
		router: mux.NewRouter(),
		proj:   proj,
		agg:    agg,
		memo:   memo,
		hub:    hub,
		now:    time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// SetSnapshot installs a freshly loaded snapshot. When the version
// changed it resets the memo and notifies websocket clients. It reports
// whether anything changed.
func (s *Server) SetSnapshot(snap store.Snapshot) bool {
	s.snapMu.Lock()
	changed := snap.Version != s.snap.Version
	if changed {
		s.snap = snap
	}
	s.snapMu.Unlock()

	if !changed {
		return false
	}
	s.memo.Reset()
	if s.hub != nil {
		s.hub.Notify(Message{Type: messageRefreshed, Version: snap.Version})
	}
	appLog.Info("snapshot installed",
		"version", snap.Version,
		"events", len(snap.Events),
		"exceptions", len(snap.Exceptions),
		"skipped", len(snap.Skipped),
	)
	return true
}

func (s *Server) snapshot() store.Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="schedcal", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		appLog.Info("shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.router.Use(recoverMiddleware, loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/occurrences", s.handleOccurrences).Methods(http.MethodGet)
	api.HandleFunc("/calendar/{view:month|week|day}", s.handleCalendar).Methods(http.MethodGet)
	api.HandleFunc("/agenda", s.handleAgenda).Methods(http.MethodGet)
	api.HandleFunc("/calendar.ics", s.handleICS).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	if s.hub != nil {
		api.HandleFunc("/ws", s.hub.ServeWS).Methods(http.MethodGet)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// occurrencesResponse is the JSON response shape for /api/occurrences.
type occurrencesResponse struct {
	Occurrences []model.EventOccurrence `json:"occurrences"`
	Skipped     []model.SkippedEvent    `json:"skipped,omitempty"`
	RangeStart  time.Time               `json:"range_start"`
	RangeEnd    time.Time               `json:"range_end"`
	TimeZone    string                  `json:"timezone"`
	Version     string                  `json:"version"`
}

// handleOccurrences returns the flat projection for a window.
//
// GET /api/occurrences?start=2024-01-01&end=2024-02-01&role=staff&status=confirmed&participant=u1&q=exam
//
// start/end accept YYYY-MM-DD (midnight in the configured timezone) or
// RFC 3339. Without them the window is [now-backfill_days, now+horizon_days).
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	criteria, err := criteriaFromQuery(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, end, err := s.rangeFromQuery(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap := s.snapshot()
	res := s.project(snap, start, end, "list", criteria)
	writeJSON(w, http.StatusOK, occurrencesResponse{
		Occurrences: nonNilOccurrences(res.Occurrences),
		Skipped:     append(append([]model.SkippedEvent{}, snap.Skipped...), res.Skipped...),
		RangeStart:  start,
		RangeEnd:    end,
		TimeZone:    s.agg.Location().String(),
		Version:     snap.Version,
	})
}

// weekResponse wraps a CalendarWeek with its window.
type weekResponse struct {
	WeekStart string             `json:"week_start"`
	Days      model.CalendarWeek `json:"days"`
}

// handleCalendar renders a month, week or day grid around ?date=.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	view := mux.Vars(r)["view"]
	q := r.URL.Query()

	criteria, err := criteriaFromQuery(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := s.now().In(s.agg.Location())
	anchor := now
	if v := q.Get("date"); v != "" {
		anchor, err = parseWhen(v, s.agg.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date: "+err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, s.Render(view, anchor, criteria))
}

// Render projects the current snapshot into a month, week or day grid
// around anchor. Any other view yields the agenda from anchor over the
// configured horizon.
func (s *Server) Render(view string, anchor time.Time, c filter.Criteria) any {
	now := s.now().In(s.agg.Location())
	anchor = anchor.In(s.agg.Location())

	var start, end time.Time
	switch view {
	case "month":
		start, end = s.agg.MonthWindow(anchor)
	case "week":
		start, end = s.agg.WeekWindow(anchor)
	case "day":
		start, end = s.agg.DayWindow(anchor)
	default:
		view = "agenda"
		start, _ = s.agg.DayWindow(anchor)
		end = start.AddDate(0, 0, s.cfg.HorizonDays)
	}

	res := s.project(s.snapshot(), start, end, view, c)

	switch view {
	case "month":
		return s.agg.BuildMonth(anchor, res.Occurrences, now)
	case "week":
		return weekResponse{
			WeekStart: s.agg.WeekStart().String(),
			Days:      s.agg.BuildWeek(anchor, res.Occurrences, now),
		}
	case "day":
		return s.agg.BuildDay(anchor, res.Occurrences, now)
	}
	return s.agg.BuildAgenda(res.Occurrences, now)
}

// handleAgenda lists only the days that carry occurrences.
func (s *Server) handleAgenda(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	criteria, err := criteriaFromQuery(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, end, err := s.rangeFromQuery(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := s.project(s.snapshot(), start, end, "agenda", criteria)
	writeJSON(w, http.StatusOK, s.agg.BuildAgenda(res.Occurrences, s.now()))
}

// handleICS exports the projection as a flat VCALENDAR.
func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	criteria, err := criteriaFromQuery(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, end, err := s.rangeFromQuery(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap := s.snapshot()
	res := s.project(snap, start, end, "ics", criteria)
	body := ics.Export("schedcal", res.Occurrences, s.now().UTC())

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("ETag", fmt.Sprintf("%q", snap.Version))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// statsResponse is the JSON response shape for /api/stats.
type statsResponse struct {
	Version    string              `json:"version"`
	Events     int                 `json:"events"`
	Exceptions int                 `json:"exceptions"`
	Skipped    int                 `json:"skipped"`
	Memo       projector.MemoStats `json:"memo"`
	Clients    int                 `json:"websocket_clients"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	snap := s.snapshot()
	resp := statsResponse{
		Version:    snap.Version,
		Events:     len(snap.Events),
		Exceptions: len(snap.Exceptions),
		Skipped:    len(snap.Skipped),
		Memo:       s.memo.Stats(),
	}
	if s.hub != nil {
		resp.Clients = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) project(snap store.Snapshot, start, end time.Time, view string, c filter.Criteria) projector.Projection {
	key := projector.MemoKey(snap.Version, start, end, view, c)
	return s.memo.GetOrCompute(key, func() projector.Projection {
		res := s.proj.Project(snap.Events, snap.Exceptions, start, end, c)
		for _, sk := range res.Skipped {
			appLog.Warn("event skipped", "event_id", sk.EventID, "reason", sk.Reason)
		}
		return res
	})
}

// rangeFromQuery reads start/end, defaulting to the configured horizon
// around now.
func (s *Server) rangeFromQuery(q map[string][]string) (time.Time, time.Time, error) {
	loc := s.agg.Location()
	today := s.now().In(loc)
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)

	start := today.AddDate(0, 0, -s.cfg.BackfillDays)
	end := today.AddDate(0, 0, s.cfg.HorizonDays)

	if v := first(q, "start"); v != "" {
		t, err := parseWhen(v, loc)
		if err != nil {
			return start, end, fmt.Errorf("invalid start: %w", err)
		}
		start = t
	}
	if v := first(q, "end"); v != "" {
		t, err := parseWhen(v, loc)
		if err != nil {
			return start, end, fmt.Errorf("invalid end: %w", err)
		}
		end = t
	}
	if !end.After(start) {
		return start, end, errors.New("end must be after start")
	}
	return start, end, nil
}

// criteriaFromQuery maps role/status/participant/q onto filter criteria.
// role and status accept repeated or comma-separated values.
func criteriaFromQuery(q map[string][]string) (filter.Criteria, error) {
	var c filter.Criteria
	for _, r := range splitValues(q["role"]) {
		c.Roles = append(c.Roles, model.Role(r))
	}
	for _, v := range splitValues(q["status"]) {
		st := model.Status(strings.ToLower(v))
		if !st.Valid() {
			return c, fmt.Errorf("unknown status %q", v)
		}
		c.Statuses = append(c.Statuses, st)
	}
	if v := first(q, "participant"); v != "" {
		c.ParticipantID = mo.Some(v)
	}
	if v := first(q, "q"); v != "" {
		c.SearchText = mo.Some(v)
	}
	return c, nil
}

func splitValues(vs []string) []string {
	var out []string
	for _, v := range vs {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func first(q map[string][]string, key string) string {
	if vs := q[key]; len(vs) > 0 {
		return strings.TrimSpace(vs[0])
	}
	return ""
}

// parseWhen accepts YYYY-MM-DD in loc or an RFC 3339 instant.
func parseWhen(v string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", v, loc); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

func nonNilOccurrences(occs []model.EventOccurrence) []model.EventOccurrence {
	if occs == nil {
		return []model.EventOccurrence{}
	}
	return occs
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
