package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/clearmind/pledge/v1/checkin"
	pledgeerrors "github.com/clearmind/pledge/v1/errors"
)

const maxBodyBytes = 1 << 16

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getLock(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Lock.Status())
}

func (s *Server) postSync(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Syncer.Sync(r.Context())
	switch {
	case errors.Is(err, checkin.ErrSyncInProgress):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, pledgeerrors.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err)
	case errors.Is(err, pledgeerrors.ErrCircuitOpen):
		writeError(w, http.StatusServiceUnavailable, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

type checkInRequest struct {
	HabitID     string     `json:"habit_id"`
	Day         string     `json:"day"`
	CompletedAt *time.Time `json:"completed_at"`
	Note        string     `json:"note"`
}

func (s *Server) postCheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	at := s.now()
	if req.CompletedAt != nil {
		at = *req.CompletedAt
	}
	day := req.Day
	if day == "" {
		day = at.UTC().Format(checkin.DayLayout)
	}
	c, err := checkin.New(req.HabitID, day, at, req.Note)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.deps.Outbox.Enqueue(c); err != nil {
		if errors.Is(err, checkin.ErrDuplicateCheckIn) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, c)
}

func (s *Server) listCheckIns(w http.ResponseWriter, r *http.Request) {
	habitID := mux.Vars(r)["habitID"]
	cs, err := s.deps.Store.List(r.Context(), habitID)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, pledgeerrors.ErrTimeout) {
			code = http.StatusGatewayTimeout
		}
		writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

type envVar struct {
	Name string `json:"name"`
	Set  bool   `json:"set"`
}

// getEnv reports which configured variables are present. Values never leave
// the process.
func (s *Server) getEnv(w http.ResponseWriter, _ *http.Request) {
	vars := make([]envVar, 0, len(s.envKeys))
	for _, k := range s.envKeys {
		v, ok := s.lookupEnv(k)
		vars = append(vars, envVar{Name: k, Set: ok && v != ""})
	}
	writeJSON(w, http.StatusOK, map[string][]envVar{"variables": vars})
}
