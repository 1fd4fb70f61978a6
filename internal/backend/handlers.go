package backend

import (
	"net/http"

	"github.com/maniack/sessionsweep/internal/sweeper"
)

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.cfg.Version})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	set, err := s.sweeper.Settings(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error(), "kind": sweeper.Kind(err)})
		return
	}
	out := map[string]any{"settings": set}
	if s.store != nil {
		out["table"] = s.store.Sessions().Table()
	}
	if s.sched != nil {
		if next, ok := s.sched.Next(sweepJob); ok {
			out["next_run"] = next
		}
		out["schedule"] = s.cfg.Schedule
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRunSweep(w http.ResponseWriter, r *http.Request) {
	res, err := s.RunSweep(r.Context(), TriggerAPI)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "kind": sweeper.Kind(err)})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLastSweep(w http.ResponseWriter, r *http.Request) {
	st := s.LastSweep()
	if st == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no sweep has run yet"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}
