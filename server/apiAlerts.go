package server

import (
	"errors"
	"net/http"

	"github.com/cyclopcam/rtvd/server/alarm"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) httpAlerts(w http.ResponseWriter, r *http.Request) {
	if s.alarm == nil {
		www.SendJSON(w, []any{})
		return
	}
	www.SendJSON(w, s.alarm.Recent())
}

// Fetch the annotated frame of a recent alert.
// Example: curl -o alert.jpg localhost:8090/api/alerts/<id>/image
func (s *Server) httpAlertImage(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if s.alarm == nil {
		www.SendError(w, "Alerts are disabled", http.StatusNotFound)
		return
	}
	img, err := s.alarm.Image(r.Context(), params.ByName("id"))
	if errors.Is(err, alarm.ErrNotFound) {
		www.SendError(w, err.Error(), http.StatusNotFound)
		return
	}
	www.Check(err)
	www.CacheNever(w)
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(img)
}

func (s *Server) httpAlertDelete(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if s.alarm == nil {
		www.SendError(w, "Alerts are disabled", http.StatusNotFound)
		return
	}
	err := s.alarm.Delete(r.Context(), params.ByName("id"))
	if errors.Is(err, alarm.ErrNotFound) {
		www.SendError(w, err.Error(), http.StatusNotFound)
		return
	}
	www.Check(err)
	www.SendOK(w)
}
