package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) setupHttpRoutes() http.Handler {
	router := httprouter.New()
	limit := s.config.HTTP.RateLimit
	window := time.Duration(s.config.HTTP.RateLimitWindow) * time.Second

	plain := func(method, route string, handle func(w http.ResponseWriter, r *http.Request)) {
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			handle(w, r)
		})
	}

	// Analyses tie up the extractor, so we limit how often a single client can ask for one.
	// Each endpoint gets its own limiter.
	ratelimited := func(method, route string, handle func(w http.ResponseWriter, r *http.Request)) {
		limited := httprate.Limit(limit, window, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(handle)).ServeHTTP(w, r)
		})
	}

	plain("GET", "/api/ping", s.httpPing)
	plain("GET", "/api/alerts", s.httpAlerts)
	www.Handle(s.Log, router, "GET", "/api/alerts/:id/image", s.httpAlertImage)
	www.Handle(s.Log, router, "DELETE", "/api/alerts/:id", s.httpAlertDelete)
	ratelimited("POST", "/api/snapshot", s.httpSnapshot)
	ratelimited("POST", "/api/stream", s.httpStream)
	ratelimited("POST", "/api/evaluate", s.httpEvaluate)
	router.Handler("GET", "/metrics", s.metrics.Handler())

	return router
}
