// Package metahttp exposes the meta-namespace introspection operations
// (list-capabilities, request-schema, request-example, request-prompt)
// as HTTP endpoints gated by the caller's access level, for operational
// tooling and the
// trusted controller. It does not add new envelope semantics — it is a
// thin, policy-gated read-only mirror of the operations already defined
// for the core namespace. Grounded on the teacher's internal/api/router.go
// middleware chain (RequestID, RealIP, Recoverer, CORS).
package metahttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/xmlpipeline/organism/internal/pump"
)

var errThreadNotYetTerminal = errors.New("metahttp: thread has not reached a terminal hop")

var terminalOutcomes = map[string]bool{"terminate": true, "error": true, "budget": true}

// AccessLevelFunc resolves the caller's access level for a request,
// typically by inspecting an API key or bearer token header. The
// default NewRouter wiring treats every request as AccessAuthenticated;
// callers that need admin-gated operations should supply their own.
type AccessLevelFunc func(r *http.Request) pump.AccessLevel

// NewRouter builds the meta HTTP surface backed by p. levelFunc may be
// nil, in which case every request is treated as AccessAuthenticated.
func NewRouter(p *pump.Pump, levelFunc AccessLevelFunc, corsOrigins []string) http.Handler {
	if levelFunc == nil {
		levelFunc = func(*http.Request) pump.AccessLevel { return pump.AccessAuthenticated }
	}
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Accept", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/meta", func(r chi.Router) {
		r.Get("/capabilities", func(w http.ResponseWriter, r *http.Request) {
			caps, ok := p.ListCapabilities(levelFunc(r))
			if !ok {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			writeJSON(w, caps)
		})
		r.Get("/capabilities/{name}/schema", func(w http.ResponseWriter, r *http.Request) {
			schema, ok := p.Schema(levelFunc(r), chi.URLParam(r, "name"))
			if !ok {
				http.Error(w, "not found or forbidden", http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/xml")
			w.Write([]byte(schema))
		})
		r.Get("/capabilities/{name}/example", func(w http.ResponseWriter, r *http.Request) {
			example, ok := p.Example(levelFunc(r), chi.URLParam(r, "name"))
			if !ok {
				http.Error(w, "not found or forbidden", http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/xml")
			w.Write([]byte(example))
		})
		r.Get("/capabilities/{name}/prompt", func(w http.ResponseWriter, r *http.Request) {
			prompt, ok := p.Prompt(levelFunc(r), chi.URLParam(r, "name"))
			if !ok {
				http.Error(w, "not found or forbidden", http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte(prompt))
		})
		r.Get("/threads/{id}/trace", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, p.Trace(chi.URLParam(r, "id")))
		})
		r.Get("/threads/{id}/cost", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, p.Cost(chi.URLParam(r, "id")))
		})
		// await long-polls a thread's trace, backing off exponentially
		// between checks, until its last hop reaches a terminal outcome,
		// the request's own context expires, or 30 seconds have passed.
		r.Get("/threads/{id}/await", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")

			var last pump.Hop
			check := func() error {
				hops := p.Trace(id)
				if len(hops) == 0 {
					return errThreadNotYetTerminal
				}
				last = hops[len(hops)-1]
				if !terminalOutcomes[last.Outcome] {
					return errThreadNotYetTerminal
				}
				return nil
			}

			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 50 * time.Millisecond
			bo.MaxInterval = 2 * time.Second
			bo.MaxElapsedTime = 30 * time.Second

			if err := backoff.Retry(check, backoff.WithContext(bo, r.Context())); err != nil {
				http.Error(w, "thread has not reached a terminal hop", http.StatusRequestTimeout)
				return
			}
			writeJSON(w, last)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
