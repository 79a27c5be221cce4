package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// newAPIRouter returns the route table the guard protects. The boot
// baseline is taken from this table, so it must be built the same way by
// every command.
func newAPIRouter() chi.Router {
	r := chi.NewRouter()
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", accepted)
		r.Post("/bulk", accepted)
		r.Get("/{id}", ok)
		r.Delete("/{id}", accepted)
	})
	r.Get("/catalog", ok)
	r.Post("/payments", accepted)
	return r
}

func ok(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"route": chi.RouteContext(r.Context()).RoutePattern()})
}

func accepted(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]string{"route": chi.RouteContext(r.Context()).RoutePattern()})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
