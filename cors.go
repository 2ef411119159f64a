package main

import (
	"net/http"

	"github.com/go-chi/cors"
)

// The frontend runs on another origin, so browsers need CORS headers to
// talk to the backend.
func withCORS(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}
