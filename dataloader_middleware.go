package main

import (
	"net/http"

	"github.com/NeilG112/LocalLoop/store"
)

// DataLoaderMiddleware gives every request its own dataloaders so cached
// profiles never outlive the request.
func DataLoaderMiddleware(s store.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithDataLoaders(r.Context(), NewDataLoaders(s))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
