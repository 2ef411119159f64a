package main

import (
	"context"
	"time"

	"github.com/graph-gophers/dataloader/v7"

	"github.com/NeilG112/LocalLoop/apperr"
	"github.com/NeilG112/LocalLoop/store"
)

// DataLoaderContextKey is the key used to store dataloaders in context
type DataLoaderContextKey string

const dataLoaderKey DataLoaderContextKey = "dataloader"

// DataLoaders batch the profile lookups a single request makes.
type DataLoaders struct {
	ProfileLoader *dataloader.Loader[string, *store.Profile]
}

func NewDataLoaders(s store.Store) *DataLoaders {
	return &DataLoaders{
		ProfileLoader: dataloader.NewBatchedLoader(profileBatchFn(s), dataloader.WithWait[string, *store.Profile](16*time.Millisecond)),
	}
}

// GetDataLoadersFromContext retrieves dataloaders from context
func GetDataLoadersFromContext(ctx context.Context) *DataLoaders {
	if dl, ok := ctx.Value(dataLoaderKey).(*DataLoaders); ok {
		return dl
	}
	return nil
}

// WithDataLoaders adds dataloaders to context
func WithDataLoaders(ctx context.Context, dl *DataLoaders) context.Context {
	return context.WithValue(ctx, dataLoaderKey, dl)
}

// profileBatchFn loads all requested profiles with one store call.
// Missing ids resolve to a NotFound error.
func profileBatchFn(s store.Store) dataloader.BatchFunc[string, *store.Profile] {
	return func(ctx context.Context, keys []string) []*dataloader.Result[*store.Profile] {
		results := make([]*dataloader.Result[*store.Profile], len(keys))
		if len(keys) == 0 {
			return results
		}

		found, err := s.GetProfiles(ctx, keys)
		for i, key := range keys {
			if err != nil {
				results[i] = &dataloader.Result[*store.Profile]{Error: err}
				continue
			}
			p, ok := found[key]
			if !ok {
				results[i] = &dataloader.Result[*store.Profile]{Error: apperr.NotFound("profile not found")}
				continue
			}
			results[i] = &dataloader.Result[*store.Profile]{Data: &p}
		}
		return results
	}
}
