package discovery

import (
	"strings"

	"github.com/NeilG112/LocalLoop/apperr"
	"github.com/NeilG112/LocalLoop/store"
)

// Defaults applied when the requester has not set a preference.
const (
	DefaultMinAge   = 18
	DefaultMaxAge   = 99
	DefaultRadiusKm = 50
)

// Filters narrow the candidate feed. They are never persisted.
type Filters struct {
	AgeRange      store.AgeRange         `json:"age_range"`
	Gender        store.GenderPreference `json:"gender"`
	MaxDistanceKm float64                `json:"max_distance_km"`
	Languages     []string               `json:"languages,omitempty"`
	// Interests are accepted but do not affect results.
	Interests []string `json:"interests,omitempty"`
}

// DefaultFilters derives filters from the requester's saved preferences,
// falling back to the package defaults for unset fields.
func DefaultFilters(p *store.Profile) Filters {
	f := Filters{
		AgeRange:      store.AgeRange{Min: DefaultMinAge, Max: DefaultMaxAge},
		Gender:        store.GenderAny,
		MaxDistanceKm: DefaultRadiusKm,
	}
	if p == nil {
		return f
	}
	prefs := p.Preferences
	if prefs.AgeRange.Min > 0 {
		f.AgeRange.Min = prefs.AgeRange.Min
	}
	if prefs.AgeRange.Max > 0 {
		f.AgeRange.Max = prefs.AgeRange.Max
	}
	if prefs.GenderPreference.Valid() {
		f.Gender = prefs.GenderPreference
	}
	if prefs.RadiusKm > 0 {
		f.MaxDistanceKm = prefs.RadiusKm
	}
	return f
}

// Validate rejects filters that cannot be evaluated.
func (f *Filters) Validate() error {
	switch {
	case f.AgeRange.Min < 0 || f.AgeRange.Max < 0:
		return apperr.Validation("age range must not be negative")
	case f.AgeRange.Min > f.AgeRange.Max:
		return apperr.Validation("age range min exceeds max")
	case !f.Gender.Valid():
		return apperr.Validation("gender must be any, male, female or other")
	case f.MaxDistanceKm <= 0:
		return apperr.Validation("max distance must be positive")
	}
	return nil
}

// languages returns the non-blank requested languages.
func (f *Filters) languages() []string {
	out := make([]string, 0, len(f.Languages))
	for _, l := range f.Languages {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
