package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NeilG112/LocalLoop/apperr"
	"github.com/NeilG112/LocalLoop/geo"
	"github.com/NeilG112/LocalLoop/store"
)

var (
	berlin   = geo.Point{Lat: 52.52, Lng: 13.405}
	potsdam  = geo.Point{Lat: 52.3906, Lng: 13.0645}
	munich   = geo.Point{Lat: 48.1351, Lng: 11.5820}
	shanghai = geo.Point{Lat: 31.2304, Lng: 121.4737}
)

func profile(id string, role store.Role, at *geo.Point, mods ...func(*store.Profile)) store.Profile {
	p := store.Profile{
		ID:              id,
		Name:            id,
		Role:            role,
		Age:             28,
		Gender:          store.GenderFemale,
		LanguagesSpoken: []store.Language{{Language: "English", Level: "B2"}},
		Location:        store.Location{Coordinates: at},
		Preferences: store.Preferences{
			RadiusKm:         50,
			GenderPreference: store.GenderAny,
			AgeRange:         store.AgeRange{Min: 18, Max: 99},
		},
	}
	for _, m := range mods {
		m(&p)
	}
	return p
}

func seed(t *testing.T, s store.Store, profiles ...store.Profile) {
	t.Helper()
	for _, p := range profiles {
		_, err := s.PutProfile(context.Background(), p)
		require.NoError(t, err)
	}
}

func ids(ps []store.Profile) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}

func TestFindCandidatesDistance(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	host := profile("host-berlin", store.RoleHost, &berlin)
	seed(t, s,
		host,
		profile("visitor-potsdam", store.RoleVisitor, &potsdam),
		profile("visitor-shanghai", store.RoleVisitor, &shanghai),
		profile("visitor-munich", store.RoleVisitor, &munich),
		profile("visitor-unknown", store.RoleVisitor, nil),
		profile("host-other", store.RoleHost, &potsdam),
	)
	e := New(s)

	t.Run("Potsdam passes, Shanghai and Munich fail, missing coordinates pass", func(t *testing.T) {
		got, err := e.FindCandidates(ctx, &host, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"visitor-potsdam", "visitor-unknown"}, ids(got))
	})

	t.Run("Requester without coordinates skips the distance check", func(t *testing.T) {
		nowhere := profile("host-nowhere", store.RoleHost, nil)
		got, err := e.FindCandidates(ctx, &nowhere, nil)
		require.NoError(t, err)
		assert.Len(t, got, 4)
	})

	t.Run("Wider radius admits Munich", func(t *testing.T) {
		f := DefaultFilters(&host)
		f.MaxDistanceKm = 600
		got, err := e.FindCandidates(ctx, &host, &f)
		require.NoError(t, err)
		assert.Equal(t, []string{"visitor-potsdam", "visitor-munich", "visitor-unknown"}, ids(got))
	})

	t.Run("Visitors see hosts only", func(t *testing.T) {
		v := profile("visitor-potsdam", store.RoleVisitor, &potsdam)
		got, err := e.FindCandidates(ctx, &v, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"host-berlin", "host-other"}, ids(got))
	})
}

func TestFindCandidatesExclusions(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	me := profile("me", store.RoleHost, &berlin, func(p *store.Profile) {
		p.BlockedUsers = []string{"blocked-by-me"}
	})
	seed(t, s,
		me,
		profile("swiped", store.RoleVisitor, &potsdam),
		profile("matched", store.RoleVisitor, &potsdam),
		profile("blocked-by-me", store.RoleVisitor, &potsdam),
		profile("blocks-me", store.RoleVisitor, &potsdam),
		profile("fresh", store.RoleVisitor, &potsdam),
	)
	// PutProfile does not write blocked sets.
	require.NoError(t, s.SetBlocked(ctx, "me", "blocked-by-me", true))
	require.NoError(t, s.SetBlocked(ctx, "blocks-me", "me", true))
	_, err := s.PutSwipe(ctx, store.Swipe{From: "me", To: "swiped", Type: store.SwipeDislike})
	require.NoError(t, err)
	_, _, err = s.CreateMatch(ctx, "matched", "me")
	require.NoError(t, err)

	got, err := New(s).FindCandidates(ctx, &me, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, ids(got))
}

func TestFindCandidatesFilters(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	me := profile("me", store.RoleVisitor, &berlin)
	seed(t, s,
		me,
		profile("young", store.RoleHost, &potsdam, func(p *store.Profile) { p.Age = 20 }),
		profile("edge", store.RoleHost, &potsdam, func(p *store.Profile) { p.Age = 30 }),
		profile("old", store.RoleHost, &potsdam, func(p *store.Profile) { p.Age = 60 }),
		profile("man", store.RoleHost, &potsdam, func(p *store.Profile) { p.Gender = store.GenderMale }),
		profile("german", store.RoleHost, &potsdam, func(p *store.Profile) {
			p.LanguagesSpoken = []store.Language{{Language: "German", Level: "C2"}}
		}),
	)
	e := New(s)

	t.Run("Age range is inclusive", func(t *testing.T) {
		f := DefaultFilters(&me)
		f.AgeRange = store.AgeRange{Min: 25, Max: 30}
		got, err := e.FindCandidates(ctx, &me, &f)
		require.NoError(t, err)
		assert.Equal(t, []string{"edge", "man", "german"}, ids(got))
	})

	t.Run("Gender preference", func(t *testing.T) {
		f := DefaultFilters(&me)
		f.Gender = store.GenderPrefMale
		got, err := e.FindCandidates(ctx, &me, &f)
		require.NoError(t, err)
		assert.Equal(t, []string{"man"}, ids(got))
	})

	t.Run("Languages match case-insensitively, empty list is no constraint", func(t *testing.T) {
		f := DefaultFilters(&me)
		f.Languages = []string{"german", "Japanese"}
		got, err := e.FindCandidates(ctx, &me, &f)
		require.NoError(t, err)
		assert.Equal(t, []string{"german"}, ids(got))

		f.Languages = []string{}
		got, err = e.FindCandidates(ctx, &me, &f)
		require.NoError(t, err)
		assert.Len(t, got, 5)
	})

	t.Run("Padded language names still match", func(t *testing.T) {
		s := store.NewMemory()
		seed(t, s,
			me,
			profile("padded", store.RoleHost, &potsdam, func(p *store.Profile) {
				p.LanguagesSpoken = []store.Language{{Language: "German ", Level: "C2"}}
			}),
		)
		f := DefaultFilters(&me)
		f.Languages = []string{" German"}
		got, err := New(s).FindCandidates(ctx, &me, &f)
		require.NoError(t, err)
		assert.Equal(t, []string{"padded"}, ids(got))

		// Profiles that skipped normalisation match too.
		raw := profile("raw", store.RoleHost, &potsdam, func(p *store.Profile) {
			p.LanguagesSpoken = []store.Language{{Language: "  german", Level: "B1"}}
		})
		assert.True(t, raw.Speaks("German"))
	})

	t.Run("Interests are accepted but inert", func(t *testing.T) {
		f := DefaultFilters(&me)
		f.Interests = []string{"no-one-has-this"}
		got, err := e.FindCandidates(ctx, &me, &f)
		require.NoError(t, err)
		assert.Len(t, got, 5)
	})

	t.Run("Invalid filters fail before any store call", func(t *testing.T) {
		f := DefaultFilters(&me)
		f.AgeRange = store.AgeRange{Min: 40, Max: 30}
		_, err := New(failingStore{}).FindCandidates(ctx, &me, &f)
		assert.True(t, apperr.IsCode(err, apperr.CodeInvalidArgument))

		f = DefaultFilters(&me)
		f.Gender = "robot"
		_, err = e.FindCandidates(ctx, &me, &f)
		assert.ErrorIs(t, err, apperr.ErrInvalid)
	})
}

func TestDefaultFilters(t *testing.T) {
	f := DefaultFilters(&store.Profile{})
	assert.Equal(t, store.AgeRange{Min: 18, Max: 99}, f.AgeRange)
	assert.Equal(t, store.GenderAny, f.Gender)
	assert.Equal(t, float64(50), f.MaxDistanceKm)

	f = DefaultFilters(&store.Profile{Preferences: store.Preferences{
		RadiusKm:         10,
		GenderPreference: store.GenderPrefOther,
		AgeRange:         store.AgeRange{Min: 25, Max: 35},
	}})
	assert.Equal(t, store.AgeRange{Min: 25, Max: 35}, f.AgeRange)
	assert.Equal(t, store.GenderPrefOther, f.Gender)
	assert.Equal(t, float64(10), f.MaxDistanceKm)
}

func TestFindCandidatesNilRequester(t *testing.T) {
	got, err := New(failingStore{}).FindCandidates(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// failingStore fails every read.
type failingStore struct{ store.Store }

var errBackend = apperr.Unavailable("test", errors.New("connection refused"))

func (failingStore) GetProfilesByRole(context.Context, store.Role, int) ([]store.Profile, error) {
	return nil, errBackend
}

func TestFindCandidatesFetchError(t *testing.T) {
	me := profile("me", store.RoleHost, &berlin)
	_, err := New(failingStore{}).FindCandidates(context.Background(), &me, nil)
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.True(t, fe.Temporary())
	assert.Equal(t, "fetch candidates", fe.Op)
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
}

// pushdownStore records the query and returns unfiltered profiles so the
// engine's own predicates are exercised.
type pushdownStore struct {
	*store.Memory
	mu   sync.Mutex
	last store.CandidateQuery
}

func (p *pushdownStore) QueryCandidates(ctx context.Context, q store.CandidateQuery) ([]store.Profile, error) {
	p.mu.Lock()
	p.last = q
	p.mu.Unlock()
	return p.Memory.GetProfilesByRole(ctx, q.Role, q.Limit)
}

func TestFindCandidatesPushdown(t *testing.T) {
	ctx := context.Background()
	ps := &pushdownStore{Memory: store.NewMemory()}
	host := profile("host", store.RoleHost, &berlin, func(p *store.Profile) { p.BlockedUsers = []string{"x"} })
	seed(t, ps,
		host,
		profile("near", store.RoleVisitor, &potsdam),
		profile("far", store.RoleVisitor, &shanghai),
	)
	require.NoError(t, ps.SetBlocked(ctx, "host", "x", true))

	f := DefaultFilters(&host)
	f.Languages = []string{" English "}
	got, err := New(ps, WithBatchSize(20)).FindCandidates(ctx, &host, &f)
	require.NoError(t, err)
	assert.Equal(t, []string{"near"}, ids(got))

	q := ps.last
	assert.Equal(t, store.RoleVisitor, q.Role)
	assert.Equal(t, 20, q.Limit)
	assert.Equal(t, []string{"english"}, q.Languages)
	assert.Equal(t, []string{"x"}, q.ExcludeIDs)
	assert.Equal(t, []string{"u33", "u32", "u36"}, q.GeohashPrefixes)
}

// blockingStore holds GetProfilesByRole until released or cancelled.
type blockingStore struct {
	*store.Memory
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) GetProfilesByRole(ctx context.Context, role store.Role, limit int) ([]store.Profile, error) {
	b.entered <- struct{}{}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.release:
		return b.Memory.GetProfilesByRole(ctx, role, limit)
	}
}

func TestFindCandidatesLatestRequestWins(t *testing.T) {
	ctx := context.Background()
	bs := &blockingStore{Memory: store.NewMemory(), entered: make(chan struct{}, 2), release: make(chan struct{})}
	me := profile("me", store.RoleHost, &berlin)
	seed(t, bs, me, profile("v", store.RoleVisitor, &potsdam))
	e := New(bs)

	firstErr := make(chan error, 1)
	go func() {
		_, err := e.FindCandidates(ctx, &me, nil)
		firstErr <- err
	}()
	<-bs.entered

	secondRes := make(chan []store.Profile, 1)
	go func() {
		got, err := e.FindCandidates(ctx, &me, nil)
		assert.NoError(t, err)
		secondRes <- got
	}()

	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("first request was not superseded")
	}

	<-bs.entered
	close(bs.release)
	select {
	case got := <-secondRes:
		assert.Equal(t, []string{"v"}, ids(got))
	case <-time.After(2 * time.Second):
		t.Fatal("second request did not finish")
	}
	assert.Equal(t, 0, e.sessions.inFlight())
}
