package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/NeilG112/LocalLoop/apperr"
	"github.com/NeilG112/LocalLoop/geo"
)

// notifyChannel carries change events between instances.
const notifyChannel = "localloop_events"

// Postgres payloads are capped at 8000 bytes.
const maxNotifyPayload = 7900

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Postgres is the lib/pq backed Store. Change events are sent with
// pg_notify from the writing statement's transaction, so subscribers only
// see committed changes. Subscribe receives nothing until Listen runs.
type Postgres struct {
	db  *sql.DB
	q   querier
	tx  *sql.Tx
	bus *Bus
	log *zap.Logger
}

var (
	_ Store            = (*Postgres)(nil)
	_ Accounts         = (*Postgres)(nil)
	_ CandidateQuerier = (*Postgres)(nil)
)

func NewPostgres(db *sql.DB, log *zap.Logger) *Postgres {
	if log == nil {
		log = zap.NewNop()
	}
	return &Postgres{db: db, q: db, bus: NewBus(), log: log}
}

// storeErr turns driver failures into apperr values. Context errors pass
// through untouched so callers can tell cancellation apart.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperr.Unavailable(op, err)
}

// withTx wraps fn in a READ COMMITTED transaction: commit on success,
// rollback on error or panic.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return storeErr("begin", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return storeErr("commit", tx.Commit())
}

// WithinPair serialises writers on a pair with a transaction-scoped
// advisory lock keyed by the sorted pair.
func (p *Postgres) WithinPair(ctx context.Context, a, b string, fn func(Store) error) error {
	if p.tx != nil {
		return fn(p)
	}
	lo, hi := PairKey(a, b)
	return withTx(ctx, p.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lo+"|"+hi); err != nil {
			return storeErr("lock pair", err)
		}
		return fn(&Postgres{db: p.db, q: tx, tx: tx, bus: p.bus, log: p.log})
	})
}

func (p *Postgres) Subscribe(q Query) (<-chan Event, func()) {
	return p.bus.Subscribe(q)
}

// Listen forwards notifications from every instance to local subscribers
// until ctx is done.
func (p *Postgres) Listen(ctx context.Context, dsn string) error {
	report := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			p.log.Warn("event listener", zap.Int("event", int(ev)), zap.Error(err))
		}
	}
	l := pq.NewListener(dsn, 10*time.Second, time.Minute, report)
	if err := l.Listen(notifyChannel); err != nil {
		_ = l.Close()
		return storeErr("listen", err)
	}

	go func() {
		defer l.Close()
		ping := time.NewTicker(90 * time.Second)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-l.Notify:
				// nil after a reconnect
				if n == nil {
					continue
				}
				var e Event
				if err := json.Unmarshal([]byte(n.Extra), &e); err != nil {
					p.log.Warn("bad event payload", zap.Error(err))
					continue
				}
				p.bus.Publish(e)
			case <-ping.C:
				go func() { _ = l.Ping() }()
			}
		}
	}()
	return nil
}

func (p *Postgres) notify(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return apperr.Internal("encode event", err)
	}
	if len(payload) > maxNotifyPayload {
		// Text bodies are dropped; clients refetch the message list.
		if e.Message != nil {
			m := *e.Message
			m.Text = ""
			e.Message = &m
		}
		if e.Match != nil {
			mt := *e.Match
			mt.LastMessage = ""
			e.Match = &mt
		}
		if payload, err = json.Marshal(e); err != nil {
			return apperr.Internal("encode event", err)
		}
	}
	_, err = p.q.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(payload))
	return storeErr("notify", err)
}

const profileColumns = `id, name, role, age, gender, bio, languages_spoken, languages_to_learn,
	interests, photos, country, city, lat, lng, geohash, radius_km, gender_preference,
	age_min, age_max, blocked_users, duration_of_stay, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (Profile, error) {
	var (
		pr              Profile
		spoken, toLearn []byte
		lat, lng        sql.NullFloat64
	)
	err := row.Scan(
		&pr.ID, &pr.Name, &pr.Role, &pr.Age, &pr.Gender, &pr.Bio, &spoken, &toLearn,
		pq.Array(&pr.Interests), pq.Array(&pr.Photos), &pr.Location.Country, &pr.Location.City,
		&lat, &lng, &pr.Location.Geohash, &pr.Preferences.RadiusKm, &pr.Preferences.GenderPreference,
		&pr.Preferences.AgeRange.Min, &pr.Preferences.AgeRange.Max, pq.Array(&pr.BlockedUsers),
		&pr.DurationOfStay, &pr.CreatedAt, &pr.UpdatedAt,
	)
	if err != nil {
		return Profile{}, err
	}
	if err := json.Unmarshal(spoken, &pr.LanguagesSpoken); err != nil {
		return Profile{}, err
	}
	if err := json.Unmarshal(toLearn, &pr.LanguagesToLearn); err != nil {
		return Profile{}, err
	}
	if lat.Valid && lng.Valid {
		pr.Location.Coordinates = &geo.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	pr.Prepare()
	return pr, nil
}

func collectProfiles(rows *sql.Rows, op string) ([]Profile, error) {
	defer rows.Close()
	out := make([]Profile, 0)
	for rows.Next() {
		pr, err := scanProfile(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		out = append(out, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return out, nil
}

// nullLimit maps a non-positive limit to LIMIT NULL (no limit).
func nullLimit(limit int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(limit), Valid: limit > 0}
}

func (p *Postgres) GetProfilesByRole(ctx context.Context, role Role, limit int) ([]Profile, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT `+profileColumns+`
		FROM profiles
		WHERE role = $1
		ORDER BY created_at, id
		LIMIT $2
	`, string(role), nullLimit(limit))
	if err != nil {
		return nil, storeErr("get profiles by role", err)
	}
	return collectProfiles(rows, "get profiles by role")
}

func (p *Postgres) QueryCandidates(ctx context.Context, cq CandidateQuery) ([]Profile, error) {
	patterns := make([]string, 0, len(cq.GeohashPrefixes))
	for _, prefix := range cq.GeohashPrefixes {
		patterns = append(patterns, prefix+"%")
	}
	languages := make([]string, 0, len(cq.Languages))
	for _, l := range cq.Languages {
		languages = append(languages, strings.ToLower(strings.TrimSpace(l)))
	}
	gender := cq.Gender
	if gender == "" {
		gender = GenderAny
	}

	rows, err := p.q.QueryContext(ctx, `
		SELECT `+profileColumns+`
		FROM profiles p
		WHERE p.role = $1
		  AND p.id <> $2
		  AND p.age BETWEEN $3 AND $4
		  AND ($5::text = 'any' OR p.gender = $5::text)
		  AND (cardinality($6::text[]) = 0 OR p.spoken_names && $6::text[])
		  AND (p.geohash = '' OR cardinality($7::text[]) = 0 OR p.geohash LIKE ANY ($7::text[]))
		  AND NOT (p.id = ANY ($8::text[]))
		  AND NOT ($2 = ANY (p.blocked_users))
		  AND NOT EXISTS (
		      SELECT 1 FROM swipes s WHERE s.from_user = $2 AND s.to_user = p.id)
		  AND NOT EXISTS (
		      SELECT 1 FROM matches m
		      WHERE (m.user_low = $2 AND m.user_high = p.id)
		         OR (m.user_high = $2 AND m.user_low = p.id))
		ORDER BY p.created_at, p.id
		LIMIT $9
	`, string(cq.Role), cq.RequesterID, cq.AgeMin, cq.AgeMax, string(gender),
		pq.Array(languages), pq.Array(patterns), pq.Array(orEmpty(cq.ExcludeIDs)), nullLimit(cq.Limit))
	if err != nil {
		return nil, storeErr("query candidates", err)
	}
	return collectProfiles(rows, "query candidates")
}

func (p *Postgres) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	row := p.q.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, userID)
	pr, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("profile not found")
		}
		return nil, storeErr("get profile", err)
	}
	return &pr, nil
}

func (p *Postgres) GetProfiles(ctx context.Context, userIDs []string) (map[string]Profile, error) {
	out := make(map[string]Profile, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	rows, err := p.q.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ANY ($1::text[])`, pq.Array(userIDs))
	if err != nil {
		return nil, storeErr("get profiles", err)
	}
	list, err := collectProfiles(rows, "get profiles")
	if err != nil {
		return nil, err
	}
	for _, pr := range list {
		out[pr.ID] = pr
	}
	return out, nil
}

func (p *Postgres) PutProfile(ctx context.Context, pr Profile) (Profile, error) {
	pr.Prepare()
	if err := pr.Validate(); err != nil {
		return Profile{}, err
	}
	spoken, err := json.Marshal(pr.LanguagesSpoken)
	if err != nil {
		return Profile{}, apperr.Internal("encode languages", err)
	}
	toLearn, err := json.Marshal(orEmpty(pr.LanguagesToLearn))
	if err != nil {
		return Profile{}, apperr.Internal("encode languages", err)
	}
	var lat, lng sql.NullFloat64
	if c, ok := pr.Coordinates(); ok {
		lat = sql.NullFloat64{Float64: c.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: c.Lng, Valid: true}
	}

	row := p.q.QueryRowContext(ctx, `
		INSERT INTO profiles (id, name, role, age, gender, bio, languages_spoken, languages_to_learn,
			spoken_names, interests, photos, country, city, lat, lng, geohash, radius_km,
			gender_preference, age_min, age_max, duration_of_stay)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			age = EXCLUDED.age,
			gender = EXCLUDED.gender,
			bio = EXCLUDED.bio,
			languages_spoken = EXCLUDED.languages_spoken,
			languages_to_learn = EXCLUDED.languages_to_learn,
			spoken_names = EXCLUDED.spoken_names,
			interests = EXCLUDED.interests,
			photos = EXCLUDED.photos,
			country = EXCLUDED.country,
			city = EXCLUDED.city,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			geohash = EXCLUDED.geohash,
			radius_km = EXCLUDED.radius_km,
			gender_preference = EXCLUDED.gender_preference,
			age_min = EXCLUDED.age_min,
			age_max = EXCLUDED.age_max,
			duration_of_stay = EXCLUDED.duration_of_stay,
			updated_at = now()
		RETURNING `+profileColumns,
		pr.ID, pr.Name, string(pr.Role), pr.Age, string(pr.Gender), pr.Bio, spoken, toLearn,
		pq.Array(pr.SpokenNames()), pq.Array(pr.Interests), pq.Array(pr.Photos),
		pr.Location.Country, pr.Location.City, lat, lng, pr.Location.Geohash,
		pr.Preferences.RadiusKm, string(pr.Preferences.GenderPreference),
		pr.Preferences.AgeRange.Min, pr.Preferences.AgeRange.Max, pr.DurationOfStay,
	)
	saved, err := scanProfile(row)
	if err != nil {
		return Profile{}, storeErr("put profile", err)
	}
	return saved, nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (p *Postgres) SetBlocked(ctx context.Context, blockerID, targetID string, blocked bool) error {
	query := `
		UPDATE profiles
		SET blocked_users = array_remove(blocked_users, $2), updated_at = now()
		WHERE id = $1`
	if blocked {
		query = `
		UPDATE profiles
		SET blocked_users = CASE WHEN $2 = ANY (blocked_users) THEN blocked_users
		                         ELSE array_append(blocked_users, $2) END,
		    updated_at = now()
		WHERE id = $1`
	}
	res, err := p.q.ExecContext(ctx, query, blockerID, targetID)
	if err != nil {
		return storeErr("set blocked", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("profile not found")
	}
	return nil
}

func (p *Postgres) GetOutgoingSwipes(ctx context.Context, userID string) ([]Swipe, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT id, from_user, to_user, type, created_at
		FROM swipes
		WHERE from_user = $1
		ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, storeErr("get outgoing swipes", err)
	}
	defer rows.Close()

	out := make([]Swipe, 0)
	for rows.Next() {
		var s Swipe
		if err := rows.Scan(&s.ID, &s.From, &s.To, &s.Type, &s.Timestamp); err != nil {
			return nil, storeErr("get outgoing swipes", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("get outgoing swipes", err)
	}
	return out, nil
}

func (p *Postgres) PutSwipe(ctx context.Context, s Swipe) (string, error) {
	s.ID = uuid.NewString()
	err := p.q.QueryRowContext(ctx, `
		INSERT INTO swipes (id, from_user, to_user, type)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, s.ID, s.From, s.To, string(s.Type)).Scan(&s.Timestamp)
	if err != nil {
		return "", storeErr("put swipe", err)
	}
	if err := p.notify(ctx, Event{Kind: EventSwipeRecorded, UserIDs: []string{s.From, s.To}, Swipe: &s, At: s.Timestamp}); err != nil {
		return "", err
	}
	return s.ID, nil
}

func (p *Postgres) FindSwipe(ctx context.Context, from, to string, t SwipeType) (*Swipe, error) {
	var s Swipe
	err := p.q.QueryRowContext(ctx, `
		SELECT id, from_user, to_user, type, created_at
		FROM swipes
		WHERE from_user = $1 AND to_user = $2 AND type = $3
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, from, to, string(t)).Scan(&s.ID, &s.From, &s.To, &s.Type, &s.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("find swipe", err)
	}
	return &s, nil
}

const matchColumns = `id, user_low, user_high, created_at, last_message, last_message_at`

func scanMatch(row rowScanner) (Match, error) {
	var (
		m      Match
		last   sql.NullString
		lastAt sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.Users[0], &m.Users[1], &m.CreatedAt, &last, &lastAt); err != nil {
		return Match{}, err
	}
	m.LastMessage = last.String
	if lastAt.Valid {
		t := lastAt.Time
		m.LastMessageAt = &t
	}
	return m, nil
}

// CreateMatch inserts the pair or, when it already exists, returns the
// existing id.
func (p *Postgres) CreateMatch(ctx context.Context, userA, userB string) (string, bool, error) {
	lo, hi := PairKey(userA, userB)
	if lo == hi {
		return "", false, apperr.Validation("cannot match a user with themselves")
	}

	var (
		id        string
		createdAt time.Time
	)
	err := p.q.QueryRowContext(ctx, `
		INSERT INTO matches (id, user_low, user_high)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_low, user_high) DO NOTHING
		RETURNING id, created_at
	`, uuid.NewString(), lo, hi).Scan(&id, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Already matched: refetch
		err = p.q.QueryRowContext(ctx, `
			SELECT id FROM matches WHERE user_low = $1 AND user_high = $2
		`, lo, hi).Scan(&id)
		if err != nil {
			return "", false, storeErr("create match", err)
		}
		return id, false, nil
	}
	if err != nil {
		return "", false, storeErr("create match", err)
	}

	m := Match{ID: id, Users: [2]string{lo, hi}, CreatedAt: createdAt}
	if err := p.notify(ctx, Event{Kind: EventMatchCreated, UserIDs: []string{lo, hi}, MatchID: id, Match: &m, At: createdAt}); err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (p *Postgres) GetMatch(ctx context.Context, matchID string) (*Match, error) {
	m, err := scanMatch(p.q.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, matchID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("match not found")
	}
	if err != nil {
		return nil, storeErr("get match", err)
	}
	return &m, nil
}

func (p *Postgres) GetMatchesForUser(ctx context.Context, userID string) ([]Match, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT `+matchColumns+`
		FROM matches
		WHERE user_low = $1 OR user_high = $1
		ORDER BY COALESCE(last_message_at, created_at) DESC, id
	`, userID)
	if err != nil {
		return nil, storeErr("get matches", err)
	}
	defer rows.Close()

	out := make([]Match, 0)
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, storeErr("get matches", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("get matches", err)
	}
	return out, nil
}

func (p *Postgres) AppendMessage(ctx context.Context, matchID, senderID, text string) (Message, error) {
	m, err := p.GetMatch(ctx, matchID)
	if err != nil {
		return Message{}, err
	}
	msg := Message{ID: ulid.Make().String(), MatchID: matchID, SenderID: senderID, Text: text}
	err = p.q.QueryRowContext(ctx, `
		INSERT INTO messages (id, match_id, sender_id, text)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, msg.ID, matchID, senderID, text).Scan(&msg.CreatedAt)
	if err != nil {
		return Message{}, storeErr("append message", err)
	}
	evt := Event{Kind: EventMessageAppended, UserIDs: []string{m.Users[0], m.Users[1]}, MatchID: matchID, Message: &msg, At: msg.CreatedAt}
	if err := p.notify(ctx, evt); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (p *Postgres) GetMessages(ctx context.Context, matchID string, limit int) ([]Message, error) {
	if _, err := p.GetMatch(ctx, matchID); err != nil {
		return nil, err
	}
	rows, err := p.q.QueryContext(ctx, `
		SELECT id, match_id, sender_id, text, created_at FROM (
			SELECT id, match_id, sender_id, text, created_at
			FROM messages
			WHERE match_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) latest
		ORDER BY created_at, id
	`, matchID, nullLimit(limit))
	if err != nil {
		return nil, storeErr("get messages", err)
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.MatchID, &msg.SenderID, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, storeErr("get messages", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("get messages", err)
	}
	return out, nil
}

func (p *Postgres) UpdateMatchSummary(ctx context.Context, matchID, text string, at time.Time) error {
	m, err := scanMatch(p.q.QueryRowContext(ctx, `
		UPDATE matches
		SET last_message = $2, last_message_at = $3
		WHERE id = $1
		RETURNING `+matchColumns,
		matchID, text, at))
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("match not found")
	}
	if err != nil {
		return storeErr("update match summary", err)
	}
	return p.notify(ctx, Event{Kind: EventMatchUpdated, UserIDs: []string{m.Users[0], m.Users[1]}, MatchID: matchID, Match: &m, At: at})
}

func (p *Postgres) CreateAccount(ctx context.Context, email, passwordHash string) (Account, error) {
	a := Account{ID: uuid.NewString(), Email: strings.ToLower(strings.TrimSpace(email)), PasswordHash: passwordHash}
	err := p.q.QueryRowContext(ctx, `
		INSERT INTO accounts (id, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, a.ID, a.Email, a.PasswordHash).Scan(&a.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return Account{}, apperr.AlreadyExists("email already registered")
		}
		return Account{}, storeErr("create account", err)
	}
	return a, nil
}

func (p *Postgres) AccountByEmail(ctx context.Context, email string) (*Account, error) {
	var a Account
	err := p.q.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at FROM accounts WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email))).Scan(&a.ID, &a.Email, &a.PasswordHash, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("account not found")
	}
	if err != nil {
		return nil, storeErr("account by email", err)
	}
	return &a, nil
}
