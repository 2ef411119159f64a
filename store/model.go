package store

import (
	"slices"
	"strings"
	"time"

	"github.com/NeilG112/LocalLoop/apperr"
	"github.com/NeilG112/LocalLoop/geo"
)

// Role splits users into two mutually visible groups.
type Role string

const (
	RoleHost    Role = "host"
	RoleVisitor Role = "visitor"
)

func (r Role) Valid() bool { return r == RoleHost || r == RoleVisitor }

// Opposite is the role this role discovers: hosts see visitors and the
// other way round.
func (r Role) Opposite() Role {
	if r == RoleHost {
		return RoleVisitor
	}
	return RoleHost
}

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

func (g Gender) Valid() bool {
	return g == GenderMale || g == GenderFemale || g == GenderOther
}

type GenderPreference string

const (
	GenderAny        GenderPreference = "any"
	GenderPrefMale   GenderPreference = "male"
	GenderPrefFemale GenderPreference = "female"
	GenderPrefOther  GenderPreference = "other"
)

func (g GenderPreference) Valid() bool {
	switch g {
	case GenderAny, GenderPrefMale, GenderPrefFemale, GenderPrefOther:
		return true
	}
	return false
}

// Accepts reports whether a candidate of gender passes this preference.
func (g GenderPreference) Accepts(gender Gender) bool {
	return g == GenderAny || string(g) == string(gender)
}

// Proficiency is a CEFR level.
type Proficiency string

var proficiencies = map[Proficiency]bool{"A1": true, "A2": true, "B1": true, "B2": true, "C1": true, "C2": true}

func (p Proficiency) Valid() bool { return proficiencies[p] }

type Language struct {
	Language string      `json:"language"`
	Level    Proficiency `json:"level"`
}

type Location struct {
	Country     string     `json:"country"`
	City        string     `json:"city"`
	Coordinates *geo.Point `json:"coordinates,omitempty"`
	Geohash     string     `json:"geohash,omitempty"`
}

type AgeRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains is inclusive on both ends.
func (r AgeRange) Contains(age int) bool {
	return age >= r.Min && age <= r.Max
}

type Preferences struct {
	RadiusKm         float64          `json:"radius_km"`
	GenderPreference GenderPreference `json:"gender_preference"`
	AgeRange         AgeRange         `json:"age_range"`
}

// MinAge is the youngest age a profile may declare.
const MinAge = 18

// Profile is a user's public identity plus their discovery preferences.
type Profile struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Role             Role        `json:"role"`
	Age              int         `json:"age"`
	Gender           Gender      `json:"gender"`
	Bio              string      `json:"bio"`
	LanguagesSpoken  []Language  `json:"languages_spoken"`
	LanguagesToLearn []Language  `json:"languages_to_learn,omitempty"`
	Interests        []string    `json:"interests"`
	Photos           []string    `json:"photos"`
	Location         Location    `json:"location"`
	Preferences      Preferences `json:"preferences"`
	BlockedUsers     []string    `json:"blocked_users"`
	DurationOfStay   string      `json:"duration_of_stay,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Coordinates returns the profile position if one is set.
func (p *Profile) Coordinates() (geo.Point, bool) {
	if p == nil || p.Location.Coordinates == nil {
		return geo.Point{}, false
	}
	return *p.Location.Coordinates, true
}

func (p *Profile) HasBlocked(userID string) bool {
	return slices.Contains(p.BlockedUsers, userID)
}

// Speaks matches language names case-insensitively, ignoring surrounding
// blanks.
func (p *Profile) Speaks(language string) bool {
	language = strings.TrimSpace(language)
	for _, l := range p.LanguagesSpoken {
		if strings.EqualFold(strings.TrimSpace(l.Language), language) {
			return true
		}
	}
	return false
}

// SpokenNames returns the lower-cased names of the spoken languages.
func (p *Profile) SpokenNames() []string {
	out := make([]string, 0, len(p.LanguagesSpoken))
	for _, l := range p.LanguagesSpoken {
		out = append(out, strings.ToLower(strings.TrimSpace(l.Language)))
	}
	return out
}

// Prepare normalises a profile before it is written: nil slices become
// empty and the geohash is derived from the coordinates.
func (p *Profile) Prepare() {
	p.Name = strings.TrimSpace(p.Name)
	p.Bio = strings.TrimSpace(p.Bio)
	if p.LanguagesSpoken == nil {
		p.LanguagesSpoken = []Language{}
	}
	p.LanguagesSpoken = trimLanguages(p.LanguagesSpoken)
	p.LanguagesToLearn = trimLanguages(p.LanguagesToLearn)
	if p.Interests == nil {
		p.Interests = []string{}
	}
	if p.Photos == nil {
		p.Photos = []string{}
	}
	if p.BlockedUsers == nil {
		p.BlockedUsers = []string{}
	}
	if c, ok := p.Coordinates(); ok {
		p.Location.Geohash = geo.Encode(c.Lat, c.Lng, geo.DefaultPrecision)
	} else {
		p.Location.Geohash = ""
	}
	if p.Preferences.GenderPreference == "" {
		p.Preferences.GenderPreference = GenderAny
	}
}

// trimLanguages returns a copy of ls with blank-trimmed names.
func trimLanguages(ls []Language) []Language {
	if ls == nil {
		return nil
	}
	out := slices.Clone(ls)
	for i := range out {
		out[i].Language = strings.TrimSpace(out[i].Language)
	}
	return out
}

// Validate checks a profile submitted at signup completion or update.
func (p *Profile) Validate() error {
	switch {
	case p.ID == "":
		return apperr.Validation("profile id is required")
	case !p.Role.Valid():
		return apperr.Validation("role must be host or visitor")
	case !p.Gender.Valid():
		return apperr.Validation("gender must be male, female or other")
	case p.Age < MinAge:
		return apperr.Validation("age must be at least 18")
	case !p.Preferences.GenderPreference.Valid():
		return apperr.Validation("gender preference must be any, male, female or other")
	case p.Preferences.AgeRange.Min > p.Preferences.AgeRange.Max:
		return apperr.Validation("age preference min exceeds max")
	case p.Preferences.RadiusKm < 0:
		return apperr.Validation("radius must not be negative")
	}
	if c, ok := p.Coordinates(); ok && !c.Valid() {
		return apperr.Validation("coordinates out of range")
	}
	for _, l := range append(append([]Language{}, p.LanguagesSpoken...), p.LanguagesToLearn...) {
		if strings.TrimSpace(l.Language) == "" || !l.Level.Valid() {
			return apperr.Validation("languages need a name and a CEFR level")
		}
	}
	return nil
}

func (p Profile) clone() Profile {
	c := p
	c.LanguagesSpoken = slices.Clone(p.LanguagesSpoken)
	c.LanguagesToLearn = slices.Clone(p.LanguagesToLearn)
	c.Interests = slices.Clone(p.Interests)
	c.Photos = slices.Clone(p.Photos)
	c.BlockedUsers = slices.Clone(p.BlockedUsers)
	if p.Location.Coordinates != nil {
		pt := *p.Location.Coordinates
		c.Location.Coordinates = &pt
	}
	return c
}

type SwipeType string

const (
	SwipeLike    SwipeType = "like"
	SwipeDislike SwipeType = "dislike"
)

func (t SwipeType) Valid() bool { return t == SwipeLike || t == SwipeDislike }

// Swipe is an immutable like/dislike decision. Timestamp is assigned by the
// store at write time.
type Swipe struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Type      SwipeType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// Match is the single record of a mutually liking pair.
type Match struct {
	ID            string     `json:"id"`
	Users         [2]string  `json:"users"`
	CreatedAt     time.Time  `json:"created_at"`
	LastMessage   string     `json:"last_message,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}

func (m *Match) Has(userID string) bool {
	return m.Users[0] == userID || m.Users[1] == userID
}

// Other returns the participant that is not userID.
func (m *Match) Other(userID string) string {
	if m.Users[0] == userID {
		return m.Users[1]
	}
	return m.Users[0]
}

// activity orders matches by latest message, falling back to creation.
func (m *Match) activity() time.Time {
	if m.LastMessageAt != nil {
		return *m.LastMessageAt
	}
	return m.CreatedAt
}

type Message struct {
	ID        string    `json:"id"`
	MatchID   string    `json:"match_id"`
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Account holds login credentials. The account id doubles as profile id.
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// PairKey orders two user ids so an unordered pair has one key.
func PairKey(a, b string) (low, high string) {
	if a < b {
		return a, b
	}
	return b, a
}
