package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Team identifies one of the two competing teams. The values double as the
// field keys of the shared game document.
type Team string

const (
	TeamBlue Team = "blue"
	TeamRed  Team = "red"
)

// Valid reports whether t is one of the two known teams.
func (t Team) Valid() bool {
	return t == TeamBlue || t == TeamRed
}

// Opponent returns the other team.
func (t Team) Opponent() Team {
	if t == TeamBlue {
		return TeamRed
	}
	return TeamBlue
}

// ParseTeam normalizes a team string from user input.
func ParseTeam(s string) (Team, error) {
	t := Team(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", ErrInvalidTeam
	}
	return t, nil
}

// Category is the color token carried inside a QR payload. Each category
// awards a fixed number of points.
type Category string

const (
	CategoryVerde    Category = "verde"
	CategoryLaranja  Category = "laranja"
	CategoryVermelho Category = "vermelho"
)

// Points returns the fixed point value for the category: 1, 3 or 5.
func (c Category) Points() int {
	switch c {
	case CategoryVerde:
		return 1
	case CategoryLaranja:
		return 3
	case CategoryVermelho:
		return 5
	}
	return 0
}

// Valid reports whether c is one of the three known categories.
func (c Category) Valid() bool {
	return c == CategoryVerde || c == CategoryLaranja || c == CategoryVermelho
}

// Status represents the match lifecycle. Transitions are driven by the
// operator surface; game nodes only observe and react.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// Valid reports whether s is a known match status.
func (s Status) Valid() bool {
	return s == StatusWaiting || s == StatusActive || s == StatusFinished
}

// DefaultTimeRemaining is the countdown value before a match has started.
const DefaultTimeRemaining = 600

// MaxPlayerNameLen bounds a player name after trimming.
const MaxPlayerNameLen = 20

// Player is the local session identity: name plus chosen team.
type Player struct {
	Name  string `json:"name"`
	Team  Team   `json:"team"`
	Score int    `json:"score"`
}

// ValidatePlayerName trims the name and rejects empty or oversized values.
// The bound counts runes, not bytes, so accented names get the full length.
func ValidatePlayerName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	if utf8.RuneCountInString(name) > MaxPlayerNameLen {
		return "", ErrNameTooLong
	}
	return name, nil
}

// ScanResult records one accepted QR scan. Results are append-only and never
// mutated; the only removal path is a full match reset.
type ScanResult struct {
	Category Category  `json:"color"`
	Points   int       `json:"points"`
	Date     time.Time `json:"date"`
	ID       string    `json:"id"`
	Team     Team      `json:"team"`
}

// TeamState is a team's roster and cumulative score. The score is always
// recomputed as the sum of the team's scan results, never incremented ad hoc.
type TeamState struct {
	Players []string `json:"players"`
	Score   int      `json:"score"`
}

// HasPlayer reports whether name is already on the roster.
func (ts TeamState) HasPlayer(name string) bool {
	for _, p := range ts.Players {
		if p == name {
			return true
		}
	}
	return false
}

// Teams holds the state of both teams keyed the way the shared document
// stores them.
type Teams struct {
	Blue TeamState `json:"blue"`
	Red  TeamState `json:"red"`
}

// Get returns the state for the given team.
func (t Teams) Get(team Team) TeamState {
	if team == TeamBlue {
		return t.Blue
	}
	return t.Red
}

// Set replaces the state for the given team.
func (t *Teams) Set(team Team, state TeamState) {
	if team == TeamBlue {
		t.Blue = state
	} else {
		t.Red = state
	}
}

// Snapshot is the full shared game document at a point in time. Every remote
// change delivers a fresh Snapshot to subscribers; reconciliation applies it
// wholesale (last snapshot wins).
type Snapshot struct {
	Player         *Player      `json:"player,omitempty"`
	Results        []ScanResult `json:"results"`
	ScannedQRCodes []string     `json:"scannedQRCodes"`
	Status         Status       `json:"status"`
	TimeRemaining  int          `json:"timeRemaining"`
	Teams          Teams        `json:"teams"`
}

// TeamScore sums the points of the given team's results.
func (s Snapshot) TeamScore(team Team) int {
	sum := 0
	for _, r := range s.Results {
		if r.Team == team {
			sum += r.Points
		}
	}
	return sum
}

// ScannedByTeam reports whether the given scan id has already been credited
// to the given team. The same physical QR code may be scored once by each
// team, but never twice by the same one.
func (s Snapshot) ScannedByTeam(scanID string, team Team) bool {
	for _, r := range s.Results {
		if r.ID == scanID && r.Team == team {
			return true
		}
	}
	return false
}

// TotalScore sums the points of all recorded results.
func (s Snapshot) TotalScore() int {
	sum := 0
	for _, r := range s.Results {
		sum += r.Points
	}
	return sum
}
