package game

import (
	"sort"
	"time"
)

type RoomType string

const (
	RoomCouple RoomType = "couple"
	RoomFriend RoomType = "friend"
)

const (
	QuestionsPerRoom = 5
	MinQuorum        = 2
	CodeLength       = 6

	coupleMaxPlayers = 2
	friendMaxPlayers = 10
)

// ParseRoomType accepts the wire names "couple" and "friend".
func ParseRoomType(s string) (RoomType, error) {
	switch RoomType(s) {
	case RoomCouple, RoomFriend:
		return RoomType(s), nil
	}
	return "", ErrInvalidRoomType
}

// MaxPlayers is the capacity a new room of this type is created with.
func (t RoomType) MaxPlayers() int {
	if t == RoomCouple {
		return coupleMaxPlayers
	}
	return friendMaxPlayers
}

type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"question"`
	Options []string `json:"options"`
}

type Player struct {
	JoinedAt time.Time   `json:"joinedAt"`
	Finished bool        `json:"finished"`
	Score    *int        `json:"score,omitempty"`
	Answers  map[int]int `json:"answers,omitempty"`
}

type Room struct {
	Code        string             `json:"code"`
	Host        string             `json:"host"`
	RoomType    RoomType           `json:"roomType"`
	MaxPlayers  int                `json:"maxPlayers"`
	GameStarted bool               `json:"gameStarted"`
	CreatedAt   time.Time          `json:"timestamp"`
	Questions   []Question         `json:"questions,omitempty"`
	Players     map[string]*Player `json:"players,omitempty"`
}

// LeaderboardEntry is one completed room. Entries are append-only.
type LeaderboardEntry struct {
	Key              string    `json:"-"`
	Score            int       `json:"score"`
	MatchedQuestions int       `json:"matchedQuestions"`
	TotalQuestions   int       `json:"totalQuestions"`
	RoomPlayers      []string  `json:"roomPlayers"`
	RoomCode         string    `json:"roomCode"`
	Timestamp        time.Time `json:"timestamp"`
	SubmitterEmail   string    `json:"email"`
}

// PlayerNames returns the roster sorted by name.
func (r Room) PlayerNames() []string {
	names := make([]string, 0, len(r.Players))
	for name := range r.Players {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r Room) Capacity() int {
	if r.MaxPlayers > 0 {
		return r.MaxPlayers
	}
	return coupleMaxPlayers
}

func (r Room) IsFull() bool {
	return len(r.Players) >= r.Capacity()
}

// AllFinished reports whether the roster is non-empty and every player has
// flagged finished.
func (r Room) AllFinished() bool {
	if len(r.Players) == 0 {
		return false
	}
	for _, p := range r.Players {
		if p == nil || !p.Finished {
			return false
		}
	}
	return true
}

// Opponent picks the name substituted for {friendName}: the host when that is
// not self, otherwise the first other player.
func (r Room) Opponent(self string) string {
	if r.Host != "" && r.Host != self {
		return r.Host
	}
	for _, name := range r.PlayerNames() {
		if name != self {
			return name
		}
	}
	return ""
}
