package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
)

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomFull         = errors.New("room is full")
	ErrInvalidRoomType  = errors.New("invalid room type")
	ErrInvalidRoomCode  = errors.New("invalid room code")
	ErrInvalidName      = errors.New("invalid player name")
	ErrNoQuestionsFound = errors.New("no questions found")
	ErrEmptyPool        = errors.New("question pool is empty")
)

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const defaultFriendName = "your friend"

// NewRoomCode draws a CodeLength code from an alphabet without lookalike
// characters.
func NewRoomCode(rng *rand.Rand) string {
	b := make([]byte, CodeLength)
	for i := range b {
		b[i] = codeAlphabet[rng.Intn(len(codeAlphabet))]
	}
	return string(b)
}

// NormalizeRoomCode upper-cases user input and checks it is a room code.
func NormalizeRoomCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != CodeLength {
		return "", ErrInvalidRoomCode
	}
	for _, c := range code {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return "", ErrInvalidRoomCode
		}
	}
	return code, nil
}

// NormalizePlayerName trims the name. Names are used as store path segments
// so separators and key-reserved characters are rejected.
func NormalizePlayerName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, "/.#$[]") {
		return "", ErrInvalidName
	}
	return name, nil
}

func RoomPath(code string) string {
	return "rooms/" + code
}

func PlayerPath(code, name string) string {
	return RoomPath(code) + "/players/" + name
}

func AnswerPath(code, name string, index int) string {
	return fmt.Sprintf("%s/answers/%d", PlayerPath(code, name), index)
}

func QuestionPoolPath(t RoomType) string {
	return "questions/" + string(t)
}

func LeaderboardPath(t RoomType) string {
	return "leaderboard/" + string(t)
}

// RenderQuestion substitutes {friendName} with the opponent name.
func RenderQuestion(q Question, friendName string) string {
	if friendName == "" {
		friendName = defaultFriendName
	}
	return strings.Replace(q.Text, "{friendName}", friendName, 1)
}

// DecodeRoom converts a raw store value into a Room. Questions are passed
// through NormalizeQuestions so any stored shape comes out canonical.
func DecodeRoom(v any) (Room, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return Room{}, fmt.Errorf("decode room: unexpected %T", v)
	}
	rawQuestions := m["questions"]
	rest := make(map[string]any, len(m))
	for k, val := range m {
		if k != "questions" {
			rest[k] = val
		}
	}
	var room Room
	if err := remarshal(rest, &room); err != nil {
		return Room{}, fmt.Errorf("decode room: %w", err)
	}
	if rawQuestions != nil {
		qs, err := NormalizeQuestions(rawQuestions)
		if err != nil {
			return Room{}, fmt.Errorf("decode room questions: %w", err)
		}
		room.Questions = qs
	}
	return room, nil
}

func remarshal(in any, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
