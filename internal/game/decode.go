package game

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// looseTime accepts RFC3339 strings and millisecond epoch values, as numbers
// or numeric strings. null and "" decode to the zero time.
type looseTime time.Time

func (t *looseTime) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*t = looseTime{}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(str)
		if s == "" {
			*t = looseTime{}
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
			*t = looseTime(parsed)
			return nil
		}
	}
	ms, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(ms) || math.IsInf(ms, 0) {
		return fmt.Errorf("timestamp %s is neither RFC3339 nor epoch milliseconds", s)
	}
	*t = looseTime(time.UnixMilli(int64(ms)).UTC())
	return nil
}

// looseInt accepts numbers, numeric strings and null.
type looseInt int

func (n *looseInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*n = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(str)
		if s == "" {
			*n = 0
			return nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("%s is not a number", s)
	}
	*n = looseInt(math.Round(f))
	return nil
}

func (e *LeaderboardEntry) UnmarshalJSON(b []byte) error {
	type plain LeaderboardEntry
	aux := struct {
		*plain
		Score            looseInt  `json:"score"`
		MatchedQuestions looseInt  `json:"matchedQuestions"`
		TotalQuestions   looseInt  `json:"totalQuestions"`
		Timestamp        looseTime `json:"timestamp"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	e.Score = int(aux.Score)
	e.MatchedQuestions = int(aux.MatchedQuestions)
	e.TotalQuestions = int(aux.TotalQuestions)
	e.Timestamp = time.Time(aux.Timestamp)
	return nil
}

func (r *Room) UnmarshalJSON(b []byte) error {
	type plain Room
	aux := struct {
		*plain
		MaxPlayers looseInt  `json:"maxPlayers"`
		CreatedAt  looseTime `json:"timestamp"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	r.MaxPlayers = int(aux.MaxPlayers)
	r.CreatedAt = time.Time(aux.CreatedAt)
	return nil
}

func (p *Player) UnmarshalJSON(b []byte) error {
	type plain Player
	aux := struct {
		*plain
		JoinedAt looseTime `json:"joinedAt"`
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	p.JoinedAt = time.Time(aux.JoinedAt)
	return nil
}
