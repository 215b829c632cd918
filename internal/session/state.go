package session

import (
	"github.com/kiliankoe/vibecheck/internal/game"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCreated
	PhaseWaiting
	PhaseStarted
	PhaseAllFinished
	PhaseScored
	PhaseClosed
)

var phaseNames = [...]string{"Idle", "Created", "Waiting", "Started", "AllFinished", "Scored", "Closed"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "Unknown"
}

// Session is one client's view of its room. Values are never mutated in
// place; each transition returns a new Session.
type Session struct {
	Phase      Phase
	PlayerName string
	RoomCode   string
	IsHost     bool
	RoomType   game.RoomType

	// Room is the latest snapshot observed.
	Room game.Room

	Questions []game.Question
	Current   int
	Answers   map[int]int
	Finished  bool

	Result *game.Result
}

func (s Session) InRoom() bool {
	return s.RoomCode != "" && s.Phase != PhaseIdle
}

// CanStart reports whether the host may trigger a manual start now.
func (s Session) CanStart() bool {
	return s.IsHost && s.Phase == PhaseWaiting && !s.Room.GameStarted &&
		s.RoomType == game.RoomFriend && len(s.Room.Players) >= game.MinQuorum
}

func (s Session) CurrentQuestion() (game.Question, bool) {
	if s.Phase < PhaseStarted || s.Finished || s.Current >= len(s.Questions) {
		return game.Question{}, false
	}
	return s.Questions[s.Current], true
}

// QuestionText renders the current question for this player.
func (s Session) QuestionText() string {
	q, ok := s.CurrentQuestion()
	if !ok {
		return ""
	}
	return game.RenderQuestion(q, s.Opponent())
}

func (s Session) Opponent() string {
	return s.Room.Opponent(s.PlayerName)
}

func (s Session) PlayerNames() []string {
	return s.Room.PlayerNames()
}

func (s Session) observe(room game.Room) Session {
	next := s
	next.Room = room
	if next.Phase == PhaseCreated {
		next.Phase = PhaseWaiting
	}
	return next
}

func (s Session) start(questions []game.Question) Session {
	next := s
	next.Phase = PhaseStarted
	next.Questions = questions
	next.Current = 0
	next.Answers = map[int]int{}
	next.Finished = false
	return next
}

func (s Session) answer(option int) Session {
	next := s
	next.Answers = make(map[int]int, len(s.Answers)+1)
	for k, v := range s.Answers {
		next.Answers[k] = v
	}
	next.Answers[s.Current] = option
	next.Current++
	if next.Current >= len(next.Questions) {
		next.Finished = true
	}
	return next
}

func (s Session) allFinished() Session {
	next := s
	next.Phase = PhaseAllFinished
	return next
}

func (s Session) scored(res game.Result, room game.Room) Session {
	next := s
	next.Phase = PhaseScored
	next.Result = &res
	next.Room = room
	return next
}

func (s Session) closed() Session {
	next := s
	next.Phase = PhaseClosed
	return next
}
