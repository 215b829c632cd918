// Package session coordinates one client's participation in a room. Every
// client runs its own Coordinator against the shared store; there is no
// central authority. Each coordinator derives its phase from the stream of
// room snapshots and applies its side effects at most once.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/vibecheck/internal/game"
	"github.com/kiliankoe/vibecheck/internal/identity"
	"github.com/kiliankoe/vibecheck/internal/leaderboard"
	"github.com/kiliankoe/vibecheck/internal/store"
)

var (
	ErrAlreadyPlayed   = errors.New("already played")
	ErrNotHost         = errors.New("not host")
	ErrQuorumNotMet    = errors.New("not enough players to start")
	ErrNotStarted      = errors.New("game not started")
	ErrAlreadyFinished = errors.New("already finished")
	ErrInvalidOption   = errors.New("invalid option")
	ErrNoSession       = errors.New("not in a room")
	ErrInSession       = errors.New("already in a room")
)

const codeAttempts = 8

type Options struct {
	Identity identity.Provider
	Flags    identity.Flags
	Logger   *zerolog.Logger
	Rand     *rand.Rand
	Now      func() time.Time
}

type Coordinator struct {
	store  store.Store
	boards leaderboard.Repository
	ids    identity.Provider
	flags  identity.Flags
	log    zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	rng   *rand.Rand
	state Session

	sub    *store.Subscription
	cancel context.CancelFunc
	done   chan struct{}

	// one-shot guards, reset when the room is left
	startRequested bool
	scored         bool
	boardWritten   bool

	updates chan Session
}

func New(s store.Store, boards leaderboard.Repository, opts Options) *Coordinator {
	c := &Coordinator{
		store:   s,
		boards:  boards,
		ids:     opts.Identity,
		flags:   opts.Flags,
		log:     log.Logger,
		now:     opts.Now,
		rng:     opts.Rand,
		updates: make(chan Session, 16),
	}
	if c.ids == nil {
		c.ids = identity.Static{}
	}
	if c.flags == nil {
		c.flags = &identity.MemoryFlags{}
	}
	if opts.Logger != nil {
		c.log = *opts.Logger
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return c
}

// Current returns the latest session value.
func (c *Coordinator) Current() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Updates yields every new session value. When the reader falls behind the
// oldest pending values are dropped.
func (c *Coordinator) Updates() <-chan Session {
	return c.updates
}

// CreateRoom selects the questions, writes a new room with the caller as host
// and starts following it.
func (c *Coordinator) CreateRoom(ctx context.Context, name string, t game.RoomType) (Session, error) {
	name, err := game.NormalizePlayerName(name)
	if err != nil {
		return Session{}, err
	}
	if _, err := game.ParseRoomType(string(t)); err != nil {
		return Session{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.InRoom() {
		return Session{}, ErrInSession
	}
	if err := c.checkPlayed(ctx); err != nil {
		return Session{}, err
	}
	code, err := c.freeCode(ctx)
	if err != nil {
		return Session{}, err
	}
	pool, err := c.loadPool(ctx, t)
	if err != nil {
		return Session{}, err
	}
	questions, err := game.SelectQuestions(c.rng, pool, game.QuestionsPerRoom)
	if err != nil {
		return Session{}, err
	}

	now := c.now().UTC()
	zero := 0
	room := game.Room{
		Code:       code,
		Host:       name,
		RoomType:   t,
		MaxPlayers: t.MaxPlayers(),
		CreatedAt:  now,
		Questions:  questions,
		Players:    map[string]*game.Player{name: {JoinedAt: now, Score: &zero}},
	}
	if err := c.store.Write(ctx, game.RoomPath(code), room); err != nil {
		return Session{}, fmt.Errorf("create room: %w", err)
	}
	c.log.Info().Str("code", code).Str("player", name).Str("type", string(t)).Int("questions", len(questions)).Msg("room created")

	s := Session{Phase: PhaseCreated, PlayerName: name, RoomCode: code, IsHost: true, RoomType: t, Room: room}
	if err := c.attach(s); err != nil {
		if derr := c.store.Delete(ctx, game.RoomPath(code)); derr != nil {
			c.log.Warn().Err(derr).Str("code", code).Msg("failed to remove room after subscribe error")
		}
		return Session{}, err
	}
	return c.state, nil
}

// JoinRoom adds the caller to an existing room. Joining a full room fails
// without writing anything. A name already on the roster rejoins.
func (c *Coordinator) JoinRoom(ctx context.Context, name, code string) (Session, error) {
	name, err := game.NormalizePlayerName(name)
	if err != nil {
		return Session{}, err
	}
	code, err = game.NormalizeRoomCode(code)
	if err != nil {
		return Session{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.InRoom() {
		return Session{}, ErrInSession
	}
	if err := c.checkPlayed(ctx); err != nil {
		return Session{}, err
	}
	v, ok, err := c.store.Read(ctx, game.RoomPath(code))
	if err != nil {
		return Session{}, fmt.Errorf("read room: %w", err)
	}
	if !ok {
		return Session{}, game.ErrRoomNotFound
	}
	room, err := game.DecodeRoom(v)
	if err != nil {
		return Session{}, err
	}
	if _, rejoin := room.Players[name]; !rejoin && room.IsFull() {
		return Session{}, game.ErrRoomFull
	}

	err = c.store.Patch(ctx, game.PlayerPath(code, name), map[string]any{
		"joinedAt": c.now().UTC(),
		"finished": false,
		"score":    0,
	})
	if err != nil {
		return Session{}, fmt.Errorf("join room: %w", err)
	}
	c.log.Info().Str("code", code).Str("player", name).Msg("joined room")

	s := Session{Phase: PhaseCreated, PlayerName: name, RoomCode: code, IsHost: room.Host == name, RoomType: room.RoomType, Room: room}
	if err := c.attach(s); err != nil {
		return Session{}, err
	}
	return c.state, nil
}

// StartGame is the host's manual start for friend rooms. Couple rooms start
// on their own once the second player joins.
func (c *Coordinator) StartGame(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	if !s.InRoom() {
		return ErrNoSession
	}
	if !s.IsHost {
		return ErrNotHost
	}
	if s.Room.GameStarted || s.Phase >= PhaseStarted {
		return nil
	}
	if len(s.Room.Players) < game.MinQuorum {
		return ErrQuorumNotMet
	}
	if err := c.store.Write(ctx, game.RoomPath(s.RoomCode)+"/gameStarted", true); err != nil {
		return fmt.Errorf("start game: %w", err)
	}
	c.startRequested = true
	c.log.Info().Str("code", s.RoomCode).Int("players", len(s.Room.Players)).Msg("game started")
	return nil
}

// Answer records option for the current question and advances. A failed
// store write is logged and does not hold the player back.
func (c *Coordinator) Answer(ctx context.Context, option int) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	if !s.InRoom() {
		return s, ErrNoSession
	}
	if s.Phase < PhaseStarted || s.Phase == PhaseClosed {
		return s, ErrNotStarted
	}
	if s.Finished {
		return s, ErrAlreadyFinished
	}
	q, ok := s.CurrentQuestion()
	if !ok {
		return s, ErrAlreadyFinished
	}
	if option < 0 || option >= len(q.Options) {
		return s, ErrInvalidOption
	}

	if err := c.store.Write(ctx, game.AnswerPath(s.RoomCode, s.PlayerName, s.Current), option); err != nil {
		c.log.Error().Err(err).Str("code", s.RoomCode).Int("question", s.Current).Msg("failed to store answer")
	}
	next := s.answer(option)
	if next.Finished {
		if err := c.store.Write(ctx, game.PlayerPath(s.RoomCode, s.PlayerName)+"/finished", true); err != nil {
			c.log.Error().Err(err).Str("code", s.RoomCode).Msg("failed to store finished flag")
		}
	}
	c.replace(next)
	return next, nil
}

// Leave is the restart path. The subscription is released first; then the
// host removes the room, a guest removes only itself. Removal failures are
// logged only.
func (c *Coordinator) Leave(ctx context.Context) error {
	s := c.Current()
	if !s.InRoom() {
		return ErrNoSession
	}
	c.detach()

	path := game.PlayerPath(s.RoomCode, s.PlayerName)
	if s.IsHost {
		path = game.RoomPath(s.RoomCode)
	}
	if err := c.store.Delete(ctx, path); err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("failed to clean up on leave")
	}
	c.log.Info().Str("code", s.RoomCode).Str("player", s.PlayerName).Bool("host", s.IsHost).Msg("left room")

	c.mu.Lock()
	c.reset()
	c.mu.Unlock()
	return nil
}

// Close releases the subscription and clears local state without touching
// the store.
func (c *Coordinator) Close() {
	c.detach()
	c.mu.Lock()
	c.reset()
	c.mu.Unlock()
}

// attach subscribes to the room and starts the snapshot loop. Caller holds mu.
func (c *Coordinator) attach(s Session) error {
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := c.store.Subscribe(ctx, game.RoomPath(s.RoomCode))
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe room: %w", err)
	}
	c.startRequested, c.scored, c.boardWritten = false, false, false
	c.sub, c.cancel, c.done = sub, cancel, make(chan struct{})
	c.replace(s)
	go c.loop(ctx, sub, c.done)
	return nil
}

// detach closes the subscription and waits for the loop to drain so no
// snapshot is handled after it returns.
func (c *Coordinator) detach() {
	c.mu.Lock()
	sub, cancel, done := c.sub, c.cancel, c.done
	c.sub, c.cancel, c.done = nil, nil, nil
	c.mu.Unlock()
	if sub == nil {
		return
	}
	sub.Close()
	cancel()
	<-done
}

// reset clears state and guards. Caller holds mu.
func (c *Coordinator) reset() {
	c.startRequested, c.scored, c.boardWritten = false, false, false
	c.replace(Session{})
}

func (c *Coordinator) loop(ctx context.Context, sub *store.Subscription, done chan struct{}) {
	defer close(done)
	for snap := range sub.C {
		c.handle(ctx, snap)
	}
}

func (c *Coordinator) handle(ctx context.Context, snap store.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	if !s.InRoom() || s.Phase == PhaseClosed {
		return
	}
	logger := c.log.With().Str("code", s.RoomCode).Str("player", s.PlayerName).Logger()

	if !snap.Exists {
		logger.Info().Msg("room deleted")
		c.replace(s.closed())
		return
	}
	room, err := game.DecodeRoom(snap.Value)
	if err != nil {
		logger.Warn().Err(err).Msg("ignoring undecodable room snapshot")
		return
	}
	next := s.observe(room)

	if next.IsHost && !room.GameStarted && room.RoomType == game.RoomCouple &&
		len(room.Players) >= game.MinQuorum && !c.startRequested {
		c.startRequested = true
		if err := c.store.Write(ctx, game.RoomPath(s.RoomCode)+"/gameStarted", true); err != nil {
			c.startRequested = false
			logger.Error().Err(err).Msg("failed to auto-start couple room")
		} else {
			logger.Info().Msg("couple room complete, starting")
		}
	}

	if room.GameStarted && next.Phase < PhaseStarted {
		questions := room.Questions
		if len(questions) == 0 {
			questions, err = c.fallbackQuestions(ctx, room.RoomType)
			if err != nil {
				logger.Error().Err(err).Msg("unable to load questions for started room")
				c.replace(next)
				return
			}
		}
		next = next.start(questions)
		logger.Info().Int("questions", len(questions)).Msg("local game started")
	}

	if next.Phase == PhaseStarted && room.AllFinished() && len(next.Questions) > 0 && !c.scored {
		next = c.score(ctx, next, logger)
	}
	c.replace(next)
}

// score runs once per room. It re-reads the room, writes the same group score
// to every player and, on the host, appends the leaderboard entry.
func (c *Coordinator) score(ctx context.Context, s Session, logger zerolog.Logger) Session {
	c.scored = true
	s = s.allFinished()
	c.replace(s)
	if err := c.flags.MarkPlayed(); err != nil {
		logger.Warn().Err(err).Msg("failed to persist played flag")
	}

	path := game.RoomPath(s.RoomCode)
	v, ok, err := c.store.Read(ctx, path)
	if err != nil || !ok {
		logger.Error().Err(err).Bool("exists", ok).Msg("room data missing for scoring")
		return s
	}
	room, err := game.DecodeRoom(v)
	if err != nil {
		logger.Error().Err(err).Msg("room data unreadable for scoring")
		return s
	}

	count := len(room.Questions)
	if count == 0 {
		count = len(s.Questions)
	}
	if count == 0 {
		count = game.QuestionsPerRoom
	}
	res := game.Aggregate(room, count)

	fields := make(map[string]any, len(res.Players))
	for _, name := range res.Players {
		fields["players/"+name+"/score"] = res.GlobalScore
	}
	if err := c.store.Patch(ctx, path, fields); err != nil {
		logger.Error().Err(err).Msg("failed to write scores")
	}
	logger.Info().Int("score", res.GlobalScore).Int("matched", res.MatchedQuestions).Msg("room scored")

	if s.IsHost && !c.boardWritten {
		c.boardWritten = true
		c.appendLeaderboard(ctx, s, room, res, logger)
	}
	return s.scored(res, room)
}

func (c *Coordinator) appendLeaderboard(ctx context.Context, s Session, room game.Room, res game.Result, logger zerolog.Logger) {
	id, err := c.ids.Current(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("identity unavailable, submitting anonymously")
		id = nil
	}
	t := room.RoomType
	if t == "" {
		t = s.RoomType
	}
	entry := game.LeaderboardEntry{
		Score:            res.GlobalScore,
		MatchedQuestions: res.MatchedQuestions,
		TotalQuestions:   res.TotalQuestions,
		RoomPlayers:      res.Players,
		RoomCode:         s.RoomCode,
		Timestamp:        c.now().UTC(),
		SubmitterEmail:   identity.EmailOrAnonymous(id),
	}
	key, err := c.boards.Append(ctx, t, entry)
	if err != nil {
		logger.Error().Err(err).Msg("failed to append leaderboard entry")
		return
	}
	logger.Info().Str("key", key).Str("board", string(t)).Msg("leaderboard entry added")
}

// checkPlayed blocks a device that has played before when its identity is
// already on a board. Caller holds mu.
func (c *Coordinator) checkPlayed(ctx context.Context) error {
	if !c.flags.PlayedOnce() {
		return nil
	}
	id, err := c.ids.Current(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("identity unavailable")
		id = nil
	}
	played, err := leaderboard.HasPlayed(ctx, c.boards, identity.EmailOrAnonymous(id))
	if err != nil {
		return fmt.Errorf("check leaderboard: %w", err)
	}
	if played {
		return ErrAlreadyPlayed
	}
	return nil
}

func (c *Coordinator) freeCode(ctx context.Context) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code := game.NewRoomCode(c.rng)
		_, taken, err := c.store.Read(ctx, game.RoomPath(code))
		if err != nil {
			return "", fmt.Errorf("check room code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", errors.New("no free room code")
}

func (c *Coordinator) loadPool(ctx context.Context, t game.RoomType) ([]game.Question, error) {
	v, ok, err := c.store.Read(ctx, game.QuestionPoolPath(t))
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w at %s", game.ErrNoQuestionsFound, game.QuestionPoolPath(t))
	}
	return game.NormalizeQuestions(v)
}

func (c *Coordinator) fallbackQuestions(ctx context.Context, t game.RoomType) ([]game.Question, error) {
	pool, err := c.loadPool(ctx, t)
	if err != nil {
		return nil, err
	}
	return game.SelectQuestions(c.rng, pool, game.QuestionsPerRoom)
}

// replace swaps in the new session value and publishes it. Caller holds mu.
func (c *Coordinator) replace(s Session) {
	c.state = s
	for {
		select {
		case c.updates <- s:
			return
		default:
		}
		select {
		case <-c.updates:
		default:
		}
	}
}
