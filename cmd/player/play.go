package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/kiliankoe/vibecheck/internal/game"
	"github.com/kiliankoe/vibecheck/internal/identity"
	"github.com/kiliankoe/vibecheck/internal/session"
	"github.com/kiliankoe/vibecheck/internal/store/remote"
)

// view remembers what has been printed so repeated snapshots stay quiet.
type view struct {
	out      io.Writer
	phase    session.Phase
	players  string
	canStart bool
	question int
}

func (v *view) render(s session.Session) {
	if names := strings.Join(s.PlayerNames(), ", "); names != v.players && s.Phase < session.PhaseStarted {
		v.players = names
		fmt.Fprintf(v.out, "Players (%d/%d): %s\n", len(s.Room.Players), s.Room.Capacity(), names)
	}
	if s.CanStart() && !v.canStart {
		fmt.Fprintln(v.out, "Type 'start' when everyone is in.")
	}
	v.canStart = s.CanStart()

	if s.Phase == session.PhaseStarted && v.phase < session.PhaseStarted {
		fmt.Fprintln(v.out, "The game has started!")
		v.question = -1
	}
	if q, ok := s.CurrentQuestion(); ok && s.Current != v.question {
		v.question = s.Current
		fmt.Fprintf(v.out, "\n[%d/%d] %s\n", s.Current+1, len(s.Questions), s.QuestionText())
		for i, opt := range q.Options {
			fmt.Fprintf(v.out, "  %d) %s\n", i+1, game.RenderQuestion(game.Question{Text: opt}, s.Opponent()))
		}
	}
	if s.Finished && s.Phase == session.PhaseStarted && v.question != len(s.Questions) {
		v.question = len(s.Questions)
		fmt.Fprintln(v.out, "Done! Waiting for the others to finish...")
	}
	if s.Phase == session.PhaseAllFinished && v.phase != session.PhaseAllFinished {
		fmt.Fprintln(v.out, "Everyone is done, calculating...")
	}
	v.phase = s.Phase
}

// play drives one room from the terminal until it is scored, closed or the
// player quits.
func play(ctx context.Context, c *session.Coordinator, client *remote.Client, ids identity.Provider, in io.Reader, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	v := &view{out: out, question: -1}
	v.render(c.Current())
	for {
		select {
		case <-ctx.Done():
			return c.Leave(context.Background())
		case s := <-c.Updates():
			v.render(s)
			switch s.Phase {
			case session.PhaseScored:
				showResult(ctx, out, client, ids, s)
				return nil
			case session.PhaseClosed:
				fmt.Fprintln(out, "The room was closed by the host.")
				return nil
			}
		case line, ok := <-lines:
			if !ok {
				return c.Leave(context.Background())
			}
			if err := handleInput(ctx, c, v, line); err != nil {
				if errors.Is(err, errQuit) {
					return c.Leave(context.Background())
				}
				fmt.Fprintf(out, "! %v\n", err)
			}
		}
	}
}

var errQuit = errors.New("quit")

func handleInput(ctx context.Context, c *session.Coordinator, v *view, line string) error {
	switch strings.ToLower(line) {
	case "":
		return nil
	case "quit", "exit", "restart":
		return errQuit
	case "start":
		return c.StartGame(ctx)
	}
	n, err := strconv.Atoi(line)
	if err != nil {
		return fmt.Errorf("enter an option number, 'start' or 'quit'")
	}
	s, err := c.Answer(ctx, n-1)
	if err != nil {
		return err
	}
	v.render(s)
	return nil
}

func showResult(ctx context.Context, out io.Writer, client *remote.Client, ids identity.Provider, s session.Session) {
	res := s.Result
	fmt.Fprintf(out, "\nYour vibe score: %d%% (%d/%d questions matched)\n", res.GlobalScore, res.MatchedQuestions, res.TotalQuestions)
	for i, qs := range res.QuestionScores {
		line := fmt.Sprintf("  Q%d: %.0f%%", i+1, qs)
		if opt, ok := game.MajorityOption(s.Room, i); ok && i < len(s.Questions) && opt >= 0 && opt < len(s.Questions[i].Options) {
			pick := game.RenderQuestion(game.Question{Text: s.Questions[i].Options[opt]}, s.Opponent())
			line += fmt.Sprintf("  most picked: %s", pick)
		}
		fmt.Fprintln(out, line)
	}

	if id, err := ids.Current(ctx); err != nil || id == nil {
		fmt.Fprintln(out, "\nSign in with --token to see how you rank.")
		return
	}
	entries, err := client.Leaderboard(ctx, s.RoomType)
	if err != nil {
		return
	}
	others := make([]game.LeaderboardEntry, 0, len(entries))
	for _, e := range entries {
		if e.RoomCode != s.RoomCode {
			others = append(others, e)
		}
	}
	if game.IsNewHighScore(res.GlobalScore, others) {
		fmt.Fprintln(out, "*** New high score! ***")
	}
	printBoard(out, s.RoomType, game.Rank(entries), 5)
}

func printBoard(out io.Writer, t game.RoomType, entries []game.LeaderboardEntry, limit int) {
	fmt.Fprintf(out, "\n%s leaderboard\n", strings.ToUpper(string(t[:1]))+string(t[1:]))
	if len(entries) == 0 {
		fmt.Fprintln(out, "No scores yet.")
		return
	}
	for i, e := range entries {
		if limit > 0 && i >= limit {
			break
		}
		fmt.Fprintf(out, "%2d. %3d%%  %d/%d  %s  %s\n", i+1, e.Score, e.MatchedQuestions, e.TotalQuestions,
			strings.Join(e.RoomPlayers, ", "), e.Timestamp.Local().Format("2006-01-02 15:04"))
	}
}
