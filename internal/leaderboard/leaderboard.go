// Package leaderboard stores one entry per completed room, on two boards
// keyed by room type.
package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/vibecheck/internal/game"
	"github.com/kiliankoe/vibecheck/internal/store"
)

var Boards = []game.RoomType{game.RoomCouple, game.RoomFriend}

type Repository interface {
	Append(ctx context.Context, t game.RoomType, e game.LeaderboardEntry) (string, error)
	List(ctx context.Context, t game.RoomType) ([]game.LeaderboardEntry, error)
}

// Ranked lists a board in rank order.
func Ranked(ctx context.Context, repo Repository, t game.RoomType) ([]game.LeaderboardEntry, error) {
	entries, err := repo.List(ctx, t)
	if err != nil {
		return nil, err
	}
	return game.Rank(entries), nil
}

// HasPlayed reports whether email submitted an entry on any board.
func HasPlayed(ctx context.Context, repo Repository, email string) (bool, error) {
	for _, t := range Boards {
		entries, err := repo.List(ctx, t)
		if err != nil {
			return false, err
		}
		if game.HasEmail(entries, email) {
			return true, nil
		}
	}
	return false, nil
}

// All lists every board.
func All(ctx context.Context, repo Repository) (map[game.RoomType][]game.LeaderboardEntry, error) {
	out := make(map[game.RoomType][]game.LeaderboardEntry, len(Boards))
	for _, t := range Boards {
		entries, err := repo.List(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("list %s board: %w", t, err)
		}
		out[t] = entries
	}
	return out, nil
}

// StoreRepository keeps boards in the room store at leaderboard/{type}.
type StoreRepository struct {
	Store store.Store
}

func NewStoreRepository(s store.Store) *StoreRepository {
	return &StoreRepository{Store: s}
}

func (r *StoreRepository) Append(ctx context.Context, t game.RoomType, e game.LeaderboardEntry) (string, error) {
	return r.Store.AppendChild(ctx, game.LeaderboardPath(t), e)
}

func (r *StoreRepository) List(ctx context.Context, t game.RoomType) ([]game.LeaderboardEntry, error) {
	v, ok, err := r.Store.Read(ctx, game.LeaderboardPath(t))
	if err != nil || !ok {
		return nil, err
	}
	return DecodeEntries(v)
}

// DecodeEntries reads a board value: an object of generated key to entry.
// Entries that cannot be read are skipped so one bad record does not hide
// the board.
func DecodeEntries(v any) ([]game.LeaderboardEntry, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode leaderboard: unexpected %T", v)
	}
	out := make([]game.LeaderboardEntry, 0, len(m))
	for key, raw := range m {
		var e game.LeaderboardEntry
		if _, isObj := raw.(map[string]any); !isObj {
			log.Warn().Str("key", key).Msgf("skipping leaderboard entry of type %T", raw)
			continue
		}
		if err := remarshal(raw, &e); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("skipping unreadable leaderboard entry")
			continue
		}
		e.Key = key
		out = append(out, e)
	}
	return out, nil
}

func remarshal(in any, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
