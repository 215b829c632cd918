package leaderboard

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiliankoe/vibecheck/internal/game"
	"github.com/kiliankoe/vibecheck/internal/store"
)

// keyedRepo behaves like the SQL mirror: appends are idempotent per key.
type keyedRepo struct {
	mu      sync.Mutex
	entries map[game.RoomType]map[string]game.LeaderboardEntry
}

func newKeyedRepo() *keyedRepo {
	return &keyedRepo{entries: map[game.RoomType]map[string]game.LeaderboardEntry{}}
}

func (r *keyedRepo) Append(ctx context.Context, t game.RoomType, e game.LeaderboardEntry) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[t] == nil {
		r.entries[t] = map[string]game.LeaderboardEntry{}
	}
	if e.Key == "" {
		e.Key = store.NewKey()
	}
	if _, ok := r.entries[t][e.Key]; !ok {
		r.entries[t][e.Key] = e
	}
	return e.Key, nil
}

func (r *keyedRepo) List(ctx context.Context, t game.RoomType) ([]game.LeaderboardEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]game.LeaderboardEntry, 0, len(r.entries[t]))
	for _, e := range r.entries[t] {
		out = append(out, e)
	}
	return out, nil
}

func entry(score int, code, email string, ts time.Time) game.LeaderboardEntry {
	return game.LeaderboardEntry{
		Score:            score,
		MatchedQuestions: score / 20,
		TotalQuestions:   5,
		RoomPlayers:      []string{"alice", "bob"},
		RoomCode:         code,
		Timestamp:        ts,
		SubmitterEmail:   email,
	}
}

func TestStoreRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewStoreRepository(store.NewMemory())
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	key, err := repo.Append(ctx, game.RoomCouple, entry(80, "AAAAAA", "a@example.com", ts))
	require.NoError(t, err)
	_, err = repo.Append(ctx, game.RoomCouple, entry(100, "BBBBBB", "anonymous", ts.Add(time.Minute)))
	require.NoError(t, err)

	ranked, err := Ranked(ctx, repo, game.RoomCouple)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, 100, ranked[0].Score)
	assert.Equal(t, key, ranked[1].Key)
	assert.True(t, ranked[1].Timestamp.Equal(ts))
	assert.Equal(t, []string{"alice", "bob"}, ranked[1].RoomPlayers)

	friend, err := repo.List(ctx, game.RoomFriend)
	require.NoError(t, err)
	assert.Empty(t, friend)
}

func TestHasPlayed(t *testing.T) {
	ctx := context.Background()
	repo := NewStoreRepository(store.NewMemory())
	_, err := repo.Append(ctx, game.RoomFriend, entry(60, "CCCCCC", "f@example.com", time.Now()))
	require.NoError(t, err)

	played, err := HasPlayed(ctx, repo, "f@example.com")
	require.NoError(t, err)
	assert.True(t, played)

	played, err = HasPlayed(ctx, repo, "g@example.com")
	require.NoError(t, err)
	assert.False(t, played)
}

func TestDecodeEntries(t *testing.T) {
	entries, err := DecodeEntries(map[string]any{
		"k1": map[string]any{"score": float64(70), "roomCode": "ABCDEF", "timestamp": "2024-05-01T10:00:00Z"},
		"k2": map[string]any{"score": "high"},
		"k3": "garbage",
	})
	require.NoError(t, err)
	require.Len(t, entries, 1, "unreadable entries are skipped")
	assert.Equal(t, "k1", entries[0].Key)
	assert.Equal(t, 70, entries[0].Score)

	_, err = DecodeEntries([]any{1})
	assert.Error(t, err)
}

func TestBoardWithLooseRecords(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	repo := NewStoreRepository(mem)
	_, err := mem.AppendChild(ctx, game.LeaderboardPath(game.RoomCouple), map[string]any{
		"score": 80, "timestamp": 1700000000000, "email": "x@example.com",
	})
	require.NoError(t, err)
	_, err = mem.AppendChild(ctx, game.LeaderboardPath(game.RoomCouple), map[string]any{
		"score": "95", "timestamp": "2024-05-01T10:00:00.000Z", "roomPlayers": []string{"a", "b"},
	})
	require.NoError(t, err)
	_, err = mem.AppendChild(ctx, game.LeaderboardPath(game.RoomCouple), map[string]any{
		"score": 60, "roomPlayers": "not a list",
	})
	require.NoError(t, err)

	played, err := HasPlayed(ctx, repo, "x@example.com")
	require.NoError(t, err)
	assert.True(t, played)

	ranked, err := Ranked(ctx, repo, game.RoomCouple)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, 95, ranked[0].Score)
	assert.Equal(t, 80, ranked[1].Score)
	assert.True(t, ranked[1].Timestamp.Equal(time.UnixMilli(1700000000000)))
}

func TestArchiverSyncIsIdempotent(t *testing.T) {
	ctx := context.Background()
	src := NewStoreRepository(store.NewMemory())
	now := time.Now()
	_, _ = src.Append(ctx, game.RoomCouple, entry(80, "AAAAAA", "a@example.com", now))
	_, _ = src.Append(ctx, game.RoomFriend, entry(40, "BBBBBB", "b@example.com", now))

	mirror := newKeyedRepo()
	a := &Archiver{Source: src, Mirror: mirror}
	for i := 0; i < 2; i++ {
		n, err := a.Sync(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	}
	couple, _ := mirror.List(ctx, game.RoomCouple)
	friend, _ := mirror.List(ctx, game.RoomFriend)
	assert.Len(t, couple, 1)
	assert.Len(t, friend, 1)

	n, err := (&Archiver{Source: src}).Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "no mirror means nothing to sync")
}

func TestArchiverExport(t *testing.T) {
	ctx := context.Background()
	src := NewStoreRepository(store.NewMemory())
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	_, _ = src.Append(ctx, game.RoomCouple, entry(80, "AAAAAA", "a@example.com", ts))

	file := filepath.Join(t.TempDir(), "boards.txt")
	a := &Archiver{Source: src, ExportFile: file, Now: func() time.Time { return ts }}
	require.NoError(t, a.Export(ctx))

	b, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), "1. 80% (4/5 matched) alice, bob [AAAAAA]"), string(b))

	require.NoError(t, (&Archiver{Source: src}).Export(ctx))
}

func TestArchiverSchedule(t *testing.T) {
	a := &Archiver{Source: newKeyedRepo(), Mirror: newKeyedRepo(), ExportFile: filepath.Join(t.TempDir(), "x.txt")}
	c, err := a.Schedule("@every 1h", "@daily")
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 2)
	c.Stop()

	_, err = a.Schedule("not a spec", "")
	assert.Error(t, err)
}
