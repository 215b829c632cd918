package game

import (
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewRoomCode(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 100; i++ {
		code := NewRoomCode(rng)
		if len(code) != CodeLength {
			t.Fatalf("expected %d chars, got %q", CodeLength, code)
		}
		for _, c := range code {
			if !strings.ContainsRune(codeAlphabet, c) {
				t.Fatalf("code %q has character outside the alphabet", code)
			}
		}
		if norm, err := NormalizeRoomCode(code); err != nil || norm != code {
			t.Fatalf("generated code %q should normalize to itself, got %q %v", code, norm, err)
		}
	}
}

func TestNormalizeRoomCode(t *testing.T) {
	if code, err := NormalizeRoomCode("  ab3def "); err != nil || code != "AB3DEF" {
		t.Fatalf("expected AB3DEF, got %q %v", code, err)
	}
	for _, bad := range []string{"", "ABCDE", "ABCDEFG", "ABC-EF", "ABCDÉ1"} {
		if _, err := NormalizeRoomCode(bad); err != ErrInvalidRoomCode {
			t.Fatalf("%q: expected ErrInvalidRoomCode, got %v", bad, err)
		}
	}
}

func TestNormalizePlayerName(t *testing.T) {
	if name, err := NormalizePlayerName("  Anna Lena "); err != nil || name != "Anna Lena" {
		t.Fatalf("expected trimmed name, got %q %v", name, err)
	}
	for _, bad := range []string{"", "   ", "a/b", "a.b", "#1", "$x", "[x]"} {
		if _, err := NormalizePlayerName(bad); err != ErrInvalidName {
			t.Fatalf("%q: expected ErrInvalidName, got %v", bad, err)
		}
	}
}

func TestRoomCapacity(t *testing.T) {
	r := Room{RoomType: RoomCouple, MaxPlayers: RoomCouple.MaxPlayers(), Players: map[string]*Player{"a": {}}}
	if r.IsFull() {
		t.Fatal("couple room with one player is not full")
	}
	r.Players["b"] = &Player{}
	if !r.IsFull() {
		t.Fatal("couple room with two players is full")
	}
	if RoomFriend.MaxPlayers() != 10 {
		t.Fatalf("expected friend capacity 10, got %d", RoomFriend.MaxPlayers())
	}
	legacy := Room{Players: map[string]*Player{"a": {}, "b": {}}}
	if !legacy.IsFull() {
		t.Fatal("rooms without maxPlayers default to two")
	}
}

func TestAllFinished(t *testing.T) {
	if (Room{}).AllFinished() {
		t.Fatal("empty room is never all finished")
	}
	r := Room{Players: map[string]*Player{"a": {Finished: true}, "b": {Finished: false}}}
	if r.AllFinished() {
		t.Fatal("room with an unfinished player is not all finished")
	}
	r.Players["b"].Finished = true
	if !r.AllFinished() {
		t.Fatal("expected all finished")
	}
}

func TestOpponentAndRender(t *testing.T) {
	r := Room{Host: "alice", Players: map[string]*Player{"alice": {}, "bob": {}, "carol": {}}}
	if got := r.Opponent("bob"); got != "alice" {
		t.Fatalf("guest should see the host, got %q", got)
	}
	if got := r.Opponent("alice"); got != "bob" {
		t.Fatalf("host should see the first other player, got %q", got)
	}
	solo := Room{Host: "alice", Players: map[string]*Player{"alice": {}}}
	q := Question{Text: "Does {friendName} like {friendName}?"}
	if got := RenderQuestion(q, solo.Opponent("alice")); got != "Does your friend like {friendName}?" {
		t.Fatalf("unexpected rendering %q", got)
	}
	if got := RenderQuestion(q, "bob"); got != "Does bob like {friendName}?" {
		t.Fatalf("only the first placeholder is replaced, got %q", got)
	}
}

func TestPaths(t *testing.T) {
	if got := AnswerPath("ABCDEF", "bob", 3); got != "rooms/ABCDEF/players/bob/answers/3" {
		t.Fatalf("unexpected answer path %q", got)
	}
	if got := QuestionPoolPath(RoomFriend); got != "questions/friend" {
		t.Fatalf("unexpected pool path %q", got)
	}
	if got := LeaderboardPath(RoomCouple); got != "leaderboard/couple" {
		t.Fatalf("unexpected leaderboard path %q", got)
	}
}

func TestDecodeRoom(t *testing.T) {
	raw := map[string]any{
		"host":        "alice",
		"roomType":    "couple",
		"maxPlayers":  float64(2),
		"gameStarted": true,
		"timestamp":   "2024-05-01T10:00:00Z",
		"questions": map[string]any{
			"0": map[string]any{"id": float64(4), "baseQuestion": "Tea?", "choices": []any{"yes", "no"}},
		},
		"players": map[string]any{
			"alice": map[string]any{"finished": true, "score": float64(80), "answers": map[string]any{"0": float64(1)}},
			"bob":   map[string]any{"finished": false},
		},
	}
	room, err := DecodeRoom(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if room.Host != "alice" || room.RoomType != RoomCouple || !room.GameStarted {
		t.Fatalf("unexpected room %+v", room)
	}
	if len(room.Questions) != 1 || room.Questions[0].ID != "4" || room.Questions[0].Text != "Tea?" {
		t.Fatalf("questions not normalized: %+v", room.Questions)
	}
	alice := room.Players["alice"]
	if alice == nil || alice.Score == nil || *alice.Score != 80 || alice.Answers[0] != 1 {
		t.Fatalf("unexpected alice %+v", alice)
	}
	if room.Players["bob"].Score != nil {
		t.Fatal("bob has no score yet")
	}
	if _, err := DecodeRoom("nope"); err == nil {
		t.Fatal("expected error for non-object room")
	}
}

func TestRankAndHighScore(t *testing.T) {
	now := time.Now()
	entries := []LeaderboardEntry{
		{Key: "a", Score: 80, Timestamp: now},
		{Key: "b", Score: 95, Timestamp: now.Add(-time.Hour)},
		{Key: "c", Score: 95, Timestamp: now.Add(-time.Minute)},
	}
	ranked := Rank(entries)
	if ranked[0].Key != "c" || ranked[1].Key != "b" || ranked[2].Key != "a" {
		t.Fatalf("unexpected order %s %s %s", ranked[0].Key, ranked[1].Key, ranked[2].Key)
	}
	if entries[0].Key != "a" {
		t.Fatal("Rank must not reorder its input")
	}
	if IsNewHighScore(95, entries) {
		t.Fatal("equal score is not a new high score")
	}
	if !IsNewHighScore(96, entries) || !IsNewHighScore(0, nil) {
		t.Fatal("expected a new high score")
	}
	entries[1].SubmitterEmail = "x@example.com"
	if !HasEmail(entries, "x@example.com") || HasEmail(entries, "y@example.com") {
		t.Fatal("HasEmail mismatch")
	}
}

func TestExportBoards(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "out", "boards.txt")
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	boards := map[RoomType][]LeaderboardEntry{
		RoomCouple: {
			{Score: 60, MatchedQuestions: 2, TotalQuestions: 5, RoomPlayers: []string{"a", "b"}, RoomCode: "AAAAAA", Timestamp: ts},
			{Score: 90, MatchedQuestions: 4, TotalQuestions: 5, RoomPlayers: []string{"c", "d"}, RoomCode: "BBBBBB", Timestamp: ts},
		},
	}
	if err := ExportBoards(boards, filename, ts); err != nil {
		t.Fatalf("export: %v", err)
	}
	b, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	out := string(b)
	first := strings.Index(out, "1. 90% (4/5 matched) c, d [BBBBBB]")
	second := strings.Index(out, "2. 60% (2/5 matched) a, b [AAAAAA]")
	if first < 0 || second < 0 || first > second {
		t.Fatalf("couple board not ranked:\n%s", out)
	}
	if !strings.Contains(out, "Friend Leaderboard\n"+strings.Repeat("-", 40)+"\nNo scores yet.") {
		t.Fatalf("empty friend board missing:\n%s", out)
	}
	if _, err := os.Stat(filename + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temporary file should be gone")
	}
}

func TestDecodeRoomLooseTimestamps(t *testing.T) {
	raw := map[string]any{
		"host":       "alice",
		"roomType":   "friend",
		"maxPlayers": "10",
		"timestamp":  float64(1700000000000),
		"players": map[string]any{
			"alice": map[string]any{"joinedAt": "1700000000500", "finished": false},
			"bob":   map[string]any{"joinedAt": nil},
		},
	}
	room, err := DecodeRoom(raw)
	if err != nil {
		t.Fatalf("numeric timestamps should decode: %v", err)
	}
	if !room.CreatedAt.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("unexpected createdAt %v", room.CreatedAt)
	}
	if room.MaxPlayers != 10 {
		t.Fatalf("expected maxPlayers 10, got %d", room.MaxPlayers)
	}
	if !room.Players["alice"].JoinedAt.Equal(time.UnixMilli(1700000000500)) {
		t.Fatalf("unexpected joinedAt %v", room.Players["alice"].JoinedAt)
	}
	if !room.Players["bob"].JoinedAt.IsZero() {
		t.Fatal("null joinedAt should be the zero time")
	}
	if _, err := DecodeRoom(map[string]any{"timestamp": "yesterday"}); err == nil {
		t.Fatal("expected error for unparseable timestamp")
	}
}
