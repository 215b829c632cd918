package game

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var boardTitles = map[RoomType]string{
	RoomCouple: "Couple Leaderboard",
	RoomFriend: "Friend Leaderboard",
}

// ExportBoards writes the ranked leaderboards to filename, replacing the
// previous export.
func ExportBoards(boards map[RoomType][]LeaderboardEntry, filename string, now time.Time) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("vibecheck Leaderboards\n")
	sb.WriteString(fmt.Sprintf("Exported: %s\n", now.Format("2006-01-02 15:04:05")))
	sb.WriteString(strings.Repeat("=", 50) + "\n")

	for _, t := range []RoomType{RoomCouple, RoomFriend} {
		sb.WriteString("\n" + boardTitles[t] + "\n")
		sb.WriteString(strings.Repeat("-", 40) + "\n")

		ranked := Rank(boards[t])
		if len(ranked) == 0 {
			sb.WriteString("No scores yet.\n")
			continue
		}
		for i, e := range ranked {
			sb.WriteString(fmt.Sprintf("%d. %d%% (%d/%d matched) %s [%s] %s\n",
				i+1, e.Score, e.MatchedQuestions, e.TotalQuestions,
				strings.Join(e.RoomPlayers, ", "), e.RoomCode,
				e.Timestamp.Format("2006-01-02 15:04:05")))
		}
	}

	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		return fmt.Errorf("failed to replace export: %w", err)
	}
	return nil
}
