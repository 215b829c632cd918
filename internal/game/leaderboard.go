package game

import "sort"

// Rank orders entries by score, most recent first among equal scores. The
// input slice is left untouched.
func Rank(entries []LeaderboardEntry) []LeaderboardEntry {
	out := make([]LeaderboardEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// IsNewHighScore reports whether score beats every entry on the board. An
// empty board always counts.
func IsNewHighScore(score int, entries []LeaderboardEntry) bool {
	for _, e := range entries {
		if e.Score >= score {
			return false
		}
	}
	return true
}

// HasEmail reports whether any entry was submitted by email.
func HasEmail(entries []LeaderboardEntry, email string) bool {
	for _, e := range entries {
		if e.SubmitterEmail == email {
			return true
		}
	}
	return false
}
