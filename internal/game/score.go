package game

import "math"

// Result is the group-wide outcome of a room. Every player receives
// GlobalScore.
type Result struct {
	GlobalScore      int       `json:"globalScore"`
	MatchedQuestions int       `json:"matchedQuestions"`
	TotalQuestions   int       `json:"totalQuestions"`
	QuestionScores   []float64 `json:"questionScores"`
	Players          []string  `json:"players"`
}

// Aggregate scores a room over questionCount questions. For each question the
// largest set of players that picked the same option is divided by the whole
// roster, so players who did not answer count against agreement.
func Aggregate(room Room, questionCount int) Result {
	res := Result{
		TotalQuestions: questionCount,
		QuestionScores: make([]float64, questionCount),
		Players:        room.PlayerNames(),
	}
	total := len(room.Players)
	if total == 0 || questionCount <= 0 {
		return res
	}

	sum := 0.0
	for i := 0; i < questionCount; i++ {
		largest := LargestGroup(room, i)
		if largest >= 2 {
			res.MatchedQuestions++
		}
		res.QuestionScores[i] = float64(largest) / float64(total) * 100
		sum += res.QuestionScores[i]
	}
	res.GlobalScore = roundHalfUp(sum / float64(questionCount))
	return res
}

// LargestGroup is the size of the majority group for question i, or 0 when
// nobody answered it.
func LargestGroup(room Room, i int) int {
	counts := map[int]int{}
	largest := 0
	for _, p := range room.Players {
		if p == nil {
			continue
		}
		opt, ok := p.Answers[i]
		if !ok {
			continue
		}
		counts[opt]++
		if counts[opt] > largest {
			largest = counts[opt]
		}
	}
	return largest
}

// MajorityOption returns the option chosen by the largest group for question
// i; ties go to the lowest option index.
func MajorityOption(room Room, i int) (int, bool) {
	counts := map[int]int{}
	for _, p := range room.Players {
		if p == nil {
			continue
		}
		if opt, ok := p.Answers[i]; ok {
			counts[opt]++
		}
	}
	best, bestCount := 0, 0
	for opt, n := range counts {
		if n > bestCount || (n == bestCount && opt < best) {
			best, bestCount = opt, n
		}
	}
	return best, bestCount > 0
}

func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}
