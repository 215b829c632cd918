package game

import (
	"fmt"
	"math"
	"testing"
)

func roomWithAnswers(answers map[string]map[int]int) Room {
	r := Room{Host: "", RoomType: RoomFriend, MaxPlayers: friendMaxPlayers, Players: map[string]*Player{}}
	for name, a := range answers {
		r.Players[name] = &Player{Finished: true, Answers: a}
	}
	return r
}

func TestAggregateCoupleScenario(t *testing.T) {
	room := roomWithAnswers(map[string]map[int]int{
		"alice": {0: 0, 1: 1, 2: 2, 3: 0, 4: 1},
		"bob":   {0: 0, 1: 1, 2: 2, 3: 1, 4: 0},
	})
	res := Aggregate(room, 5)
	if res.GlobalScore != 80 {
		t.Fatalf("expected global score 80, got %d", res.GlobalScore)
	}
	if res.MatchedQuestions != 3 {
		t.Fatalf("expected 3 matched questions, got %d", res.MatchedQuestions)
	}
	if res.TotalQuestions != 5 {
		t.Fatalf("expected 5 total questions, got %d", res.TotalQuestions)
	}
	want := []float64{100, 100, 100, 50, 50}
	for i, w := range want {
		if res.QuestionScores[i] != w {
			t.Fatalf("question %d: expected %v, got %v", i, w, res.QuestionScores[i])
		}
	}
}

func TestAggregateThreeWaySplit(t *testing.T) {
	room := roomWithAnswers(map[string]map[int]int{
		"alice": {0: 0},
		"bob":   {0: 1},
		"carol": {0: 2},
	})
	if got := LargestGroup(room, 0); got != 1 {
		t.Fatalf("expected largest group 1, got %d", got)
	}
	res := Aggregate(room, 1)
	if math.Abs(res.QuestionScores[0]-100.0/3) > 1e-9 {
		t.Fatalf("expected 33.33, got %v", res.QuestionScores[0])
	}
	if res.GlobalScore != 33 {
		t.Fatalf("expected rounded score 33, got %d", res.GlobalScore)
	}
	if res.MatchedQuestions != 0 {
		t.Fatalf("a three-way split matches nobody, got %d", res.MatchedQuestions)
	}
}

func TestAggregateMissingAnswersCountAgainst(t *testing.T) {
	room := roomWithAnswers(map[string]map[int]int{
		"alice": {0: 1},
		"bob":   {0: 1},
		"carol": {},
		"dave":  nil,
	})
	res := Aggregate(room, 1)
	if res.QuestionScores[0] != 50 {
		t.Fatalf("expected 2 of 4 = 50, got %v", res.QuestionScores[0])
	}
	if res.MatchedQuestions != 1 {
		t.Fatalf("expected 1 matched question, got %d", res.MatchedQuestions)
	}
}

func TestAggregateEmpty(t *testing.T) {
	res := Aggregate(Room{}, 5)
	if res.GlobalScore != 0 || res.MatchedQuestions != 0 {
		t.Fatalf("empty room should score zero, got %+v", res)
	}
	res = Aggregate(roomWithAnswers(map[string]map[int]int{"alice": {0: 0}}), 0)
	if res.GlobalScore != 0 || len(res.QuestionScores) != 0 {
		t.Fatalf("zero questions should score zero, got %+v", res)
	}
}

func TestAggregateIgnoresNamesAndOrder(t *testing.T) {
	base := map[string]map[int]int{
		"alice": {0: 0, 1: 2, 2: 1},
		"bob":   {0: 0, 1: 1, 2: 1},
		"carol": {0: 1, 1: 2, 2: 1},
	}
	want := Aggregate(roomWithAnswers(base), 3)

	renamed := map[string]map[int]int{}
	i := 0
	for _, a := range base {
		renamed[fmt.Sprintf("player%d", i)] = a
		i++
	}
	for run := 0; run < 20; run++ {
		got := Aggregate(roomWithAnswers(renamed), 3)
		if got.GlobalScore != want.GlobalScore || got.MatchedQuestions != want.MatchedQuestions {
			t.Fatalf("run %d: expected %d/%d, got %d/%d", run,
				want.GlobalScore, want.MatchedQuestions, got.GlobalScore, got.MatchedQuestions)
		}
	}
}

func TestAggregateIdempotent(t *testing.T) {
	room := roomWithAnswers(map[string]map[int]int{
		"alice": {0: 0, 1: 1},
		"bob":   {0: 0, 1: 0},
	})
	a := Aggregate(room, 2)
	b := Aggregate(room, 2)
	if a.GlobalScore != b.GlobalScore || a.MatchedQuestions != b.MatchedQuestions {
		t.Fatalf("aggregate is not idempotent: %+v vs %+v", a, b)
	}
}

func TestRoundHalfUp(t *testing.T) {
	cases := map[float64]int{0: 0, 49.5: 50, 66.66: 67, 33.33: 33, 83.5: 84, 100: 100}
	for in, want := range cases {
		if got := roundHalfUp(in); got != want {
			t.Fatalf("roundHalfUp(%v): expected %d, got %d", in, want, got)
		}
	}
}

func TestMajorityOption(t *testing.T) {
	room := roomWithAnswers(map[string]map[int]int{
		"alice": {0: 2},
		"bob":   {0: 1},
		"carol": {0: 2},
		"dave":  {0: 1, 1: 3},
	})
	if opt, ok := MajorityOption(room, 0); !ok || opt != 1 {
		t.Fatalf("tie should resolve to the lowest option, got %d (%v)", opt, ok)
	}
	if opt, ok := MajorityOption(room, 1); !ok || opt != 3 {
		t.Fatalf("expected option 3, got %d (%v)", opt, ok)
	}
	if _, ok := MajorityOption(room, 2); ok {
		t.Fatal("unanswered question should have no majority")
	}
}
