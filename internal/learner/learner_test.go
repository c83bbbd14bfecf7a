package learner

import (
	"testing"

	"github.com/abhisek/cefrquest/internal/curriculum"
)

func TestNewStateDefaults(t *testing.T) {
	s := NewState("l1")
	if s.Node != curriculum.Initial() {
		t.Errorf("node = %s, want initial", s.Node.Key())
	}
	if s.Level != curriculum.A1 {
		t.Errorf("level = %s, want A1", s.Level)
	}
	if s.Visit != 1 || s.VisitID == "" {
		t.Errorf("visit = %d/%q, want first visit with id", s.Visit, s.VisitID)
	}
}

func TestNewVisitDropsPending(t *testing.T) {
	s := NewState("l1")
	first := s.VisitID
	s.Pending["t1"] = Attempt{TaskID: "t1", VisitID: first}

	s.NewVisit()
	if s.VisitID == first {
		t.Fatal("expected a new visit id")
	}
	if s.Visit != 2 {
		t.Errorf("visit = %d, want 2", s.Visit)
	}
	if len(s.Pending) != 0 {
		t.Errorf("pending = %d, want 0", len(s.Pending))
	}
}

func TestLastResultPicksMostRecent(t *testing.T) {
	s := NewState("l1")
	key := curriculum.Remedial(curriculum.B1, 1).Key()
	s.Confirmed = []StepResult{
		{NodeKey: key, TotalScore: 2},
		{NodeKey: curriculum.Main(1, 1).Key(), TotalScore: 7},
		{NodeKey: key, TotalScore: 4},
	}
	r, ok := s.LastResult(key)
	if !ok || r.TotalScore != 4 {
		t.Fatalf("LastResult = %+v, %v", r, ok)
	}
	if _, ok := s.LastResult("complete"); ok {
		t.Error("expected no result for complete")
	}
}

func TestScores(t *testing.T) {
	r := StepResult{Attempts: []Attempt{{TaskID: "a", RawScore: 3}, {TaskID: "b", RawScore: 0}}}
	got := r.Scores()
	if got["a"] != 3 || got["b"] != 0 || len(got) != 2 {
		t.Errorf("Scores = %v", got)
	}
}
