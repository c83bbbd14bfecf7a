package llm

import (
	"math"
	"testing"
)

func TestLookupCost(t *testing.T) {
	c := LookupCost("gpt-4o-mini")
	if c == nil {
		t.Fatal("expected pricing for gpt-4o-mini")
	}
	got := c.Cost(1_000_000, 500_000)
	if math.Abs(got-0.45) > 1e-9 {
		t.Fatalf("Cost = %v, want 0.45", got)
	}
	if LookupCost("mock") != nil {
		t.Fatal("expected no pricing for mock")
	}
}

func TestShortNamesArePriced(t *testing.T) {
	for short, id := range modelAliases {
		if LookupCost(id) == nil {
			t.Errorf("%s -> %s has no pricing", short, id)
		}
	}
}
