package curriculum

import (
	"strings"
	"testing"
)

func TestDefaultLoads(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if len(c.Phases) != 2 {
		t.Fatalf("phases = %d, want 2", len(c.Phases))
	}
	for _, l := range Levels {
		if _, ok := c.Track(l); !ok {
			t.Errorf("missing remedial track for %s", l)
		}
	}
}

func TestThresholdResolution(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}

	greet, err := c.Step(Main(1, 1))
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if got := greet.RequiredMax(); got != 8 {
		t.Errorf("greetings required max = %d, want 8", got)
	}
	if got := greet.BonusMax(); got != 2 {
		t.Errorf("greetings bonus max = %d, want 2", got)
	}

	routine, err := c.Step(Main(1, 2))
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	tests := []struct {
		level Level
		want  int
	}{
		{A1, 5}, // 75% of 6 rounds up
		{B1, 5},
		{B2, 6},
		{C1, 6},
	}
	for _, tt := range tests {
		if got := routine.ThresholdFor(tt.level); got != tt.want {
			t.Errorf("ThresholdFor(%s) = %d, want %d", tt.level, got, tt.want)
		}
	}
}

func TestParseThreshold(t *testing.T) {
	tests := []struct {
		in      string
		max     int
		want    int
		wantErr bool
	}{
		{"6", 8, 6, false},
		{"75%", 8, 6, false},
		{"75%", 6, 5, false},
		{"100%", 7, 7, false},
		{"0%", 7, 0, false},
		{" 50 % ", 3, 2, false},
		{"101%", 8, 0, true},
		{"-1", 8, 0, true},
		{"abc", 8, 0, true},
	}
	for _, tt := range tests {
		th, err := ParseThreshold(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseThreshold(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseThreshold(%q): %v", tt.in, err)
			continue
		}
		if got := th.Resolve(tt.max); got != tt.want {
			t.Errorf("ParseThreshold(%q).Resolve(%d) = %d, want %d", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestNavigation(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}

	if got := c.NextMain(Main(1, 1)); got != Main(1, 2) {
		t.Errorf("NextMain(p1s1) = %s", got.Key())
	}
	if got := c.NextMain(Main(1, 2)); got != Main(2, 1) {
		t.Errorf("NextMain(p1s2) = %s, want phase crossover", got.Key())
	}
	if got := c.NextMain(Main(2, 1)); !got.IsTerminal() {
		t.Errorf("NextMain(last) = %s, want complete", got.Key())
	}

	next, ok := c.NextRemedial(Remedial(B1, 1))
	if !ok || next != Remedial(B1, 2) {
		t.Errorf("NextRemedial(B1 s1) = %s, %v", next.Key(), ok)
	}
	if _, ok := c.NextRemedial(Remedial(B1, 2)); ok {
		t.Error("NextRemedial on last remedial step should report false")
	}

	if _, err := c.Step(Main(9, 1)); err == nil {
		t.Error("expected error for unknown node")
	}
}

func TestStepByID(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}

	s, n, err := c.StepByID("p1-routine")
	if err != nil {
		t.Fatalf("StepByID: %v", err)
	}
	if n != Main(1, 2) || s.ID != "p1-routine" {
		t.Errorf("StepByID(p1-routine) = %s at %s", s.ID, n.Key())
	}
	if _, _, err := c.StepByID("nope"); err == nil {
		t.Error("expected error for unknown step id")
	}
}

func TestNodeKeyRoundTrip(t *testing.T) {
	nodes := []Node{Main(1, 1), Main(3, 12), Remedial(C1, 2), Complete()}
	for _, n := range nodes {
		got, err := ParseNodeKey(n.Key())
		if err != nil {
			t.Fatalf("ParseNodeKey(%q): %v", n.Key(), err)
		}
		if got != n {
			t.Errorf("round trip %q = %+v, want %+v", n.Key(), got, n)
		}
	}

	for _, bad := range []string{"", "main/p0/s1", "remedial/Z9/s1", "side/p1/s1", "main/p1"} {
		if _, err := ParseNodeKey(bad); err == nil {
			t.Errorf("ParseNodeKey(%q) expected error", bad)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	base := `
version: 1.0.0
phases:
  - steps:
      - id: s1
        threshold: %s
        tasks:
          - id: t1
            kind: fill-blank
            items:
              - { id: a, prompt: "x", answer: "y" }
remedial:
`
	levels := ""
	for i, l := range Levels {
		levels += "  - level: " + string(l) + "\n    steps:\n      - id: r" + string(rune('a'+i)) +
			"\n        threshold: 1\n        tasks:\n          - id: t\n            kind: fill-blank\n            items:\n              - { id: a, prompt: x, answer: y }\n"
	}

	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"ok", strings.Replace(base, "%s", "1", 1) + levels, ""},
		{"unreachable threshold", strings.Replace(base, "%s", "2", 1) + levels, "exceeds required max"},
		{"missing remedial", strings.Replace(base, "%s", "1", 1), "no remedial track"},
		{"incompatible version", strings.Replace(strings.Replace(base, "%s", "1", 1), "1.0.0", "2.0.0", 1) + levels, "not compatible"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
