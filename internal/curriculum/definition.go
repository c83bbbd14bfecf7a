package curriculum

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TaskKind is the presentation/scoring family of a task.
type TaskKind string

const (
	KindMatching  TaskKind = "matching"
	KindFillBlank TaskKind = "fill-blank"
	KindTimedQuiz TaskKind = "timed-quiz"
	KindFreeText  TaskKind = "free-text"
)

// Valid reports whether k is a known kind.
func (k TaskKind) Valid() bool {
	switch k {
	case KindMatching, KindFillBlank, KindTimedQuiz, KindFreeText:
		return true
	}
	return false
}

// Grading selects which scorer is authoritative for a task.
type Grading string

const (
	GradingLocal  Grading = "local"
	GradingRemote Grading = "remote"
)

// Item is one scorable unit inside a task: a pair to match, a blank to
// fill, a quiz question or a free-text prompt.
type Item struct {
	ID     string `yaml:"id"`
	Prompt string `yaml:"prompt"`

	// Answer is the expected answer. Accept lists alternates that are
	// also marked correct.
	Answer string   `yaml:"answer,omitempty"`
	Accept []string `yaml:"accept,omitempty"`

	// Choices, when set, lets the learner answer by 1-based index.
	Choices []string `yaml:"choices,omitempty"`

	// Concepts are the ideas a free-text answer is expected to mention.
	Concepts []string `yaml:"concepts,omitempty"`

	Points int `yaml:"points,omitempty"`
}

// Rubric parameterizes local free-text scoring.
type Rubric struct {
	MinConcepts     int  `yaml:"min_concepts,omitempty"`
	RequireContrast bool `yaml:"require_contrast,omitempty"`
	MinWords        int  `yaml:"min_words,omitempty"`
	CaseSensitive   bool `yaml:"case_sensitive,omitempty"`
}

// TaskDefinition is the immutable description of one scored task.
type TaskDefinition struct {
	ID           string        `yaml:"id"`
	Kind         TaskKind      `yaml:"kind"`
	Title        string        `yaml:"title,omitempty"`
	Instructions string        `yaml:"instructions,omitempty"`
	MaxScore     int           `yaml:"max_score,omitempty"`
	Items        []Item        `yaml:"items"`
	Rubric       Rubric        `yaml:"rubric,omitempty"`
	TimeLimit    time.Duration `yaml:"time_limit,omitempty"`
	Bonus        bool          `yaml:"bonus,omitempty"`
	Grading      Grading       `yaml:"grading,omitempty"`
}

// Item returns the item with the given id.
func (t *TaskDefinition) Item(id string) (*Item, bool) {
	for i := range t.Items {
		if t.Items[i].ID == id {
			return &t.Items[i], true
		}
	}
	return nil, false
}

// Threshold is a pass mark written either as absolute points ("6") or as
// a percentage of the step's required maximum ("75%").
type Threshold struct {
	Points    int
	Percent   int
	IsPercent bool
}

// UnmarshalYAML accepts an integer or an "N%" scalar.
func (t *Threshold) UnmarshalYAML(n *yaml.Node) error {
	parsed, err := ParseThreshold(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*t = parsed
	return nil
}

// MarshalYAML writes the threshold back in its authored form.
func (t Threshold) MarshalYAML() (any, error) {
	return t.String(), nil
}

// ParseThreshold parses "6" or "75%".
func ParseThreshold(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if pct, ok := strings.CutSuffix(s, "%"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(pct))
		if err != nil || n < 0 || n > 100 {
			return Threshold{}, fmt.Errorf("invalid percent threshold %q", s)
		}
		return Threshold{Percent: n, IsPercent: true}, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return Threshold{}, fmt.Errorf("invalid threshold %q", s)
	}
	return Threshold{Points: n}, nil
}

// Resolve converts the threshold to absolute points against max.
// Percentages round up so that "75%" of 6 requires 5, not 4.
func (t Threshold) Resolve(max int) int {
	if t.IsPercent {
		return (t.Percent*max + 99) / 100
	}
	return t.Points
}

func (t Threshold) String() string {
	if t.IsPercent {
		return fmt.Sprintf("%d%%", t.Percent)
	}
	return strconv.Itoa(t.Points)
}

// StepDefinition groups the tasks that are aggregated into one pass/fail
// decision.
type StepDefinition struct {
	ID           string              `yaml:"id"`
	Title        string              `yaml:"title,omitempty"`
	Tasks        []TaskDefinition    `yaml:"tasks"`
	Threshold    Threshold           `yaml:"threshold"`
	Thresholds   map[Level]Threshold `yaml:"thresholds,omitempty"`
	TimeLimit    time.Duration       `yaml:"time_limit,omitempty"`
	BatchGrading bool                `yaml:"batch_grading,omitempty"`

	resolved map[Level]int
}

// Task returns the task with the given id.
func (s *StepDefinition) Task(id string) (*TaskDefinition, bool) {
	for i := range s.Tasks {
		if s.Tasks[i].ID == id {
			return &s.Tasks[i], true
		}
	}
	return nil, false
}

// RequiredTasks returns the non-bonus tasks in authored order.
func (s *StepDefinition) RequiredTasks() []*TaskDefinition {
	var out []*TaskDefinition
	for i := range s.Tasks {
		if !s.Tasks[i].Bonus {
			out = append(out, &s.Tasks[i])
		}
	}
	return out
}

// RequiredMax is the sum of MaxScore over required tasks.
func (s *StepDefinition) RequiredMax() int {
	total := 0
	for _, t := range s.RequiredTasks() {
		total += t.MaxScore
	}
	return total
}

// BonusMax is the sum of MaxScore over bonus tasks.
func (s *StepDefinition) BonusMax() int {
	total := 0
	for i := range s.Tasks {
		if s.Tasks[i].Bonus {
			total += s.Tasks[i].MaxScore
		}
	}
	return total
}

// ThresholdFor returns the absolute pass mark for a learner at level.
// Level overrides win over the step default.
func (s *StepDefinition) ThresholdFor(level Level) int {
	if v, ok := s.resolved[level]; ok {
		return v
	}
	if t, ok := s.Thresholds[level]; ok {
		return t.Resolve(s.RequiredMax())
	}
	return s.Threshold.Resolve(s.RequiredMax())
}

// resolve fills in derived values: item points, task max scores, default
// grading and the per-level absolute thresholds.
func (s *StepDefinition) resolve() {
	for ti := range s.Tasks {
		t := &s.Tasks[ti]
		sum := 0
		for ii := range t.Items {
			if t.Items[ii].Points == 0 {
				t.Items[ii].Points = 1
			}
			sum += t.Items[ii].Points
		}
		if t.MaxScore == 0 {
			t.MaxScore = sum
		}
		if t.Grading == "" {
			if t.Kind == KindFreeText {
				t.Grading = GradingRemote
			} else {
				t.Grading = GradingLocal
			}
		}
	}

	required := s.RequiredMax()
	s.resolved = make(map[Level]int, len(Levels))
	for _, l := range Levels {
		t := s.Threshold
		if o, ok := s.Thresholds[l]; ok {
			t = o
		}
		s.resolved[l] = t.Resolve(required)
	}
}
