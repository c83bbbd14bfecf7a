// Package curriculum holds the declarative curriculum graph: phases of
// main-track steps, one remediation track per CEFR level, and the task
// definitions inside each step.
package curriculum

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// SupportedMajor is the curriculum format major version this build reads.
const SupportedMajor = "v1"

var (
	ErrUnknownNode = errors.New("unknown curriculum node")
	ErrUnknownTask = errors.New("unknown task")
)

// Phase is an ordered group of main-track steps.
type Phase struct {
	Title string           `yaml:"title"`
	Steps []StepDefinition `yaml:"steps"`
}

// RemedialTrack is the remediation path for one level.
type RemedialTrack struct {
	Level Level            `yaml:"level"`
	Title string           `yaml:"title,omitempty"`
	Steps []StepDefinition `yaml:"steps"`
}

// Curriculum is the full progression graph. Phase and step numbers are
// 1-based positions in the authored order.
type Curriculum struct {
	Version  string          `yaml:"version"`
	Title    string          `yaml:"title"`
	Phases   []Phase         `yaml:"phases"`
	Remedial []RemedialTrack `yaml:"remedial"`
}

// Default returns a fresh copy of the embedded curriculum.
func Default() (*Curriculum, error) {
	c, err := Parse(defaultYAML)
	if err != nil {
		return nil, fmt.Errorf("embedded curriculum: %w", err)
	}
	return c, nil
}

// Load reads and validates a curriculum file.
func Load(path string) (*Curriculum, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read curriculum: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes YAML, resolves derived values and validates the result.
func Parse(data []byte) (*Curriculum, error) {
	var c Curriculum
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode curriculum: %w", err)
	}
	c.resolve()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Curriculum) resolve() {
	for pi := range c.Phases {
		for si := range c.Phases[pi].Steps {
			c.Phases[pi].Steps[si].resolve()
		}
	}
	for ri := range c.Remedial {
		for si := range c.Remedial[ri].Steps {
			c.Remedial[ri].Steps[si].resolve()
		}
	}
}

// Step returns the step definition at n.
func (c *Curriculum) Step(n Node) (*StepDefinition, error) {
	switch n.Track {
	case TrackMain:
		if n.Phase < 1 || n.Phase > len(c.Phases) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNode, n.Key())
		}
		steps := c.Phases[n.Phase-1].Steps
		if n.Step < 1 || n.Step > len(steps) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNode, n.Key())
		}
		return &steps[n.Step-1], nil
	case TrackRemedial:
		tr, ok := c.Track(n.Level)
		if !ok || n.Step < 1 || n.Step > len(tr.Steps) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNode, n.Key())
		}
		return &tr.Steps[n.Step-1], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, n.Key())
	}
}

// StepByID finds a step by its authored id.
func (c *Curriculum) StepByID(id string) (*StepDefinition, Node, error) {
	for _, n := range c.Nodes() {
		s, err := c.Step(n)
		if err != nil {
			continue
		}
		if s.ID == id {
			return s, n, nil
		}
	}
	return nil, Node{}, fmt.Errorf("%w: step %q", ErrUnknownNode, id)
}

// Track returns the remediation track for level.
func (c *Curriculum) Track(level Level) (*RemedialTrack, bool) {
	for i := range c.Remedial {
		if c.Remedial[i].Level == level {
			return &c.Remedial[i], true
		}
	}
	return nil, false
}

// NextMain returns the main-track node after n, crossing into the next
// phase after its last step and to Complete after the final phase.
func (c *Curriculum) NextMain(n Node) Node {
	if n.Phase < 1 || n.Phase > len(c.Phases) {
		return Complete()
	}
	if n.Step < len(c.Phases[n.Phase-1].Steps) {
		return Main(n.Phase, n.Step+1)
	}
	if n.Phase < len(c.Phases) {
		return Main(n.Phase+1, 1)
	}
	return Complete()
}

// NextRemedial returns the remedial node after n, or false when n is the
// last step of its track.
func (c *Curriculum) NextRemedial(n Node) (Node, bool) {
	tr, ok := c.Track(n.Level)
	if !ok || n.Step >= len(tr.Steps) {
		return Node{}, false
	}
	return Remedial(n.Level, n.Step+1), true
}

// Nodes lists every step node, main track first, in traversal order.
func (c *Curriculum) Nodes() []Node {
	var out []Node
	for pi, p := range c.Phases {
		for si := range p.Steps {
			out = append(out, Main(pi+1, si+1))
		}
	}
	for _, l := range Levels {
		if tr, ok := c.Track(l); ok {
			for si := range tr.Steps {
				out = append(out, Remedial(l, si+1))
			}
		}
	}
	return out
}

// Validate checks structural integrity and returns every problem found.
func (c *Curriculum) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	v := c.Version
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	switch {
	case c.Version == "":
		add("version is required")
	case !semver.IsValid(v):
		add("version %q is not a semantic version", c.Version)
	case semver.Major(v) != SupportedMajor:
		add("version %q is not compatible with %s", c.Version, SupportedMajor)
	}

	if len(c.Phases) == 0 {
		add("at least one phase is required")
	}

	stepIDs := make(map[string]string)
	checkStep := func(where string, s *StepDefinition) {
		if s.ID == "" {
			add("%s: step id is required", where)
		} else if prev, dup := stepIDs[s.ID]; dup {
			add("%s: step id %q already used at %s", where, s.ID, prev)
		} else {
			stepIDs[s.ID] = where
		}
		for _, err := range validateStep(s) {
			add("%s (%s): %w", where, s.ID, err)
		}
	}

	for pi := range c.Phases {
		if len(c.Phases[pi].Steps) == 0 {
			add("phase %d has no steps", pi+1)
		}
		for si := range c.Phases[pi].Steps {
			checkStep(Main(pi+1, si+1).Key(), &c.Phases[pi].Steps[si])
		}
	}

	seen := make(map[Level]bool)
	for ri := range c.Remedial {
		tr := &c.Remedial[ri]
		if !tr.Level.Valid() {
			add("remedial track %d: unknown level %q", ri+1, tr.Level)
			continue
		}
		if seen[tr.Level] {
			add("remedial track for %s defined twice", tr.Level)
		}
		seen[tr.Level] = true
		if len(tr.Steps) == 0 {
			add("remedial track %s has no steps", tr.Level)
		}
		for si := range tr.Steps {
			checkStep(Remedial(tr.Level, si+1).Key(), &tr.Steps[si])
		}
	}
	for _, l := range Levels {
		if !seen[l] {
			add("no remedial track for level %s", l)
		}
	}

	return errors.Join(errs...)
}

func validateStep(s *StepDefinition) []error {
	var errs []error
	if len(s.RequiredTasks()) == 0 {
		errs = append(errs, errors.New("step needs at least one required task"))
	}
	for l := range s.Thresholds {
		if !l.Valid() {
			errs = append(errs, fmt.Errorf("threshold override for unknown level %q", l))
		}
	}
	required := s.RequiredMax()
	for _, l := range Levels {
		if th := s.ThresholdFor(l); th > required {
			errs = append(errs, fmt.Errorf("threshold %d for %s exceeds required max %d", th, l, required))
		}
	}

	taskIDs := make(map[string]bool)
	for ti := range s.Tasks {
		t := &s.Tasks[ti]
		if t.ID == "" {
			errs = append(errs, fmt.Errorf("task %d: id is required", ti+1))
		} else if taskIDs[t.ID] {
			errs = append(errs, fmt.Errorf("task id %q is duplicated", t.ID))
		}
		taskIDs[t.ID] = true

		if !t.Kind.Valid() {
			errs = append(errs, fmt.Errorf("task %s: unknown kind %q", t.ID, t.Kind))
		}
		if t.Grading != GradingLocal && t.Grading != GradingRemote {
			errs = append(errs, fmt.Errorf("task %s: unknown grading %q", t.ID, t.Grading))
		}
		if t.Kind == KindTimedQuiz && t.TimeLimit <= 0 {
			errs = append(errs, fmt.Errorf("task %s: timed-quiz needs a time_limit", t.ID))
		}
		if len(t.Items) == 0 {
			errs = append(errs, fmt.Errorf("task %s: no items", t.ID))
		}

		sum := 0
		itemIDs := make(map[string]bool)
		for ii, it := range t.Items {
			sum += it.Points
			if it.ID == "" {
				errs = append(errs, fmt.Errorf("task %s item %d: id is required", t.ID, ii+1))
			} else if itemIDs[it.ID] {
				errs = append(errs, fmt.Errorf("task %s: item id %q is duplicated", t.ID, it.ID))
			}
			itemIDs[it.ID] = true

			if t.Kind == KindFreeText {
				if len(it.Concepts) == 0 && t.Rubric.MinWords == 0 {
					errs = append(errs, fmt.Errorf("task %s item %s: free-text needs concepts or a min_words rubric", t.ID, it.ID))
				}
			} else if it.Answer == "" {
				errs = append(errs, fmt.Errorf("task %s item %s: answer is required", t.ID, it.ID))
			}
		}
		if t.MaxScore != sum {
			errs = append(errs, fmt.Errorf("task %s: max_score %d does not match item points %d", t.ID, t.MaxScore, sum))
		}
	}
	return errs
}
