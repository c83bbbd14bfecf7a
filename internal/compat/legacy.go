package compat

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/abhisek/cefrquest/internal/curriculum"
	"github.com/abhisek/cefrquest/internal/learner"
	"github.com/abhisek/cefrquest/internal/store"
)

// Legacy reads and writes one learner's legacy keys in a KV namespace.
type Legacy struct {
	kv     store.KV
	prefix string
	cur    *curriculum.Curriculum
}

// New scopes kv to learnerID.
func New(kv store.KV, cur *curriculum.Curriculum, learnerID string) *Legacy {
	return &Legacy{kv: kv, cur: cur, prefix: learnerID + ":"}
}

// Mirror writes a confirmed step result as legacy keys.
func (l *Legacy) Mirror(ctx context.Context, res learner.StepResult) error {
	node, err := res.Node()
	if err != nil {
		return fmt.Errorf("mirror: %w", err)
	}
	step, err := l.cur.Step(node)
	if err != nil {
		return fmt.Errorf("mirror: %w", err)
	}

	scores := res.Scores()
	for i := range step.Tasks {
		score, ok := scores[step.Tasks[i].ID]
		if !ok {
			continue
		}
		if err := l.set(ctx, TaskKey(node, i+1), strconv.Itoa(score)); err != nil {
			return err
		}
	}
	if err := l.set(ctx, TotalKey(node), strconv.Itoa(res.TotalScore)); err != nil {
		return err
	}
	return l.set(ctx, PassedKey(node), strconv.FormatBool(res.Passed))
}

// ClearLevel removes the remedial keys of level, matching the confirmed
// results dropped when a remedial step is failed.
func (l *Legacy) ClearLevel(ctx context.Context, level curriculum.Level) error {
	keys, err := l.Keys(ctx)
	if err != nil {
		return err
	}
	var drop []string
	for _, k := range keys {
		if k.Node.Track == curriculum.TrackRemedial && k.Node.Level == level {
			drop = append(drop, l.prefix+k.String())
		}
	}
	return l.kv.Delete(ctx, drop...)
}

// Clear removes every key of the learner.
func (l *Legacy) Clear(ctx context.Context) error {
	raw, err := l.kv.Keys(ctx, l.prefix)
	if err != nil {
		return fmt.Errorf("list legacy keys: %w", err)
	}
	return l.kv.Delete(ctx, raw...)
}

// Keys lists the learner's parseable keys. Foreign keys in the namespace
// are skipped.
func (l *Legacy) Keys(ctx context.Context) ([]Key, error) {
	raw, err := l.kv.Keys(ctx, l.prefix)
	if err != nil {
		return nil, fmt.Errorf("list legacy keys: %w", err)
	}
	var out []Key
	for _, r := range raw {
		k, err := ParseKey(strings.TrimPrefix(r, l.prefix))
		if err != nil {
			continue
		}
		out = append(out, k)
	}
	return out, nil
}

// Export returns the learner's keys and values without the scope prefix.
func (l *Legacy) Export(ctx context.Context) (map[string]string, error) {
	keys, err := l.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v, ok, err := l.kv.Get(ctx, l.prefix+k.String())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", k, err)
		}
		if ok {
			out[k.String()] = v
		}
	}
	return out, nil
}

// Write stores unscoped key/value pairs, rejecting unparseable keys.
func (l *Legacy) Write(ctx context.Context, values map[string]string) error {
	for key, v := range values {
		k, err := ParseKey(key)
		if err != nil {
			return err
		}
		if err := l.set(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

// Import rebuilds step results from the learner's keys. Only steps with
// a passed flag and a score for every required task are returned, in
// curriculum order. Attempts are tagged as locally scored with
// deterministic ids so importing twice yields the same records.
func (l *Legacy) Import(ctx context.Context, learnerID, visitID string) ([]learner.StepResult, error) {
	values, err := l.Export(ctx)
	if err != nil {
		return nil, err
	}

	var out []learner.StepResult
	for _, node := range l.cur.Nodes() {
		passedRaw, ok := values[PassedKey(node).String()]
		if !ok {
			continue
		}
		passed, err := strconv.ParseBool(passedRaw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", PassedKey(node), err)
		}
		step, _ := l.cur.Step(node)
		res, ok, err := l.rebuild(node, step, values, learnerID, visitID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		res.Passed = passed
		out = append(out, res)
	}
	return out, nil
}

func (l *Legacy) rebuild(node curriculum.Node, step *curriculum.StepDefinition, values map[string]string, learnerID, visitID string) (learner.StepResult, bool, error) {
	level := node.Level
	if level == "" {
		level = curriculum.DefaultLevel
	}
	res := learner.StepResult{
		StepID:        step.ID,
		NodeKey:       node.Key(),
		Level:         level,
		VisitID:       visitID,
		MaxScore:      step.RequiredMax(),
		BonusMaxScore: step.BonusMax(),
		Threshold:     step.ThresholdFor(level),
	}
	for i := range step.Tasks {
		t := &step.Tasks[i]
		key := TaskKey(node, i+1)
		raw, ok := values[key.String()]
		if !ok {
			if t.Bonus {
				continue
			}
			return learner.StepResult{}, false, nil
		}
		score, err := strconv.Atoi(raw)
		if err != nil {
			return learner.StepResult{}, false, fmt.Errorf("%s: %w", key, err)
		}
		score = min(max(score, 0), t.MaxScore)
		res.Attempts = append(res.Attempts, learner.Attempt{
			AttemptID: "legacy/" + learnerID + "/" + key.String(),
			LearnerID: learnerID,
			TaskID:    t.ID,
			StepID:    step.ID,
			NodeKey:   node.Key(),
			VisitID:   visitID,
			Bonus:     t.Bonus,
			RawScore:  score,
			MaxScore:  t.MaxScore,
			ScoredBy:  learner.ScoredByLocal,
		})
		if t.Bonus {
			res.BonusScore += score
		} else {
			res.TotalScore += score
		}
	}
	return res, true, nil
}

func (l *Legacy) set(ctx context.Context, k Key, v string) error {
	if err := l.kv.Set(ctx, l.prefix+k.String(), v); err != nil {
		return fmt.Errorf("write %s: %w", k, err)
	}
	return nil
}

// SortedKeys returns the keys of m in order, for stable output.
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
