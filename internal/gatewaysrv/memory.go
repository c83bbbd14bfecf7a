package gatewaysrv

import (
	"sort"
	"sync"
	"time"

	"github.com/abhisek/cefrquest/internal/gateway"
)

// AttemptRecord is a stored attempt log entry.
type AttemptRecord struct {
	LearnerID string `json:"learner_id"`
	gateway.AttemptPayload
	ReceivedAt time.Time `json:"received_at"`
}

// StepRecord is a stored step submission with the server's verdict.
type StepRecord struct {
	LearnerID string `json:"learner_id"`
	gateway.StepPayload
	gateway.StepResponse
	ReceivedAt time.Time `json:"received_at"`
}

type attemptKey struct{ learner, step, task string }

type memory struct {
	mu       sync.RWMutex
	attempts map[attemptKey]AttemptRecord
	steps    []StepRecord
	seen     map[string]gateway.StepResponse // idempotency key -> verdict
}

func newMemory() *memory {
	return &memory{
		attempts: make(map[attemptKey]AttemptRecord),
		seen:     make(map[string]gateway.StepResponse),
	}
}

// putAttempt upserts by (learner, step, task).
func (m *memory) putAttempt(rec AttemptRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[attemptKey{rec.LearnerID, rec.Step, rec.Task}] = rec
}

func (m *memory) attemptsFor(learnerID string) []AttemptRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AttemptRecord
	for k, rec := range m.attempts {
		if k.learner == learnerID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Step != out[j].Step {
			return out[i].Step < out[j].Step
		}
		return out[i].Task < out[j].Task
	})
	return out
}

// putStep stores rec unless key was already submitted, in which case the
// original verdict is returned.
func (m *memory) putStep(key string, rec StepRecord) gateway.StepResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key != "" {
		if prev, ok := m.seen[key]; ok {
			return prev
		}
		m.seen[key] = rec.StepResponse
	}
	m.steps = append(m.steps, rec)
	return rec.StepResponse
}

func (m *memory) stepsFor(learnerID string) []StepRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []StepRecord
	for _, rec := range m.steps {
		if rec.LearnerID == learnerID {
			out = append(out, rec)
		}
	}
	return out
}
