package gatewaysrv

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/abhisek/cefrquest/internal/curriculum"
	"github.com/abhisek/cefrquest/internal/gateway"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]apiError{"error": {Code: code, Message: message}})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleLogAttempt(w http.ResponseWriter, r *http.Request) {
	var p gateway.AttemptPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if p.Task == "" || p.Step == "" {
		respondError(w, http.StatusBadRequest, "invalid_body", "task and step are required")
		return
	}
	if _, err := curriculum.ParseLevel(p.Level); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_level", err.Error())
		return
	}
	if p.Score < 0 || p.Score > p.MaxScore {
		respondError(w, http.StatusBadRequest, "invalid_score", "score must be within 0..max_score")
		return
	}

	s.data.putAttempt(AttemptRecord{
		LearnerID:      r.Header.Get(gateway.HeaderLearnerID),
		AttemptPayload: p,
		ReceivedAt:     time.Now(),
	})
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSubmitStep(w http.ResponseWriter, r *http.Request) {
	var p gateway.StepPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	level, err := curriculum.ParseLevel(p.Level)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_level", err.Error())
		return
	}
	step, _, err := s.cur.StepByID(p.Step)
	if err != nil {
		respondError(w, http.StatusNotFound, "unknown_step", err.Error())
		return
	}

	verdict := Evaluate(step, level, p.Scores)
	learnerID := r.Header.Get(gateway.HeaderLearnerID)
	verdict = s.data.putStep(r.Header.Get(gateway.HeaderIdempotencyKey), StepRecord{
		LearnerID:    learnerID,
		StepPayload:  p,
		StepResponse: verdict,
		ReceivedAt:   time.Now(),
	})
	s.log.Debug("step evaluated",
		zap.String("learner_id", learnerID),
		zap.String("step", p.Step),
		zap.Bool("passed", verdict.Passed),
		zap.Int("total", verdict.TotalScore))
	respondJSON(w, http.StatusOK, verdict)
}

func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.data.attemptsFor(r.Header.Get(gateway.HeaderLearnerID)))
}

func (s *Server) handleListSteps(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.data.stepsFor(r.Header.Get(gateway.HeaderLearnerID)))
}

// Evaluate sums the required task scores, each clamped to its task's
// maximum, and compares them to the level's threshold. Unknown and bonus
// tasks do not count.
func Evaluate(step *curriculum.StepDefinition, level curriculum.Level, scores map[string]int) gateway.StepResponse {
	total := 0
	for _, t := range step.RequiredTasks() {
		total += min(max(scores[t.ID], 0), t.MaxScore)
	}
	threshold := step.ThresholdFor(level)
	return gateway.StepResponse{
		Passed:     total >= threshold,
		TotalScore: total,
		Threshold:  threshold,
	}
}
