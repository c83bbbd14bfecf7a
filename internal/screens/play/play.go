// Package play is the screen where the learner works through the tasks
// of the current step.
package play

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/abhisek/cefrquest/internal/curriculum"
	"github.com/abhisek/cefrquest/internal/progression"
	"github.com/abhisek/cefrquest/internal/router"
	"github.com/abhisek/cefrquest/internal/screen"
	"github.com/abhisek/cefrquest/internal/session"
	"github.com/abhisek/cefrquest/internal/task"
	"github.com/abhisek/cefrquest/internal/ui/components"
	"github.com/abhisek/cefrquest/internal/ui/layout"
)

type mode int

const (
	modeList mode = iota
	modeTask
	modeBusy
	modeOutcome
	modeComplete
)

// Screen implements screen.Screen for the current step.
type Screen struct {
	ctx context.Context
	eng *session.Engine

	mode  mode
	step  *curriculum.StepDefinition
	node  curriculum.Node
	level curriculum.Level
	tasks []session.TaskStatus

	cursor int

	// Task being answered.
	task    *curriculum.TaskDefinition
	item    int
	input   components.AnswerInput
	choices components.ChoiceList

	outcome *session.Outcome
	notice  string
	errMsg  string
	busy    string
}

var (
	_ screen.Screen          = (*Screen)(nil)
	_ screen.KeyHintProvider = (*Screen)(nil)
	_ screen.EscapeHandler   = (*Screen)(nil)
)

// New returns the play screen for eng.
func New(ctx context.Context, eng *session.Engine) *Screen {
	return &Screen{ctx: ctx, eng: eng}
}

func (s *Screen) Init() tea.Cmd {
	s.reload()
	return tickCmd()
}

func (s *Screen) Title() string {
	switch s.mode {
	case modeOutcome:
		return "Step result"
	case modeComplete:
		return "Course complete"
	}
	if s.step != nil && s.step.Title != "" {
		return s.step.Title
	}
	return "Practice"
}

// HandlesEscape keeps Esc inside the screen while a task is open.
func (s *Screen) HandlesEscape() bool {
	return s.mode == modeTask || s.mode == modeBusy
}

func (s *Screen) KeyHints() []layout.KeyHint {
	switch s.mode {
	case modeTask:
		hints := []layout.KeyHint{
			{Key: "Enter", Description: "Next"},
			{Key: "Tab/Shift+Tab", Description: "Move"},
			{Key: "Esc", Description: "Back to tasks"},
		}
		if s.isLastItem() {
			hints[0].Description = "Finish task"
		}
		return hints
	case modeBusy:
		return []layout.KeyHint{{Key: "Ctrl+C", Description: "Quit"}}
	case modeOutcome:
		return []layout.KeyHint{
			{Key: "Enter", Description: "Continue"},
			{Key: "Esc", Description: "Home"},
		}
	case modeComplete:
		return []layout.KeyHint{{Key: "Esc", Description: "Home"}}
	}
	enter := "Start task"
	if st := s.selected(); st != nil {
		switch st.State {
		case task.Presenting:
			enter = "Resume"
		case task.Finalized, task.Scored:
			enter = "Retake"
		}
	}
	return []layout.KeyHint{
		{Key: "↑↓", Description: "Select"},
		{Key: "Enter", Description: enter},
		{Key: "S", Description: "Submit step"},
		{Key: "Esc", Description: "Home"},
	}
}

func (s *Screen) Update(msg tea.Msg) (screen.Screen, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return s, tickCmd()

	case EventMsg:
		return s.handleEvent(msg.Event)

	case taskSubmittedMsg:
		return s.handleTaskSubmitted(msg)

	case stepSubmittedMsg:
		return s.handleStepSubmitted(msg)

	case tea.KeyPressMsg:
		return s.handleKey(msg)
	}

	if s.mode == modeTask && !s.isChoiceItem() {
		var cmd tea.Cmd
		s.input, cmd = s.input.Update(msg)
		return s, cmd
	}
	return s, nil
}

// reload refreshes the step and task list from the engine.
func (s *Screen) reload() {
	step, node, err := s.eng.Step()
	s.node = node
	if errors.Is(err, progression.ErrTerminal) {
		s.mode = modeComplete
		s.step, s.tasks = nil, nil
		return
	}
	if err != nil {
		s.errMsg = err.Error()
		return
	}
	if s.step == nil || s.step.ID != step.ID {
		s.cursor = 0
	}
	s.step = step
	if st, err := s.eng.Snapshot(); err == nil {
		s.level = st.Level
	}
	tasks, err := s.eng.Tasks()
	if err != nil {
		s.errMsg = err.Error()
		return
	}
	s.tasks = tasks
	s.cursor = min(s.cursor, max(len(tasks)-1, 0))
	if s.mode != modeOutcome {
		s.mode = modeList
	}
}

func (s *Screen) selected() *session.TaskStatus {
	if s.cursor < 0 || s.cursor >= len(s.tasks) {
		return nil
	}
	return &s.tasks[s.cursor]
}

func (s *Screen) handleKey(msg tea.KeyPressMsg) (screen.Screen, tea.Cmd) {
	key := msg.String()

	if s.errMsg != "" {
		s.errMsg = ""
		s.reload()
		return s, nil
	}

	switch s.mode {
	case modeBusy:
		return s, nil
	case modeOutcome:
		switch key {
		case "enter", "space":
			s.outcome = nil
			s.mode = modeList
			s.notice = ""
			s.reload()
		case "esc":
			return s, popCmd
		}
		return s, nil
	case modeComplete:
		if key == "esc" || key == "enter" {
			return s, popCmd
		}
		return s, nil
	case modeTask:
		return s.handleTaskKey(msg)
	}

	switch key {
	case "up", "k":
		if s.cursor > 0 {
			s.cursor--
		}
	case "down", "j":
		if s.cursor < len(s.tasks)-1 {
			s.cursor++
		}
	case "enter":
		return s.openTask()
	case "s", "S":
		s.notice = ""
		s.mode = modeBusy
		s.busy = "Scoring the step..."
		return s, s.submitStepCmd()
	}
	return s, nil
}

// openTask resumes the selected task when it is still being presented,
// otherwise begins it, which replaces an earlier attempt on submission.
func (s *Screen) openTask() (screen.Screen, tea.Cmd) {
	st := s.selected()
	if st == nil {
		return s, nil
	}
	s.notice = ""
	if st.State != task.Presenting {
		if _, err := s.eng.BeginTask(st.Task.ID); err != nil {
			s.errMsg = err.Error()
			return s, nil
		}
	}
	s.task = st.Task
	s.item = 0
	s.mode = modeTask
	return s, s.loadItem()
}

func (s *Screen) currentItem() *curriculum.Item {
	if s.task == nil || s.item < 0 || s.item >= len(s.task.Items) {
		return nil
	}
	return &s.task.Items[s.item]
}

func (s *Screen) isChoiceItem() bool {
	it := s.currentItem()
	return it != nil && len(it.Choices) > 0
}

func (s *Screen) isLastItem() bool {
	return s.task != nil && s.item == len(s.task.Items)-1
}

// loadItem prepares the input for the current item from the draft.
func (s *Screen) loadItem() tea.Cmd {
	it := s.currentItem()
	if it == nil {
		return nil
	}
	var current string
	if r, err := s.eng.Runner(s.task.ID); err == nil {
		current = r.Draft()[it.ID]
	}
	if len(it.Choices) > 0 {
		s.choices = components.NewChoiceList(it.Choices, current)
		return nil
	}
	placeholder := "Type your answer"
	if s.task.Kind == curriculum.KindFreeText {
		placeholder = "Write a few sentences"
	}
	s.input = components.NewAnswerInput(placeholder, current, 60)
	return s.input.Init()
}

// saveItem stores the current input in the task draft. It reports false
// when the task is no longer open, which happens after a time limit.
func (s *Screen) saveItem() bool {
	it := s.currentItem()
	if it == nil {
		return false
	}
	value := s.input.Value()
	if len(it.Choices) > 0 {
		value = s.choices.Value()
	}
	if err := s.eng.SetAnswer(s.task.ID, it.ID, value); err != nil {
		s.leaveTask(fmt.Sprintf("%s is closed: %v", taskLabel(s.task), err))
		return false
	}
	return true
}

func (s *Screen) leaveTask(notice string) {
	s.notice = notice
	s.task = nil
	s.mode = modeList
	s.reload()
}

func (s *Screen) handleTaskKey(msg tea.KeyPressMsg) (screen.Screen, tea.Cmd) {
	switch msg.String() {
	case "esc":
		if s.saveItem() {
			s.leaveTask("")
		}
		return s, nil
	case "tab":
		if s.saveItem() && !s.isLastItem() {
			s.item++
			return s, s.loadItem()
		}
		return s, nil
	case "shift+tab":
		if s.saveItem() && s.item > 0 {
			s.item--
			return s, s.loadItem()
		}
		return s, nil
	case "enter":
		return s.advance()
	}

	if s.isChoiceItem() {
		var picked bool
		s.choices, picked = s.choices.Update(msg)
		if picked {
			return s.advance()
		}
		return s, nil
	}
	var cmd tea.Cmd
	s.input, cmd = s.input.Update(msg)
	return s, cmd
}

// advance saves the item and moves on. Past the last item the task is
// submitted, except on batch-graded steps where every task is scored
// together with the step.
func (s *Screen) advance() (screen.Screen, tea.Cmd) {
	if !s.saveItem() {
		return s, nil
	}
	if !s.isLastItem() {
		s.item++
		return s, s.loadItem()
	}
	if s.step != nil && s.step.BatchGrading {
		s.cursor = s.nextOpen(s.cursor)
		s.leaveTask(fmt.Sprintf("%s saved. It is scored when you submit the step.", taskLabel(s.task)))
		return s, nil
	}
	s.mode = modeBusy
	s.busy = "Scoring " + taskLabel(s.task) + "..."
	return s, s.submitTaskCmd(s.task.ID)
}

func (s *Screen) submitTaskCmd(taskID string) tea.Cmd {
	ctx, eng := s.ctx, s.eng
	return func() tea.Msg {
		a, err := eng.SubmitTask(ctx, taskID)
		return taskSubmittedMsg{TaskID: taskID, Attempt: a, Err: err}
	}
}

func (s *Screen) submitStepCmd() tea.Cmd {
	ctx, eng := s.ctx, s.eng
	return func() tea.Msg {
		out, err := eng.SubmitStep(ctx)
		return stepSubmittedMsg{Outcome: out, Err: err}
	}
}

func (s *Screen) handleTaskSubmitted(msg taskSubmittedMsg) (screen.Screen, tea.Cmd) {
	if s.mode == modeOutcome || s.mode == modeComplete {
		return s, nil
	}
	s.task = nil
	s.mode = modeList
	s.reload()
	if msg.Err != nil {
		s.errMsg = msg.Err.Error()
		return s, nil
	}
	s.notice = fmt.Sprintf("Scored %d/%d.", msg.Attempt.RawScore, msg.Attempt.MaxScore)
	s.cursor = s.nextOpen(s.cursor)
	if s.allRequiredDone() {
		s.notice += " Every task is done. Press S to submit the step."
	}
	return s, nil
}

func (s *Screen) handleStepSubmitted(msg stepSubmittedMsg) (screen.Screen, tea.Cmd) {
	if msg.Err != nil {
		s.mode = modeList
		s.reload()
		if errors.Is(msg.Err, session.ErrStepIncomplete) {
			s.notice = "Finish every required task before submitting the step."
			return s, nil
		}
		s.errMsg = msg.Err.Error()
		return s, nil
	}
	s.showOutcome(msg.Outcome, "")
	return s, nil
}

func (s *Screen) showOutcome(out *session.Outcome, notice string) {
	s.outcome = out
	s.task = nil
	s.notice = notice
	s.mode = modeOutcome
}

// handleEvent reacts to time limits the engine enforced on its own.
func (s *Screen) handleEvent(ev session.Event) (screen.Screen, tea.Cmd) {
	switch ev.Kind {
	case session.EventStepExpired:
		if ev.Err != nil || ev.Outcome == nil {
			s.mode = modeList
			s.reload()
			if ev.Err != nil {
				s.errMsg = ev.Err.Error()
			}
			return s, nil
		}
		s.showOutcome(ev.Outcome, "Time is up for this step. Unanswered tasks scored zero.")
	case session.EventTaskExpired:
		if s.mode == modeOutcome || s.mode == modeComplete {
			return s, nil
		}
		notice := fmt.Sprintf("Time is up for %s. Scored %d/%d.", ev.Token.TaskID, ev.Attempt.RawScore, ev.Attempt.MaxScore)
		if ev.Err != nil {
			notice = fmt.Sprintf("Time is up for %s: %v", ev.Token.TaskID, ev.Err)
		}
		if s.mode == modeTask && s.task != nil && s.task.ID == ev.Token.TaskID {
			s.leaveTask(notice)
			return s, nil
		}
		if s.mode == modeList {
			s.reload()
			s.notice = notice
		}
	}
	return s, nil
}

// nextOpen returns the first task after from that has no attempt yet,
// wrapping around, or from when there is none.
func (s *Screen) nextOpen(from int) int {
	n := len(s.tasks)
	for i := 1; i <= n; i++ {
		j := (from + i) % n
		if s.tasks[j].Attempt == nil && s.tasks[j].State != task.Presenting {
			return j
		}
	}
	return from
}

func (s *Screen) allRequiredDone() bool {
	for _, t := range s.tasks {
		if !t.Task.Bonus && t.Attempt == nil {
			return false
		}
	}
	return len(s.tasks) > 0
}

func popCmd() tea.Msg { return router.PopScreenMsg{} }

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func taskLabel(t *curriculum.TaskDefinition) string {
	if t.Title != "" {
		return t.Title
	}
	return t.ID
}
