package play

import (
	"fmt"
	"strings"
	"time"

	"charm.land/lipgloss/v2"

	"github.com/abhisek/cefrquest/internal/task"
	"github.com/abhisek/cefrquest/internal/ui/components"
	"github.com/abhisek/cefrquest/internal/ui/layout"
	"github.com/abhisek/cefrquest/internal/ui/theme"
)

func (s *Screen) View(width, height int) string {
	cw := components.ContentWidth(width)
	var body string
	switch {
	case s.errMsg != "":
		body = components.Panel(
			theme.Incorrect.Render("Something went wrong")+"\n\n"+
				theme.Body.Render(s.errMsg)+"\n\n"+
				theme.Hint.Render("Press any key to continue"), cw)
	case s.mode == modeComplete:
		body = s.renderComplete(cw)
	case s.mode == modeOutcome:
		body = s.renderOutcome(cw)
	case s.mode == modeBusy:
		body = components.Panel(theme.Subtitle.Render(s.busy), cw)
	case s.mode == modeTask:
		body = s.renderTask(cw)
	default:
		body = s.renderList(cw)
	}
	return components.Centered(body, width, height)
}

func (s *Screen) renderStatusLine(cw int) string {
	left := theme.Title.Render(s.node.String())
	if s.step != nil {
		left += theme.Subtitle.Render(fmt.Sprintf("  pass mark %d of %d at %s",
			s.step.ThresholdFor(s.level), s.step.RequiredMax(), s.level))
	}
	right := ""
	if rem := s.eng.StepRemaining(); rem > 0 {
		right = countdown("Step", rem)
	}
	gap := max(cw-lipgloss.Width(left)-lipgloss.Width(right), 1)
	return left + strings.Repeat(" ", gap) + right
}

func (s *Screen) renderList(cw int) string {
	var b strings.Builder
	b.WriteString(s.renderStatusLine(cw))
	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Foreground(theme.Border).Render(strings.Repeat("─", cw)))
	b.WriteString("\n\n")

	score, bonus := 0, 0
	for i, st := range s.tasks {
		marker := "  "
		style := theme.Unselected
		if i == s.cursor {
			marker = "› "
			style = theme.Selected
		}
		label := taskLabel(st.Task)
		if st.Task.Bonus {
			label += " (bonus)"
		}
		fmt.Fprintf(&b, "%s  %s\n", style.Render(fmt.Sprintf("%s%-34s", marker, label)), taskState(st.State, st.Attempt != nil))
		if st.Attempt != nil {
			if st.Task.Bonus {
				bonus += st.Attempt.RawScore
			} else {
				score += st.Attempt.RawScore
			}
		}
	}

	if s.step != nil {
		b.WriteString("\n")
		b.WriteString(components.ScoreBar{
			Score:     score,
			Max:       s.step.RequiredMax(),
			Threshold: s.step.ThresholdFor(s.level),
			Width:     cw - 2,
		}.View())
		if bonus > 0 {
			b.WriteString(theme.Subtitle.Render(fmt.Sprintf("  +%d bonus", bonus)))
		}
		b.WriteString("\n")
		if s.step.BatchGrading {
			b.WriteString(theme.Hint.Render("Answers on this step are scored together when you submit it."))
			b.WriteString("\n")
		}
	}
	if s.notice != "" {
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Foreground(theme.Accent).Render(s.notice))
	}
	return components.Panel(b.String(), cw)
}

func taskState(st task.State, attempted bool) string {
	switch {
	case st == task.Presenting:
		return lipgloss.NewStyle().Foreground(theme.Accent).Render("in progress")
	case attempted:
		return theme.Correct.Render("done")
	}
	return theme.Subtitle.Render("not started")
}

func (s *Screen) renderTask(cw int) string {
	t := s.task
	it := s.currentItem()
	if t == nil || it == nil {
		return ""
	}

	var b strings.Builder
	header := theme.Title.Render(taskLabel(t)) + theme.Subtitle.Render(fmt.Sprintf("  %s  item %d of %d", t.Kind, s.item+1, len(t.Items)))
	if r, err := s.eng.Runner(t.ID); err == nil {
		if rem := r.Remaining(); rem > 0 {
			header += "  " + countdown("Task", rem)
		}
	}
	b.WriteString(header)
	b.WriteString("\n")
	if t.Instructions != "" {
		b.WriteString(theme.Hint.Render(t.Instructions))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Width(cw - 4).Foreground(theme.Text).Bold(true).Render(it.Prompt))
	b.WriteString("\n\n")

	if len(it.Choices) > 0 {
		b.WriteString(s.choices.View())
		b.WriteString(theme.Hint.Render("Pick with 1-" + fmt.Sprint(len(it.Choices)) + " or arrows + Enter"))
	} else {
		b.WriteString("Answer: ")
		b.WriteString(s.input.View())
	}
	return components.Panel(b.String(), cw)
}

func (s *Screen) renderOutcome(cw int) string {
	out := s.outcome
	if out == nil {
		return ""
	}
	res := out.Result

	var b strings.Builder
	verdict := theme.Incorrect.Render("Not passed")
	if res.Passed {
		verdict = theme.Correct.Render("Passed")
	}
	b.WriteString(verdict)
	b.WriteString(theme.Subtitle.Render("  " + out.Decision.From.String()))
	b.WriteString("\n\n")

	b.WriteString(components.ScoreBar{Score: res.TotalScore, Max: res.MaxScore, Threshold: res.Threshold, Width: cw - 2}.View())
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s\n", theme.Subtitle.Render(fmt.Sprintf("Needed %d at %s", res.Threshold, res.Level)))
	if res.BonusMaxScore > 0 {
		fmt.Fprintf(&b, "%s\n", theme.Subtitle.Render(fmt.Sprintf("Bonus %d/%d", res.BonusScore, res.BonusMaxScore)))
	}
	b.WriteString("\n")

	next := out.Decision.Next
	switch {
	case next.IsTerminal():
		b.WriteString(theme.Body.Render("You have finished the course."))
	case out.Decision.ClearRemedial != "":
		b.WriteString(theme.Body.Render(fmt.Sprintf("The %s remedial track starts again from %s.", out.Decision.ClearRemedial, next)))
	default:
		b.WriteString(theme.Body.Render("Next: " + next.String()))
	}
	if s.notice != "" {
		b.WriteString("\n\n")
		b.WriteString(lipgloss.NewStyle().Foreground(theme.Accent).Render(s.notice))
	}
	return components.Panel(b.String(), cw)
}

func (s *Screen) renderComplete(cw int) string {
	msg := theme.Correct.Render("Course complete") + "\n\n" +
		theme.Body.Render("Every phase is passed. Your results have been recorded.") + "\n\n" +
		theme.Hint.Render("Use `cefrquest status` to review them.")
	return components.Panel(msg, cw)
}

func countdown(label string, rem time.Duration) string {
	style := theme.Timer
	if rem < 30*time.Second {
		style = theme.TimerLow
	}
	return style.Render(fmt.Sprintf("%s %s", label, layout.FormatRemaining(int(rem.Round(time.Second).Seconds()))))
}
