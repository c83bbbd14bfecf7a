package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/cefrquest/internal/curriculum"
	"github.com/abhisek/cefrquest/internal/progression"
	"github.com/abhisek/cefrquest/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show where the learner is and what they have completed",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd, envOptions{})
		if err != nil {
			return err
		}
		defer e.Close()

		ctx := cmd.Context()
		eng, err := e.engine(ctx, engineOptions{})
		if err != nil {
			return err
		}
		st, err := eng.Snapshot()
		if err != nil {
			return err
		}

		fmt.Printf("Learner:   %s\n", st.LearnerID)
		fmt.Printf("Level:     %s\n", st.Level)
		fmt.Printf("Position:  %s\n", st.Node)

		step, _, err := eng.Step()
		switch {
		case errors.Is(err, progression.ErrTerminal):
			fmt.Println("Curriculum complete.")
		case err != nil:
			return err
		default:
			fmt.Printf("Step:      %s (%s)\n", stepTitle(step), step.ID)
			fmt.Printf("Pass mark: %d of %d\n", step.ThresholdFor(st.Level), step.RequiredMax())
			if err := printTasks(eng); err != nil {
				return err
			}
		}

		if n, err := e.store.OutboxRepo().Undelivered(ctx); err == nil && n > 0 {
			fmt.Printf("\n%d result(s) waiting to be sent to the results backend.\n", n)
		}

		if len(st.Confirmed) == 0 {
			return nil
		}
		fmt.Println()
		fmt.Printf("%-22s  %-18s  %5s  %9s  %s\n", "Step", "Position", "Score", "Threshold", "Result")
		fmt.Println(strings.Repeat("─", 70))
		for _, r := range st.Confirmed {
			node, _ := r.Node()
			result := "failed"
			if r.Passed {
				result = "passed"
			}
			fmt.Printf("%-22s  %-18s  %2d/%-2d  %9d  %s\n",
				r.StepID, node, r.TotalScore, r.MaxScore, r.Threshold, result)
		}
		return nil
	},
}

func printTasks(eng *session.Engine) error {
	tasks, err := eng.Tasks()
	if err != nil {
		return err
	}
	fmt.Println()
	for _, ts := range tasks {
		mark := " "
		score := ""
		if ts.Attempt != nil {
			mark = "✓"
			score = fmt.Sprintf("%d/%d", ts.Attempt.RawScore, ts.Attempt.MaxScore)
		}
		bonus := ""
		if ts.Task.Bonus {
			bonus = " (bonus)"
		}
		fmt.Printf("  [%s] %-28s %s%s\n", mark, taskTitle(ts.Task), score, bonus)
	}
	return nil
}

func stepTitle(s *curriculum.StepDefinition) string {
	if s.Title != "" {
		return s.Title
	}
	return s.ID
}

func taskTitle(t *curriculum.TaskDefinition) string {
	if t.Title != "" {
		return t.Title
	}
	return t.ID
}
