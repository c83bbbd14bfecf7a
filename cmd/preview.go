package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhisek/cefrquest/internal/aggregate"
	"github.com/abhisek/cefrquest/internal/curriculum"
	"github.com/abhisek/cefrquest/internal/learner"
	"github.com/abhisek/cefrquest/internal/scoring"
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Try a curriculum step in the terminal (no database)",
	Long: `Answer the tasks of one step on the command line and see how it would
be scored and decided.

This is a stateless authoring tool: no database, no progress, no remote
grading. Free-text answers are scored with the local rubric.`,
	RunE: runPreview,
}

func init() {
	previewCmd.Flags().String("step", "", "Step id (required)")
	previewCmd.Flags().String("level", string(curriculum.DefaultLevel), "CEFR level used for the pass mark")
	previewCmd.Flags().String("file", "", "Curriculum file (default: configured or built-in)")
	_ = previewCmd.MarkFlagRequired("step")
}

func runPreview(cmd *cobra.Command, args []string) error {
	stepID, _ := cmd.Flags().GetString("step")
	levelVal, _ := cmd.Flags().GetString("level")
	file, _ := cmd.Flags().GetString("file")

	level, err := curriculum.ParseLevel(levelVal)
	if err != nil {
		return err
	}
	if file == "" {
		if file, err = curriculumPath(cmd, nil); err != nil {
			return err
		}
	}
	cur, err := loadCurriculum(file)
	if err != nil {
		return err
	}
	step, node, err := cur.StepByID(stepID)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	policy := scoring.NewPolicy(nil, nil, nil)
	scanner := bufio.NewScanner(os.Stdin)

	fmt.Printf("Step: %s — %s (%s, level %s)\n", step.ID, stepTitle(step), node, level)
	fmt.Printf("Pass mark: %d of %d\n\n", step.ThresholdFor(level), step.RequiredMax())

	var attempts []learner.Attempt
	for ti := range step.Tasks {
		t := &step.Tasks[ti]
		fmt.Printf("── %s (%s) ──\n", taskTitle(t), t.Kind)
		if t.Instructions != "" {
			fmt.Println(t.Instructions)
		}

		answers := make(map[string]string)
		start := time.Now()
		for _, it := range t.Items {
			fmt.Println(it.Prompt)
			for j, c := range it.Choices {
				fmt.Printf("  %d) %s\n", j+1, c)
			}
			fmt.Print("> ")
			if !scanner.Scan() {
				fmt.Println("\n(input closed)")
				break
			}
			if a := strings.TrimSpace(scanner.Text()); a != "" {
				answers[it.ID] = a
			}
		}

		sub := scoring.Submission{TaskID: t.ID, Answers: answers, Level: level, Elapsed: time.Since(start)}
		res, err := policy.Score(ctx, t, sub)
		if err != nil {
			return fmt.Errorf("score %s: %w", t.ID, err)
		}
		for _, is := range res.Items {
			mark := "\033[32m✓\033[0m"
			if is.Score < is.Max {
				mark = "\033[31m✗\033[0m"
			}
			fmt.Printf("  %s %s %d/%d %s\n", mark, is.ItemID, is.Score, is.Max, is.Feedback)
		}
		fmt.Printf("  Task score: %d/%d\n\n", res.RawScore, res.MaxScore)

		attempts = append(attempts, learner.Attempt{
			AttemptID: fmt.Sprintf("preview-%d", ti+1),
			TaskID:    t.ID,
			StepID:    step.ID,
			NodeKey:   node.Key(),
			VisitID:   "preview",
			Answers:   answers,
			Bonus:     t.Bonus,
			RawScore:  res.RawScore,
			MaxScore:  res.MaxScore,
			ScoredBy:  res.ScoredBy,
			Items:     res.Items,
			Timestamp: time.Now(),
		})
	}

	res, err := aggregate.Compute(aggregate.Input{
		Step:      step,
		Node:      node,
		Level:     level,
		VisitID:   "preview",
		Attempts:  attempts,
		DecidedAt: time.Now(),
	})
	if err != nil {
		return err
	}
	verdict := "\033[31mfailed\033[0m"
	if res.Passed {
		verdict = "\033[32mpassed\033[0m"
	}
	fmt.Printf("── Summary: %d/%d (bonus %d/%d), threshold %d: %s ──\n",
		res.TotalScore, res.MaxScore, res.BonusScore, res.BonusMaxScore, res.Threshold, verdict)
	return nil
}
