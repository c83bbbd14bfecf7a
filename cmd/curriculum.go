package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/cefrquest/internal/config"
	"github.com/abhisek/cefrquest/internal/curriculum"
)

var curriculumCmd = &cobra.Command{
	Use:   "curriculum",
	Short: "Inspect and check curriculum files",
}

var curriculumValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Check a curriculum file and report every problem",
	Long: `Parses and validates a curriculum file. Without an argument, checks
the configured curriculum (or the built-in one).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := curriculumPath(cmd, args)
		if err != nil {
			return err
		}
		c, err := loadCurriculum(path)
		if err != nil {
			var joined interface{ Unwrap() []error }
			if errors.As(err, &joined) {
				for _, e := range joined.Unwrap() {
					fmt.Println("  ✗", e)
				}
				return fmt.Errorf("%d problem(s) found", len(joined.Unwrap()))
			}
			return err
		}

		steps := 0
		for _, p := range c.Phases {
			steps += len(p.Steps)
		}
		name := path
		if name == "" {
			name = "built-in curriculum"
		}
		fmt.Printf("✓ %s: version %s, %d phase(s), %d main step(s), %d remedial track(s)\n",
			name, c.Version, len(c.Phases), steps, len(c.Remedial))
		return nil
	},
}

var curriculumShowCmd = &cobra.Command{
	Use:   "show [file]",
	Short: "Print the curriculum graph with pass marks per level",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := curriculumPath(cmd, args)
		if err != nil {
			return err
		}
		c, err := loadCurriculum(path)
		if err != nil {
			return err
		}

		fmt.Printf("%s (version %s)\n\n", c.Title, c.Version)
		for pi, p := range c.Phases {
			fmt.Printf("Phase %d: %s\n", pi+1, p.Title)
			for si := range p.Steps {
				printStep(curriculum.Main(pi+1, si+1), &p.Steps[si])
			}
			fmt.Println()
		}
		for _, tr := range c.Remedial {
			title := tr.Title
			if title == "" {
				title = string(tr.Level) + " remediation"
			}
			fmt.Printf("Remedial %s: %s\n", tr.Level, title)
			for si := range tr.Steps {
				printStep(curriculum.Remedial(tr.Level, si+1), &tr.Steps[si])
			}
			fmt.Println()
		}
		return nil
	},
}

func printStep(n curriculum.Node, s *curriculum.StepDefinition) {
	var marks []string
	for _, l := range curriculum.Levels {
		marks = append(marks, fmt.Sprintf("%s:%d", l, s.ThresholdFor(l)))
	}
	extra := ""
	if s.TimeLimit > 0 {
		extra += " timed " + s.TimeLimit.String()
	}
	if s.BatchGrading {
		extra += " batch"
	}
	fmt.Printf("  %-16s %-24s max %-3d pass %s%s\n", n.Key(), s.ID, s.RequiredMax(), strings.Join(marks, " "), extra)
	for _, t := range s.Tasks {
		flags := string(t.Kind)
		if t.Bonus {
			flags += ", bonus"
		}
		if t.Grading == curriculum.GradingRemote {
			flags += ", remote"
		}
		fmt.Printf("      %-22s %2d pt  %s\n", t.ID, t.MaxScore, flags)
	}
}

// curriculumPath prefers the argument, then curriculum.path from config.
// An empty result selects the built-in curriculum.
func curriculumPath(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return "", err
	}
	return cfg.Curriculum.Path, nil
}

func init() {
	curriculumCmd.AddCommand(curriculumValidateCmd)
	curriculumCmd.AddCommand(curriculumShowCmd)
}
