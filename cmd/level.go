package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/cefrquest/internal/curriculum"
)

var levelCmd = &cobra.Command{
	Use:   "level [A1|A2|B1|B2|C1]",
	Short: "Show or change the learner's CEFR level",
	Long: `Without an argument, prints the learner's level. With one, changes it.

The new level applies to the current step from a fresh start: attempts
already made on it are discarded.`,
	Args: cobra.MaximumNArgs(1),
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
		if len(args) == 0 {
			fmt.Println(st.Level)
			return nil
		}

		level, err := curriculum.ParseLevel(args[0])
		if err != nil {
			return err
		}
		if level == st.Level {
			fmt.Printf("Already at %s.\n", level)
			return nil
		}
		if err := eng.SetLevel(ctx, level); err != nil {
			return err
		}
		fmt.Printf("Level changed from %s to %s.\n", st.Level, level)
		return nil
	},
}
