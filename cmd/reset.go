package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Erase the learner's progress, legacy keys included",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		e, err := openEnv(cmd, envOptions{})
		if err != nil {
			return err
		}
		defer e.Close()

		if !yes {
			fmt.Printf("Erase all progress for learner %q? [y/N] ", e.learnerID)
			line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
			if a := strings.ToLower(strings.TrimSpace(line)); a != "y" && a != "yes" {
				fmt.Println("Aborted.")
				return nil
			}
		}

		ctx := cmd.Context()
		eng, err := e.engine(ctx, engineOptions{})
		if err != nil {
			return err
		}
		if err := eng.Reset(ctx); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		fmt.Printf("Learner %q starts again from the beginning.\n", e.learnerID)
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
}
