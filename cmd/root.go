package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cefrquest",
	Short: "English practice that follows you through CEFR levels",
	Long: `cefrquest walks a learner through a staged English curriculum. Steps
that are passed move on; failed steps send the learner to a remedial
track for their CEFR level until it is cleared.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd)
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "Path to SQLite database file (overrides store.path and CEFRQUEST_DB)")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default $XDG_CONFIG_HOME/cefrquest/config.yaml)")
	rootCmd.PersistentFlags().String("learner", "", "Learner id (overrides learner.id)")

	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(levelCmd)
	rootCmd.AddCommand(curriculumCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(graderCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(legacyCmd)
	rootCmd.AddCommand(versionCmd)
}
