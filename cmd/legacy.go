package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/abhisek/cefrquest/internal/compat"
)

var legacyCmd = &cobra.Command{
	Use:   "legacy",
	Short: "Work with the flat key/value progress format",
}

var legacyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the learner's legacy keys as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd, envOptions{})
		if err != nil {
			return err
		}
		defer e.Close()

		l, err := e.legacy(cmd.Context())
		if err != nil {
			return err
		}
		if l == nil {
			return errors.New("legacy.backend is none")
		}
		values, err := l.Export(cmd.Context())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		ordered := make([]struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}, 0, len(values))
		for _, k := range compat.SortedKeys(values) {
			ordered = append(ordered, struct {
				Key   string `json:"key"`
				Value string `json:"value"`
			}{k, values[k]})
		}
		return enc.Encode(ordered)
	},
}

var legacyLoadCmd = &cobra.Command{
	Use:   "load <file.json>",
	Short: "Write legacy keys from a JSON object into the mirror",
	Long: `Reads a JSON object of key to value and writes it into the legacy
store. Run "legacy import" afterwards to rebuild progress from it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var values map[string]string
		if err := json.Unmarshal(raw, &values); err != nil {
			return fmt.Errorf("parse %s: %w", args[0], err)
		}

		e, err := openEnv(cmd, envOptions{})
		if err != nil {
			return err
		}
		defer e.Close()

		l, err := e.legacy(cmd.Context())
		if err != nil {
			return err
		}
		if l == nil {
			return errors.New("legacy.backend is none")
		}
		if err := l.Write(cmd.Context(), values); err != nil {
			return err
		}
		fmt.Printf("Wrote %d key(s).\n", len(values))
		return nil
	},
}

var legacyImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Rebuild progress from the legacy keys",
	Long: `Reconstructs confirmed step results from the legacy keys and
replaces the learner's progress with them. Use it once when moving a
learner over from the old format.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd, envOptions{})
		if err != nil {
			return err
		}
		defer e.Close()

		eng, err := e.engine(cmd.Context(), engineOptions{})
		if err != nil {
			return err
		}
		n, err := eng.ImportLegacy(cmd.Context())
		if err != nil {
			return err
		}
		st, err := eng.Snapshot()
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d step result(s). Now at %s, level %s.\n", n, st.Node.Key(), st.Level)
		return nil
	},
}

func init() {
	legacyCmd.AddCommand(legacyExportCmd)
	legacyCmd.AddCommand(legacyLoadCmd)
	legacyCmd.AddCommand(legacyImportCmd)
}
