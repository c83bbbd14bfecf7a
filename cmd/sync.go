package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Send queued results to the results backend",
	Long: `Delivers every attempt and step result whose retry time has come.
Results that still fail stay queued with a later retry time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd, envOptions{})
		if err != nil {
			return err
		}
		defer e.Close()

		d := e.dispatcher()
		if d == nil {
			return errors.New("gateway.url is not configured")
		}
		rep, err := d.DrainOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Delivered %d, failed %d, %d still queued.\n", rep.Delivered, rep.Failed, rep.Remaining)
		return nil
	},
}
