package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/marcus/tabsync/internal/agent"
	"github.com/marcus/tabsync/internal/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := agent.NewREST(serverURL, clientID)
		st, err := a.Status(context.Background())
		if err != nil {
			output.Error("status: %v", err)
			return err
		}
		if jsonOut {
			return output.JSON(st)
		}
		output.Info("%s", output.StatusLine(st))
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
