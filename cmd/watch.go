package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marcus/tabsync/internal/agent"
	"github.com/marcus/tabsync/internal/coordinator"
	"github.com/marcus/tabsync/internal/output"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the command stream pushed to a client",
	Long: `Connects to the server as the given client id and prints every
command the server pushes, until interrupted. Useful for observing what
a browser agent would receive.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a := agent.NewREST(serverURL, clientID)
		err := a.Listen(ctx, func(c coordinator.Command) {
			if jsonOut {
				output.JSON(c)
				return
			}
			switch c.Type {
			case coordinator.CmdCreateTab:
				output.Info("createTab position=%d url=%s correlation=%s recon=%t",
					c.Position, c.URL, c.CorrelationID, c.FromReconciliation)
			case coordinator.CmdMoveTab:
				output.Info("moveTab local=%d %d -> %d recon=%t",
					c.LocalID, c.Position, c.NewPosition, c.FromReconciliation)
			case coordinator.CmdCloseTab:
				output.Info("closeTab local=%d position=%d recon=%t",
					c.LocalID, c.Position, c.FromReconciliation)
			case coordinator.CmdChangeURL:
				output.Info("changeTabUrl local=%d position=%d url=%s recon=%t",
					c.LocalID, c.Position, c.URL, c.FromReconciliation)
			default:
				output.Info("%s local=%d position=%d", c.Type, c.LocalID, c.Position)
			}
		}, func() {
			output.Success("connected as %s", clientID)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
