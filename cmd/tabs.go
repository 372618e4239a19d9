package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/tabsync/internal/agent"
	"github.com/marcus/tabsync/internal/output"
)

var tabsCmd = &cobra.Command{
	Use:     "tabs",
	Aliases: []string{"ls"},
	Short:   "List the canonical tab collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := agent.NewREST(serverURL, clientID)
		tabs, err := a.Tabs(context.Background())
		if err != nil {
			output.Error("list tabs: %v", err)
			return err
		}
		if jsonOut {
			return output.JSON(tabs)
		}
		fmt.Print(output.TabList(tabs))
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(tabsCmd)
}
