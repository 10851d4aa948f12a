package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"slackgate/internal/store"
)

func installationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "installations",
		Short: "Inspect stored OAuth installations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List installed workspaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			list, err := st.List(context.Background())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TEAM\tNAME\tDOMAIN\tSCOPE\tINSTALLED")
			for _, inst := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					inst.TeamID, inst.TeamName, inst.TeamDomain, inst.Scope,
					inst.InstalledAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get [team-id]",
		Short: "Show one installation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			inst, err := st.Get(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("team:      %s (%s)\n", inst.TeamID, inst.TeamName)
			fmt.Printf("workspace: %s\n", inst.WorkspaceURL())
			fmt.Printf("app:       %s\n", inst.AppID)
			fmt.Printf("bot user:  %s\n", inst.BotUserID)
			fmt.Printf("scope:     %s\n", inst.Scope)
			fmt.Printf("installed: %s\n", inst.InstalledAt.Format(time.RFC3339))
			return nil
		},
	})

	return cmd
}

func openStore() (*store.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Store.Path == "" {
		return nil, fmt.Errorf("store.path is not configured")
	}
	return store.NewSQLiteStore(cfg.Store.Path, logger)
}
