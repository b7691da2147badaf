package main

import (
	"context"
	"fmt"
	"io"

	"github.com/Abraxas-365/convo/dialog"
	"github.com/Abraxas-365/convo/dialog/dialoginfra"
	"github.com/Abraxas-365/convo/dialog/flowstore"
	"github.com/Abraxas-365/convo/pkg/config"
	"github.com/Abraxas-365/convo/pkg/database"
	"github.com/Abraxas-365/convo/pkg/kernel"
	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:   "push <bot-id> <flow-dir>",
	Short: "Validate a flow directory and store it in Postgres",
	Long: `Push compiles the flows of flow-dir and, when they are valid, upserts
them into the dialog_flows table of the database configured through the
usual DB_* environment variables. Running servers pick the change up on
POST /api/v1/bots/<bot-id>/flows/reload.
`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		db, err := database.NewPostgresDB(cfg.Database)
		if err != nil {
			return err
		}
		defer database.CloseDB(db)

		if err := database.EnsureSchema(cmd.Context(), db, dialoginfra.FlowSchema); err != nil {
			return err
		}
		return runPush(cmd.Context(), cmd.OutOrStdout(), dialoginfra.NewPostgresFlowSource(db), kernel.NewBotID(args[0]), args[1])
	},
}

type flowSaver interface {
	Save(ctx context.Context, botID kernel.BotID, flow dialog.Flow) error
}

func runPush(ctx context.Context, out io.Writer, store flowSaver, botID kernel.BotID, dir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	flows, err := dialoginfra.LoadDir(dir)
	if err != nil {
		return err
	}
	if _, _, err := flowstore.Compile(botID, flows, defaultKnown()); err != nil {
		return err
	}

	for _, f := range flows {
		if err := store.Save(ctx, botID, f); err != nil {
			return err
		}
		fmt.Fprintf(out, "pushed %s\n", f.Name)
	}
	fmt.Fprintf(out, "%d flows pushed for bot %s\n", len(flows), botID)
	return nil
}
