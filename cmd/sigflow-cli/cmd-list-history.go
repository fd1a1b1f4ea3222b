package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
)

type listHistoryCmd struct {
	Loader string `help:"Only show runs of this loader"`
	Limit  int    `default:"20" help:"Maximum rows to show"`
}

func (cmd *listHistoryCmd) Run(g *globalOptions) error {
	ctx := context.Background()

	store, err := loadStore(ctx, g)
	if err != nil {
		return err
	}
	defer store.Close()

	history, err := store.History.ListRecent(ctx, cmd.Loader, cmd.Limit)
	if err != nil {
		return err
	}

	w := tablewriter.NewWriter(os.Stdout)
	w.Header("id", "loader", "status", "started", "duration", "window from", "window to", "loaded", "ingested", "replica", "error")

	for _, h := range history {
		_ = w.Append([]string{
			fmt.Sprintf("%d", h.ID),
			h.LoaderCode,
			string(h.Status),
			h.StartTime.UTC().Format("2006-01-02 15:04:05"),
			durString(h.DurationSecs),
			h.QueryFromTime.UTC().Format("2006-01-02 15:04:05"),
			h.QueryToTime.UTC().Format("2006-01-02 15:04:05"),
			countString(h.RecordsLoaded),
			countString(h.RecordsIngested),
			h.ReplicaName,
			errString(h.ErrorMessage),
		})
	}

	return w.Render()
}

func countString(n *int64) string {
	if n == nil {
		return "-"
	}
	return humanize.Comma(*n)
}
