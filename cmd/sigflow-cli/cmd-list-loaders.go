package main

import (
	"context"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
)

type listLoadersCmd struct{}

func (cmd *listLoadersCmd) Run(g *globalOptions) error {
	ctx := context.Background()

	store, err := loadStore(ctx, g)
	if err != nil {
		return err
	}
	defer store.Close()

	loaders, err := store.Loaders.ListAll(ctx)
	if err != nil {
		return err
	}

	w := tablewriter.NewWriter(os.Stdout)
	w.Header("code", "source", "status", "approval", "enabled", "last load", "min interval", "max period", "zero runs")

	for _, l := range loaders {
		_ = w.Append([]string{
			l.Code,
			l.SourceDBCode,
			string(l.LoadStatus),
			string(l.ApprovalStatus),
			boolString(l.Enabled),
			tsString(l.LastLoadTimestamp),
			l.MinInterval.String(),
			l.MaxQueryPeriod.String(),
			fmt.Sprintf("%d", l.ConsecutiveZeroRecordRuns),
		})
	}

	return w.Render()
}
