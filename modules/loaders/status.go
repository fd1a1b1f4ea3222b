package loaders

import (
	"io"
	"net/http"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// StatusHandler renders every loader with its runtime state.
func (a *Admin) StatusHandler(w http.ResponseWriter, r *http.Request) {
	loaders, err := a.loaders.ListAll(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	x := table.NewWriter()
	x.AppendHeader(table.Row{"loader", "source", "status", "approval", "enabled", "last load", "failed since", "zero runs"})

	for _, l := range loaders {
		x.AppendRows([]table.Row{{
			l.Code, l.SourceDBCode, l.LoadStatus, l.ApprovalStatus, l.Enabled,
			tsString(l.LastLoadTimestamp), tsString(l.FailedSince), l.ConsecutiveZeroRecordRuns,
		}})
	}

	x.AppendSeparator()

	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, x.Render())
}

// LocksHandler renders the currently held execution locks.
func (a *Admin) LocksHandler(w http.ResponseWriter, r *http.Request) {
	locks, err := a.locks.ListLive(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	x := table.NewWriter()
	x.AppendHeader(table.Row{"loader", "lock id", "replica", "acquired", "age"})

	now := time.Now().UTC()
	for _, l := range locks {
		x.AppendRows([]table.Row{{
			l.LoaderCode, l.LockID, l.ReplicaName,
			l.AcquiredAt.UTC().Format(time.RFC3339), now.Sub(l.AcquiredAt).Truncate(time.Second),
		}})
	}

	x.AppendSeparator()

	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, x.Render())
}

// SourcesHandler renders the registered source databases. Credentials stay
// out of the output.
func (a *Admin) SourcesHandler(w http.ResponseWriter, _ *http.Request) {
	x := table.NewWriter()
	x.AppendHeader(table.Row{"db code", "type", "host", "port", "database", "user"})

	for _, s := range a.sources.Sources() {
		x.AppendRows([]table.Row{{s.Code, s.Product, s.Host, s.Port, s.Database, s.Username}})
	}

	x.AppendSeparator()

	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, x.Render())
}
