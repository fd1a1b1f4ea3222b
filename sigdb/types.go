package sigdb

import (
	"fmt"
	"time"
)

// LoadStatus is the runtime state of a loader.
type LoadStatus string

const (
	StatusIdle    LoadStatus = "IDLE"
	StatusRunning LoadStatus = "RUNNING"
	StatusFailed  LoadStatus = "FAILED"
	StatusPaused  LoadStatus = "PAUSED"
)

// Priority orders loaders for dispatch. Idle loaders go first, paused last.
func (s LoadStatus) Priority() int {
	switch s {
	case StatusIdle:
		return 1
	case StatusRunning:
		return 2
	case StatusFailed:
		return 3
	case StatusPaused:
		return 4
	default:
		return 5
	}
}

// ApprovalStatus is the review state of a loader definition. Only approved
// loaders are ever scheduled.
type ApprovalStatus string

const (
	ApprovalDraft    ApprovalStatus = "DRAFT"
	ApprovalPending  ApprovalStatus = "PENDING_APPROVAL"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// PurgeStrategy controls what happens to already loaded signals when a
// loader's high water mark is moved backwards.
type PurgeStrategy string

const (
	// PurgeNone keeps existing signals; the rewound window is loaded again
	// on top of them.
	PurgeNone PurgeStrategy = "NONE"
	// PurgeWindow deletes signals between the new and the old mark.
	PurgeWindow PurgeStrategy = "WINDOW"
	// PurgeAll deletes every signal the loader has ever produced.
	PurgeAll PurgeStrategy = "ALL"
)

// Product identifies the engine of a source database.
type Product string

const (
	ProductMySQL      Product = "MYSQL"
	ProductPostgreSQL Product = "POSTGRESQL"
)

// Loader is an ETL definition plus its runtime state. SQL is held decrypted
// in memory only; the store encrypts it at rest.
type Loader struct {
	Code         string
	SourceDBCode string
	SQL          string

	MinInterval           time.Duration
	MaxInterval           time.Duration // 0 = no overdue tracking
	MaxQueryPeriod        time.Duration
	MaxParallelExecutions int
	SourceTZOffsetHours   int
	AggregationPeriod     time.Duration
	PurgeStrategy         PurgeStrategy

	Enabled        bool
	ApprovalStatus ApprovalStatus
	LoadStatus     LoadStatus

	LastLoadTimestamp         *time.Time
	FailedSince               *time.Time
	ConsecutiveZeroRecordRuns int

	CreatedAt time.Time
	UpdatedAt time.Time
}

const maxLoaderCodeLen = 64

// Validate checks the definition invariants. Runtime fields are not
// validated, they are owned by the engine.
func (l *Loader) Validate() error {
	if l.Code == "" {
		return fmt.Errorf("loader code is required")
	}
	if len(l.Code) > maxLoaderCodeLen {
		return fmt.Errorf("loader code %q exceeds %d characters", l.Code, maxLoaderCodeLen)
	}
	if l.SourceDBCode == "" {
		return fmt.Errorf("loader %s: source database code is required", l.Code)
	}
	if l.MinInterval <= 0 {
		return fmt.Errorf("loader %s: min interval must be positive", l.Code)
	}
	if l.MaxQueryPeriod <= 0 {
		return fmt.Errorf("loader %s: max query period must be positive", l.Code)
	}
	if l.MaxInterval < 0 || l.AggregationPeriod < 0 {
		return fmt.Errorf("loader %s: intervals must not be negative", l.Code)
	}
	if l.MaxParallelExecutions < 1 {
		return fmt.Errorf("loader %s: max parallel executions must be at least 1", l.Code)
	}
	switch l.PurgeStrategy {
	case PurgeNone, PurgeWindow, PurgeAll:
	default:
		return fmt.Errorf("loader %s: unknown purge strategy %q", l.Code, l.PurgeStrategy)
	}
	if l.ApprovalStatus == ApprovalPending && l.Enabled {
		return fmt.Errorf("loader %s: cannot be enabled while pending approval", l.Code)
	}
	return nil
}

// Runnable reports whether the scheduler may consider this loader at all.
func (l *Loader) Runnable() bool {
	return l.Enabled && l.ApprovalStatus == ApprovalApproved
}

// SourceDatabase is a registered source connection. Password is held
// decrypted in memory only.
type SourceDatabase struct {
	Code     string
	Product  Product
	Host     string
	Port     int
	Database string
	Username string
	Password string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HistoryStatus is the outcome of a single run.
type HistoryStatus string

const (
	HistoryRunning HistoryStatus = "RUNNING"
	HistorySuccess HistoryStatus = "SUCCESS"
	HistoryFailed  HistoryStatus = "FAILED"
)

// LoadHistory is the audit row of a single execution.
type LoadHistory struct {
	ID           int64
	LoaderCode   string
	SourceDBCode string
	Status       HistoryStatus
	StartTime    time.Time
	EndTime      *time.Time
	DurationSecs *float64

	QueryFromTime time.Time
	QueryToTime   time.Time
	ActualFrom    *time.Time
	ActualTo      *time.Time

	RecordsLoaded   *int64
	RecordsIngested *int64

	ErrorMessage *string
	StackTrace   *string

	ReplicaName string
}

// ExecutionLock is the cross-replica mutex row for one loader.
type ExecutionLock struct {
	ID          int64
	LoaderCode  string
	LockID      string
	ReplicaName string
	AcquiredAt  time.Time
	Released    bool
	ReleasedAt  *time.Time
}

// SegmentTuple is the 10-dimension segment value vector of a signal row.
// Unused dimensions are nil; nil and nil compare equal when matching.
type SegmentTuple [10]*string

// Signal is one aggregated measurement bound for signals_history.
type Signal struct {
	LoaderCode    string
	LoadTimeStamp time.Time
	SegmentCode   string
	RecCount      *int64
	MaxVal        *float64
	MinVal        *float64
	AvgVal        *float64
	SumVal        *float64
	CreatedAt     time.Time
	LoadHistoryID *int64
}
