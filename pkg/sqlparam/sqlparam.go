// Package sqlparam renders the :fromTime and :toTime placeholders of a loader
// query into literal timestamps. Substitution is plain text replacement, the
// query is never parsed.
package sqlparam

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/signalworks/sigflow/pkg/window"
)

const (
	FromToken = ":fromTime"
	ToToken   = ":toTime"
)

var ErrBlankSQL = errors.New("loader sql is blank")

type Format int

const (
	FormatISO8601 Format = iota
	FormatMySQLDateTime
	FormatUnixEpoch
)

func (f Format) String() string {
	switch f {
	case FormatMySQLDateTime:
		return "mysql_datetime"
	case FormatUnixEpoch:
		return "unix_epoch"
	default:
		return "iso8601"
	}
}

// DetectFormat picks the timestamp rendering from markers in the query text.
// STR_TO_DATE wins over the epoch markers; TO_TIMESTAMP, CAST(... AS
// TIMESTAMP) and quoted TIMESTAMP literals all take the ISO 8601 default.
func DetectFormat(sql string) Format {
	s := strings.ToLower(sql)
	switch {
	case strings.Contains(s, "str_to_date"):
		return FormatMySQLDateTime
	case strings.Contains(s, "unix_timestamp"),
		strings.Contains(s, "from_unixtime"),
		strings.Contains(s, "timestamp_unix"),
		strings.Contains(s, "epoch"):
		return FormatUnixEpoch
	}
	return FormatISO8601
}

// Query is a loader query with its window bound.
type Query struct {
	SQL    string
	Format Format
	// Bound counts the placeholder occurrences that were substituted. Zero
	// means the query text carried no placeholders at all.
	Bound int
}

// Build detects the timestamp format and substitutes both placeholders.
// offsetHours shifts the window into the source database's local clock:
// a source writing UTC+4 wall times needs bounds four hours behind UTC.
func Build(rawSQL string, w window.Window, offsetHours int) (Query, error) {
	if strings.TrimSpace(rawSQL) == "" {
		return Query{}, ErrBlankSQL
	}

	format := DetectFormat(rawSQL)
	shift := -time.Duration(offsetHours) * time.Hour

	bound := strings.Count(rawSQL, FromToken) + strings.Count(rawSQL, ToToken)
	sql := strings.ReplaceAll(rawSQL, FromToken, render(w.From.Add(shift), format))
	sql = strings.ReplaceAll(sql, ToToken, render(w.To.Add(shift), format))

	return Query{SQL: sql, Format: format, Bound: bound}, nil
}

func render(t time.Time, f Format) string {
	t = t.UTC()
	switch f {
	case FormatMySQLDateTime:
		return t.Format("2006-01-02 15:04")
	case FormatUnixEpoch:
		return strconv.FormatInt(t.Unix(), 10)
	default:
		return t.Format(time.RFC3339)
	}
}
