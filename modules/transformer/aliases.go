package transformer

import "fmt"

// Column aliases accepted in source result sets. All lookups are
// case-insensitive; the first alias present in the row wins.

var timestampAliases = []string{"timestamp", "load_time_stamp", "ts", "time"}

var (
	countAliases = []string{"rec_count", "record_count", "count", "cnt"}
	maxAliases   = []string{"max_val", "max", "maxval"}
	minAliases   = []string{"min_val", "min", "minval"}
	avgAliases   = []string{"avg_val", "avg", "avgval", "average"}
	sumAliases   = []string{"sum_val", "sum", "sumval", "total"}
)

// segmentAliases[d] lists the accepted names of segment dimension d+1.
var segmentAliases = func() [10][]string {
	var out [10][]string
	for d := 0; d < 10; d++ {
		n := d + 1
		out[d] = []string{
			fmt.Sprintf("seg%d", n),
			fmt.Sprintf("segment%d", n),
			fmt.Sprintf("segment_%d", n),
		}
	}
	return out
}()
