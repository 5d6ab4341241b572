package harvest

import (
	"fmt"
	"strings"
)

// sourceAbbrev maps source names to the short tags embedded in IDs.
var sourceAbbrev = map[string]string{
	"announcements": "ann",
	"laws":          "law",
	"penalties":     "pen",
}

// FormatID derives a record ID from source, date, and the per-date
// sequence number, e.g. fsc_ann_20251112_0001.
func FormatID(source, date string, seq int) string {
	abbrev, ok := sourceAbbrev[source]
	if !ok {
		abbrev = "unk"
	}
	return fmt.Sprintf("fsc_%s_%s_%04d", abbrev, strings.ReplaceAll(date, "-", ""), seq)
}

// AssignIDs groups records by date and assigns a monotonically
// increasing per-date sequence, in slice order. Records without a date
// keep an empty ID. IDs are stable across runs for an unchanged input.
func AssignIDs(records []Record, source string) {
	counters := make(map[string]int)
	for i := range records {
		if records[i].Date == "" {
			continue
		}
		counters[records[i].Date]++
		records[i].ID = FormatID(source, records[i].Date, counters[records[i].Date])
	}
}
