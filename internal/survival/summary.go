package survival

import (
	"fmt"
	"frbench/internal/report"
	"io"
	"sort"
	"text/tabwriter"
)

// Row is the summary of one bug for one fuzzer on one binary.
type Row struct {
	Binary          string
	Fuzzer          string
	BugID           string
	MedianReached   Median
	MedianTriggered Median
	TriggerCount    int
}

type rowKey struct {
	binary, fuzzer, bugID string
}

type sample struct {
	reached, triggered []Duration
	triggerCount       int
}

// Summarize computes one row per bug of the report. Times a run never
// recorded are censored at the trial time.
func Summarize(r *report.CampaignReport) []Row {
	return SummarizeAll([]*report.CampaignReport{r})
}

// SummarizeAll pools every report; runs of the same (binary, fuzzer, bug)
// across reports land in one row.
func SummarizeAll(reports []*report.CampaignReport) []Row {
	samples := make(map[rowKey]*sample)
	for _, r := range reports {
		horizon := int64(r.TrialTime)
		for _, run := range r.Runs() {
			for _, rec := range r.Campaign[run].Records() {
				k := rowKey{r.Target, r.Fuzzer, rec.BugID}
				s, ok := samples[k]
				if !ok {
					s = &sample{}
					samples[k] = s
				}
				s.reached = append(s.reached, toDuration(rec.Reached, horizon))
				s.triggered = append(s.triggered, toDuration(rec.Triggered, horizon))
				if rec.Triggered != nil {
					s.triggerCount++
				}
			}
		}
	}

	rows := make([]Row, 0, len(samples))
	for k, s := range samples {
		rows = append(rows, Row{
			Binary:          k.binary,
			Fuzzer:          k.fuzzer,
			BugID:           k.bugID,
			MedianReached:   MedianOf(s.reached),
			MedianTriggered: MedianOf(s.triggered),
			TriggerCount:    s.triggerCount,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Binary != b.Binary {
			return a.Binary < b.Binary
		}
		if a.Fuzzer != b.Fuzzer {
			return a.Fuzzer < b.Fuzzer
		}
		return a.BugID < b.BugID
	})
	return rows
}

func toDuration(t *int64, horizon int64) Duration {
	if t == nil {
		return Censored(horizon)
	}
	return Observed(*t)
}

// WriteTable prints rows with medians in minutes.
func WriteTable(w io.Writer, rows []Row) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Binary\tFuzzer\tBugID\tMedianReachedTime\tMedianTriggeredTime\tTriggeredCount")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			r.Binary, r.Fuzzer, r.BugID, r.MedianReached, r.MedianTriggered, r.TriggerCount)
	}
	return tw.Flush()
}
