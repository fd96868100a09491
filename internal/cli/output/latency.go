package output

import (
	"slices"
	"strconv"
	"time"
)

// RoundTrip is one timed request of 'xnet ping'. Err is empty on success.
type RoundTrip struct {
	Seq     int           `json:"seq" yaml:"seq"`
	Latency time.Duration `json:"latency_ns" yaml:"latency"`
	Err     string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// LatencySummary aggregates the successful round trips of a run.
type LatencySummary struct {
	Sent     int           `json:"sent" yaml:"sent"`
	Received int           `json:"received" yaml:"received"`
	Min      time.Duration `json:"min_ns" yaml:"min"`
	Avg      time.Duration `json:"avg_ns" yaml:"avg"`
	P50      time.Duration `json:"p50_ns" yaml:"p50"`
	P99      time.Duration `json:"p99_ns" yaml:"p99"`
	Max      time.Duration `json:"max_ns" yaml:"max"`
}

// LatencyReport is the result of a ping run.
type LatencyReport struct {
	Target  string         `json:"target" yaml:"target"`
	Trips   []RoundTrip    `json:"round_trips" yaml:"round_trips"`
	Summary LatencySummary `json:"summary" yaml:"summary"`
}

// NewLatencyReport summarizes trips.
func NewLatencyReport(target string, trips []RoundTrip) *LatencyReport {
	return &LatencyReport{Target: target, Trips: trips, Summary: Summarize(trips)}
}

// Summarize computes the distribution of the successful trips. Percentiles
// use the nearest-rank method.
func Summarize(trips []RoundTrip) LatencySummary {
	s := LatencySummary{Sent: len(trips)}

	ok := make([]time.Duration, 0, len(trips))
	for _, t := range trips {
		if t.Err == "" {
			ok = append(ok, t.Latency)
		}
	}
	s.Received = len(ok)
	if len(ok) == 0 {
		return s
	}

	slices.Sort(ok)
	var total time.Duration
	for _, d := range ok {
		total += d
	}
	s.Min = ok[0]
	s.Max = ok[len(ok)-1]
	s.Avg = total / time.Duration(len(ok))
	s.P50 = percentile(ok, 50)
	s.P99 = percentile(ok, 99)
	return s
}

func percentile(sorted []time.Duration, p int) time.Duration {
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func (r *LatencyReport) Headers() []string {
	return []string{"Seq", "Latency", "Status"}
}

// Rows lists every round trip followed by the summary lines.
func (r *LatencyReport) Rows() [][]string {
	rows := make([][]string, 0, len(r.Trips)+6)
	for _, t := range r.Trips {
		if t.Err != "" {
			rows = append(rows, []string{strconv.Itoa(t.Seq), "-", t.Err})
			continue
		}
		rows = append(rows, []string{strconv.Itoa(t.Seq), roundLatency(t.Latency), "ok"})
	}

	s := r.Summary
	rows = append(rows,
		[]string{"", "", ""},
		[]string{"received", strconv.Itoa(s.Received) + "/" + strconv.Itoa(s.Sent), ""},
	)
	if s.Received > 0 {
		rows = append(rows,
			[]string{"min/avg/max", roundLatency(s.Min) + " / " + roundLatency(s.Avg) + " / " + roundLatency(s.Max), ""},
			[]string{"p50/p99", roundLatency(s.P50) + " / " + roundLatency(s.P99), ""},
		)
	}
	return rows
}

func roundLatency(d time.Duration) string {
	switch {
	case d >= time.Second:
		return d.Round(time.Millisecond).String()
	case d >= time.Millisecond:
		return d.Round(10 * time.Microsecond).String()
	default:
		return d.Round(time.Microsecond).String()
	}
}
