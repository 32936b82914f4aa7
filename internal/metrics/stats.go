package metrics

import (
	"math"
	"sort"
	"time"

	"tetherctl/internal/model"
)

// DayUsage is the data transferred in sessions started on one calendar day.
type DayUsage struct {
	Day      time.Time
	Sessions int
	Bytes    uint64
}

// Summary is the data-usage view of a time window.
type Summary struct {
	Count           int
	From            time.Time
	To              time.Time
	TotalBytes      uint64
	TotalDuration   time.Duration
	AvgSessionBytes float64
	P95SessionBytes uint64
	MaxSessionBytes uint64
	Days            []DayUsage
}

// Summarize computes usage for sessions started at or after since. Days are
// calendar days in since's location, oldest first, and only days with
// sessions are listed.
func Summarize(items []model.Session, since time.Time) Summary {
	filtered := make([]model.Session, 0, len(items))
	for _, s := range items {
		if s.StartedAt.After(since) || s.StartedAt.Equal(since) {
			filtered = append(filtered, s)
		}
	}

	if len(filtered) == 0 {
		return Summary{Count: 0}
	}

	loc := since.Location()
	values := make([]float64, 0, len(filtered))
	days := map[time.Time]*DayUsage{}
	var total uint64
	var duration time.Duration
	var maxBytes uint64
	from := filtered[0].StartedAt
	to := filtered[0].EndedAt

	for _, s := range filtered {
		values = append(values, float64(s.BytesTransferred))
		total += s.BytesTransferred
		duration += s.Duration()
		if s.BytesTransferred > maxBytes {
			maxBytes = s.BytesTransferred
		}
		if s.StartedAt.Before(from) {
			from = s.StartedAt
		}
		if s.EndedAt.After(to) {
			to = s.EndedAt
		}

		local := s.StartedAt.In(loc)
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		d, ok := days[day]
		if !ok {
			d = &DayUsage{Day: day}
			days[day] = d
		}
		d.Sessions++
		d.Bytes += s.BytesTransferred
	}

	sort.Float64s(values)
	out := Summary{
		Count:           len(filtered),
		From:            from,
		To:              to,
		TotalBytes:      total,
		TotalDuration:   duration,
		AvgSessionBytes: float64(total) / float64(len(filtered)),
		P95SessionBytes: uint64(percentile(values, 0.95)),
		MaxSessionBytes: maxBytes,
		Days:            make([]DayUsage, 0, len(days)),
	}
	for _, d := range days {
		out.Days = append(out.Days, *d)
	}
	sort.Slice(out.Days, func(i, j int) bool { return out.Days[i].Day.Before(out.Days[j].Day) })
	return out
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return values[0]
	}
	if p >= 1 {
		return values[len(values)-1]
	}
	idx := int(math.Ceil(p*float64(len(values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}
