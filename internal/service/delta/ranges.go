package delta

import (
	"sort"

	"github.com/141JosephAlen/ec-bot/internal/domain"
)

// Range is a scheduled period with the number of full-time and part-time
// tasks planned in it.
type Range struct {
	Start    domain.Millis `json:"start"`
	End      domain.Millis `json:"end"`
	FullTime int           `json:"fullTime"`
	PartTime int           `json:"partTime"`
}

// Span is the length of the range.
func (r Range) Span() domain.Millis {
	return r.End - r.Start
}

// Tasks counts all tasks in the range.
func (r Range) Tasks() int {
	return r.FullTime + r.PartTime
}

// RangesOf turns time allocations into one range per allocation.
func RangesOf(allocations []domain.TimeAllocation) []Range {
	out := make([]Range, 0, len(allocations))
	for _, ta := range allocations {
		r := Range{Start: ta.StartDate, End: ta.EndDate}
		if ta.PartialTime {
			r.PartTime = 1
		} else {
			r.FullTime = 1
		}
		out = append(out, r)
	}
	return out
}

// MergeRanges folds overlapping and touching ranges into the minimal
// covering set, ordered by start. Task counts of merged ranges are summed.
func MergeRanges(ranges []Range) []Range {
	if len(ranges) == 0 {
		return nil
	}
	sorted := append([]Range(nil), ranges...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	merged := []Range{sorted[0]}
	for _, r := range sorted[1:] {
		cur := &merged[len(merged)-1]
		if r.Start <= cur.End {
			if r.End > cur.End {
				cur.End = r.End
			}
			cur.FullTime += r.FullTime
			cur.PartTime += r.PartTime
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// Total sums the spans of ranges. Gaps between ranges do not count.
func Total(ranges []Range) domain.Millis {
	var total domain.Millis
	for _, r := range ranges {
		total += r.Span()
	}
	return total
}

// AssignedSpan is the merged time covered by allocations.
func AssignedSpan(allocations []domain.TimeAllocation) domain.Millis {
	return Total(MergeRanges(RangesOf(allocations)))
}

// LoadModel estimates utilization of a discipline. It assumes every task
// takes HoursPerTask engineer-hours and members work FocusFactor of
// HoursPerDay on planned tasks; part-time tasks weigh PartTimeWeight. The
// result is an approximation, 1.0 meaning fully booked.
type LoadModel struct {
	HoursPerTask   float64 `json:"hoursPerTask" yaml:"hours_per_task"`
	FocusFactor    float64 `json:"focusFactor" yaml:"focus_factor"`
	HoursPerDay    float64 `json:"hoursPerDay" yaml:"hours_per_day"`
	PartTimeWeight float64 `json:"partTimeWeight" yaml:"part_time_weight"`
}

// DefaultLoadModel returns 80 hours per task, 60% focus, 8 hour days and
// half weight for part-time tasks.
func DefaultLoadModel() LoadModel {
	return LoadModel{HoursPerTask: 80, FocusFactor: 0.6, HoursPerDay: 8, PartTimeWeight: 0.5}
}

// Load returns the estimated utilization of members over span.
func (m LoadModel) Load(members, fullTime, partTime int, span domain.Millis) float64 {
	days := float64(span) / float64(domain.DayMillis)
	capacity := float64(members) * m.FocusFactor * days * m.HoursPerDay
	if capacity <= 0 {
		return 0
	}
	work := (float64(fullTime) + float64(partTime)*m.PartTimeWeight) * m.HoursPerTask
	return work / capacity
}

// Percent is Load rounded to a whole percentage.
func (m LoadModel) Percent(members, fullTime, partTime int, span domain.Millis) int {
	return int(m.Load(members, fullTime, partTime, span)*100 + 0.5)
}
