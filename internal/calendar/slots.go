// Package calendar provides free-slot computation shared by provider
// implementations.
package calendar

import (
	"fmt"
	"sort"
	"time"

	"github.com/BTreeMap/PolicyPal/internal/models"
)

// Interval is a busy period on the calendar.
type Interval struct {
	Start time.Time
	End   time.Time
}

// ComputeFreeSlots walks the lookahead window day by day, emitting
// fixed-length slots inside business hours that do not overlap a busy
// interval. Weekends are skipped. Slots entirely in the past are excluded.
func ComputeFreeSlots(now time.Time, daysAhead int, busy []Interval, loc *time.Location) []models.AvailableSlot {
	if daysAhead <= 0 {
		daysAhead = DefaultDaysAhead
	}
	local := now.In(loc)

	var slots []models.AvailableSlot
	for day := 0; day < daysAhead; day++ {
		date := local.AddDate(0, 0, day)
		if date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
			continue
		}
		dayStart := time.Date(date.Year(), date.Month(), date.Day(), BusinessHoursStart, 0, 0, 0, loc)
		dayEnd := time.Date(date.Year(), date.Month(), date.Day(), BusinessHoursEnd, 0, 0, 0, loc)

		for start := dayStart; start.Add(SlotDuration).Before(dayEnd) || start.Add(SlotDuration).Equal(dayEnd); start = start.Add(SlotDuration) {
			end := start.Add(SlotDuration)
			if !start.After(local) {
				continue // slot already started
			}
			if overlapsAny(start, end, busy) {
				continue
			}
			slots = append(slots, models.AvailableSlot{
				Start: start,
				End:   end,
				Label: FormatSlotLabel(start, end),
			})
		}
	}
	return slots
}

// overlapsAny reports whether [start, end) intersects any busy interval.
func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}

// FormatSlotLabel renders a slot as shown to the manager, e.g.
// "Mon, Jan 5 at 9:00 AM – 9:30 AM".
func FormatSlotLabel(start, end time.Time) string {
	return fmt.Sprintf("%s at %s – %s",
		start.Format("Mon, Jan 2"),
		start.Format("3:04 PM"),
		end.Format("3:04 PM"))
}

// RankSlots orders slots earliest-first with a morning preference: slots on
// the same day starting before noon come ahead of afternoon slots, and
// earlier days always come first.
func RankSlots(slots []models.AvailableSlot) []models.AvailableSlot {
	ranked := make([]models.AvailableSlot, len(slots))
	copy(ranked, slots)
	sort.SliceStable(ranked, func(i, j int) bool { return slotLess(ranked[i], ranked[j]) })
	return ranked
}

func slotLess(a, b models.AvailableSlot) bool {
	ay, am, ad := a.Start.Date()
	by, bm, bd := b.Start.Date()
	if ay != by || am != bm || ad != bd {
		return a.Start.Before(b.Start)
	}
	aMorning := a.Start.Hour() < 12
	bMorning := b.Start.Hour() < 12
	if aMorning != bMorning {
		return aMorning
	}
	return a.Start.Before(b.Start)
}

// TopN returns at most n slots from the front of the ranked list.
func TopN(slots []models.AvailableSlot, n int) []models.AvailableSlot {
	if len(slots) > n {
		return slots[:n]
	}
	return slots
}
