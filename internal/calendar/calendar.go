// Package calendar defines the calendar provider boundary for PolicyPal.
//
// The flow engine consumes only the Provider interface; the Graph-backed
// implementation lives alongside it. Slot ranking and top-N selection are the
// flow controller's concern, not the provider's.
package calendar

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/PolicyPal/internal/models"
)

// Defaults for slot lookup and booking.
const (
	// DefaultDaysAhead is the slot lookahead window.
	DefaultDaysAhead = 7
	// DefaultReminderMinutes is attached to every booked event.
	DefaultReminderMinutes = 15
	// SlotDuration is the length of an offered meeting slot.
	SlotDuration = 30 * time.Minute
	// BusinessHoursStart and BusinessHoursEnd bound offered slots (local time).
	BusinessHoursStart = 9
	BusinessHoursEnd   = 17
)

// BookingDetails describes the event to create.
type BookingDetails struct {
	Subject         string
	Start           time.Time
	End             time.Time
	Timezone        string
	AttendeeName    string
	ReminderMinutes int
}

// BookingResult is the outcome of a successful booking.
type BookingResult struct {
	EventID string
}

// Provider is the external calendar collaborator.
type Provider interface {
	// GetAvailableSlots returns free business-hour slots for the mailbox in
	// the lookahead window, earliest first. It returns
	// models.ErrNoSlotsAvailable when the window holds no free slot.
	GetAvailableSlots(ctx context.Context, mailboxID string, daysAhead int, timezone string) ([]models.AvailableSlot, error)

	// BookEvent creates an event on the mailbox calendar.
	BookEvent(ctx context.Context, mailboxID string, details BookingDetails) (*BookingResult, error)

	// GetMailboxTimezone returns the mailbox-settings timezone, or "" when
	// the mailbox has none configured.
	GetMailboxTimezone(ctx context.Context, mailboxID string) (string, error)
}

// ResolveTimezone resolves the manager's timezone through a three-tier
// fallback: client-reported timezone, then mailbox settings, then the
// configured default. "UTC" is treated as unset at the first two tiers: an
// unconfigured mailbox reports UTC, and using it verbatim silently produces
// wrong available times.
func ResolveTimezone(ctx context.Context, clientTZ string, provider Provider, mailboxID, defaultTZ string) string {
	if usable(clientTZ) {
		return clientTZ
	}

	mailboxTZ, err := provider.GetMailboxTimezone(ctx, mailboxID)
	if err != nil {
		slog.Warn("calendar: mailbox timezone lookup failed, using default", "mailboxID", mailboxID, "error", err)
	} else if usable(mailboxTZ) {
		return mailboxTZ
	}

	slog.Debug("calendar: falling back to default timezone", "default", defaultTZ)
	return defaultTZ
}

// usable reports whether a timezone value is set and not the UTC sentinel.
func usable(tz string) bool {
	return tz != "" && tz != "UTC"
}
