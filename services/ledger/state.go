package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type Event string

const (
	EventConfirm  Event = "confirm"
	EventActivate Event = "activate"
	EventPause    Event = "pause"
	EventResume   Event = "resume"
	EventCancel   Event = "cancel"
	EventComplete Event = "complete"
)

var transitions = map[Event]struct {
	from []Status
	to   Status
}{
	EventConfirm:  {from: []Status{StatusPending, StatusConfirmed}, to: StatusConfirmed},
	EventActivate: {from: []Status{StatusPending, StatusConfirmed}, to: StatusRunning},
	EventPause:    {from: []Status{StatusRunning, StatusActive}, to: StatusOnHold},
	EventResume:   {from: []Status{StatusOnHold}, to: StatusRunning},
	EventCancel:   {from: []Status{StatusPending, StatusConfirmed, StatusRunning, StatusActive, StatusOnHold}, to: StatusCancelled},
	EventComplete: {from: []Status{StatusRunning, StatusActive}, to: StatusCompleted},
}

// Transition returns the status reached by applying ev to from.
func Transition(from Status, ev Event) (Status, bool) {
	t, ok := transitions[ev]
	if !ok {
		return from, false
	}
	for _, s := range t.from {
		if s == from {
			return t.to, true
		}
	}
	return from, false
}

func sourcesOf(ev Event) []Status {
	return transitions[ev].from
}

// ParseAction maps an admin action name onto a transition event.
func ParseAction(action string) (Event, bool) {
	switch Event(action) {
	case EventPause, EventResume, EventCancel:
		return Event(action), true
	}
	return "", false
}

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// ComputeState derives progress, accrued, fees and net at now. It has no
// side effects. Progress is clamped to [0, 1] and is 1 for completed
// investments.
func ComputeState(inv *Investment, now time.Time) State {
	progress := decimal.Zero
	switch {
	case inv.Status == StatusCompleted:
		progress = one
	case inv.StartAt != nil:
		durationMs := inv.Duration.Std().Milliseconds()
		elapsedMs := now.UnixMilli() - inv.StartAt.UnixMilli()
		if durationMs <= 0 || elapsedMs >= durationMs {
			progress = one
		} else if elapsedMs > 0 {
			progress = decimal.NewFromInt(elapsedMs).Div(decimal.NewFromInt(durationMs))
		}
	}

	accrued := inv.Principal.Mul(inv.Rate).Mul(progress)
	fees := inv.Principal.Mul(inv.FeePercent).Div(hundred).Add(inv.FeeFixed)

	return State{
		Progress:    progress,
		ProgressPct: progress.Mul(hundred).Round(0).IntPart(),
		Principal:   inv.Principal,
		Accrued:     accrued,
		Fees:        fees,
		Net:         inv.Principal.Add(accrued).Sub(fees),
		FeePercent:  inv.FeePercent,
		FeeFixed:    inv.FeeFixed,
	}
}

// Done reports whether the accrual has reached the full duration.
func (s State) Done() bool {
	return s.Progress.GreaterThanOrEqual(one)
}
