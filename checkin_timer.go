package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Contact is one entry in the emergency contact directory. A contact with an
// empty DestinationID is kept for display but skipped by alert dispatch.
type Contact struct {
	Name          string `json:"name"`
	DestinationID string `json:"destinationId"`
}

func (c Contact) hasDestination() bool {
	return strings.TrimSpace(c.DestinationID) != ""
}

var errNonPositiveDuration = errors.New("timer duration must be greater than zero")

// anonymousResetter is recorded when a reset arrives without a name.
const anonymousResetter = "Anonymous"

// CheckInEngine owns the dead-man's-switch state: one countdown deadline,
// the contact directory, and the once-per-deadline alert flag. Every
// mutation happens under the engine mutex; alert delivery always runs with
// the lock released so a slow transport can never block a check-in.
type CheckInEngine struct {
	mu            sync.Mutex
	deadline      time.Time // zero while unarmed
	timerDuration time.Duration
	contacts      []Contact
	alertSent     bool
	lastResetBy   string

	alertMessage string
	rearmDelay   time.Duration

	dispatcher *AlertDispatcher
	store      *eventStore
	metrics    *MonitorMetrics
}

func NewCheckInEngine(cfg Config, dispatcher *AlertDispatcher, store *eventStore, metrics *MonitorMetrics) *CheckInEngine {
	e := &CheckInEngine{
		timerDuration: cfg.TimerDuration,
		contacts:      append([]Contact(nil), cfg.SeedContacts...),
		alertMessage:  strings.TrimSpace(cfg.AlertMessage),
		rearmDelay:    cfg.RearmDelay,
		dispatcher:    dispatcher,
		store:         store,
		metrics:       metrics,
	}
	if e.timerDuration <= 0 {
		e.timerDuration = defaultTimerDuration
	}
	if e.alertMessage == "" {
		e.alertMessage = defaultAlertMessage
	}
	reachable := 0
	for _, c := range e.contacts {
		if c.hasDestination() {
			reachable++
		}
	}
	e.metrics.SetContactCounts(len(e.contacts), reachable)
	return e
}

// Arm starts the first countdown without recording a resetter. The monitor
// boots armed so a crash-restart cannot silently disable it.
func (e *CheckInEngine) Arm(now time.Time) time.Time {
	e.mu.Lock()
	e.deadline = now.Add(e.timerDuration)
	e.alertSent = false
	deadline := e.deadline
	e.mu.Unlock()
	return deadline
}

// Reset starts a new countdown cycle. A non-positive duration falls back to
// the configured default. The alert flag clears in the same critical section
// that replaces the deadline, so the finished cycle can never dispatch again.
// source names the channel the check-in arrived through ("api", "discord",
// "nats") and only feeds logs and counters.
func (e *CheckInEngine) Reset(d time.Duration, resetBy, source string) (time.Time, time.Duration) {
	resetBy = strings.TrimSpace(resetBy)
	if resetBy == "" {
		resetBy = anonymousResetter
	}
	now := time.Now()

	e.mu.Lock()
	effective := d
	if effective <= 0 {
		effective = e.timerDuration
	}
	deadline := now.Add(effective)
	e.deadline = deadline
	e.alertSent = false
	e.lastResetBy = resetBy
	e.mu.Unlock()

	e.metrics.RecordReset(source)
	e.recordEvent(eventKindReset, resetBy, resetDetail{
		Deadline: deadline.UnixMilli(),
		Duration: effective.Milliseconds(),
		Source:   source,
	})
	logger.Info("check-in received",
		"by", resetBy,
		"via", source,
		"duration", humanShortDuration(effective),
		"deadline", deadline.UTC().Format(time.RFC3339),
	)
	return deadline, effective
}

// SetContacts replaces the whole directory. Partial edits are not supported;
// callers always send the complete list, which may be empty.
func (e *CheckInEngine) SetContacts(contacts []Contact) int {
	cleaned := make([]Contact, 0, len(contacts))
	reachable := 0
	for _, c := range contacts {
		c.Name = strings.TrimSpace(c.Name)
		c.DestinationID = strings.TrimSpace(c.DestinationID)
		if c.hasDestination() {
			reachable++
		}
		cleaned = append(cleaned, c)
	}

	e.mu.Lock()
	e.contacts = cleaned
	e.mu.Unlock()

	e.metrics.SetContactCounts(len(cleaned), reachable)
	e.recordEvent(eventKindContacts, "", contactsDetail{
		Count:     len(cleaned),
		Reachable: reachable,
	})
	logger.Info("contact directory replaced", "count", len(cleaned), "reachable", reachable)
	return len(cleaned)
}

// SetDuration changes the countdown length from hours/minutes/seconds parts.
// When a cycle is live the deadline shifts by the difference, preserving
// elapsed time: two hours into a 24h cycle, switching to 48h leaves 46h on
// the clock. The alert flag is untouched; it is still the same cycle.
// While unarmed only the stored duration changes.
func (e *CheckInEngine) SetDuration(hours, minutes, seconds int) (time.Duration, error) {
	total := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second
	if total <= 0 {
		return 0, errNonPositiveDuration
	}

	e.mu.Lock()
	previous := e.timerDuration
	e.timerDuration = total
	if !e.deadline.IsZero() {
		e.deadline = e.deadline.Add(total - previous)
	}
	deadline := e.deadline
	e.mu.Unlock()

	e.recordEvent(eventKindDuration, "", durationDetail{
		Previous: previous.Milliseconds(),
		Current:  total.Milliseconds(),
	})
	fields := []any{"duration", humanShortDuration(total), "previous", humanShortDuration(previous)}
	if !deadline.IsZero() {
		fields = append(fields, "deadline", deadline.UTC().Format(time.RFC3339))
	}
	logger.Info("timer duration changed", fields...)
	return total, nil
}

// TimerStatus is a point-in-time snapshot of the engine.
type TimerStatus struct {
	Deadline      time.Time // zero while unarmed
	TimeLeft      time.Duration
	TimerDuration time.Duration
	AlertSent     bool
	Contacts      []Contact
	LastResetBy   string
}

func (e *CheckInEngine) Status(now time.Time) TimerStatus {
	e.mu.Lock()
	st := TimerStatus{
		Deadline:      e.deadline,
		TimerDuration: e.timerDuration,
		AlertSent:     e.alertSent,
		Contacts:      append([]Contact(nil), e.contacts...),
		LastResetBy:   e.lastResetBy,
	}
	e.mu.Unlock()

	if !st.Deadline.IsZero() {
		if left := st.Deadline.Sub(now); left > 0 {
			st.TimeLeft = left
		}
	}
	return st
}

// Contacts returns a copy of the current directory.
func (e *CheckInEngine) Contacts() []Contact {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Contact(nil), e.contacts...)
}

// Tick runs one expiry scan. The alert flag flips inside the critical
// section before any delivery starts, which is what makes the alert
// once-per-deadline even if delivery is slow or the process is mid-dispatch
// when the next scan would have run. Delivery itself happens with the lock
// released. After the dispatch settles, the cycle re-arms unless a reset
// arrived in the meantime; a fresh deadline is never clobbered.
func (e *CheckInEngine) Tick(ctx context.Context, now time.Time) {
	e.mu.Lock()
	if e.deadline.IsZero() || e.alertSent || now.Before(e.deadline) {
		e.mu.Unlock()
		return
	}
	e.alertSent = true
	expired := e.deadline
	contacts := append([]Contact(nil), e.contacts...)
	lastResetBy := e.lastResetBy
	e.mu.Unlock()

	overdue := now.Sub(expired)
	logger.Warn("check-in deadline missed; alerting contacts",
		"deadline", expired.UTC().Format(time.RFC3339),
		"overdue", humanShortDuration(overdue),
		"contacts", len(contacts),
	)

	message := e.missedCheckInMessage(expired, lastResetBy, overdue)
	res, err := e.dispatcher.Dispatch(ctx, message, contacts)
	if err != nil {
		logger.Error("missed check-in dispatch", "error", err)
	}
	e.metrics.RecordAlertCycle(res)
	e.recordEvent(eventKindAlert, lastResetBy, alertCycleDetail{
		Deadline: expired.UnixMilli(),
		Sent:     res.Sent,
		Failed:   res.Failed,
		Total:    res.Total,
	})

	if e.rearmDelay > 0 {
		time.Sleep(e.rearmDelay)
	}

	// Only a reset clears the alert flag, so the flag still being set means
	// nobody checked in while the dispatch settled and the next cycle can
	// start. The duration is re-read under the lock in case it changed.
	rearmAt := time.Now()
	var next time.Time
	e.mu.Lock()
	if e.alertSent {
		e.deadline = rearmAt.Add(e.timerDuration)
		e.alertSent = false
		next = e.deadline
	}
	e.mu.Unlock()

	if next.IsZero() {
		logger.Info("re-arm skipped; timer was reset during alert dispatch")
	} else {
		logger.Info("timer re-armed for next cycle", "deadline", next.UTC().Format(time.RFC3339))
	}
}

// runExpiryLoop drives Tick at the poll cadence until ctx is canceled.
// Ticks run sequentially on this goroutine, so a slow dispatch can never
// overlap the next scan.
func (e *CheckInEngine) runExpiryLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if verboseLogging {
				st := e.Status(now)
				logger.Debug("expiry scan",
					"armed", !st.Deadline.IsZero(),
					"time_left", humanShortDuration(st.TimeLeft),
					"alert_sent", st.AlertSent,
				)
			}
			e.Tick(ctx, now)
		}
	}
}

func (e *CheckInEngine) missedCheckInMessage(deadline time.Time, lastResetBy string, overdue time.Duration) string {
	var b strings.Builder
	b.WriteString(e.alertMessage)
	b.WriteString("\n\nMissed deadline: ")
	b.WriteString(deadline.UTC().Format(time.RFC1123))
	if overdue > 0 {
		b.WriteString(" (overdue by ")
		b.WriteString(humanDuration(overdue))
		b.WriteString(")")
	}
	if lastResetBy != "" {
		b.WriteString("\nLast check-in by: ")
		b.WriteString(lastResetBy)
	}
	b.WriteString("\n- ")
	b.WriteString(monitorSoftwareName)
	return b.String()
}

func (e *CheckInEngine) recordEvent(kind, actor string, detail any) {
	if e.store == nil {
		return
	}
	e.store.Record(kind, actor, detail)
}
