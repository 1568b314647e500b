package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/remeh/sizedwaitgroup"
)

var errEmptyAlertMessage = errors.New("alert message cannot be empty")

// DispatchResult aggregates one fan-out. Total counts only contacts that
// carry a destination id; Sent+Failed always equals Total.
type DispatchResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// AlertDispatcher fans one message out to every reachable contact. Attempts
// are independent: a dead destination never stops the rest, and per-contact
// failures surface in the result counts rather than as an error.
type AlertDispatcher struct {
	notifier    Notifier
	maxParallel int
	sendTimeout time.Duration
	metrics     *MonitorMetrics
}

func NewAlertDispatcher(notifier Notifier, cfg Config, metrics *MonitorMetrics) *AlertDispatcher {
	d := &AlertDispatcher{
		notifier:    notifier,
		maxParallel: cfg.MaxParallelSends,
		sendTimeout: cfg.SendTimeout,
		metrics:     metrics,
	}
	if d.maxParallel <= 0 {
		d.maxParallel = defaultMaxParallelSends
	}
	if d.sendTimeout <= 0 {
		d.sendTimeout = defaultSendTimeout
	}
	return d
}

type contactSendOutcome struct {
	contact Contact
	err     error
}

// Dispatch sends message to every contact with a destination id. The only
// error it returns is a blank message; delivery failures are counted.
// Contacts without a destination id are skipped and do not count toward
// Total, and a directory with nothing reachable short-circuits without
// touching the notifier.
func (d *AlertDispatcher) Dispatch(ctx context.Context, message string, contacts []Contact) (DispatchResult, error) {
	if strings.TrimSpace(message) == "" {
		return DispatchResult{}, errEmptyAlertMessage
	}

	eligible := make([]Contact, 0, len(contacts))
	for _, c := range contacts {
		if c.hasDestination() {
			eligible = append(eligible, c)
		}
	}
	res := DispatchResult{Total: len(eligible)}
	if res.Total == 0 {
		logger.Warn("alert dispatch skipped: no contacts with a destination id", "contacts", len(contacts))
		return res, nil
	}

	limit := d.maxParallel
	if limit > res.Total {
		limit = res.Total
	}
	swg := sizedwaitgroup.New(limit)
	outcomes := make([]contactSendOutcome, res.Total)
	for i, contact := range eligible {
		swg.Add()
		go func(i int, contact Contact) {
			defer swg.Done()
			outcomes[i] = contactSendOutcome{contact: contact, err: d.sendOne(ctx, contact, message)}
		}(i, contact)
	}
	swg.Wait()

	for _, out := range outcomes {
		if out.err != nil {
			res.Failed++
			logger.Warn("alert delivery failed",
				"contact", out.contact.Name,
				"destination", destinationFingerprint(out.contact.DestinationID),
				"error", out.err,
			)
			continue
		}
		res.Sent++
		logger.Info("alert delivered",
			"contact", out.contact.Name,
			"destination", destinationFingerprint(out.contact.DestinationID),
		)
	}
	if d.metrics != nil {
		d.metrics.RecordDeliveries(res.Sent, res.Failed)
	}
	return res, nil
}

func (d *AlertDispatcher) sendOne(ctx context.Context, contact Contact, message string) error {
	if d.notifier == nil {
		return errors.New("no notifier configured")
	}
	sendCtx := ctx
	if d.sendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()
	}
	return d.notifier.Send(sendCtx, strings.TrimSpace(contact.DestinationID), message)
}
