// Package pipeline wires the intake contract together: classify the event,
// ask the DND scheduler whether it may interrupt, then either enqueue it for
// delivery or divert it to batching/silencing.
//
// This is the only place ContextFilter, DNDScheduler and DeliveryQueue meet;
// each stays independently usable.
package pipeline

import (
	"fmt"

	"notiq/internal/contextfilter"
	"notiq/internal/dnd"
	"notiq/internal/eventbus"
	"notiq/internal/notification"
	"notiq/internal/queue"
	"notiq/pkg/logx"
)

// Outcome says where an event ended up.
type Outcome string

const (
	OutcomeEnqueued Outcome = "enqueued"
	OutcomeBatched  Outcome = "batched"
	OutcomeSilenced Outcome = "silenced"
	OutcomeBlocked  Outcome = "blocked"
)

// DNDHoldBatch is the batch key events diverted by an active DND window
// accumulate under, until an external flush releases them.
const DNDHoldBatch = "dnd_held"

// Decision is the full record of processing one event.
type Decision struct {
	Classification notification.Classification `json:"classification"`
	Allowed        bool                        `json:"allowed"`
	DNDReason      string                      `json:"dnd_reason,omitempty"`
	Outcome        Outcome                     `json:"outcome"`
	Receipt        *queue.Receipt              `json:"receipt,omitempty"`
	BatchKey       string                      `json:"batch_key,omitempty"`
}

type Pipeline struct {
	log    logx.Logger
	bus    eventbus.Bus
	filter *contextfilter.Filter
	dnd    *dnd.Scheduler
	queue  *queue.Queue
}

func New(filter *contextfilter.Filter, sched *dnd.Scheduler, q *queue.Queue, log logx.Logger, bus eventbus.Bus) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{log: log, bus: bus, filter: filter, dnd: sched, queue: q}
}

// Process runs one event through the pipeline and returns what was decided.
func (p *Pipeline) Process(ev notification.Event) (Decision, error) {
	if ev.UserID == "" {
		return Decision{}, fmt.Errorf("event has no user id")
	}

	cls := p.filter.Analyze(ev)
	p.publish(eventbus.TypeClassified, ev.UserID, cls)

	critical := ev.Critical || cls.Priority == notification.PriorityCritical
	verdict := p.dnd.ShouldAllow(ev.UserID, cls.Priority.String(), critical, ev.Sender)

	d := Decision{
		Classification: cls,
		Allowed:        verdict.Allowed,
		DNDReason:      verdict.Reason,
	}

	if !verdict.Allowed {
		// Diverted: silent actions stay silent, everything else is held in
		// a batch the delivery worker can flush once DND lifts.
		switch cls.Action {
		case notification.ActionSilence:
			d.Outcome = OutcomeSilenced
		case notification.ActionBlock:
			d.Outcome = OutcomeBlocked
		default:
			p.queue.AddToBatch(ev.UserID, DNDHoldBatch, ev)
			d.Outcome = OutcomeBatched
			d.BatchKey = DNDHoldBatch
		}
		p.publish(eventbus.TypeBlocked, ev.UserID, verdict.Reason)
		p.log.Debug("event diverted by dnd",
			logx.String("user", ev.UserID),
			logx.String("outcome", string(d.Outcome)),
			logx.String("reason", verdict.Reason))
		return d, nil
	}

	switch cls.Action {
	case notification.ActionShowImmediately:
		rcpt, err := p.queue.Enqueue(ev.UserID, ev, cls.Priority, notification.StrategyImmediate)
		if err != nil {
			return d, err
		}
		d.Outcome = OutcomeEnqueued
		d.Receipt = &rcpt

	case notification.ActionDefer:
		var opts []queue.EnqueueOption
		if cls.DeferTo != nil {
			opts = append(opts, queue.WithDeliverAt(*cls.DeferTo))
		}
		rcpt, err := p.queue.Enqueue(ev.UserID, ev, cls.Priority, notification.StrategySmartTiming, opts...)
		if err != nil {
			return d, err
		}
		d.Outcome = OutcomeEnqueued
		d.Receipt = &rcpt

	case notification.ActionBundle:
		key := ev.App
		if key == "" {
			key = "misc"
		}
		p.queue.AddToBatch(ev.UserID, key, ev)
		d.Outcome = OutcomeBatched
		d.BatchKey = key

	case notification.ActionSilence:
		d.Outcome = OutcomeSilenced

	case notification.ActionBlock:
		d.Outcome = OutcomeBlocked

	default:
		return d, fmt.Errorf("unknown action %q", string(cls.Action))
	}

	return d, nil
}

func (p *Pipeline) publish(typ, user string, data any) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.Event{Type: typ, User: user, Data: data})
}
