// Package queue is the per-user priority delivery queue.
//
// Entries are ordered by (priority ascending, enqueue sequence ascending):
// lower priority values are more urgent, and insertion order among equal
// priorities is preserved. Named batches accumulate bundle-routed payloads
// independently of that ordering and are flushed externally.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"notiq/internal/eventbus"
	"notiq/internal/notification"
	"notiq/internal/storage"
	"notiq/pkg/logx"
)

// EntryStatus tracks an entry's lifecycle.
type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusDelivered EntryStatus = "delivered"
	StatusCancelled EntryStatus = "cancelled"
)

// Entry is one queued notification. The payload is opaque to the queue.
type Entry struct {
	ID         string                `json:"id"`
	Payload    notification.Event    `json:"payload"`
	Priority   notification.Priority `json:"priority"`
	Strategy   notification.Strategy `json:"strategy"`
	EnqueuedAt time.Time             `json:"enqueued_at"`
	DeliverAt  time.Time             `json:"deliver_at"`
	Status     EntryStatus           `json:"status"`
	Seq        uint64                `json:"seq"`
	// Attempts counts failed delivery tries. The worker bumps it when it
	// requeues an entry after a sink error.
	Attempts int `json:"attempts,omitempty"`
}

// Receipt is returned by Enqueue.
type Receipt struct {
	ID        string    `json:"id"`
	Position  int       `json:"position"`
	DeliverAt time.Time `json:"deliver_at"`
}

// Stats summarizes one user's pending entries.
type Stats struct {
	TotalQueued      int            `json:"total_queued"`
	CountsByPriority map[string]int `json:"counts_by_priority"`
}

// Config controls delivery timing.
type Config struct {
	// PreferredHours are the local hours SMART_TIMING targets.
	PreferredHours []int
	// SmartFallback is the forward offset used when no preferred window
	// exists within the scan horizon.
	SmartFallback time.Duration
}

func (c Config) withDefaults() Config {
	if len(c.PreferredHours) == 0 {
		c.PreferredHours = []int{9, 12, 18, 20}
	}
	if c.SmartFallback <= 0 {
		c.SmartFallback = 2 * time.Hour
	}
	return c
}

type userQueue struct {
	entries []*Entry // sorted by (priority, seq)
	batches map[string][]notification.Event
}

// Queue holds every user's pending entries and batches.
// Safe for concurrent use; operations on one user's queue are serialized.
type Queue struct {
	mu sync.Mutex

	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store
	cfg   Config
	smart SmartWindowFunc
	now   func() time.Time

	seq   uint64
	users map[string]*userQueue
}

type Option func(*Queue)

// WithSmartWindow replaces the SMART_TIMING heuristic.
func WithSmartWindow(fn SmartWindowFunc) Option {
	return func(q *Queue) { q.smart = fn }
}

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithStore enables write-through persistence.
func WithStore(st storage.Store) Option {
	return func(q *Queue) { q.store = st }
}

// WithBus publishes queue lifecycle events.
func WithBus(bus eventbus.Bus) Option {
	return func(q *Queue) { q.bus = bus }
}

func New(cfg Config, log logx.Logger, opts ...Option) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	q := &Queue{
		log:   log,
		cfg:   cfg.withDefaults(),
		smart: DefaultSmartWindow,
		now:   time.Now,
		users: map[string]*userQueue{},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Hydrate loads persisted entries and batches. Call once at startup.
func (q *Queue) Hydrate(ctx context.Context) error {
	if q.store == nil {
		return nil
	}
	entries, err := q.store.ListKey(ctx, storage.KeyQueueEntries)
	if err != nil {
		return fmt.Errorf("hydrate queue entries: %w", err)
	}
	batches, err := q.store.ListKey(ctx, storage.KeyBatches)
	if err != nil {
		return fmt.Errorf("hydrate batches: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for user, raw := range entries {
		var list []*Entry
		if err := json.Unmarshal(raw, &list); err != nil {
			q.log.Warn("skipping corrupt queue record", logx.String("user", user), logx.Err(err))
			continue
		}
		uq := q.userLocked(user)
		uq.entries = list
		sortEntries(uq.entries)
		for _, e := range list {
			if e.Seq >= q.seq {
				q.seq = e.Seq + 1
			}
		}
	}
	for user, raw := range batches {
		var m map[string][]notification.Event
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		q.userLocked(user).batches = m
	}
	q.log.Info("queue state hydrated", logx.Int("users", len(q.users)))
	return nil
}

type enqueueOpts struct {
	deliverAt *time.Time
}

type EnqueueOption func(*enqueueOpts)

// WithDeliverAt overrides the strategy-computed delivery time. Used by the
// pipeline when classification already produced a defer timestamp.
func WithDeliverAt(t time.Time) EnqueueOption {
	return func(o *enqueueOpts) { o.deliverAt = &t }
}

// Enqueue inserts one notification and returns its id, the zero-based rank
// it occupies under the (priority, enqueue order) ordering at insertion time,
// and the computed delivery timestamp.
func (q *Queue) Enqueue(userID string, payload notification.Event, prio notification.Priority, strat notification.Strategy, opts ...EnqueueOption) (Receipt, error) {
	if !prio.Valid() {
		return Receipt{}, fmt.Errorf("invalid priority %d", int(prio))
	}
	var o enqueueOpts
	for _, opt := range opts {
		opt(&o)
	}

	now := q.now()
	deliverAt, err := q.deliverTime(strat, now)
	if err != nil {
		return Receipt{}, err
	}
	if o.deliverAt != nil {
		deliverAt = *o.deliverAt
	}

	q.mu.Lock()
	e := &Entry{
		ID:         uuid.NewString(),
		Payload:    payload,
		Priority:   prio,
		Strategy:   strat,
		EnqueuedAt: now,
		DeliverAt:  deliverAt,
		Status:     StatusPending,
		Seq:        q.seq,
	}
	q.seq++

	uq := q.userLocked(userID)
	pos := insertEntry(uq, e)
	q.persistEntriesLocked(userID)
	q.mu.Unlock()

	if q.bus != nil {
		q.bus.Publish(eventbus.Event{Type: eventbus.TypeEnqueued, User: userID, Data: e.ID})
	}
	q.log.Debug("enqueued",
		logx.String("user", userID),
		logx.String("id", e.ID),
		logx.String("priority", prio.String()),
		logx.String("strategy", string(strat)),
		logx.Int("position", pos),
		logx.Time("deliver_at", deliverAt))
	return Receipt{ID: e.ID, Position: pos, DeliverAt: deliverAt}, nil
}

func (q *Queue) deliverTime(strat notification.Strategy, now time.Time) (time.Time, error) {
	switch strat {
	case notification.StrategyImmediate:
		return now, nil
	case notification.StrategyBatchHourly:
		return nextTopOfHour(now), nil
	case notification.StrategyBatchDaily:
		return nextMidnight(now), nil
	case notification.StrategySmartTiming:
		if t, ok := q.smart(now, q.cfg.PreferredHours); ok {
			return t, nil
		}
		return now.Add(q.cfg.SmartFallback), nil
	default:
		return time.Time{}, fmt.Errorf("unknown delivery strategy %q", string(strat))
	}
}

// Dequeue removes and returns up to count entries in priority order.
// An empty or exhausted queue yields an empty slice, never an error.
func (q *Queue) Dequeue(userID string, count int) []Entry {
	if count <= 0 {
		return []Entry{}
	}
	q.mu.Lock()
	uq := q.users[userID]
	if uq == nil || len(uq.entries) == 0 {
		q.mu.Unlock()
		return []Entry{}
	}
	n := count
	if n > len(uq.entries) {
		n = len(uq.entries)
	}
	out := make([]Entry, 0, n)
	for _, e := range uq.entries[:n] {
		e.Status = StatusDelivered
		out = append(out, *e)
	}
	uq.entries = append(uq.entries[:0], uq.entries[n:]...)
	q.persistEntriesLocked(userID)
	q.mu.Unlock()
	return out
}

// Peek returns up to count entries in priority order without removing them.
func (q *Queue) Peek(userID string, count int) []Entry {
	if count <= 0 {
		return []Entry{}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	uq := q.users[userID]
	if uq == nil {
		return []Entry{}
	}
	n := count
	if n > len(uq.entries) {
		n = len(uq.entries)
	}
	out := make([]Entry, 0, n)
	for _, e := range uq.entries[:n] {
		out = append(out, *e)
	}
	return out
}

// FlushReady removes and returns every entry due by now, ordered by priority
// then enqueue order. Entries with a future DeliverAt stay queued regardless
// of priority.
func (q *Queue) FlushReady(userID string) []Entry {
	now := q.now()
	q.mu.Lock()
	uq := q.users[userID]
	if uq == nil || len(uq.entries) == 0 {
		q.mu.Unlock()
		return []Entry{}
	}

	out := []Entry{}
	kept := uq.entries[:0]
	for _, e := range uq.entries {
		if !e.DeliverAt.After(now) {
			e.Status = StatusDelivered
			out = append(out, *e)
		} else {
			kept = append(kept, e)
		}
	}
	uq.entries = kept
	if len(out) > 0 {
		q.persistEntriesLocked(userID)
	}
	q.mu.Unlock()

	if len(out) > 0 && q.bus != nil {
		q.bus.Publish(eventbus.Event{Type: eventbus.TypeFlushed, User: userID, Data: len(out)})
	}
	return out
}

// Requeue puts previously flushed entries back, preserving their original
// enqueue sequence so ordering among equal priorities is unchanged. The
// delivery worker uses this when a flush cycle is interrupted before every
// removed entry could reach the sink.
func (q *Queue) Requeue(userID string, entries []Entry) {
	if len(entries) == 0 {
		return
	}
	q.mu.Lock()
	uq := q.userLocked(userID)
	for i := range entries {
		e := entries[i]
		e.Status = StatusPending
		if e.Seq >= q.seq {
			q.seq = e.Seq + 1
		}
		insertEntry(uq, &e)
	}
	q.persistEntriesLocked(userID)
	q.mu.Unlock()
	q.log.Debug("requeued undelivered entries",
		logx.String("user", userID),
		logx.Int("count", len(entries)))
}

// Cancel removes a still-pending entry. It is an idempotent no-op reported as
// false when the entry was already removed, delivered, or never existed.
func (q *Queue) Cancel(userID, id string) bool {
	q.mu.Lock()
	uq := q.users[userID]
	if uq == nil {
		q.mu.Unlock()
		return false
	}
	for i, e := range uq.entries {
		if e.ID == id {
			e.Status = StatusCancelled
			uq.entries = append(uq.entries[:i], uq.entries[i+1:]...)
			q.persistEntriesLocked(userID)
			q.mu.Unlock()
			if q.bus != nil {
				q.bus.Publish(eventbus.Event{Type: eventbus.TypeCancelled, User: userID, Data: id})
			}
			return true
		}
	}
	q.mu.Unlock()
	return false
}

// UpdatePriority mutates an entry's priority and re-establishes its ordering
// position, keeping its original enqueue sequence for FIFO tie-breaks.
// False when the id is unknown.
func (q *Queue) UpdatePriority(userID, id string, prio notification.Priority) (bool, error) {
	if !prio.Valid() {
		return false, fmt.Errorf("invalid priority %d", int(prio))
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	uq := q.users[userID]
	if uq == nil {
		return false, nil
	}
	for i, e := range uq.entries {
		if e.ID == id {
			uq.entries = append(uq.entries[:i], uq.entries[i+1:]...)
			e.Priority = prio
			insertEntry(uq, e)
			q.persistEntriesLocked(userID)
			return true, nil
		}
	}
	return false, nil
}

// AddToBatch appends a payload to the named batch. Batches accumulate until
// flushed; the queue mandates no flush policy of its own.
func (q *Queue) AddToBatch(userID, batchKey string, payload notification.Event) {
	q.mu.Lock()
	uq := q.userLocked(userID)
	if uq.batches == nil {
		uq.batches = map[string][]notification.Event{}
	}
	uq.batches[batchKey] = append(uq.batches[batchKey], payload)
	q.persistBatchesLocked(userID)
	q.mu.Unlock()
}

// Batch returns a copy of the named batch's accumulated payloads.
func (q *Queue) Batch(userID, batchKey string) []notification.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	uq := q.users[userID]
	if uq == nil {
		return []notification.Event{}
	}
	return append([]notification.Event{}, uq.batches[batchKey]...)
}

// AllBatches returns a copy of every named batch for the user.
func (q *Queue) AllBatches(userID string) map[string][]notification.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := map[string][]notification.Event{}
	uq := q.users[userID]
	if uq == nil {
		return out
	}
	for k, v := range uq.batches {
		out[k] = append([]notification.Event{}, v...)
	}
	return out
}

// FlushBatch removes and returns the named batch's payloads in accumulation
// order. Flushing is always externally triggered.
func (q *Queue) FlushBatch(userID, batchKey string) []notification.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	uq := q.users[userID]
	if uq == nil {
		return []notification.Event{}
	}
	out := uq.batches[batchKey]
	if len(out) == 0 {
		return []notification.Event{}
	}
	delete(uq.batches, batchKey)
	q.persistBatchesLocked(userID)
	return out
}

// Stats reports pending-entry counts for a user.
func (q *Queue) Stats(userID string) Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := Stats{CountsByPriority: map[string]int{}}
	uq := q.users[userID]
	if uq == nil {
		return st
	}
	st.TotalQueued = len(uq.entries)
	for _, e := range uq.entries {
		st.CountsByPriority[e.Priority.String()]++
	}
	return st
}

// ActiveUsers lists users with at least one pending entry. The delivery
// worker iterates this to flush due notifications.
func (q *Queue) ActiveUsers() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.users))
	for user, uq := range q.users {
		if len(uq.entries) > 0 {
			out = append(out, user)
		}
	}
	sort.Strings(out)
	return out
}

func (q *Queue) userLocked(userID string) *userQueue {
	uq := q.users[userID]
	if uq == nil {
		uq = &userQueue{}
		q.users[userID] = uq
	}
	return uq
}

// insertEntry places e at its ordered position and returns that position.
func insertEntry(uq *userQueue, e *Entry) int {
	pos := sort.Search(len(uq.entries), func(i int) bool {
		o := uq.entries[i]
		if o.Priority != e.Priority {
			return o.Priority > e.Priority
		}
		return o.Seq > e.Seq
	})
	uq.entries = append(uq.entries, nil)
	copy(uq.entries[pos+1:], uq.entries[pos:])
	uq.entries[pos] = e
	return pos
}

func sortEntries(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority < entries[j].Priority
		}
		return entries[i].Seq < entries[j].Seq
	})
}

func (q *Queue) persistEntriesLocked(userID string) {
	if q.store == nil {
		return
	}
	uq := q.users[userID]
	var err error
	if uq == nil || len(uq.entries) == 0 {
		err = q.store.Delete(context.Background(), userID, storage.KeyQueueEntries)
	} else {
		var b []byte
		b, err = json.Marshal(uq.entries)
		if err == nil {
			err = q.store.Put(context.Background(), userID, storage.KeyQueueEntries, b)
		}
	}
	if err != nil {
		q.log.Warn("queue persist failed", logx.String("user", userID), logx.Err(err))
	}
}

func (q *Queue) persistBatchesLocked(userID string) {
	if q.store == nil {
		return
	}
	uq := q.users[userID]
	var err error
	if uq == nil || len(uq.batches) == 0 {
		err = q.store.Delete(context.Background(), userID, storage.KeyBatches)
	} else {
		var b []byte
		b, err = json.Marshal(uq.batches)
		if err == nil {
			err = q.store.Put(context.Background(), userID, storage.KeyBatches, b)
		}
	}
	if err != nil {
		q.log.Warn("batch persist failed", logx.String("user", userID), logx.Err(err))
	}
}
