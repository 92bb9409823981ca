// Package dnd maintains per-user quiet-hours policy: recurring schedules,
// manual do-not-disturb sessions, and the "may this notification interrupt
// the user right now" decision.
//
// All state lives in memory, partitioned by user. When a storage.Store is
// provided mutations are written through and Hydrate restores state at
// startup. There are no background timers: manual sessions expire lazily on
// the next read.
package dnd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"notiq/internal/eventbus"
	"notiq/internal/storage"
	"notiq/pkg/logx"
)

// Manual session duration bounds.
const (
	minManualDuration = time.Minute
	maxManualDuration = 24 * time.Hour
)

// Status is the resolved DND state of a user at one instant.
// Source is "schedule" or "manual" (observability only).
type Status struct {
	Active bool       `json:"active"`
	Source string     `json:"source,omitempty"`
	Until  *time.Time `json:"until,omitempty"`
}

// Decision is the outcome of ShouldAllow.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Stats summarizes a user's schedule set.
type Stats struct {
	TotalSchedules  int `json:"total_schedules"`
	ActiveSchedules int `json:"active_schedules"`
}

// CreateInput carries the fields for a new schedule.
type CreateInput struct {
	Type       Type
	Start      string
	End        string
	Days       []time.Weekday
	Exceptions []Exception
}

// UpdateInput carries optional field updates; nil fields are left unchanged.
type UpdateInput struct {
	Type       *Type
	Start      *string
	End        *string
	Days       *[]time.Weekday
	Exceptions *[]Exception
}

// Suggestion is a heuristic schedule template offered to every user.
type Suggestion struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Input       CreateInput `json:"input"`
}

// FavoritesFunc reports whether sender is in the user's favorites set.
//
// The favorites list is an external collaborator. When none is configured the
// ALLOW_FAVORITES exception denies: with no way to recognize a favorite,
// nobody is one. This fail-closed default is deliberate; see DESIGN.md.
type FavoritesFunc func(userID, sender string) bool

// Scheduler owns per-user DND state. Safe for concurrent use; operations on
// one user's schedule set are serialized.
type Scheduler struct {
	mu sync.Mutex

	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store

	favorites FavoritesFunc
	now       func() time.Time

	// user -> id -> schedule
	schedules map[string]map[string]Schedule
	// user -> manual session expiry
	sessions map[string]time.Time
}

type Option func(*Scheduler)

// WithFavorites injects the favorites collaborator used by ALLOW_FAVORITES.
func WithFavorites(fn FavoritesFunc) Option {
	return func(s *Scheduler) { s.favorites = fn }
}

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithStore enables write-through persistence.
func WithStore(st storage.Store) Option {
	return func(s *Scheduler) { s.store = st }
}

// WithBus publishes manual-session lifecycle events.
func WithBus(bus eventbus.Bus) Option {
	return func(s *Scheduler) { s.bus = bus }
}

func New(log logx.Logger, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		log:       log,
		now:       time.Now,
		schedules: map[string]map[string]Schedule{},
		sessions:  map[string]time.Time{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hydrate loads persisted schedules and manual sessions. Call once at
// startup, before serving traffic.
func (s *Scheduler) Hydrate(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	byUser, err := s.store.ListKey(ctx, storage.KeySchedules)
	if err != nil {
		return fmt.Errorf("hydrate schedules: %w", err)
	}
	sessions, err := s.store.ListKey(ctx, storage.KeyManualDND)
	if err != nil {
		return fmt.Errorf("hydrate sessions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for user, raw := range byUser {
		var list []Schedule
		if err := json.Unmarshal(raw, &list); err != nil {
			s.log.Warn("skipping corrupt schedule record", logx.String("user", user), logx.Err(err))
			continue
		}
		m := map[string]Schedule{}
		for _, sch := range list {
			m[sch.ID] = sch
		}
		s.schedules[user] = m
	}
	now := s.now()
	for user, raw := range sessions {
		var rec struct {
			ExpiresAt time.Time `json:"expires_at"`
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		if rec.ExpiresAt.After(now) {
			s.sessions[user] = rec.ExpiresAt
		}
	}
	s.log.Info("dnd state hydrated",
		logx.Int("users_with_schedules", len(s.schedules)),
		logx.Int("manual_sessions", len(s.sessions)))
	return nil
}

// CreateSchedule validates and stores a new schedule, returning its id.
func (s *Scheduler) CreateSchedule(userID string, in CreateInput) (string, error) {
	sch := Schedule{
		ID:         uuid.NewString(),
		Type:       in.Type,
		Start:      in.Start,
		End:        in.End,
		Days:       append([]time.Weekday(nil), in.Days...),
		Exceptions: append([]Exception(nil), in.Exceptions...),
		CreatedAt:  s.now(),
	}
	if err := sch.validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	m := s.schedules[userID]
	if m == nil {
		m = map[string]Schedule{}
		s.schedules[userID] = m
	}
	m[sch.ID] = sch
	s.persistSchedulesLocked(userID)
	s.mu.Unlock()

	s.log.Debug("schedule created",
		logx.String("user", userID),
		logx.String("id", sch.ID),
		logx.String("type", string(sch.Type)))
	return sch.ID, nil
}

// UserSchedules returns the user's schedules, oldest first.
func (s *Scheduler) UserSchedules(userID string) []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.schedules[userID]
	out := make([]Schedule, 0, len(m))
	for _, sch := range m {
		out = append(out, sch)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// UpdateSchedule applies the non-nil fields of in. It returns false when the
// schedule id is unknown, and a validation error when the resulting schedule
// would be malformed (in which case nothing is changed).
func (s *Scheduler) UpdateSchedule(userID, id string, in UpdateInput) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.schedules[userID]
	sch, ok := m[id]
	if !ok {
		return false, nil
	}

	next := sch
	if in.Type != nil {
		next.Type = *in.Type
	}
	if in.Start != nil {
		next.Start = *in.Start
	}
	if in.End != nil {
		next.End = *in.End
	}
	if in.Days != nil {
		next.Days = append([]time.Weekday(nil), (*in.Days)...)
	}
	if in.Exceptions != nil {
		next.Exceptions = append([]Exception(nil), (*in.Exceptions)...)
	}
	if err := next.validate(); err != nil {
		return false, err
	}

	m[id] = next
	s.persistSchedulesLocked(userID)
	return true, nil
}

// DeleteSchedule removes a schedule; false when the id is unknown.
func (s *Scheduler) DeleteSchedule(userID, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.schedules[userID]
	if _, ok := m[id]; !ok {
		return false
	}
	delete(m, id)
	if len(m) == 0 {
		delete(s.schedules, userID)
	}
	s.persistSchedulesLocked(userID)
	return true
}

// StartManual replaces any live manual session with one expiring at
// now+duration and returns the expiry.
func (s *Scheduler) StartManual(userID string, duration time.Duration) (time.Time, error) {
	if duration < minManualDuration || duration > maxManualDuration {
		return time.Time{}, fmt.Errorf("%w: manual duration %v out of range [%v, %v]",
			ErrInvalid, duration, minManualDuration, maxManualDuration)
	}

	expiry := s.now().Add(duration)
	s.mu.Lock()
	s.sessions[userID] = expiry
	s.persistSessionLocked(userID, expiry)
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeDNDStarted, User: userID, Data: expiry})
	}
	s.log.Debug("manual dnd started", logx.String("user", userID), logx.Time("until", expiry))
	return expiry, nil
}

// EndManual clears a live manual session early; false if none was active.
func (s *Scheduler) EndManual(userID string) bool {
	now := s.now()
	s.mu.Lock()
	expiry, ok := s.sessions[userID]
	if ok {
		delete(s.sessions, userID)
		s.persistSessionLocked(userID, time.Time{})
	}
	s.mu.Unlock()

	if !ok || !expiry.After(now) {
		return false
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeDNDEnded, User: userID})
	}
	s.log.Debug("manual dnd ended", logx.String("user", userID))
	return true
}

// Status resolves whether DND is active for the user right now.
//
// Active when any schedule window contains the instant or a manual session is
// unexpired; multiple concurrent sources still yield one "active" state.
// Expired sessions read as inactive without needing an explicit end call.
func (s *Scheduler) Status(userID string) Status {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, ok := s.sessions[userID]; ok {
		if expiry.After(now) {
			until := expiry
			return Status{Active: true, Source: "manual", Until: &until}
		}
		// Lazy expiry.
		delete(s.sessions, userID)
		s.persistSessionLocked(userID, time.Time{})
	}

	for _, sch := range s.schedules[userID] {
		if active, until := sch.activeAt(now); active {
			u := until
			return Status{Active: true, Source: "schedule", Until: &u}
		}
	}
	return Status{}
}

// ManualActive reports whether the user has a live manual session at t.
// The context filter uses this as its focus-mode signal.
func (s *Scheduler) ManualActive(userID string, t time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.sessions[userID]
	return ok && expiry.After(t)
}

// ShouldAllow decides whether one notification may interrupt the user despite
// DND. When DND is inactive everything is allowed; when active, only a
// matching exception on a currently-active schedule lets it through.
func (s *Scheduler) ShouldAllow(userID, notificationType string, isCritical bool, sender string) Decision {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	manual := false
	if expiry, ok := s.sessions[userID]; ok && expiry.After(now) {
		manual = true
	}

	var active []Schedule
	for _, sch := range s.schedules[userID] {
		if ok, _ := sch.activeAt(now); ok {
			active = append(active, sch)
		}
	}

	if !manual && len(active) == 0 {
		return Decision{Allowed: true, Reason: "dnd not active"}
	}

	for _, sch := range active {
		if isCritical && sch.hasException(AllowCritical) {
			return Decision{Allowed: true, Reason: "critical notification exempt from dnd"}
		}
		if sch.hasException(AllowFavorites) && sender != "" &&
			s.favorites != nil && s.favorites(userID, sender) {
			return Decision{Allowed: true, Reason: "sender is a favorite"}
		}
	}

	source := "schedule"
	if manual && len(active) == 0 {
		source = "manual session"
	}
	_ = notificationType // recorded by callers; no type-specific exceptions exist
	return Decision{Reason: "blocked by active dnd (" + source + ")"}
}

// SuggestSchedules returns static heuristic templates. They are offered to
// every user regardless of history.
func (s *Scheduler) SuggestSchedules(userID string) []Suggestion {
	_ = userID
	weekdays := []time.Weekday{
		time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
	}
	return []Suggestion{
		{
			Name:        "Sleep Schedule",
			Description: "Quiet overnight, critical alerts still get through",
			Input: CreateInput{
				Type: TypeDaily, Start: "22:00", End: "07:00",
				Exceptions: []Exception{AllowCritical},
			},
		},
		{
			Name:        "Work Focus",
			Description: "Weekday morning deep-work block",
			Input: CreateInput{
				Type: TypeWeekly, Start: "09:00", End: "12:00",
				Days:       weekdays,
				Exceptions: []Exception{AllowCritical, AllowFavorites},
			},
		},
		{
			Name:        "Evening Wind-down",
			Description: "No interruptions while winding down",
			Input: CreateInput{
				Type: TypeDaily, Start: "20:00", End: "22:00",
				Exceptions: []Exception{AllowCritical},
			},
		},
	}
}

// Statistics reports schedule counts for a user.
func (s *Scheduler) Statistics(userID string) Stats {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{}
	for _, sch := range s.schedules[userID] {
		st.TotalSchedules++
		if active, _ := sch.activeAt(now); active {
			st.ActiveSchedules++
		}
	}
	return st
}

// persistSchedulesLocked writes the user's schedule set through to storage.
// Best-effort: persistence failures are logged, never surfaced to callers.
func (s *Scheduler) persistSchedulesLocked(userID string) {
	if s.store == nil {
		return
	}
	m := s.schedules[userID]
	if len(m) == 0 {
		if err := s.store.Delete(context.Background(), userID, storage.KeySchedules); err != nil {
			s.log.Warn("schedule persist failed", logx.String("user", userID), logx.Err(err))
		}
		return
	}
	list := make([]Schedule, 0, len(m))
	for _, sch := range m {
		list = append(list, sch)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	b, err := json.Marshal(list)
	if err == nil {
		err = s.store.Put(context.Background(), userID, storage.KeySchedules, b)
	}
	if err != nil {
		s.log.Warn("schedule persist failed", logx.String("user", userID), logx.Err(err))
	}
}

func (s *Scheduler) persistSessionLocked(userID string, expiry time.Time) {
	if s.store == nil {
		return
	}
	var err error
	if expiry.IsZero() {
		err = s.store.Delete(context.Background(), userID, storage.KeyManualDND)
	} else {
		var b []byte
		b, err = json.Marshal(struct {
			ExpiresAt time.Time `json:"expires_at"`
		}{expiry})
		if err == nil {
			err = s.store.Put(context.Background(), userID, storage.KeyManualDND, b)
		}
	}
	if err != nil {
		s.log.Warn("session persist failed", logx.String("user", userID), logx.Err(err))
	}
}
