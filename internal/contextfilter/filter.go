// Package contextfilter classifies incoming notifications into a priority,
// an action and an activity context.
//
// The filter is a leaf component: it holds no per-user mutable state and every
// Analyze call is a pure function of the event, the clock embedded in it, and
// the injected collaborators (focus lookup, known-sender lookup).
package contextfilter

import (
	"fmt"
	"strings"
	"time"

	"notiq/internal/notification"
	"notiq/pkg/logx"
)

// Config controls the hour-based context windows and app categories.
//
// Hours are local 24h clock values. A window with start > end wraps past
// midnight (the default sleeping window 22..7 does).
type Config struct {
	SleepStartHour int
	SleepEndHour   int
	WorkStartHour  int
	WorkEndHour    int

	// FocusDefer is how far a deferred notification is pushed when the user
	// is in focus mode and no session boundary is known.
	FocusDefer time.Duration

	// AppCategories overrides/extends the built-in app category table.
	AppCategories map[string]AppCategory
}

func (c Config) withDefaults() Config {
	if c.SleepStartHour == 0 && c.SleepEndHour == 0 {
		c.SleepStartHour, c.SleepEndHour = 22, 7
	}
	if c.WorkStartHour == 0 && c.WorkEndHour == 0 {
		c.WorkStartHour, c.WorkEndHour = 9, 17
	}
	if c.FocusDefer <= 0 {
		c.FocusDefer = time.Hour
	}
	return c
}

// FocusFunc reports whether the user is currently in an explicit focus
// session. Nil means "no focus signal available".
type FocusFunc func(userID string, at time.Time) bool

// KnownSenderFunc reports whether the sender is known to the user
// (contact book, favorites, prior conversations). Nil means unknown.
type KnownSenderFunc func(userID, sender string) bool

// Filter classifies notifications. Safe for concurrent use.
type Filter struct {
	cfg         Config
	log         logx.Logger
	focus       FocusFunc
	knownSender KnownSenderFunc
}

type Option func(*Filter)

// WithFocusLookup injects a live focus-mode signal. Focus wins over the
// hour-based context.
func WithFocusLookup(fn FocusFunc) Option {
	return func(f *Filter) { f.focus = fn }
}

// WithKnownSenderLookup injects a sender-recognition signal used by the spam
// policy (known senders' promos are silenced, unknown ones deferred).
func WithKnownSenderLookup(fn KnownSenderFunc) Option {
	return func(f *Filter) { f.knownSender = fn }
}

func New(cfg Config, log logx.Logger, opts ...Option) *Filter {
	if log.IsZero() {
		log = logx.Nop()
	}
	f := &Filter{cfg: cfg.withDefaults(), log: log}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Analyze classifies one event.
//
// Evaluation order (first decisive match wins for priority, the action is
// layered on top):
//  1. urgent lexicon / time-sensitive phrases
//  2. spam lexicon
//  3. app category x activity context matrix
func (f *Filter) Analyze(ev notification.Event) notification.Classification {
	text := strings.ToLower(ev.Text)
	now := ev.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	if cls, ok := f.classifyUrgent(text, ev); ok {
		f.logDecision(ev, cls)
		return cls
	}
	if cls, ok := f.classifySpam(text, ev); ok {
		f.logDecision(ev, cls)
		return cls
	}

	ctx := f.contextAt(ev.UserID, now)
	category := f.appCategory(ev.App)
	cls := f.resolve(category, ctx, now)
	f.logDecision(ev, cls)
	return cls
}

func (f *Filter) logDecision(ev notification.Event, cls notification.Classification) {
	f.log.Debug("analyzed notification",
		logx.String("user", ev.UserID),
		logx.String("app", ev.App),
		logx.String("priority", cls.Priority.String()),
		logx.String("action", string(cls.Action)),
		logx.String("reason", cls.Reasoning))
}

func (f *Filter) classifyUrgent(text string, ev notification.Event) (notification.Classification, bool) {
	strong := matchToken(text, strongUrgencyTokens)
	weak := ""
	if strong == "" {
		weak = matchToken(text, urgentTokens)
	}
	phrase := ""
	if strong == "" && weak == "" {
		phrase = matchToken(text, timeSensitivePhrases)
	}
	if strong == "" && weak == "" && phrase == "" {
		return notification.Classification{}, false
	}

	prio := notification.PriorityHigh
	reason := ""
	switch {
	case strong != "":
		prio = notification.PriorityCritical
		reason = fmt.Sprintf("urgent keyword %q", strong)
	case weak != "":
		reason = fmt.Sprintf("urgency keyword %q", weak)
	default:
		reason = fmt.Sprintf("time-sensitive phrase %q", phrase)
	}
	if ev.Critical && prio != notification.PriorityCritical {
		prio = notification.PriorityCritical
		reason += ", escalated by critical flag"
	}

	return notification.Classification{
		Priority:  prio,
		Action:    notification.ActionShowImmediately,
		Context:   f.contextAt(ev.UserID, ev.Timestamp),
		Reasoning: reason,
	}, true
}

func (f *Filter) classifySpam(text string, ev notification.Event) (notification.Classification, bool) {
	tok := matchToken(text, spamTokens)
	if tok == "" {
		return notification.Classification{}, false
	}

	// Promotions from a recognized sender are silenced outright; from an
	// unknown sender they are deferred so the user can still triage them.
	action := notification.ActionDefer
	reason := fmt.Sprintf("promotional keyword %q from unknown sender", tok)
	if f.knownSender != nil && f.knownSender(ev.UserID, ev.Sender) {
		action = notification.ActionSilence
		reason = fmt.Sprintf("promotional keyword %q from known sender", tok)
	}

	cls := notification.Classification{
		Priority:  notification.PrioritySpam,
		Action:    action,
		Context:   f.contextAt(ev.UserID, ev.Timestamp),
		Reasoning: reason,
	}
	if action == notification.ActionDefer {
		t := f.nextBoundary(cls.Context, ev.Timestamp)
		cls.DeferTo = &t
	}
	return cls, true
}

// resolve maps (app category, activity context) to priority and action.
func (f *Filter) resolve(category AppCategory, ctx notification.Context, now time.Time) notification.Classification {
	cls := notification.Classification{Context: ctx}

	switch ctx {
	case notification.ContextFocusMode:
		cls.Priority = notification.PriorityMedium
		if category != CategoryWork {
			cls.Priority = notification.PriorityLow
		}
		cls.Action = notification.ActionDefer
		cls.Reasoning = fmt.Sprintf("%s app during focus session", category)

	case notification.ContextSleeping:
		cls.Priority = notification.PriorityLow
		cls.Action = notification.ActionDefer
		if category == CategoryWork {
			cls.Priority = notification.PriorityMedium
		}
		cls.Reasoning = fmt.Sprintf("%s app during sleeping hours", category)

	case notification.ContextWorking:
		switch category {
		case CategoryWork:
			cls.Priority = notification.PriorityMedium
			cls.Action = notification.ActionShowImmediately
			cls.Reasoning = "work app during working hours"
		case CategorySocial, CategoryEntertainment:
			cls.Priority = notification.PriorityLow
			cls.Action = notification.ActionDefer
			cls.Reasoning = fmt.Sprintf("%s app during working hours", category)
		default:
			cls.Priority = notification.PriorityLow
			cls.Action = notification.ActionShowImmediately
			cls.Reasoning = "utility app during working hours"
		}

	default: // leisure
		cls.Priority = notification.PriorityLow
		switch category {
		case CategorySocial, CategoryEntertainment:
			cls.Action = notification.ActionBundle
			cls.Reasoning = fmt.Sprintf("%s app during leisure, grouped", category)
		case CategoryWork:
			cls.Priority = notification.PriorityMedium
			cls.Action = notification.ActionShowImmediately
			cls.Reasoning = "work app during leisure"
		default:
			cls.Action = notification.ActionShowImmediately
			cls.Reasoning = "utility app during leisure"
		}
	}

	if cls.Action == notification.ActionDefer {
		t := f.nextBoundary(ctx, now)
		cls.DeferTo = &t
	}
	return cls
}

// contextAt derives the activity context for a user at the given instant.
// A live focus session wins over the hour-based windows.
func (f *Filter) contextAt(userID string, at time.Time) notification.Context {
	if at.IsZero() {
		at = time.Now()
	}
	if f.focus != nil && f.focus(userID, at) {
		return notification.ContextFocusMode
	}
	h := at.Hour()
	switch {
	case hourInWindow(h, f.cfg.SleepStartHour, f.cfg.SleepEndHour):
		return notification.ContextSleeping
	case hourInWindow(h, f.cfg.WorkStartHour, f.cfg.WorkEndHour):
		return notification.ContextWorking
	default:
		return notification.ContextLeisure
	}
}

// nextBoundary computes when a deferred notification leaves the disqualifying
// window: end of sleeping hours, end of the working block, or the focus
// fallback offset.
func (f *Filter) nextBoundary(ctx notification.Context, now time.Time) time.Time {
	if now.IsZero() {
		now = time.Now()
	}
	switch ctx {
	case notification.ContextSleeping:
		return nextHour(now, f.cfg.SleepEndHour)
	case notification.ContextWorking:
		return nextHour(now, f.cfg.WorkEndHour)
	default:
		return now.Add(f.cfg.FocusDefer)
	}
}

func (f *Filter) appCategory(app string) AppCategory {
	key := strings.ToLower(strings.TrimSpace(app))
	if cat, ok := f.cfg.AppCategories[key]; ok {
		return cat
	}
	if cat, ok := defaultAppCategories[key]; ok {
		return cat
	}
	return CategoryUtility
}

// hourInWindow reports whether hour h lies in [start, end), wrapping past
// midnight when start > end.
func hourInWindow(h, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

// nextHour returns the next instant at hour:00 strictly after now.
func nextHour(now time.Time, hour int) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func matchToken(text string, tokens []string) string {
	for _, tok := range tokens {
		if strings.Contains(text, tok) {
			return tok
		}
	}
	return ""
}
