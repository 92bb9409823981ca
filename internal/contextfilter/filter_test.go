package contextfilter

import (
	"testing"
	"time"

	"notiq/internal/notification"
	"notiq/pkg/logx"
)

// evening between the work and sleep windows.
func leisureTime() time.Time {
	return time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)
}

func workTime() time.Time {
	return time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC) // Wednesday 10:00
}

func sleepTime() time.Time {
	return time.Date(2026, 3, 11, 2, 30, 0, 0, time.UTC)
}

func TestAnalyzeUrgent(t *testing.T) {
	t.Parallel()
	f := New(Config{}, logx.Nop())

	tests := []struct {
		name string
		ev   notification.Event
		prio notification.Priority
	}{
		{
			name: "strong keyword",
			ev:   notification.Event{Text: "URGENT: Server down!", App: "slack", UserID: "u1", Timestamp: leisureTime()},
			prio: notification.PriorityCritical,
		},
		{
			name: "weak keyword",
			ev:   notification.Event{Text: "Deadline moved to Friday", App: "email", UserID: "u1", Timestamp: leisureTime()},
			prio: notification.PriorityHigh,
		},
		{
			name: "time-sensitive phrase",
			ev:   notification.Event{Text: "Your meeting in 10 minutes", App: "calendar", UserID: "u1", Timestamp: leisureTime()},
			prio: notification.PriorityHigh,
		},
		{
			name: "critical flag escalates",
			ev:   notification.Event{Text: "alert from monitoring", App: "pagerduty", UserID: "u1", Critical: true, Timestamp: sleepTime()},
			prio: notification.PriorityCritical,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cls := f.Analyze(tt.ev)
			if cls.Priority != tt.prio {
				t.Fatalf("Priority = %v, want %v", cls.Priority, tt.prio)
			}
			if cls.Action != notification.ActionShowImmediately {
				t.Fatalf("Action = %v, want SHOW_IMMEDIATELY", cls.Action)
			}
			if cls.Reasoning == "" {
				t.Fatal("expected non-empty reasoning")
			}
		})
	}
}

func TestAnalyzeUrgentBeatsEveryContext(t *testing.T) {
	t.Parallel()
	f := New(Config{}, logx.Nop())

	for _, ts := range []time.Time{leisureTime(), workTime(), sleepTime()} {
		cls := f.Analyze(notification.Event{Text: "URGENT: Server down!", App: "slack", UserID: "u1", Timestamp: ts})
		if cls.Priority != notification.PriorityCritical {
			t.Fatalf("at %v: Priority = %v, want CRITICAL", ts, cls.Priority)
		}
		if cls.Action != notification.ActionShowImmediately {
			t.Fatalf("at %v: Action = %v, want SHOW_IMMEDIATELY", ts, cls.Action)
		}
	}
}

func TestAnalyzeSpamPolicy(t *testing.T) {
	t.Parallel()
	known := func(userID, sender string) bool { return sender == "shop@known.example" }
	f := New(Config{}, logx.Nop(), WithKnownSenderLookup(known))

	unknown := f.Analyze(notification.Event{
		Text: "Flash sale! 50% off, unsubscribe here", Sender: "noreply@spam.example",
		App: "email", UserID: "u1", Timestamp: leisureTime(),
	})
	if unknown.Priority != notification.PrioritySpam {
		t.Fatalf("Priority = %v, want SPAM", unknown.Priority)
	}
	if unknown.Action != notification.ActionDefer {
		t.Fatalf("unknown sender Action = %v, want DEFER", unknown.Action)
	}
	if unknown.DeferTo == nil || !unknown.DeferTo.After(leisureTime()) {
		t.Fatalf("expected a future DeferTo, got %v", unknown.DeferTo)
	}

	got := f.Analyze(notification.Event{
		Text: "Flash sale! 50% off", Sender: "shop@known.example",
		App: "email", UserID: "u1", Timestamp: leisureTime(),
	})
	if got.Action != notification.ActionSilence {
		t.Fatalf("known sender Action = %v, want SILENCE", got.Action)
	}
}

func TestAnalyzeContextMatrix(t *testing.T) {
	t.Parallel()
	f := New(Config{}, logx.Nop())

	tests := []struct {
		name   string
		app    string
		at     time.Time
		ctx    notification.Context
		prio   notification.Priority
		action notification.Action
	}{
		{"work app while working", "slack", workTime(), notification.ContextWorking, notification.PriorityMedium, notification.ActionShowImmediately},
		{"social app while working", "instagram", workTime(), notification.ContextWorking, notification.PriorityLow, notification.ActionDefer},
		{"utility app while working", "bank", workTime(), notification.ContextWorking, notification.PriorityLow, notification.ActionShowImmediately},
		{"social app at leisure", "instagram", leisureTime(), notification.ContextLeisure, notification.PriorityLow, notification.ActionBundle},
		{"work app at leisure", "slack", leisureTime(), notification.ContextLeisure, notification.PriorityMedium, notification.ActionShowImmediately},
		{"work app while sleeping", "slack", sleepTime(), notification.ContextSleeping, notification.PriorityMedium, notification.ActionDefer},
		{"social app while sleeping", "instagram", sleepTime(), notification.ContextSleeping, notification.PriorityLow, notification.ActionDefer},
		{"unknown app falls back to utility", "some_new_app", leisureTime(), notification.ContextLeisure, notification.PriorityLow, notification.ActionShowImmediately},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cls := f.Analyze(notification.Event{Text: "hello", App: tt.app, UserID: "u1", Timestamp: tt.at})
			if cls.Context != tt.ctx {
				t.Fatalf("Context = %v, want %v", cls.Context, tt.ctx)
			}
			if cls.Priority != tt.prio {
				t.Fatalf("Priority = %v, want %v", cls.Priority, tt.prio)
			}
			if cls.Action != tt.action {
				t.Fatalf("Action = %v, want %v", cls.Action, tt.action)
			}
		})
	}
}

// An instagram like never interrupts: whatever the context, the action is
// DEFER, BUNDLE or SILENCE.
func TestSocialLikeNeverInterrupts(t *testing.T) {
	t.Parallel()
	f := New(Config{}, logx.Nop())

	for hour := 0; hour < 24; hour++ {
		at := time.Date(2026, 3, 11, hour, 0, 0, 0, time.UTC)
		cls := f.Analyze(notification.Event{Text: "someone liked your photo", App: "instagram", UserID: "u1", Timestamp: at})
		switch cls.Action {
		case notification.ActionDefer, notification.ActionBundle, notification.ActionSilence:
		default:
			t.Fatalf("hour %d: Action = %v, want DEFER/BUNDLE/SILENCE", hour, cls.Action)
		}
	}
}

func TestFocusLookupWinsOverHours(t *testing.T) {
	t.Parallel()
	focused := func(userID string, at time.Time) bool { return userID == "u1" }
	f := New(Config{}, logx.Nop(), WithFocusLookup(focused))

	cls := f.Analyze(notification.Event{Text: "standup notes", App: "slack", UserID: "u1", Timestamp: workTime()})
	if cls.Context != notification.ContextFocusMode {
		t.Fatalf("Context = %v, want FOCUS_MODE", cls.Context)
	}
	if cls.Action != notification.ActionDefer {
		t.Fatalf("Action = %v, want DEFER", cls.Action)
	}
	if cls.DeferTo == nil {
		t.Fatal("expected DeferTo for focus defer")
	}

	other := f.Analyze(notification.Event{Text: "standup notes", App: "slack", UserID: "u2", Timestamp: workTime()})
	if other.Context != notification.ContextWorking {
		t.Fatalf("Context = %v, want WORKING", other.Context)
	}
}

func TestDeferBoundaries(t *testing.T) {
	t.Parallel()
	f := New(Config{}, logx.Nop())

	sleeping := f.Analyze(notification.Event{Text: "hi", App: "whatsapp", UserID: "u1", Timestamp: sleepTime()})
	if sleeping.DeferTo == nil {
		t.Fatal("expected DeferTo during sleep")
	}
	want := time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC)
	if !sleeping.DeferTo.Equal(want) {
		t.Fatalf("DeferTo = %v, want %v", sleeping.DeferTo, want)
	}

	working := f.Analyze(notification.Event{Text: "hi", App: "instagram", UserID: "u1", Timestamp: workTime()})
	if working.DeferTo == nil {
		t.Fatal("expected DeferTo during work")
	}
	wantWork := time.Date(2026, 3, 11, 17, 0, 0, 0, time.UTC)
	if !working.DeferTo.Equal(wantWork) {
		t.Fatalf("DeferTo = %v, want %v", working.DeferTo, wantWork)
	}
}

func TestHourInWindow(t *testing.T) {
	t.Parallel()
	tests := []struct {
		h, start, end int
		want          bool
	}{
		{10, 9, 17, true},
		{17, 9, 17, false},
		{8, 9, 17, false},
		{23, 22, 7, true},
		{3, 22, 7, true},
		{7, 22, 7, false},
		{12, 22, 7, false},
		{5, 5, 5, false},
	}
	for _, tt := range tests {
		if got := hourInWindow(tt.h, tt.start, tt.end); got != tt.want {
			t.Fatalf("hourInWindow(%d, %d, %d) = %v, want %v", tt.h, tt.start, tt.end, got, tt.want)
		}
	}
}
