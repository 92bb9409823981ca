package dnd

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"notiq/internal/storage"
	"notiq/pkg/logx"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestOvernightScheduleWrap(t *testing.T) {
	t.Parallel()
	sch := Schedule{ID: "s1", Type: TypeDaily, Start: "22:00", End: "07:00"}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"late evening", time.Date(2026, 3, 11, 23, 30, 0, 0, time.UTC), true},
		{"early morning", time.Date(2026, 3, 11, 6, 30, 0, 0, time.UTC), true},
		{"exactly at start", time.Date(2026, 3, 11, 22, 0, 0, 0, time.UTC), true},
		{"exactly at end", time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC), false},
		{"midday", time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, until := sch.activeAt(tt.at)
			if got != tt.want {
				t.Fatalf("activeAt(%v) = %v, want %v", tt.at, got, tt.want)
			}
			if got && !until.After(tt.at) {
				t.Fatalf("until %v not after %v", until, tt.at)
			}
		})
	}
}

func TestWeeklyScheduleDayMatching(t *testing.T) {
	t.Parallel()
	sch := Schedule{
		ID: "s1", Type: TypeWeekly, Start: "09:00", End: "12:00",
		Days: []time.Weekday{time.Monday, time.Wednesday},
	}

	wed := time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC) // Wednesday
	if ok, _ := sch.activeAt(wed); !ok {
		t.Fatal("expected active on a listed weekday")
	}
	thu := wed.AddDate(0, 0, 1)
	if ok, _ := sch.activeAt(thu); ok {
		t.Fatal("expected inactive on an unlisted weekday")
	}
}

// The morning half of an overnight weekly window belongs to the day the
// window started.
func TestWeeklyOvernightMorningHalf(t *testing.T) {
	t.Parallel()
	sch := Schedule{
		ID: "s1", Type: TypeWeekly, Start: "22:00", End: "06:00",
		Days: []time.Weekday{time.Friday},
	}

	satMorning := time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC) // Saturday 03:00
	if ok, _ := sch.activeAt(satMorning); !ok {
		t.Fatal("expected Friday-night window active on Saturday morning")
	}
	sunMorning := satMorning.AddDate(0, 0, 1)
	if ok, _ := sch.activeAt(sunMorning); ok {
		t.Fatal("expected inactive on Sunday morning")
	}
}

func TestCreateScheduleValidation(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())

	tests := []struct {
		name string
		in   CreateInput
	}{
		{"bad start", CreateInput{Type: TypeDaily, Start: "25:00", End: "07:00"}},
		{"bad end", CreateInput{Type: TypeDaily, Start: "22:00", End: "7"}},
		{"weekly without days", CreateInput{Type: TypeWeekly, Start: "09:00", End: "12:00"}},
		{"unknown type", CreateInput{Type: Type("hourly"), Start: "09:00", End: "12:00"}},
		{"unknown exception", CreateInput{Type: TypeDaily, Start: "09:00", End: "12:00", Exceptions: []Exception{"allow_pets"}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := s.CreateSchedule("u1", tt.in)
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestScheduleCRUD(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())

	id, err := s.CreateSchedule("u1", CreateInput{Type: TypeDaily, Start: "22:00", End: "07:00"})
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if got := s.UserSchedules("u1"); len(got) != 1 || got[0].ID != id {
		t.Fatalf("UserSchedules = %+v, want one schedule with id %s", got, id)
	}

	newEnd := "08:00"
	ok, err := s.UpdateSchedule("u1", id, UpdateInput{End: &newEnd})
	if err != nil || !ok {
		t.Fatalf("UpdateSchedule = (%v, %v), want (true, nil)", ok, err)
	}
	if got := s.UserSchedules("u1"); got[0].End != "08:00" {
		t.Fatalf("End = %s, want 08:00", got[0].End)
	}

	// Unknown ids miss without error.
	if ok, err := s.UpdateSchedule("u1", "nope", UpdateInput{End: &newEnd}); ok || err != nil {
		t.Fatalf("UpdateSchedule(unknown) = (%v, %v), want (false, nil)", ok, err)
	}
	if s.DeleteSchedule("u1", "nope") {
		t.Fatal("DeleteSchedule(unknown) = true, want false")
	}
	if s.DeleteSchedule("u2", id) {
		t.Fatal("DeleteSchedule(other user) = true, want false")
	}

	// An invalid update leaves the schedule untouched.
	bad := "99:99"
	if _, err := s.UpdateSchedule("u1", id, UpdateInput{Start: &bad}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("error = %v, want ErrInvalid", err)
	}
	if got := s.UserSchedules("u1"); got[0].Start != "22:00" {
		t.Fatalf("Start = %s, want unchanged 22:00", got[0].Start)
	}

	if !s.DeleteSchedule("u1", id) {
		t.Fatal("DeleteSchedule = false, want true")
	}
	if got := s.UserSchedules("u1"); len(got) != 0 {
		t.Fatalf("UserSchedules after delete = %+v, want empty", got)
	}
}

func TestManualSessionLifecycle(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)
	now := base
	s := New(logx.Nop(), WithClock(func() time.Time { return now }))

	if _, err := s.StartManual("u1", 30*time.Second); !errors.Is(err, ErrInvalid) {
		t.Fatalf("too-short duration error = %v, want ErrInvalid", err)
	}
	if _, err := s.StartManual("u1", 25*time.Hour); !errors.Is(err, ErrInvalid) {
		t.Fatalf("too-long duration error = %v, want ErrInvalid", err)
	}

	expiry, err := s.StartManual("u1", 2*time.Hour)
	if err != nil {
		t.Fatalf("StartManual: %v", err)
	}
	if want := base.Add(2 * time.Hour); !expiry.Equal(want) {
		t.Fatalf("expiry = %v, want %v", expiry, want)
	}

	st := s.Status("u1")
	if !st.Active || st.Source != "manual" {
		t.Fatalf("Status = %+v, want active manual", st)
	}

	// Starting again replaces the session.
	expiry2, err := s.StartManual("u1", 4*time.Hour)
	if err != nil {
		t.Fatalf("StartManual: %v", err)
	}
	if !expiry2.After(expiry) {
		t.Fatalf("replacement expiry %v not after %v", expiry2, expiry)
	}

	// Sessions expire lazily on read.
	now = base.Add(5 * time.Hour)
	if st := s.Status("u1"); st.Active {
		t.Fatalf("Status after expiry = %+v, want inactive", st)
	}
	if s.EndManual("u1") {
		t.Fatal("EndManual after expiry = true, want false")
	}

	now = base
	if _, err := s.StartManual("u1", time.Hour); err != nil {
		t.Fatalf("StartManual: %v", err)
	}
	if !s.EndManual("u1") {
		t.Fatal("EndManual = false, want true")
	}
	if s.EndManual("u1") {
		t.Fatal("second EndManual = true, want false")
	}
}

func TestShouldAllowExceptions(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 3, 11, 23, 0, 0, 0, time.UTC)
	favorites := func(userID, sender string) bool { return sender == "alice" }
	s := New(logx.Nop(), WithClock(fixedClock(at)), WithFavorites(favorites))

	if _, err := s.CreateSchedule("u1", CreateInput{
		Type: TypeDaily, Start: "22:00", End: "07:00",
		Exceptions: []Exception{AllowCritical, AllowFavorites},
	}); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	tests := []struct {
		name     string
		critical bool
		sender   string
		want     bool
	}{
		{"critical passes", true, "", true},
		{"favorite passes", false, "alice", true},
		{"normal blocked", false, "bob", false},
		{"empty sender blocked", false, "", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := s.ShouldAllow("u1", "message", tt.critical, tt.sender)
			if d.Allowed != tt.want {
				t.Fatalf("Allowed = %v (%s), want %v", d.Allowed, d.Reason, tt.want)
			}
		})
	}

	// Everything passes when no window is active.
	d := s.ShouldAllow("u2", "message", false, "bob")
	if !d.Allowed {
		t.Fatalf("inactive dnd decision = %+v, want allowed", d)
	}
}

// Without a favorites collaborator ALLOW_FAVORITES denies.
func TestShouldAllowFavoritesWithoutLookup(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 3, 11, 23, 0, 0, 0, time.UTC)
	s := New(logx.Nop(), WithClock(fixedClock(at)))

	if _, err := s.CreateSchedule("u1", CreateInput{
		Type: TypeDaily, Start: "22:00", End: "07:00",
		Exceptions: []Exception{AllowFavorites},
	}); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if d := s.ShouldAllow("u1", "message", false, "alice"); d.Allowed {
		t.Fatalf("decision = %+v, want blocked", d)
	}
}

func TestManualSessionBlocksWithoutExceptions(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)
	s := New(logx.Nop(), WithClock(fixedClock(at)))

	if _, err := s.StartManual("u1", time.Hour); err != nil {
		t.Fatalf("StartManual: %v", err)
	}
	if d := s.ShouldAllow("u1", "message", true, ""); d.Allowed {
		t.Fatalf("decision = %+v, want blocked (manual sessions carry no exceptions)", d)
	}
	if !s.ManualActive("u1", at) {
		t.Fatal("ManualActive = false, want true")
	}
	if s.ManualActive("u1", at.Add(2*time.Hour)) {
		t.Fatal("ManualActive past expiry = true, want false")
	}
}

func TestHydrateRestoresState(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer st.Close()

	base := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)
	s1 := New(logx.Nop(), WithStore(st), WithClock(fixedClock(base)))
	id, err := s1.CreateSchedule("u1", CreateInput{Type: TypeDaily, Start: "22:00", End: "07:00"})
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if _, err := s1.StartManual("u1", 2*time.Hour); err != nil {
		t.Fatalf("StartManual: %v", err)
	}

	s2 := New(logx.Nop(), WithStore(st), WithClock(fixedClock(base.Add(time.Minute))))
	if err := s2.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if got := s2.UserSchedules("u1"); len(got) != 1 || got[0].ID != id {
		t.Fatalf("hydrated schedules = %+v, want id %s", got, id)
	}
	if st := s2.Status("u1"); !st.Active || st.Source != "manual" {
		t.Fatalf("hydrated status = %+v, want active manual", st)
	}

	// Expired sessions are not restored.
	s3 := New(logx.Nop(), WithStore(st), WithClock(fixedClock(base.Add(3*time.Hour))))
	if err := s3.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if st := s3.Status("u1"); st.Source == "manual" {
		t.Fatalf("expired manual session restored: %+v", st)
	}
}

func TestSuggestionsAreValid(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	sugs := s.SuggestSchedules("u1")
	if len(sugs) == 0 {
		t.Fatal("expected at least one suggestion")
	}
	for _, sg := range sugs {
		if _, err := s.CreateSchedule("u1", sg.Input); err != nil {
			t.Fatalf("suggestion %q does not validate: %v", sg.Name, err)
		}
	}
	st := s.Statistics("u1")
	if st.TotalSchedules != len(sugs) {
		t.Fatalf("TotalSchedules = %d, want %d", st.TotalSchedules, len(sugs))
	}
}
