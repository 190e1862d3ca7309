package model

import (
	"errors"
	"regexp"
	"testing"
	"time"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewInstanceIDFormat(t *testing.T) {
	id := NewInstanceID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewInstanceID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewInstanceIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewInstanceID()
		if seen[id] {
			t.Fatalf("NewInstanceID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestStatusConstants(t *testing.T) {
	statuses := []struct {
		constant Status
		expected string
	}{
		{StatusPending, "pending"},
		{StatusRunning, "running"},
		{StatusCompleted, "completed"},
		{StatusFailed, "failed"},
		{StatusCancelled, "cancelled"},
		{StatusTimedOut, "timeout"},
	}
	for _, s := range statuses {
		if string(s.constant) != s.expected {
			t.Errorf("status constant = %q, want %q", s.constant, s.expected)
		}
	}
	if got := len(Statuses()); got != len(statuses) {
		t.Errorf("len(Statuses()) = %d, want %d", got, len(statuses))
	}
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusTimedOut, true},
		{StatusPending, StatusCompleted, false},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusCancelled, true},
		{StatusRunning, StatusTimedOut, true},
		{StatusRunning, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusTimedOut, StatusCancelled, false},
		{StatusCancelled, StatusRunning, false},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCheckTransitionWrapsSentinel(t *testing.T) {
	err := CheckTransition(StatusCompleted, StatusRunning)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("CheckTransition error = %v, want ErrInvalidTransition", err)
	}
	if err := CheckTransition(StatusPending, StatusRunning); err != nil {
		t.Errorf("CheckTransition(pending, running) = %v, want nil", err)
	}
}

func TestTerminalAndActive(t *testing.T) {
	for _, s := range Statuses() {
		if s.IsTerminal() == s.IsActive() {
			t.Errorf("status %s: terminal=%v active=%v, want exactly one", s, s.IsTerminal(), s.IsActive())
		}
	}
}

func TestTaskDuration(t *testing.T) {
	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	done := created.Add(1500 * time.Millisecond)
	now := created.Add(5 * time.Second)

	finished := Task{Status: StatusCompleted, CreatedAt: created, CompletedAt: &done}
	if d, ok := finished.Duration(now); !ok || d != 1500*time.Millisecond {
		t.Errorf("finished Duration = %v, %v; want 1.5s, true", d, ok)
	}

	running := Task{Status: StatusRunning, CreatedAt: created}
	if d, ok := running.Duration(now); !ok || d != 5*time.Second {
		t.Errorf("running Duration = %v, %v; want 5s, true", d, ok)
	}

	cancelled := Task{Status: StatusCancelled, CreatedAt: created}
	if _, ok := cancelled.Duration(now); ok {
		t.Error("cancelled task without completion time should have no duration")
	}
}

func TestTaskView(t *testing.T) {
	task := Task{
		ID:          7,
		Description: "render",
		Timeout:     2500 * time.Millisecond,
		Status:      StatusCompleted,
		Result:      "ok",
		Info:        map[string]any{"model": "flux"},
	}
	v := task.View()
	if v.ID != 7 || v.Description != "render" || v.Status != StatusCompleted {
		t.Errorf("View() = %+v", v)
	}
	if !v.HasResult {
		t.Error("HasResult = false, want true")
	}
	if v.TimeoutS != 2.5 {
		t.Errorf("TimeoutS = %v, want 2.5", v.TimeoutS)
	}
}

func TestSummaryAdd(t *testing.T) {
	var s Summary
	for _, st := range []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusTimedOut, StatusTimedOut} {
		s.Add(st)
	}
	if s.Total != 6 || s.Active != 2 || s.TimedOut != 2 || s.Completed != 1 {
		t.Errorf("Summary = %+v", s)
	}
}

func TestViewOfCopiedTask(t *testing.T) {
	completed := time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC)
	clone := func(task Task) Task { return task }

	v := clone(Task{ID: 3, Status: StatusFailed, CompletedAt: &completed, Error: "boom"}).View()
	if v.ID != 3 || v.Error != "boom" || v.CompletedAt == nil || v.HasResult {
		t.Errorf("View() = %+v", v)
	}
}

func TestSummaryCount(t *testing.T) {
	var s Summary
	for _, st := range []Status{StatusRunning, StatusCancelled, StatusCancelled, StatusTimedOut} {
		s.Add(st)
	}
	want := map[Status]int{StatusRunning: 1, StatusCancelled: 2, StatusTimedOut: 1}
	for _, st := range Statuses() {
		if got := s.Count(st); got != want[st] {
			t.Errorf("Count(%s) = %d, want %d", st, got, want[st])
		}
	}
	if got := s.Count(Status("unknown")); got != 0 {
		t.Errorf("Count(unknown) = %d, want 0", got)
	}
}
