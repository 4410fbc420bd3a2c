package tasks

import (
	"errors"
	"testing"
	"time"

	"github.com/lysyi3m/rss-sieve/app/feed"
)

func TestFeedState_BackoffIsMonotonicAndCapped(t *testing.T) {
	feedConfig := testFeedConfig("tech") // 60s base, 600s max, threshold 2, factor 2
	state := NewFeedState(feedConfig)
	now := time.Now()
	failure := CycleResult{Status: StatusFailure, Err: errors.New("boom")}

	expected := []time.Duration{
		60 * time.Second,  // 1st failure, below threshold
		120 * time.Second, // threshold reached
		240 * time.Second,
		480 * time.Second,
		600 * time.Second, // capped
		600 * time.Second,
	}

	previous := time.Duration(0)
	for i, want := range expected {
		got := state.Apply(failure, feed.Token{}, now)
		if got != want {
			t.Errorf("Failure %d: expected interval %v, got %v", i+1, want, got)
		}
		if got < previous {
			t.Errorf("Failure %d: interval decreased from %v to %v", i+1, previous, got)
		}
		previous = got
	}

	if state.ConsecutiveFailures() != len(expected) {
		t.Errorf("Expected %d consecutive failures, got %d", len(expected), state.ConsecutiveFailures())
	}
}

func TestFeedState_ResetOnNonFailure(t *testing.T) {
	for _, status := range []CycleStatus{StatusSuccess, StatusPartial, StatusUnchanged} {
		t.Run(string(status), func(t *testing.T) {
			state := NewFeedState(testFeedConfig("tech"))
			now := time.Now()

			for range 4 {
				state.Apply(CycleResult{Status: StatusFailure}, feed.Token{}, now)
			}
			if state.CurrentInterval() == 60*time.Second {
				t.Fatal("Expected interval to be backed off")
			}

			got := state.Apply(CycleResult{Status: status}, feed.Token{}, now)
			if got != 60*time.Second {
				t.Errorf("Expected interval reset to 60s, got %v", got)
			}
			if state.ConsecutiveFailures() != 0 {
				t.Errorf("Expected failures reset, got %d", state.ConsecutiveFailures())
			}
		})
	}
}

func TestFeedState_TokenAdvancesOnlyOnSuccess(t *testing.T) {
	state := NewFeedState(testFeedConfig("tech"))
	now := time.Now()
	v1 := feed.Token{ETag: `"v1"`}
	v2 := feed.Token{ETag: `"v2"`}

	state.Apply(CycleResult{Status: StatusSuccess}, v1, now)
	if state.Token() != v1 {
		t.Fatalf("Expected token v1, got %+v", state.Token())
	}

	for _, status := range []CycleStatus{StatusPartial, StatusFailure, StatusUnchanged} {
		state.Apply(CycleResult{Status: status}, v2, now)
		if state.Token() != v1 {
			t.Errorf("Expected token to stay v1 after %s, got %+v", status, state.Token())
		}
	}
}

func TestFeedState_Snapshot(t *testing.T) {
	state := NewFeedState(testFeedConfig("tech"))
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	snapshot := state.Snapshot()
	if snapshot.Phase != PhaseIdle || snapshot.LastResult != nil || snapshot.NextPollAt != nil {
		t.Errorf("Unexpected initial snapshot %+v", snapshot)
	}

	state.setPhase(PhasePublishing)
	if state.Snapshot().Phase != PhasePublishing {
		t.Error("Expected phase to be visible in snapshot")
	}

	state.Apply(CycleResult{Status: StatusSuccess, EntriesPublished: 2}, feed.Token{ETag: "x"}, now)
	snapshot = state.Snapshot()

	if snapshot.Phase != PhaseIdle {
		t.Errorf("Expected idle phase after cycle, got %s", snapshot.Phase)
	}
	if snapshot.LastResult == nil || snapshot.LastResult.EntriesPublished != 2 {
		t.Errorf("Expected last result in snapshot, got %+v", snapshot.LastResult)
	}
	if snapshot.NextPollAt == nil || !snapshot.NextPollAt.Equal(now.Add(time.Minute)) {
		t.Errorf("Unexpected next poll time %v", snapshot.NextPollAt)
	}
	if snapshot.LastSuccessAt == nil || !snapshot.LastSuccessAt.Equal(now) {
		t.Errorf("Unexpected last success time %v", snapshot.LastSuccessAt)
	}
	if snapshot.CurrentInterval != "1m0s" {
		t.Errorf("Expected interval '1m0s', got %s", snapshot.CurrentInterval)
	}
}
