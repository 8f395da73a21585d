package match

import (
	"errors"
	"testing"
	"time"
)

func TestSessionAggregatesRuns(t *testing.T) {
	clock := func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	session := NewSession(WithSessionClock(clock), WithHistoryLimit(2))
	if got := session.Snapshot().SessionID; got != "session-20240102T030405" {
		t.Fatalf("unexpected session id: %q", got)
	}

	records := []RunRecord{
		{Score: 3, Cause: CauseWall},
		{Score: 9, Cause: CauseSideways},
		{Score: 1},
	}
	var snapshot Snapshot
	for _, record := range records {
		var err error
		if snapshot, err = session.RecordRun(record); err != nil {
			t.Fatalf("record run: %v", err)
		}
	}

	if snapshot.Runs != 3 || snapshot.BestScore != 9 || snapshot.TotalScore != 13 {
		t.Fatalf("unexpected aggregates: %+v", snapshot)
	}
	if len(snapshot.Recent) != 2 || snapshot.Recent[0].Score != 9 || snapshot.Recent[1].Score != 1 {
		t.Fatalf("expected the two newest runs, got %+v", snapshot.Recent)
	}
	if snapshot.DeathsByCause["wall"] != 1 || snapshot.DeathsByCause["sideways"] != 1 || len(snapshot.DeathsByCause) != 2 {
		t.Fatalf("unexpected death tally: %+v", snapshot.DeathsByCause)
	}
	if !snapshot.Recent[1].EndedAt.Equal(clock()) {
		t.Fatalf("missing end time should default to the clock, got %v", snapshot.Recent[1].EndedAt)
	}
}

func TestSessionRejectsNegativeScore(t *testing.T) {
	session := NewSession(WithSessionID("fixed"))
	if _, err := session.RecordRun(RunRecord{Score: -1}); !errors.Is(err, ErrNegativeScore) {
		t.Fatalf("expected negative score error, got %v", err)
	}
	if snapshot := session.Snapshot(); snapshot.SessionID != "fixed" || snapshot.Runs != 0 {
		t.Fatalf("rejected run should not be counted: %+v", snapshot)
	}
	var nilSession *Session
	if _, err := nilSession.RecordRun(RunRecord{}); err == nil {
		t.Fatal("expected nil session error")
	}
}
