package observability

import "testing"

func TestTrackGuardClosesIdempotently(t *testing.T) {
	tracker := NewConnectionTracker()
	guard := tracker.Track("proxy", "rule-1")
	guard.Close()
	guard.Close() // must not panic or double-decrement
}

func TestPercentilesEmptyWindow(t *testing.T) {
	tracker := NewConnectionTracker()
	p50, p95, p99 := tracker.Percentiles()
	if p50 != 0 || p95 != 0 || p99 != 0 {
		t.Fatalf("expected all zero percentiles on empty window, got %v/%v/%v", p50, p95, p99)
	}
}

func TestPercentilesOrdering(t *testing.T) {
	tracker := NewConnectionTracker()
	for i := 1; i <= 100; i++ {
		tracker.RecordLatencyMs(float64(i))
	}
	p50, p95, p99 := tracker.Percentiles()
	if !(p50 <= p95 && p95 <= p99) {
		t.Fatalf("expected p50 <= p95 <= p99, got %v/%v/%v", p50, p95, p99)
	}
	if p99 < 90 {
		t.Fatalf("expected p99 near the high end of 1..100, got %v", p99)
	}
}

func TestPercentilesWindowWraps(t *testing.T) {
	tracker := NewConnectionTracker()
	for i := 0; i < windowSize+100; i++ {
		tracker.RecordLatencyMs(float64(i % 10))
	}
	// Should not panic and should reflect only the most recent windowSize
	// samples worth of values (all within 0..9 here).
	p50, _, _ := tracker.Percentiles()
	if p50 < 0 || p50 > 9 {
		t.Fatalf("expected p50 within the recorded value range, got %v", p50)
	}
}

func TestRecordBytesNoPanicOnZero(t *testing.T) {
	tracker := NewConnectionTracker()
	tracker.RecordBytes(0, 0)
	tracker.RecordBytes(100, 200)
}
