package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestDisabledMetricsRecordNothing(t *testing.T) {
	m := New(Config{Enabled: false})
	m.Inc(MetricLoginSuccess)
	m.Observe(MetricRenewalLatency, time.Millisecond)

	if m.Value(MetricLoginSuccess) != 0 {
		t.Fatal("disabled metrics should not count")
	}
	snap := m.Snapshot()
	if len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}

	var nilMetrics *Metrics
	nilMetrics.Inc(MetricLogout)
	if nilMetrics.Enabled() || nilMetrics.Value(MetricLogout) != 0 {
		t.Fatal("nil metrics must be inert")
	}
}

func TestConcurrentIncrements(t *testing.T) {
	m := New(Config{Enabled: true})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Inc(MetricRequestAuthorized)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricRequestAuthorized); got != 16000 {
		t.Fatalf("expected 16000, got %d", got)
	}
	if got := m.Snapshot().Counters[MetricRequestAuthorized]; got != 16000 {
		t.Fatalf("snapshot mismatch: %d", got)
	}
}

func TestLatencyHistogram(t *testing.T) {
	m := New(Config{Enabled: true, EnableLatencyHistograms: true})
	m.Observe(MetricRenewalLatency, 5*time.Millisecond)
	m.Observe(MetricRenewalLatency, 300*time.Millisecond)
	m.Observe(MetricRenewalLatency, 3*time.Second)
	m.Observe(MetricLoginSuccess, time.Second)

	buckets := m.Snapshot().Histograms[MetricRenewalLatency]
	if len(buckets) != HistBucketCount {
		t.Fatalf("expected %d buckets, got %d", HistBucketCount, len(buckets))
	}
	if buckets[0] != 1 || buckets[5] != 1 || buckets[7] != 1 {
		t.Fatalf("unexpected buckets %v", buckets)
	}
	if _, ok := m.Snapshot().Histograms[MetricLoginSuccess]; ok {
		t.Fatal("only renewal latency keeps a histogram")
	}
}

func TestLatencyDisabledWithoutFlag(t *testing.T) {
	m := New(Config{Enabled: true})
	m.Observe(MetricRenewalLatency, time.Millisecond)
	if _, ok := m.Snapshot().Histograms[MetricRenewalLatency]; ok {
		t.Fatal("histogram must be absent when latency is disabled")
	}
}

func TestBucketIndexBoundaries(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{10 * time.Millisecond, 0},
		{11 * time.Millisecond, 1},
		{100 * time.Millisecond, 3},
		{time.Second, 6},
		{time.Second + time.Millisecond, 7},
	}
	for _, tc := range cases {
		if got := BucketIndex(tc.d); got != tc.want {
			t.Fatalf("BucketIndex(%v) = %d, want %d", tc.d, got, tc.want)
		}
	}
}
