package metrics

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	warden "github.com/eugener/warden/internal"
	"github.com/eugener/warden/internal/testutil"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// record reports a query of exactly d for key against a fake clock.
func record(c *Collector, clock *testutil.FakeClock, key string, d time.Duration, failed bool) {
	c.RecordQuery(key, clock.Now().Add(-d), failed)
}

func TestHitRateNoEvents(t *testing.T) {
	t.Parallel()
	c := New(Options{})

	if got := c.HitRate("k"); got != 0 {
		t.Errorf("HitRate = %v, want 0", got)
	}
	if got := c.OverallHitRate(); got != 0 || math.IsNaN(got) {
		t.Errorf("OverallHitRate = %v, want 0", got)
	}
	if got := c.OverallAverageDuration(); got != 0 {
		t.Errorf("OverallAverageDuration = %v, want 0", got)
	}
}

func TestHitRateExact(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		hits, misses int
		want         float64
	}{
		{"all hits", 5, 0, 1},
		{"all misses", 0, 4, 0},
		{"one in four", 1, 3, 0.25},
		{"two in three", 2, 1, 2.0 / 3.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := New(Options{})
			for range tt.hits {
				c.RecordHit("k")
			}
			for range tt.misses {
				c.RecordMiss("k")
			}
			got := c.HitRate("k")
			if got != tt.want {
				t.Errorf("HitRate = %v, want %v", got, tt.want)
			}
			if got < 0 || got > 1 {
				t.Errorf("HitRate %v out of [0,1]", got)
			}
			s, ok := c.Stats("k")
			if !ok {
				t.Fatal("key should be tracked")
			}
			if s.TotalQueries != s.Hits+s.Misses {
				t.Errorf("total %d != hits %d + misses %d", s.TotalQueries, s.Hits, s.Misses)
			}
		})
	}
}

func TestConcurrentHitMiss(t *testing.T) {
	t.Parallel()
	c := New(Options{})

	var wg sync.WaitGroup
	for w := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				if (w*100+i)%10 < 7 {
					c.RecordHit("k")
				} else {
					c.RecordMiss("k")
				}
			}
		}()
	}
	wg.Wait()

	s, _ := c.Stats("k")
	if s.Hits != 700 || s.Misses != 300 || s.TotalQueries != 1000 {
		t.Errorf("stats = %+v, want 700/300/1000", s)
	}
	if got := c.HitRate("k"); got != 0.7 {
		t.Errorf("HitRate = %v, want 0.7", got)
	}
}

func TestSampleWindowBound(t *testing.T) {
	t.Parallel()
	clock := testutil.NewFakeClock(epoch)
	c := New(Options{MaxSamples: 1000, Clock: clock})

	for i := range 10_000 {
		clock.Advance(time.Millisecond)
		record(c, clock, fmt.Sprintf("k%d", i%7), time.Duration(i), false)
	}

	all := c.AllSamples()
	if len(all) != 1000 {
		t.Fatalf("window holds %d samples, want 1000", len(all))
	}
	if all[0].Duration != 9999 {
		t.Errorf("newest duration = %d, want 9999", all[0].Duration)
	}
	if all[999].Duration != 9000 {
		t.Errorf("oldest retained duration = %d, want 9000", all[999].Duration)
	}
	for i := 1; i < len(all); i++ {
		if !all[i].Timestamp.Before(all[i-1].Timestamp) {
			t.Fatalf("samples not newest first at %d", i)
		}
	}
	if got := c.Summary().SampleCount; got != 1000 {
		t.Errorf("summary sample count = %d", got)
	}
}

func TestRecentSamplesLimit(t *testing.T) {
	t.Parallel()
	clock := testutil.NewFakeClock(epoch)
	c := New(Options{MaxSamples: 10, Clock: clock})

	for i := range 3 {
		record(c, clock, "k", time.Duration(i+1)*time.Millisecond, false)
	}
	got := c.RecentSamples(2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Duration != 3*time.Millisecond || got[1].Duration != 2*time.Millisecond {
		t.Errorf("samples = %v, want newest first", got)
	}
	if got := c.RecentSamples(50); len(got) != 3 {
		t.Errorf("limit above size returned %d", len(got))
	}
	for _, limit := range []int{0, -1} {
		if got := c.RecentSamples(limit); len(got) != 0 {
			t.Errorf("RecentSamples(%d) returned %d samples, want none", limit, len(got))
		}
	}
	if got := c.AllSamples(); len(got) != 3 {
		t.Errorf("AllSamples returned %d, want 3", len(got))
	}
}

func TestIncrementalMeanMatchesArithmeticMean(t *testing.T) {
	t.Parallel()
	clock := testutil.NewFakeClock(epoch)
	c := New(Options{MaxSamples: 100, Clock: clock})

	var sum float64
	const n = 5000
	for i := range n {
		d := time.Duration((i*7919)%100_000) * time.Microsecond
		sum += float64(d)
		record(c, clock, "k", d, false)
	}
	want := sum / n
	got := float64(c.AverageDuration("k"))
	if math.Abs(got-want) > 2 {
		t.Errorf("AverageDuration = %v, want %v", time.Duration(got), time.Duration(want))
	}
	if len(c.AllSamples()) != 100 {
		t.Error("window should have discarded older samples")
	}
}

func TestFailedQueriesDoNotCountAsOutcome(t *testing.T) {
	t.Parallel()
	clock := testutil.NewFakeClock(epoch)
	c := New(Options{Clock: clock})

	record(c, clock, "k", time.Millisecond, true)
	record(c, clock, "k", 3*time.Millisecond, false)

	s, _ := c.Stats("k")
	if s.Hits != 0 || s.Misses != 0 || s.TotalQueries != 0 {
		t.Errorf("timing must not change hit/miss accounting: %+v", s)
	}
	if s.TimedQueries != 2 || s.AverageDuration != 2*time.Millisecond {
		t.Errorf("timed=%d avg=%s", s.TimedQueries, s.AverageDuration)
	}
	if !c.RecentSamples(2)[1].Failed {
		t.Error("failure flag should be kept on the sample")
	}
}

func TestNegativeDurationClamped(t *testing.T) {
	t.Parallel()
	clock := testutil.NewFakeClock(epoch)
	c := New(Options{Clock: clock})

	c.RecordQuery("k", clock.Now().Add(time.Second), false)

	if got := c.RecentSamples(1)[0].Duration; got != 0 {
		t.Errorf("duration = %s, want 0", got)
	}
	if got := c.AverageDuration("k"); got != 0 {
		t.Errorf("average = %s, want 0", got)
	}
}

func TestOverallAverageIsUnweighted(t *testing.T) {
	t.Parallel()
	clock := testutil.NewFakeClock(epoch)
	c := New(Options{Clock: clock})

	record(c, clock, "a", 10*time.Millisecond, false)
	for range 3 {
		record(c, clock, "b", 30*time.Millisecond, false)
	}

	// Mean of per-key means (10ms, 30ms), not the weighted 25ms.
	if got := c.OverallAverageDuration(); got != 20*time.Millisecond {
		t.Errorf("OverallAverageDuration = %s, want 20ms", got)
	}
}

func TestOverallHitRateSumsAcrossKeys(t *testing.T) {
	t.Parallel()
	c := New(Options{})

	c.RecordHit("a")
	c.RecordHit("a")
	c.RecordHit("a")
	c.RecordMiss("b")

	if got := c.OverallHitRate(); got != 0.75 {
		t.Errorf("OverallHitRate = %v, want 0.75", got)
	}
	if got := len(c.AllStats()); got != 2 {
		t.Errorf("tracked keys = %d, want 2", got)
	}
}

func TestResetStartsFresh(t *testing.T) {
	t.Parallel()
	clock := testutil.NewFakeClock(epoch)
	c := New(Options{Clock: clock})

	for range 5 {
		c.RecordHit("k")
	}
	record(c, clock, "k", time.Second, false)

	c.Reset()
	if got := len(c.AllStats()); got != 0 {
		t.Errorf("tracked keys after reset = %d", got)
	}
	if got := len(c.AllSamples()); got != 0 {
		t.Errorf("samples after reset = %d", got)
	}

	clock.Advance(time.Hour)
	c.RecordHit("k")
	s, _ := c.Stats("k")
	if s.Hits != 1 || s.TotalQueries != 1 || s.AverageDuration != 0 {
		t.Errorf("stats after reset = %+v, want fresh counters", s)
	}
	if !s.WindowStartedAt.Equal(clock.Now()) {
		t.Errorf("window started at %s, want %s", s.WindowStartedAt, clock.Now())
	}
}

func TestResetConcurrentWithWriters(t *testing.T) {
	t.Parallel()
	c := New(Options{MaxSamples: 50})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				c.RecordHit("k")
				c.RecordMiss("k")
				c.RecordQuery("k", time.Now(), false)
			}
		}()
	}
	for range 20 {
		c.Reset()
		sum := c.Summary()
		if sum.TotalQueries != sum.Hits+sum.Misses {
			t.Errorf("inconsistent summary %+v", sum)
		}
		if sum.SampleCount > 50 {
			t.Errorf("sample count %d exceeds window", sum.SampleCount)
		}
	}
	close(stop)
	wg.Wait()
}

func TestExportIsSideEffectFree(t *testing.T) {
	t.Parallel()
	clock := testutil.NewFakeClock(epoch)
	c := New(Options{Clock: clock})

	c.RecordHit("k")
	c.RecordMiss("k")
	record(c, clock, "k", 4*time.Millisecond, false)

	data, err := c.Export()
	if err != nil {
		t.Fatal(err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Summary.HitRate != 0.5 {
		t.Errorf("summary hit rate = %v", snap.Summary.HitRate)
	}
	if snap.Stats["k"].AverageDuration != 4*time.Millisecond {
		t.Errorf("exported average = %s", snap.Stats["k"].AverageDuration)
	}
	if len(snap.Samples) != 1 {
		t.Errorf("exported samples = %d", len(snap.Samples))
	}

	again, _ := c.Export()
	if string(again) != string(data) {
		t.Error("second export differs; export must not mutate state")
	}
}

type countingSink struct {
	queries atomic.Int64
	hits    atomic.Int64
	misses  atomic.Int64
}

func (s *countingSink) ObserveQuery(warden.QuerySample) { s.queries.Add(1) }
func (s *countingSink) ObserveOutcome(_ string, hit bool) {
	if hit {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
	}
}

func TestSinkReceivesEvents(t *testing.T) {
	t.Parallel()
	sink := &countingSink{}
	c := New(Options{Sink: sink})

	c.RecordHit("k")
	c.RecordMiss("k")
	c.RecordMiss("k")
	c.RecordQuery("k", time.Now(), false)

	if sink.hits.Load() != 1 || sink.misses.Load() != 2 || sink.queries.Load() != 1 {
		t.Errorf("sink saw hits=%d misses=%d queries=%d",
			sink.hits.Load(), sink.misses.Load(), sink.queries.Load())
	}
}
