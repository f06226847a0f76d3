package gather

import (
	"context"
	"errors"
	"testing"
	"time"

	"meridian/internal/domain"
	"meridian/internal/store"
)

type countingSource struct {
	bars  []domain.Bar
	err   error
	calls int
}

func (s *countingSource) GetBars(_ context.Context, _ string, _ domain.Timeframe, _, _ time.Time) ([]domain.Bar, error) {
	s.calls++
	return s.bars, s.err
}

func TestCachingSourceWritesThrough(t *testing.T) {
	ctx := context.Background()
	ps := store.NewParquetStore(t.TempDir())
	day := time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC)
	up := &countingSource{bars: []domain.Bar{
		{Symbol: "AAPL", Timestamp: day, Close: 125},
		{Symbol: "AAPL", Timestamp: day.AddDate(0, 0, 1), Close: 126},
	}}
	c := NewCachingSource(ps, up)

	start, end := day.AddDate(0, 0, -1), day.AddDate(0, 0, 10)
	got, err := c.GetBars(ctx, "AAPL", domain.TimeframeDay, start, end)
	if err != nil {
		t.Fatalf("GetBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetBars returned %d bars, want 2", len(got))
	}

	// Second call is served from the Parquet store.
	got, err = c.GetBars(ctx, "AAPL", domain.TimeframeDay, start, end)
	if err != nil {
		t.Fatalf("GetBars (cached): %v", err)
	}
	if len(got) != 2 || got[1].Close != 126 {
		t.Errorf("cached bars = %+v", got)
	}
	if up.calls != 1 {
		t.Errorf("upstream called %d times, want 1", up.calls)
	}
}

func TestCachingSourcePartialCoverage(t *testing.T) {
	ctx := context.Background()
	ps := store.NewParquetStore(t.TempDir())
	day0 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, 100)
	for i := range bars {
		bars[i] = domain.Bar{Symbol: "SPY", Timestamp: day0.AddDate(0, 0, i), Close: 380 + float64(i)}
	}
	// Only the most recent 10 days are on disk.
	if err := ps.WriteBars(ctx, domain.TimeframeDay, bars[90:]); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}
	up := &countingSource{bars: bars}
	c := NewCachingSource(ps, up)

	start, end := day0, day0.AddDate(0, 0, 99)
	got, err := c.GetBars(ctx, "SPY", domain.TimeframeDay, start, end)
	if err != nil {
		t.Fatalf("GetBars: %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("GetBars returned %d bars, want 100", len(got))
	}
	if up.calls != 1 {
		t.Errorf("upstream called %d times, want 1", up.calls)
	}

	// The merged store now covers the range, even for a fresh source.
	fresh := NewCachingSource(ps, up)
	got, err = fresh.GetBars(ctx, "SPY", domain.TimeframeDay, start, end)
	if err != nil {
		t.Fatalf("GetBars (cached): %v", err)
	}
	if len(got) != 100 || got[0].Close != 380 {
		t.Errorf("cached bars = %d, first close %v; want 100 starting at 380", len(got), got[0].Close)
	}
	if up.calls != 1 {
		t.Errorf("upstream called %d times after merge, want 1", up.calls)
	}
}

func TestCachingSourceCoverageEdges(t *testing.T) {
	day := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	cached := []domain.Bar{{Timestamp: day.AddDate(0, 0, 3)}, {Timestamp: day.AddDate(0, 0, 27)}}
	c := NewCachingSource(store.NewParquetStore(t.TempDir()), &countingSource{})
	c.now = func() time.Time { return day.AddDate(0, 0, 28) }

	tests := []struct {
		name       string
		tf         domain.Timeframe
		start, end time.Time
		want       bool
	}{
		{"weekend at both edges", domain.TimeframeDay, day, day.AddDate(0, 0, 30), true},
		{"missing head", domain.TimeframeDay, day.AddDate(0, 0, -10), day.AddDate(0, 0, 27), false},
		{"tail not traded yet", domain.TimeframeDay, day, day.AddDate(0, 0, 40), true},
		{"monthly slack", domain.TimeframeMonth, day.AddDate(0, 0, -25), day.AddDate(0, 0, 27), true},
	}
	for _, tt := range tests {
		if got := c.covers("QQQ", tt.tf, cached, tt.start, tt.end); got != tt.want {
			t.Errorf("%s: covers = %v, want %v", tt.name, got, tt.want)
		}
	}

	c.now = func() time.Time { return day.AddDate(1, 0, 0) }
	if c.covers("QQQ", domain.TimeframeDay, cached, day, day.AddDate(0, 0, 40)) {
		t.Error("covers should miss a tail that has already traded")
	}
}

func TestCachingSourceUpstreamError(t *testing.T) {
	ps := store.NewParquetStore(t.TempDir())
	up := &countingSource{err: errors.New("connection refused")}
	c := NewCachingSource(ps, up)

	_, err := c.GetBars(context.Background(), "MSFT", domain.TimeframeDay, time.Now().AddDate(0, -1, 0), time.Now())
	if err == nil {
		t.Fatal("expected upstream error")
	}
	if !errors.Is(err, up.err) {
		t.Errorf("error %v should wrap upstream error", err)
	}
}
