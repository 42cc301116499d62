package aggregator

import (
	"context"
	"testing"
	"time"

	"netsentry/internal/core/model"
	"netsentry/internal/storage/storetest"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
}

func newTestAggregator(store *storetest.Fake) *Aggregator {
	a := New(store)
	a.now = fixedNow
	return a
}

func TestDailyRollupCorrectness(t *testing.T) {
	store := storetest.New()
	ctx := context.Background()

	// Three intervals today, one yesterday, one outside both dates.
	today := fixedNow()
	for i, sent := range []uint64{100, 250, 650} {
		store.InsertRawCounter(ctx, model.RawCounter{
			Interface:   "eth0",
			Timestamp:   today.Add(time.Duration(i) * time.Hour),
			BytesSent:   sent,
			BytesRecv:   sent * 2,
			PacketsSent: 10,
			PacketsRecv: 20,
		})
	}
	store.InsertRawCounter(ctx, model.RawCounter{
		Interface: "eth0", Timestamp: today.AddDate(0, 0, -1),
		BytesSent: 500, BytesRecv: 600, PacketsSent: 5, PacketsRecv: 6,
	})
	store.InsertRawCounter(ctx, model.RawCounter{
		Interface: "eth0", Timestamp: today.AddDate(0, 0, -10),
		BytesSent: 9999, BytesRecv: 9999, PacketsSent: 99, PacketsRecv: 99,
	})

	agg := newTestAggregator(store)
	if err := agg.RunDailyRollup(ctx); err != nil {
		t.Fatalf("RunDailyRollup failed: %v", err)
	}

	got, ok, _ := store.GetDailySummary(ctx, "2026-03-15")
	if !ok {
		t.Fatal("no daily summary for today")
	}
	if got.BytesSent != 1000 || got.BytesRecv != 2000 {
		t.Errorf("today's summary = %d/%d bytes, want 1000/2000", got.BytesSent, got.BytesRecv)
	}
	if got.PacketsSent != 30 || got.PacketsRecv != 60 {
		t.Errorf("today's packets = %d/%d, want 30/60", got.PacketsSent, got.PacketsRecv)
	}

	yesterday, ok, _ := store.GetDailySummary(ctx, "2026-03-14")
	if !ok {
		t.Fatal("no daily summary for yesterday")
	}
	if yesterday.BytesSent != 500 {
		t.Errorf("yesterday's BytesSent = %d, want 500", yesterday.BytesSent)
	}

	// The stray row ten days back must not get a summary from this run.
	if _, ok, _ := store.GetDailySummary(ctx, "2026-03-05"); ok {
		t.Error("unexpected summary for date outside the daily rollup window")
	}
}

func TestDailyRollupIdempotent(t *testing.T) {
	store := storetest.New()
	ctx := context.Background()

	store.InsertRawCounter(ctx, model.RawCounter{
		Interface: "eth0", Timestamp: fixedNow(),
		BytesSent: 123, BytesRecv: 456, PacketsSent: 7, PacketsRecv: 8,
	})

	agg := newTestAggregator(store)
	if err := agg.RunDailyRollup(ctx); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	first, _, _ := store.GetDailySummary(ctx, "2026-03-15")

	if err := agg.RunDailyRollup(ctx); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	second, _, _ := store.GetDailySummary(ctx, "2026-03-15")

	if first != second {
		t.Errorf("rollup not idempotent: %+v then %+v", first, second)
	}
}

func TestMonthlyRollupSumsDailies(t *testing.T) {
	store := storetest.New()
	ctx := context.Background()

	store.UpsertDailySummary(ctx, model.DailySummary{Date: "2026-03-01", BytesSent: 100, BytesRecv: 10})
	store.UpsertDailySummary(ctx, model.DailySummary{Date: "2026-03-14", BytesSent: 200, BytesRecv: 20})
	store.UpsertDailySummary(ctx, model.DailySummary{Date: "2026-03-15", BytesSent: 300, BytesRecv: 30})
	// A different month must be excluded.
	store.UpsertDailySummary(ctx, model.DailySummary{Date: "2026-02-28", BytesSent: 7777, BytesRecv: 7777})

	agg := newTestAggregator(store)
	if err := agg.RunMonthlyRollup(ctx); err != nil {
		t.Fatalf("RunMonthlyRollup failed: %v", err)
	}

	got, ok, _ := store.GetMonthlySummary(ctx, "2026-03")
	if !ok {
		t.Fatal("no monthly summary")
	}
	if got.BytesSent != 600 || got.BytesRecv != 60 {
		t.Errorf("monthly summary = %d/%d, want 600/60", got.BytesSent, got.BytesRecv)
	}
}

func TestYearlyRollupSumsMonthlies(t *testing.T) {
	store := storetest.New()
	ctx := context.Background()

	store.UpsertMonthlySummary(ctx, model.MonthlySummary{Month: "2026-01", BytesSent: 1000})
	store.UpsertMonthlySummary(ctx, model.MonthlySummary{Month: "2026-02", BytesSent: 2000})
	store.UpsertMonthlySummary(ctx, model.MonthlySummary{Month: "2025-12", BytesSent: 5000})

	agg := newTestAggregator(store)
	if err := agg.RunYearlyRollup(ctx); err != nil {
		t.Fatalf("RunYearlyRollup failed: %v", err)
	}

	got, ok, _ := store.GetYearlySummary(ctx, 2026)
	if !ok {
		t.Fatal("no yearly summary")
	}
	if got.BytesSent != 3000 {
		t.Errorf("yearly BytesSent = %d, want 3000", got.BytesSent)
	}
}

func TestDeviceRollups(t *testing.T) {
	store := storetest.New()
	ctx := context.Background()

	store.UpsertDevice(ctx, model.Device{MAC: "aa:bb:cc:dd:ee:01", LastSeen: fixedNow()})
	store.UpsertDevice(ctx, model.Device{MAC: "aa:bb:cc:dd:ee:02", LastSeen: fixedNow()})

	store.AddDeviceTraffic(ctx, "aa:bb:cc:dd:ee:01", "2026-03-14", 100, 1000)
	store.AddDeviceTraffic(ctx, "aa:bb:cc:dd:ee:01", "2026-03-15", 50, 500)
	store.AddDeviceTraffic(ctx, "aa:bb:cc:dd:ee:02", "2026-03-15", 10, 20)

	agg := newTestAggregator(store)
	if err := agg.RunDeviceRollups(ctx); err != nil {
		t.Fatalf("RunDeviceRollups failed: %v", err)
	}

	m1 := store.DeviceMonthlies["aa:bb:cc:dd:ee:01|2026-03"]
	if m1.Upload != 150 || m1.Download != 1500 {
		t.Errorf("device 01 monthly = %d/%d, want 150/1500", m1.Upload, m1.Download)
	}
	m2 := store.DeviceMonthlies["aa:bb:cc:dd:ee:02|2026-03"]
	if m2.Upload != 10 || m2.Download != 20 {
		t.Errorf("device 02 monthly = %d/%d, want 10/20", m2.Upload, m2.Download)
	}

	y1 := store.DeviceYearlies["aa:bb:cc:dd:ee:01|2026"]
	if y1.Upload != 150 || y1.Download != 1500 {
		t.Errorf("device 01 yearly = %d/%d, want 150/1500", y1.Upload, y1.Download)
	}
}

func TestDeviceTrafficAccumulates(t *testing.T) {
	store := storetest.New()
	ctx := context.Background()

	// Two flushes into the same day must add up; the rollup then reflects
	// the accumulated total.
	store.AddDeviceTraffic(ctx, "aa:bb:cc:dd:ee:01", "2026-03-15", 100, 200)
	store.AddDeviceTraffic(ctx, "aa:bb:cc:dd:ee:01", "2026-03-15", 30, 40)
	store.UpsertDevice(ctx, model.Device{MAC: "aa:bb:cc:dd:ee:01", LastSeen: fixedNow()})

	agg := newTestAggregator(store)
	if err := agg.RunDeviceRollups(ctx); err != nil {
		t.Fatalf("RunDeviceRollups failed: %v", err)
	}

	m := store.DeviceMonthlies["aa:bb:cc:dd:ee:01|2026-03"]
	if m.Upload != 130 || m.Download != 240 {
		t.Errorf("monthly = %d/%d, want 130/240", m.Upload, m.Download)
	}
}
