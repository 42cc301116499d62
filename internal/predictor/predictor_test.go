package predictor

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"netsentry/internal/core/model"
	"netsentry/internal/storage/storetest"
)

func seedDailies(store *storetest.Fake, totals []uint64) {
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, total := range totals {
		date := start.AddDate(0, 0, i).Format("2006-01-02")
		store.UpsertDailySummary(ctx, model.DailySummary{
			Date:      date,
			BytesSent: total * 6 / 10,
			BytesRecv: total - total*6/10,
		})
	}
}

func TestForecastInsufficientData(t *testing.T) {
	store := storetest.New()
	seedDailies(store, []uint64{100, 200})

	p := New(store, 0)
	_, err := p.ForecastTotalUsage(context.Background())
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("err = %v, want ErrInsufficientData", err)
	}
}

func TestForecastConstantUsage(t *testing.T) {
	store := storetest.New()
	// Ten days at a flat 100 bytes/day.
	totals := make([]uint64, 10)
	for i := range totals {
		totals[i] = 100
	}
	seedDailies(store, totals)

	p := New(store, 0)
	f, err := p.ForecastTotalUsage(context.Background())
	if err != nil {
		t.Fatalf("ForecastTotalUsage failed: %v", err)
	}

	if f.CurrentUsage != 1000 {
		t.Errorf("CurrentUsage = %v, want 1000", f.CurrentUsage)
	}
	// A flat series projects flat: 10 observed + 20 remaining days at 100.
	if math.Abs(f.PredictedBytes-3000) > 1e-6 {
		t.Errorf("PredictedBytes = %v, want 3000", f.PredictedBytes)
	}
	if f.Trend != "stable" {
		t.Errorf("Trend = %q, want stable", f.Trend)
	}
	if f.PeriodEnded {
		t.Error("PeriodEnded = true for a 10-day series")
	}
}

func TestForecastGrowingUsage(t *testing.T) {
	store := storetest.New()
	// Strictly increasing: 100, 200, ..., 1000.
	totals := make([]uint64, 10)
	for i := range totals {
		totals[i] = uint64((i + 1) * 100)
	}
	seedDailies(store, totals)

	p := New(store, 0)
	f, err := p.ForecastTotalUsage(context.Background())
	if err != nil {
		t.Fatalf("ForecastTotalUsage failed: %v", err)
	}

	if f.Trend != "up" {
		t.Errorf("Trend = %q, want up", f.Trend)
	}
	if f.PredictedBytes <= f.CurrentUsage {
		t.Errorf("PredictedBytes = %v, want above current %v", f.PredictedBytes, f.CurrentUsage)
	}
	if f.GrowthRatePct <= 0 {
		t.Errorf("GrowthRatePct = %v, want positive", f.GrowthRatePct)
	}
}

func TestForecastPeriodEnded(t *testing.T) {
	store := storetest.New()
	totals := make([]uint64, 30)
	for i := range totals {
		totals[i] = 50
	}
	seedDailies(store, totals)

	p := New(store, 0)
	f, err := p.ForecastTotalUsage(context.Background())
	if err != nil {
		t.Fatalf("ForecastTotalUsage failed: %v", err)
	}

	if !f.PeriodEnded {
		t.Error("PeriodEnded = false with a full 30-day window")
	}
	if f.PredictedBytes != f.CurrentUsage {
		t.Errorf("PredictedBytes = %v, want current %v", f.PredictedBytes, f.CurrentUsage)
	}
}

// seedDeviceHistory writes one daily traffic row per value, oldest first,
// with the entire total on the download side.
func seedDeviceHistory(store *storetest.Fake, mac string, totals []uint64) {
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, total := range totals {
		date := start.AddDate(0, 0, i).Format("2006-01-02")
		store.AddDeviceTraffic(ctx, mac, date, 0, total)
	}
}

func TestDetectAnomaliesFlagsSpike(t *testing.T) {
	store := storetest.New()
	ctx := context.Background()

	const mac = "aa:bb:cc:dd:ee:01"
	store.UpsertDevice(ctx, model.Device{MAC: mac, Hostname: "nas", OrgID: 1})

	// Baseline of twelve days alternating 90/110: mean 100, stddev 10.
	// Today's 140 sits exactly 4 standard deviations above.
	history := make([]uint64, 0, 13)
	for i := 0; i < 12; i++ {
		if i%2 == 0 {
			history = append(history, 90)
		} else {
			history = append(history, 110)
		}
	}
	history = append(history, 140)
	seedDeviceHistory(store, mac, history)

	p := New(store, 3)
	anomalies, err := p.DetectAnomalies(ctx, 1)
	if err != nil {
		t.Fatalf("DetectAnomalies failed: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("got %d anomalies, want 1", len(anomalies))
	}

	a := anomalies[0]
	if a.DeviceID != mac {
		t.Errorf("DeviceID = %q, want %q", a.DeviceID, mac)
	}
	if a.DeviceLabel != "nas" {
		t.Errorf("DeviceLabel = %q, want hostname", a.DeviceLabel)
	}
	if math.Abs(a.ZScore-4) > 1e-9 {
		t.Errorf("ZScore = %v, want 4", a.ZScore)
	}
	if math.Abs(a.AvgUsage-100) > 1e-9 {
		t.Errorf("AvgUsage = %v, want 100", a.AvgUsage)
	}
	if a.CurrentUsage != 140 {
		t.Errorf("CurrentUsage = %v, want 140", a.CurrentUsage)
	}
	if a.Severity != "warning" {
		t.Errorf("Severity = %q, want warning at z=4", a.Severity)
	}
}

func TestDetectAnomaliesCriticalSeverity(t *testing.T) {
	store := storetest.New()
	ctx := context.Background()

	const mac = "aa:bb:cc:dd:ee:02"
	store.UpsertDevice(ctx, model.Device{MAC: mac, IP: "192.168.1.42", OrgID: 1})

	// Same 90/110 baseline, but today's 170 is 7 standard deviations out,
	// past twice the threshold.
	history := make([]uint64, 0, 13)
	for i := 0; i < 12; i++ {
		if i%2 == 0 {
			history = append(history, 90)
		} else {
			history = append(history, 110)
		}
	}
	history = append(history, 170)
	seedDeviceHistory(store, mac, history)

	p := New(store, 3)
	anomalies, err := p.DetectAnomalies(ctx, 1)
	if err != nil {
		t.Fatalf("DetectAnomalies failed: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("got %d anomalies, want 1", len(anomalies))
	}
	if anomalies[0].Severity != "critical" {
		t.Errorf("Severity = %q, want critical at z=7", anomalies[0].Severity)
	}
	// No hostname recorded, so the label falls back to the IP.
	if anomalies[0].DeviceLabel != "192.168.1.42" {
		t.Errorf("DeviceLabel = %q, want IP fallback", anomalies[0].DeviceLabel)
	}
}

func TestDetectAnomaliesZeroVariance(t *testing.T) {
	store := storetest.New()
	ctx := context.Background()

	const mac = "aa:bb:cc:dd:ee:03"
	store.UpsertDevice(ctx, model.Device{MAC: mac, OrgID: 1})

	// A perfectly flat baseline has zero variance. Even a 10x jump must not
	// fire, since a z score is undefined.
	history := make([]uint64, 13)
	for i := 0; i < 12; i++ {
		history[i] = 100
	}
	history[12] = 1000
	seedDeviceHistory(store, mac, history)

	p := New(store, 3)
	anomalies, err := p.DetectAnomalies(ctx, 1)
	if err != nil {
		t.Fatalf("DetectAnomalies failed: %v", err)
	}
	if len(anomalies) != 0 {
		t.Errorf("got %d anomalies, want 0 for flat baseline", len(anomalies))
	}
}

func TestDetectAnomaliesShortHistorySkipped(t *testing.T) {
	store := storetest.New()
	ctx := context.Background()

	const mac = "aa:bb:cc:dd:ee:04"
	store.UpsertDevice(ctx, model.Device{MAC: mac, OrgID: 1})
	seedDeviceHistory(store, mac, []uint64{90, 110, 90, 110, 90, 5000})

	p := New(store, 3)
	anomalies, err := p.DetectAnomalies(ctx, 1)
	if err != nil {
		t.Fatalf("DetectAnomalies failed: %v", err)
	}
	if len(anomalies) != 0 {
		t.Errorf("got %d anomalies, want 0 with under a week of history", len(anomalies))
	}
}

func TestDetectAnomaliesUnderConsumptionIgnored(t *testing.T) {
	store := storetest.New()
	ctx := context.Background()

	const mac = "aa:bb:cc:dd:ee:05"
	store.UpsertDevice(ctx, model.Device{MAC: mac, OrgID: 1})

	// A steep drop is the mirror image of a spike but must stay silent.
	history := make([]uint64, 0, 13)
	for i := 0; i < 12; i++ {
		if i%2 == 0 {
			history = append(history, 90)
		} else {
			history = append(history, 110)
		}
	}
	history = append(history, 10)
	seedDeviceHistory(store, mac, history)

	p := New(store, 3)
	anomalies, err := p.DetectAnomalies(ctx, 1)
	if err != nil {
		t.Fatalf("DetectAnomalies failed: %v", err)
	}
	if len(anomalies) != 0 {
		t.Errorf("got %d anomalies, want 0 for under-consumption", len(anomalies))
	}
}

func TestLinearRegressionFit(t *testing.T) {
	cases := []struct {
		ys        []float64
		slope     float64
		intercept float64
	}{
		{[]float64{5, 5, 5, 5}, 0, 5},
		{[]float64{0, 1, 2, 3}, 1, 0},
		{[]float64{10, 8, 6, 4}, -2, 10},
	}
	for i, c := range cases {
		slope, intercept := linearRegression(c.ys)
		if math.Abs(slope-c.slope) > 1e-9 || math.Abs(intercept-c.intercept) > 1e-9 {
			t.Errorf("case %d: got (%v, %v), want (%v, %v)", i, slope, intercept, c.slope, c.intercept)
		}
	}
}

func TestClassifyTrend(t *testing.T) {
	cases := []struct {
		slope, mean float64
		want        string
	}{
		{5, 100, "up"},
		{-5, 100, "down"},
		{0.5, 100, "stable"},
		{-0.5, 100, "stable"},
		{0, 0, "stable"},
	}
	for _, c := range cases {
		if got := classifyTrend(c.slope, c.mean); got != c.want {
			t.Errorf("classifyTrend(%v, %v) = %q, want %q", c.slope, c.mean, got, c.want)
		}
	}
}
