package aggregator

import (
	"context"
	"fmt"
	"log"
	"time"

	"netsentry/internal/core/model"
	"netsentry/internal/storage"
)

// Aggregator rolls finer-grained counters into coarser time buckets. Every
// rollup is a stateless recompute-and-upsert: re-running a bucket yields the
// same stored row, so jobs are safe to schedule redundantly and to retry
// after partial failure.
type Aggregator struct {
	store storage.Store
	// now is swappable for tests.
	now func() time.Time
}

// New creates an aggregator over the given store.
func New(store storage.Store) *Aggregator {
	return &Aggregator{store: store, now: time.Now}
}

// RunDailyRollup recomputes the system daily summary for today and
// yesterday. The yesterday pass covers a job that did not run exactly at
// midnight.
func (a *Aggregator) RunDailyRollup(ctx context.Context) error {
	now := a.now()
	dates := []string{
		now.Format("2006-01-02"),
		now.AddDate(0, 0, -1).Format("2006-01-02"),
	}

	for _, date := range dates {
		sum, err := a.store.SumRawCountersForDate(ctx, date)
		if err != nil {
			return fmt.Errorf("daily rollup %s: %w", date, err)
		}
		if err := a.store.UpsertDailySummary(ctx, sum); err != nil {
			return fmt.Errorf("daily rollup %s: %w", date, err)
		}
	}
	return nil
}

// RunMonthlyRollup recomputes the current month's system summary from its
// daily summary rows.
func (a *Aggregator) RunMonthlyRollup(ctx context.Context) error {
	month := a.now().Format("2006-01")

	dailies, err := a.store.DailySummariesForMonth(ctx, month)
	if err != nil {
		return fmt.Errorf("monthly rollup %s: %w", month, err)
	}

	sum := model.MonthlySummary{Month: month}
	for _, d := range dailies {
		sum.BytesSent += d.BytesSent
		sum.BytesRecv += d.BytesRecv
		sum.PacketsSent += d.PacketsSent
		sum.PacketsRecv += d.PacketsRecv
	}

	if err := a.store.UpsertMonthlySummary(ctx, sum); err != nil {
		return fmt.Errorf("monthly rollup %s: %w", month, err)
	}
	return nil
}

// RunYearlyRollup recomputes the current year's system summary from its
// monthly summary rows.
func (a *Aggregator) RunYearlyRollup(ctx context.Context) error {
	year := a.now().Year()

	monthlies, err := a.store.MonthlySummariesForYear(ctx, year)
	if err != nil {
		return fmt.Errorf("yearly rollup %d: %w", year, err)
	}

	sum := model.YearlySummary{Year: year}
	for _, m := range monthlies {
		sum.BytesSent += m.BytesSent
		sum.BytesRecv += m.BytesRecv
		sum.PacketsSent += m.PacketsSent
		sum.PacketsRecv += m.PacketsRecv
	}

	if err := a.store.UpsertYearlySummary(ctx, sum); err != nil {
		return fmt.Errorf("yearly rollup %d: %w", year, err)
	}
	return nil
}

// RunDeviceRollups recomputes the monthly and yearly per-device summaries
// for every known device. A failure in one device's rollup is logged and
// does not abort the others.
func (a *Aggregator) RunDeviceRollups(ctx context.Context) error {
	devices, err := a.store.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("device rollups: %w", err)
	}

	now := a.now()
	month := now.Format("2006-01")
	year := now.Year()

	var failed int
	for _, dev := range devices {
		if err := a.rollupDeviceMonth(ctx, dev.MAC, month); err != nil {
			log.Printf("device monthly rollup %s: %v", dev.MAC, err)
			failed++
			continue
		}
		if err := a.rollupDeviceYear(ctx, dev.MAC, year); err != nil {
			log.Printf("device yearly rollup %s: %v", dev.MAC, err)
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("device rollups: %d of %d devices failed", failed, len(devices))
	}
	return nil
}

func (a *Aggregator) rollupDeviceMonth(ctx context.Context, mac, month string) error {
	dailies, err := a.store.DeviceDailiesForMonth(ctx, mac, month)
	if err != nil {
		return err
	}

	sum := model.DeviceMonthly{MAC: mac, Month: month}
	for _, d := range dailies {
		sum.Upload += d.Upload
		sum.Download += d.Download
	}
	return a.store.UpsertDeviceMonthly(ctx, sum)
}

func (a *Aggregator) rollupDeviceYear(ctx context.Context, mac string, year int) error {
	monthlies, err := a.store.DeviceMonthliesForYear(ctx, mac, year)
	if err != nil {
		return err
	}

	sum := model.DeviceYearly{MAC: mac, Year: year}
	for _, m := range monthlies {
		sum.Upload += m.Upload
		sum.Download += m.Download
	}
	return a.store.UpsertDeviceYearly(ctx, sum)
}
