package storage

import (
	"context"
	"fmt"

	"netsentry/internal/config"
	"netsentry/internal/core/model"
)

// Store is the persistence contract the telemetry engine depends on. The
// collector writes devices and raw traffic records, the aggregator
// recomputes and upserts summary rows, and the predictor reads summaries.
// Every method is a self-contained transaction; no cross-call state.
type Store interface {
	// Device identity. UpsertDevice reports whether the device was newly
	// created so the caller can publish a discovery event.
	UpsertDevice(ctx context.Context, d model.Device) (created bool, err error)
	ListDevices(ctx context.Context) ([]model.Device, error)
	DevicesByOrg(ctx context.Context, orgID int64) ([]model.Device, error)

	// Raw per-interval counters, the source rows for the daily rollup.
	InsertRawCounter(ctx context.Context, rc model.RawCounter) error
	SumRawCountersForDate(ctx context.Context, date string) (model.DailySummary, error)

	// Per-device raw day records, incremented by the collector flush.
	AddDeviceTraffic(ctx context.Context, mac, date string, upload, download uint64) error
	DeviceDailiesForMonth(ctx context.Context, mac, month string) ([]model.DeviceDaily, error)
	DeviceMonthliesForYear(ctx context.Context, mac string, year int) ([]model.DeviceMonthly, error)
	RecentDeviceDailies(ctx context.Context, mac string, limit int) ([]model.DeviceDaily, error)

	// Summary tables, owned by the aggregator.
	UpsertDailySummary(ctx context.Context, s model.DailySummary) error
	UpsertMonthlySummary(ctx context.Context, s model.MonthlySummary) error
	UpsertYearlySummary(ctx context.Context, s model.YearlySummary) error
	UpsertDeviceMonthly(ctx context.Context, s model.DeviceMonthly) error
	UpsertDeviceYearly(ctx context.Context, s model.DeviceYearly) error
	DailySummariesForMonth(ctx context.Context, month string) ([]model.DailySummary, error)
	MonthlySummariesForYear(ctx context.Context, year int) ([]model.MonthlySummary, error)
	GetDailySummary(ctx context.Context, date string) (model.DailySummary, bool, error)
	GetMonthlySummary(ctx context.Context, month string) (model.MonthlySummary, bool, error)
	GetYearlySummary(ctx context.Context, year int) (model.YearlySummary, bool, error)

	// Predictor reads, ordered oldest to newest.
	RecentDailySummaries(ctx context.Context, limit int) ([]model.DailySummary, error)

	Close()
}

// Open constructs a Store from the configured driver.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg.URL)
	case "sqlite", "":
		return NewSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
