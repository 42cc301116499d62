package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"netsentry/internal/core/model"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS devices (
	mac        TEXT PRIMARY KEY,
	ip         TEXT NOT NULL DEFAULT '',
	hostname   TEXT NOT NULL DEFAULT '',
	vendor     TEXT NOT NULL DEFAULT '',
	online     INTEGER NOT NULL DEFAULT 0,
	last_seen  TIMESTAMP NOT NULL,
	org_id     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS raw_counters (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	iface        TEXT NOT NULL,
	ts           TIMESTAMP NOT NULL,
	date         TEXT NOT NULL,
	bytes_sent   INTEGER NOT NULL,
	bytes_recv   INTEGER NOT NULL,
	packets_sent INTEGER NOT NULL,
	packets_recv INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS raw_counters_date_idx ON raw_counters (date);

CREATE TABLE IF NOT EXISTS device_traffic_daily (
	mac      TEXT NOT NULL,
	date     TEXT NOT NULL,
	upload   INTEGER NOT NULL DEFAULT 0,
	download INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (mac, date)
);

CREATE TABLE IF NOT EXISTS summary_daily (
	date         TEXT PRIMARY KEY,
	bytes_sent   INTEGER NOT NULL,
	bytes_recv   INTEGER NOT NULL,
	packets_sent INTEGER NOT NULL,
	packets_recv INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS summary_monthly (
	month        TEXT PRIMARY KEY,
	bytes_sent   INTEGER NOT NULL,
	bytes_recv   INTEGER NOT NULL,
	packets_sent INTEGER NOT NULL,
	packets_recv INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS summary_yearly (
	year         INTEGER PRIMARY KEY,
	bytes_sent   INTEGER NOT NULL,
	bytes_recv   INTEGER NOT NULL,
	packets_sent INTEGER NOT NULL,
	packets_recv INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS device_summary_monthly (
	mac      TEXT NOT NULL,
	month    TEXT NOT NULL,
	upload   INTEGER NOT NULL,
	download INTEGER NOT NULL,
	PRIMARY KEY (mac, month)
);

CREATE TABLE IF NOT EXISTS device_summary_yearly (
	mac      TEXT NOT NULL,
	year     INTEGER NOT NULL,
	upload   INTEGER NOT NULL,
	download INTEGER NOT NULL,
	PRIMARY KEY (mac, year)
);
`

// SQLite implements Store on an embedded database file. It is the default
// driver for single-host deployments without a Postgres instance.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database file and ensures the
// schema exists.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = "data/netsentry.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent flush and rollup.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *SQLite) UpsertDevice(ctx context.Context, d model.Device) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM devices WHERE mac = ?)`, d.MAC).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check device %s: %w", d.MAC, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO devices (mac, ip, hostname, vendor, online, last_seen, org_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (mac) DO UPDATE SET
			ip = excluded.ip,
			online = excluded.online,
			last_seen = excluded.last_seen`,
		d.MAC, d.IP, d.Hostname, d.Vendor, d.Online, d.LastSeen, d.OrgID)
	if err != nil {
		return false, fmt.Errorf("upsert device %s: %w", d.MAC, err)
	}
	return !exists, nil
}

func (s *SQLite) ListDevices(ctx context.Context) ([]model.Device, error) {
	return s.queryDevices(ctx, `
		SELECT mac, ip, hostname, vendor, online, last_seen, org_id
		FROM devices ORDER BY mac`)
}

func (s *SQLite) DevicesByOrg(ctx context.Context, orgID int64) ([]model.Device, error) {
	return s.queryDevices(ctx, `
		SELECT mac, ip, hostname, vendor, online, last_seen, org_id
		FROM devices WHERE org_id = ? ORDER BY mac`, orgID)
}

func (s *SQLite) queryDevices(ctx context.Context, query string, args ...any) ([]model.Device, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	var devices []model.Device
	for rows.Next() {
		var d model.Device
		if err := rows.Scan(&d.MAC, &d.IP, &d.Hostname, &d.Vendor, &d.Online, &d.LastSeen, &d.OrgID); err != nil {
			return nil, fmt.Errorf("scan device row: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (s *SQLite) InsertRawCounter(ctx context.Context, rc model.RawCounter) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raw_counters (iface, ts, date, bytes_sent, bytes_recv, packets_sent, packets_recv)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rc.Interface, rc.Timestamp, rc.Timestamp.Format("2006-01-02"),
		int64(rc.BytesSent), int64(rc.BytesRecv), int64(rc.PacketsSent), int64(rc.PacketsRecv))
	if err != nil {
		return fmt.Errorf("insert raw counter: %w", err)
	}
	return nil
}

func (s *SQLite) SumRawCountersForDate(ctx context.Context, date string) (model.DailySummary, error) {
	sum := model.DailySummary{Date: date}
	var bs, br, ps, pr int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(bytes_sent), 0), COALESCE(SUM(bytes_recv), 0),
		       COALESCE(SUM(packets_sent), 0), COALESCE(SUM(packets_recv), 0)
		FROM raw_counters WHERE date = ?`, date,
	).Scan(&bs, &br, &ps, &pr)
	if err != nil {
		return sum, fmt.Errorf("sum raw counters for %s: %w", date, err)
	}
	sum.BytesSent, sum.BytesRecv = uint64(bs), uint64(br)
	sum.PacketsSent, sum.PacketsRecv = uint64(ps), uint64(pr)
	return sum, nil
}

func (s *SQLite) AddDeviceTraffic(ctx context.Context, mac, date string, upload, download uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_traffic_daily (mac, date, upload, download)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (mac, date) DO UPDATE SET
			upload = upload + excluded.upload,
			download = download + excluded.download`,
		mac, date, int64(upload), int64(download))
	if err != nil {
		return fmt.Errorf("add device traffic %s/%s: %w", mac, date, err)
	}
	return nil
}

func (s *SQLite) DeviceDailiesForMonth(ctx context.Context, mac, month string) ([]model.DeviceDaily, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mac, date, upload, download FROM device_traffic_daily
		WHERE mac = ? AND date LIKE ? ORDER BY date`, mac, month+"%")
	if err != nil {
		return nil, fmt.Errorf("query device dailies: %w", err)
	}
	defer rows.Close()
	return scanDeviceDailies(rows)
}

func (s *SQLite) DeviceMonthliesForYear(ctx context.Context, mac string, year int) ([]model.DeviceMonthly, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mac, month, upload, download FROM device_summary_monthly
		WHERE mac = ? AND month LIKE ? ORDER BY month`, mac, fmt.Sprintf("%04d-%%", year))
	if err != nil {
		return nil, fmt.Errorf("query device monthlies: %w", err)
	}
	defer rows.Close()

	var out []model.DeviceMonthly
	for rows.Next() {
		var m model.DeviceMonthly
		var up, down int64
		if err := rows.Scan(&m.MAC, &m.Month, &up, &down); err != nil {
			return nil, fmt.Errorf("scan device monthly: %w", err)
		}
		m.Upload, m.Download = uint64(up), uint64(down)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLite) RecentDeviceDailies(ctx context.Context, mac string, limit int) ([]model.DeviceDaily, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mac, date, upload, download FROM (
			SELECT mac, date, upload, download FROM device_traffic_daily
			WHERE mac = ? ORDER BY date DESC LIMIT ?
		) ORDER BY date ASC`, mac, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent device dailies: %w", err)
	}
	defer rows.Close()
	return scanDeviceDailies(rows)
}

func scanDeviceDailies(rows *sql.Rows) ([]model.DeviceDaily, error) {
	var out []model.DeviceDaily
	for rows.Next() {
		var d model.DeviceDaily
		var up, down int64
		if err := rows.Scan(&d.MAC, &d.Date, &up, &down); err != nil {
			return nil, fmt.Errorf("scan device daily: %w", err)
		}
		d.Upload, d.Download = uint64(up), uint64(down)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLite) UpsertDailySummary(ctx context.Context, sum model.DailySummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summary_daily (date, bytes_sent, bytes_recv, packets_sent, packets_recv)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (date) DO UPDATE SET
			bytes_sent = excluded.bytes_sent,
			bytes_recv = excluded.bytes_recv,
			packets_sent = excluded.packets_sent,
			packets_recv = excluded.packets_recv`,
		sum.Date, int64(sum.BytesSent), int64(sum.BytesRecv), int64(sum.PacketsSent), int64(sum.PacketsRecv))
	if err != nil {
		return fmt.Errorf("upsert daily summary %s: %w", sum.Date, err)
	}
	return nil
}

func (s *SQLite) UpsertMonthlySummary(ctx context.Context, sum model.MonthlySummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summary_monthly (month, bytes_sent, bytes_recv, packets_sent, packets_recv)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (month) DO UPDATE SET
			bytes_sent = excluded.bytes_sent,
			bytes_recv = excluded.bytes_recv,
			packets_sent = excluded.packets_sent,
			packets_recv = excluded.packets_recv`,
		sum.Month, int64(sum.BytesSent), int64(sum.BytesRecv), int64(sum.PacketsSent), int64(sum.PacketsRecv))
	if err != nil {
		return fmt.Errorf("upsert monthly summary %s: %w", sum.Month, err)
	}
	return nil
}

func (s *SQLite) UpsertYearlySummary(ctx context.Context, sum model.YearlySummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summary_yearly (year, bytes_sent, bytes_recv, packets_sent, packets_recv)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (year) DO UPDATE SET
			bytes_sent = excluded.bytes_sent,
			bytes_recv = excluded.bytes_recv,
			packets_sent = excluded.packets_sent,
			packets_recv = excluded.packets_recv`,
		sum.Year, int64(sum.BytesSent), int64(sum.BytesRecv), int64(sum.PacketsSent), int64(sum.PacketsRecv))
	if err != nil {
		return fmt.Errorf("upsert yearly summary %d: %w", sum.Year, err)
	}
	return nil
}

func (s *SQLite) UpsertDeviceMonthly(ctx context.Context, sum model.DeviceMonthly) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_summary_monthly (mac, month, upload, download)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (mac, month) DO UPDATE SET
			upload = excluded.upload,
			download = excluded.download`,
		sum.MAC, sum.Month, int64(sum.Upload), int64(sum.Download))
	if err != nil {
		return fmt.Errorf("upsert device monthly %s/%s: %w", sum.MAC, sum.Month, err)
	}
	return nil
}

func (s *SQLite) UpsertDeviceYearly(ctx context.Context, sum model.DeviceYearly) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_summary_yearly (mac, year, upload, download)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (mac, year) DO UPDATE SET
			upload = excluded.upload,
			download = excluded.download`,
		sum.MAC, sum.Year, int64(sum.Upload), int64(sum.Download))
	if err != nil {
		return fmt.Errorf("upsert device yearly %s/%d: %w", sum.MAC, sum.Year, err)
	}
	return nil
}

func (s *SQLite) DailySummariesForMonth(ctx context.Context, month string) ([]model.DailySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, bytes_sent, bytes_recv, packets_sent, packets_recv
		FROM summary_daily WHERE date LIKE ? ORDER BY date`, month+"%")
	if err != nil {
		return nil, fmt.Errorf("query daily summaries: %w", err)
	}
	defer rows.Close()
	return scanDailySummaries(rows)
}

func (s *SQLite) MonthlySummariesForYear(ctx context.Context, year int) ([]model.MonthlySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT month, bytes_sent, bytes_recv, packets_sent, packets_recv
		FROM summary_monthly WHERE month LIKE ? ORDER BY month`, fmt.Sprintf("%04d-%%", year))
	if err != nil {
		return nil, fmt.Errorf("query monthly summaries: %w", err)
	}
	defer rows.Close()

	var out []model.MonthlySummary
	for rows.Next() {
		var sum model.MonthlySummary
		var bs, br, ps, pr int64
		if err := rows.Scan(&sum.Month, &bs, &br, &ps, &pr); err != nil {
			return nil, fmt.Errorf("scan monthly summary: %w", err)
		}
		sum.BytesSent, sum.BytesRecv = uint64(bs), uint64(br)
		sum.PacketsSent, sum.PacketsRecv = uint64(ps), uint64(pr)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLite) GetDailySummary(ctx context.Context, date string) (model.DailySummary, bool, error) {
	var sum model.DailySummary
	var bs, br, ps, pr int64
	err := s.db.QueryRowContext(ctx, `
		SELECT date, bytes_sent, bytes_recv, packets_sent, packets_recv
		FROM summary_daily WHERE date = ?`, date,
	).Scan(&sum.Date, &bs, &br, &ps, &pr)
	if err != nil {
		if isNoRows(err) {
			return sum, false, nil
		}
		return sum, false, fmt.Errorf("get daily summary %s: %w", date, err)
	}
	sum.BytesSent, sum.BytesRecv = uint64(bs), uint64(br)
	sum.PacketsSent, sum.PacketsRecv = uint64(ps), uint64(pr)
	return sum, true, nil
}

func (s *SQLite) GetMonthlySummary(ctx context.Context, month string) (model.MonthlySummary, bool, error) {
	var sum model.MonthlySummary
	var bs, br, ps, pr int64
	err := s.db.QueryRowContext(ctx, `
		SELECT month, bytes_sent, bytes_recv, packets_sent, packets_recv
		FROM summary_monthly WHERE month = ?`, month,
	).Scan(&sum.Month, &bs, &br, &ps, &pr)
	if err != nil {
		if isNoRows(err) {
			return sum, false, nil
		}
		return sum, false, fmt.Errorf("get monthly summary %s: %w", month, err)
	}
	sum.BytesSent, sum.BytesRecv = uint64(bs), uint64(br)
	sum.PacketsSent, sum.PacketsRecv = uint64(ps), uint64(pr)
	return sum, true, nil
}

func (s *SQLite) GetYearlySummary(ctx context.Context, year int) (model.YearlySummary, bool, error) {
	var sum model.YearlySummary
	var bs, br, ps, pr int64
	err := s.db.QueryRowContext(ctx, `
		SELECT year, bytes_sent, bytes_recv, packets_sent, packets_recv
		FROM summary_yearly WHERE year = ?`, year,
	).Scan(&sum.Year, &bs, &br, &ps, &pr)
	if err != nil {
		if isNoRows(err) {
			return sum, false, nil
		}
		return sum, false, fmt.Errorf("get yearly summary %d: %w", year, err)
	}
	sum.BytesSent, sum.BytesRecv = uint64(bs), uint64(br)
	sum.PacketsSent, sum.PacketsRecv = uint64(ps), uint64(pr)
	return sum, true, nil
}

func (s *SQLite) RecentDailySummaries(ctx context.Context, limit int) ([]model.DailySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, bytes_sent, bytes_recv, packets_sent, packets_recv FROM (
			SELECT date, bytes_sent, bytes_recv, packets_sent, packets_recv
			FROM summary_daily ORDER BY date DESC LIMIT ?
		) ORDER BY date ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent daily summaries: %w", err)
	}
	defer rows.Close()
	return scanDailySummaries(rows)
}
