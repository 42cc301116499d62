package storage

import (
	"context"
	"fmt"
	"time"

	"netsentry/internal/core/model"

	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS devices (
	mac        TEXT PRIMARY KEY,
	ip         TEXT NOT NULL DEFAULT '',
	hostname   TEXT NOT NULL DEFAULT '',
	vendor     TEXT NOT NULL DEFAULT '',
	online     BOOLEAN NOT NULL DEFAULT FALSE,
	last_seen  TIMESTAMPTZ NOT NULL,
	org_id     BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS raw_counters (
	id           BIGSERIAL PRIMARY KEY,
	iface        TEXT NOT NULL,
	ts           TIMESTAMPTZ NOT NULL,
	bytes_sent   BIGINT NOT NULL,
	bytes_recv   BIGINT NOT NULL,
	packets_sent BIGINT NOT NULL,
	packets_recv BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS raw_counters_ts_idx ON raw_counters (ts);

CREATE TABLE IF NOT EXISTS device_traffic_daily (
	mac      TEXT NOT NULL,
	date     TEXT NOT NULL,
	upload   BIGINT NOT NULL DEFAULT 0,
	download BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (mac, date)
);

CREATE TABLE IF NOT EXISTS summary_daily (
	date         TEXT PRIMARY KEY,
	bytes_sent   BIGINT NOT NULL,
	bytes_recv   BIGINT NOT NULL,
	packets_sent BIGINT NOT NULL,
	packets_recv BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS summary_monthly (
	month        TEXT PRIMARY KEY,
	bytes_sent   BIGINT NOT NULL,
	bytes_recv   BIGINT NOT NULL,
	packets_sent BIGINT NOT NULL,
	packets_recv BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS summary_yearly (
	year         INT PRIMARY KEY,
	bytes_sent   BIGINT NOT NULL,
	bytes_recv   BIGINT NOT NULL,
	packets_sent BIGINT NOT NULL,
	packets_recv BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS device_summary_monthly (
	mac      TEXT NOT NULL,
	month    TEXT NOT NULL,
	upload   BIGINT NOT NULL,
	download BIGINT NOT NULL,
	PRIMARY KEY (mac, month)
);

CREATE TABLE IF NOT EXISTS device_summary_yearly (
	mac    TEXT NOT NULL,
	year   INT NOT NULL,
	upload   BIGINT NOT NULL,
	download BIGINT NOT NULL,
	PRIMARY KEY (mac, year)
);
`

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database, tunes the pool, and ensures the
// schema exists.
func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	pcfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}

	pcfg.MaxConns = 10
	pcfg.MaxConnLifetime = time.Hour
	pcfg.MaxConnIdleTime = 30 * time.Minute
	pcfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *Postgres) UpsertDevice(ctx context.Context, d model.Device) (bool, error) {
	var created bool
	err := p.pool.QueryRow(ctx, `
		INSERT INTO devices (mac, ip, hostname, vendor, online, last_seen, org_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (mac) DO UPDATE SET
			ip = EXCLUDED.ip,
			online = EXCLUDED.online,
			last_seen = EXCLUDED.last_seen
		RETURNING (xmax = 0)`,
		d.MAC, d.IP, d.Hostname, d.Vendor, d.Online, d.LastSeen, d.OrgID,
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("upsert device %s: %w", d.MAC, err)
	}
	return created, nil
}

func (p *Postgres) ListDevices(ctx context.Context) ([]model.Device, error) {
	return p.queryDevices(ctx, `
		SELECT mac, ip, hostname, vendor, online, last_seen, org_id
		FROM devices ORDER BY mac`)
}

func (p *Postgres) DevicesByOrg(ctx context.Context, orgID int64) ([]model.Device, error) {
	return p.queryDevices(ctx, `
		SELECT mac, ip, hostname, vendor, online, last_seen, org_id
		FROM devices WHERE org_id = $1 ORDER BY mac`, orgID)
}

func (p *Postgres) queryDevices(ctx context.Context, query string, args ...any) ([]model.Device, error) {
	rows, err := p.pool.Query(ctx, query, args...)
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

func (p *Postgres) InsertRawCounter(ctx context.Context, rc model.RawCounter) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO raw_counters (iface, ts, bytes_sent, bytes_recv, packets_sent, packets_recv)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rc.Interface, rc.Timestamp, int64(rc.BytesSent), int64(rc.BytesRecv),
		int64(rc.PacketsSent), int64(rc.PacketsRecv))
	if err != nil {
		return fmt.Errorf("insert raw counter: %w", err)
	}
	return nil
}

func (p *Postgres) SumRawCountersForDate(ctx context.Context, date string) (model.DailySummary, error) {
	s := model.DailySummary{Date: date}
	var bs, br, ps, pr int64
	err := p.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(bytes_sent), 0), COALESCE(SUM(bytes_recv), 0),
		       COALESCE(SUM(packets_sent), 0), COALESCE(SUM(packets_recv), 0)
		FROM raw_counters WHERE to_char(ts, 'YYYY-MM-DD') = $1`, date,
	).Scan(&bs, &br, &ps, &pr)
	if err != nil {
		return s, fmt.Errorf("sum raw counters for %s: %w", date, err)
	}
	s.BytesSent, s.BytesRecv = uint64(bs), uint64(br)
	s.PacketsSent, s.PacketsRecv = uint64(ps), uint64(pr)
	return s, nil
}

func (p *Postgres) AddDeviceTraffic(ctx context.Context, mac, date string, upload, download uint64) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO device_traffic_daily (mac, date, upload, download)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (mac, date) DO UPDATE SET
			upload = device_traffic_daily.upload + EXCLUDED.upload,
			download = device_traffic_daily.download + EXCLUDED.download`,
		mac, date, int64(upload), int64(download))
	if err != nil {
		return fmt.Errorf("add device traffic %s/%s: %w", mac, date, err)
	}
	return nil
}

func (p *Postgres) DeviceDailiesForMonth(ctx context.Context, mac, month string) ([]model.DeviceDaily, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT mac, date, upload, download FROM device_traffic_daily
		WHERE mac = $1 AND date LIKE $2 ORDER BY date`, mac, month+"%")
	if err != nil {
		return nil, fmt.Errorf("query device dailies: %w", err)
	}
	defer rows.Close()

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

func (p *Postgres) DeviceMonthliesForYear(ctx context.Context, mac string, year int) ([]model.DeviceMonthly, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT mac, month, upload, download FROM device_summary_monthly
		WHERE mac = $1 AND month LIKE $2 ORDER BY month`, mac, fmt.Sprintf("%04d-%%", year))
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

func (p *Postgres) RecentDeviceDailies(ctx context.Context, mac string, limit int) ([]model.DeviceDaily, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT mac, date, upload, download FROM (
			SELECT mac, date, upload, download FROM device_traffic_daily
			WHERE mac = $1 ORDER BY date DESC LIMIT $2
		) recent ORDER BY date ASC`, mac, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent device dailies: %w", err)
	}
	defer rows.Close()

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

func (p *Postgres) UpsertDailySummary(ctx context.Context, s model.DailySummary) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO summary_daily (date, bytes_sent, bytes_recv, packets_sent, packets_recv)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (date) DO UPDATE SET
			bytes_sent = EXCLUDED.bytes_sent,
			bytes_recv = EXCLUDED.bytes_recv,
			packets_sent = EXCLUDED.packets_sent,
			packets_recv = EXCLUDED.packets_recv`,
		s.Date, int64(s.BytesSent), int64(s.BytesRecv), int64(s.PacketsSent), int64(s.PacketsRecv))
	if err != nil {
		return fmt.Errorf("upsert daily summary %s: %w", s.Date, err)
	}
	return nil
}

func (p *Postgres) UpsertMonthlySummary(ctx context.Context, s model.MonthlySummary) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO summary_monthly (month, bytes_sent, bytes_recv, packets_sent, packets_recv)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (month) DO UPDATE SET
			bytes_sent = EXCLUDED.bytes_sent,
			bytes_recv = EXCLUDED.bytes_recv,
			packets_sent = EXCLUDED.packets_sent,
			packets_recv = EXCLUDED.packets_recv`,
		s.Month, int64(s.BytesSent), int64(s.BytesRecv), int64(s.PacketsSent), int64(s.PacketsRecv))
	if err != nil {
		return fmt.Errorf("upsert monthly summary %s: %w", s.Month, err)
	}
	return nil
}

func (p *Postgres) UpsertYearlySummary(ctx context.Context, s model.YearlySummary) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO summary_yearly (year, bytes_sent, bytes_recv, packets_sent, packets_recv)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (year) DO UPDATE SET
			bytes_sent = EXCLUDED.bytes_sent,
			bytes_recv = EXCLUDED.bytes_recv,
			packets_sent = EXCLUDED.packets_sent,
			packets_recv = EXCLUDED.packets_recv`,
		s.Year, int64(s.BytesSent), int64(s.BytesRecv), int64(s.PacketsSent), int64(s.PacketsRecv))
	if err != nil {
		return fmt.Errorf("upsert yearly summary %d: %w", s.Year, err)
	}
	return nil
}

func (p *Postgres) UpsertDeviceMonthly(ctx context.Context, s model.DeviceMonthly) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO device_summary_monthly (mac, month, upload, download)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (mac, month) DO UPDATE SET
			upload = EXCLUDED.upload,
			download = EXCLUDED.download`,
		s.MAC, s.Month, int64(s.Upload), int64(s.Download))
	if err != nil {
		return fmt.Errorf("upsert device monthly %s/%s: %w", s.MAC, s.Month, err)
	}
	return nil
}

func (p *Postgres) UpsertDeviceYearly(ctx context.Context, s model.DeviceYearly) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO device_summary_yearly (mac, year, upload, download)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (mac, year) DO UPDATE SET
			upload = EXCLUDED.upload,
			download = EXCLUDED.download`,
		s.MAC, s.Year, int64(s.Upload), int64(s.Download))
	if err != nil {
		return fmt.Errorf("upsert device yearly %s/%d: %w", s.MAC, s.Year, err)
	}
	return nil
}

func (p *Postgres) DailySummariesForMonth(ctx context.Context, month string) ([]model.DailySummary, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT date, bytes_sent, bytes_recv, packets_sent, packets_recv
		FROM summary_daily WHERE date LIKE $1 ORDER BY date`, month+"%")
	if err != nil {
		return nil, fmt.Errorf("query daily summaries: %w", err)
	}
	defer rows.Close()
	return scanDailySummaries(rows)
}

func (p *Postgres) MonthlySummariesForYear(ctx context.Context, year int) ([]model.MonthlySummary, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT month, bytes_sent, bytes_recv, packets_sent, packets_recv
		FROM summary_monthly WHERE month LIKE $1 ORDER BY month`, fmt.Sprintf("%04d-%%", year))
	if err != nil {
		return nil, fmt.Errorf("query monthly summaries: %w", err)
	}
	defer rows.Close()

	var out []model.MonthlySummary
	for rows.Next() {
		var s model.MonthlySummary
		var bs, br, ps, pr int64
		if err := rows.Scan(&s.Month, &bs, &br, &ps, &pr); err != nil {
			return nil, fmt.Errorf("scan monthly summary: %w", err)
		}
		s.BytesSent, s.BytesRecv = uint64(bs), uint64(br)
		s.PacketsSent, s.PacketsRecv = uint64(ps), uint64(pr)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) GetDailySummary(ctx context.Context, date string) (model.DailySummary, bool, error) {
	var s model.DailySummary
	var bs, br, ps, pr int64
	err := p.pool.QueryRow(ctx, `
		SELECT date, bytes_sent, bytes_recv, packets_sent, packets_recv
		FROM summary_daily WHERE date = $1`, date,
	).Scan(&s.Date, &bs, &br, &ps, &pr)
	if err != nil {
		if isNoRows(err) {
			return s, false, nil
		}
		return s, false, fmt.Errorf("get daily summary %s: %w", date, err)
	}
	s.BytesSent, s.BytesRecv = uint64(bs), uint64(br)
	s.PacketsSent, s.PacketsRecv = uint64(ps), uint64(pr)
	return s, true, nil
}

func (p *Postgres) GetMonthlySummary(ctx context.Context, month string) (model.MonthlySummary, bool, error) {
	var s model.MonthlySummary
	var bs, br, ps, pr int64
	err := p.pool.QueryRow(ctx, `
		SELECT month, bytes_sent, bytes_recv, packets_sent, packets_recv
		FROM summary_monthly WHERE month = $1`, month,
	).Scan(&s.Month, &bs, &br, &ps, &pr)
	if err != nil {
		if isNoRows(err) {
			return s, false, nil
		}
		return s, false, fmt.Errorf("get monthly summary %s: %w", month, err)
	}
	s.BytesSent, s.BytesRecv = uint64(bs), uint64(br)
	s.PacketsSent, s.PacketsRecv = uint64(ps), uint64(pr)
	return s, true, nil
}

func (p *Postgres) GetYearlySummary(ctx context.Context, year int) (model.YearlySummary, bool, error) {
	var s model.YearlySummary
	var bs, br, ps, pr int64
	err := p.pool.QueryRow(ctx, `
		SELECT year, bytes_sent, bytes_recv, packets_sent, packets_recv
		FROM summary_yearly WHERE year = $1`, year,
	).Scan(&s.Year, &bs, &br, &ps, &pr)
	if err != nil {
		if isNoRows(err) {
			return s, false, nil
		}
		return s, false, fmt.Errorf("get yearly summary %d: %w", year, err)
	}
	s.BytesSent, s.BytesRecv = uint64(bs), uint64(br)
	s.PacketsSent, s.PacketsRecv = uint64(ps), uint64(pr)
	return s, true, nil
}

func (p *Postgres) RecentDailySummaries(ctx context.Context, limit int) ([]model.DailySummary, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT date, bytes_sent, bytes_recv, packets_sent, packets_recv FROM (
			SELECT date, bytes_sent, bytes_recv, packets_sent, packets_recv
			FROM summary_daily ORDER BY date DESC LIMIT $1
		) recent ORDER BY date ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent daily summaries: %w", err)
	}
	defer rows.Close()
	return scanDailySummaries(rows)
}
