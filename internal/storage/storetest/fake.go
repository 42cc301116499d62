// Package storetest provides an in-memory Store for tests of the
// aggregation and prediction layers.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"netsentry/internal/core/model"
)

// Fake is an in-memory Store. Zero value is not usable; call New.
type Fake struct {
	mu sync.Mutex

	Devices     map[string]model.Device
	RawCounters []model.RawCounter
	DeviceDays  map[string]map[string]model.DeviceDaily // mac -> date -> row

	Dailies         map[string]model.DailySummary
	Monthlies       map[string]model.MonthlySummary
	Yearlies        map[int]model.YearlySummary
	DeviceMonthlies map[string]model.DeviceMonthly // mac|month
	DeviceYearlies  map[string]model.DeviceYearly  // mac|year
}

// New returns an empty fake store.
func New() *Fake {
	return &Fake{
		Devices:         make(map[string]model.Device),
		DeviceDays:      make(map[string]map[string]model.DeviceDaily),
		Dailies:         make(map[string]model.DailySummary),
		Monthlies:       make(map[string]model.MonthlySummary),
		Yearlies:        make(map[int]model.YearlySummary),
		DeviceMonthlies: make(map[string]model.DeviceMonthly),
		DeviceYearlies:  make(map[string]model.DeviceYearly),
	}
}

func (f *Fake) Close() {}

func (f *Fake) UpsertDevice(_ context.Context, d model.Device) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, exists := f.Devices[d.MAC]
	f.Devices[d.MAC] = d
	return !exists, nil
}

func (f *Fake) ListDevices(context.Context) ([]model.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Device, 0, len(f.Devices))
	for _, d := range f.Devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	return out, nil
}

func (f *Fake) DevicesByOrg(_ context.Context, orgID int64) ([]model.Device, error) {
	all, _ := f.ListDevices(context.Background())
	var out []model.Device
	for _, d := range all {
		if d.OrgID == orgID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *Fake) InsertRawCounter(_ context.Context, rc model.RawCounter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RawCounters = append(f.RawCounters, rc)
	return nil
}

func (f *Fake) SumRawCountersForDate(_ context.Context, date string) (model.DailySummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum := model.DailySummary{Date: date}
	for _, rc := range f.RawCounters {
		if rc.Timestamp.Format("2006-01-02") != date {
			continue
		}
		sum.BytesSent += rc.BytesSent
		sum.BytesRecv += rc.BytesRecv
		sum.PacketsSent += rc.PacketsSent
		sum.PacketsRecv += rc.PacketsRecv
	}
	return sum, nil
}

func (f *Fake) AddDeviceTraffic(_ context.Context, mac, date string, upload, download uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	days := f.DeviceDays[mac]
	if days == nil {
		days = make(map[string]model.DeviceDaily)
		f.DeviceDays[mac] = days
	}
	row := days[date]
	row.MAC, row.Date = mac, date
	row.Upload += upload
	row.Download += download
	days[date] = row
	return nil
}

func (f *Fake) DeviceDailiesForMonth(_ context.Context, mac, month string) ([]model.DeviceDaily, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.DeviceDaily
	for date, row := range f.DeviceDays[mac] {
		if strings.HasPrefix(date, month) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (f *Fake) DeviceMonthliesForYear(_ context.Context, mac string, year int) ([]model.DeviceMonthly, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := fmt.Sprintf("%s|%04d-", mac, year)
	var out []model.DeviceMonthly
	for key, row := range f.DeviceMonthlies {
		if strings.HasPrefix(key, prefix) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out, nil
}

func (f *Fake) RecentDeviceDailies(_ context.Context, mac string, limit int) ([]model.DeviceDaily, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.DeviceDaily
	for _, row := range f.DeviceDays[mac] {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *Fake) UpsertDailySummary(_ context.Context, s model.DailySummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Dailies[s.Date] = s
	return nil
}

func (f *Fake) UpsertMonthlySummary(_ context.Context, s model.MonthlySummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Monthlies[s.Month] = s
	return nil
}

func (f *Fake) UpsertYearlySummary(_ context.Context, s model.YearlySummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Yearlies[s.Year] = s
	return nil
}

func (f *Fake) UpsertDeviceMonthly(_ context.Context, s model.DeviceMonthly) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeviceMonthlies[s.MAC+"|"+s.Month] = s
	return nil
}

func (f *Fake) UpsertDeviceYearly(_ context.Context, s model.DeviceYearly) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeviceYearlies[fmt.Sprintf("%s|%d", s.MAC, s.Year)] = s
	return nil
}

func (f *Fake) DailySummariesForMonth(_ context.Context, month string) ([]model.DailySummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.DailySummary
	for date, s := range f.Dailies {
		if strings.HasPrefix(date, month) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (f *Fake) MonthlySummariesForYear(_ context.Context, year int) ([]model.MonthlySummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := fmt.Sprintf("%04d-", year)
	var out []model.MonthlySummary
	for month, s := range f.Monthlies {
		if strings.HasPrefix(month, prefix) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out, nil
}

func (f *Fake) GetDailySummary(_ context.Context, date string) (model.DailySummary, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Dailies[date]
	return s, ok, nil
}

func (f *Fake) GetMonthlySummary(_ context.Context, month string) (model.MonthlySummary, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Monthlies[month]
	return s, ok, nil
}

func (f *Fake) GetYearlySummary(_ context.Context, year int) (model.YearlySummary, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Yearlies[year]
	return s, ok, nil
}

func (f *Fake) RecentDailySummaries(_ context.Context, limit int) ([]model.DailySummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.DailySummary
	for _, s := range f.Dailies {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
