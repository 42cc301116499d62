package predictor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"netsentry/internal/core/model"
	"netsentry/internal/storage"
)

// ErrInsufficientData is returned when there is not enough history to fit a
// trend. Callers surface it as a structured result, not a failure.
var ErrInsufficientData = errors.New("insufficient data")

const (
	// forecastWindow is the length of the usage period being projected.
	forecastWindow = 30
	// minForecastPoints is the least history a regression is fitted on.
	minForecastPoints = 3

	anomalyHistory    = 14
	minAnomalyHistory = 7
	defaultZThreshold = 3.0
)

// Forecast projects total usage to the end of the current 30-day period.
type Forecast struct {
	PredictedBytes float64 `json:"predicted_bytes"`
	CurrentUsage   float64 `json:"current_usage"`
	Trend          string  `json:"trend"` // "up", "down" or "stable"
	GrowthRatePct  float64 `json:"growth_rate_pct"`
	PeriodEnded    bool    `json:"period_ended,omitempty"`
}

// Anomaly flags a device whose latest daily usage sits far above its own
// recent baseline.
type Anomaly struct {
	DeviceID     string  `json:"device_id"`
	DeviceLabel  string  `json:"device_label"`
	Severity     string  `json:"severity"`
	CurrentUsage float64 `json:"current_usage"`
	AvgUsage     float64 `json:"avg_usage"`
	ZScore       float64 `json:"z_score"`
}

// Predictor derives forecasts and anomalies from the summary tables. It is
// strictly read-only over the store.
type Predictor struct {
	store      storage.Store
	zThreshold float64
}

// New creates a predictor. zThreshold <= 0 selects the default of 3.
func New(store storage.Store, zThreshold float64) *Predictor {
	if zThreshold <= 0 {
		zThreshold = defaultZThreshold
	}
	return &Predictor{store: store, zThreshold: zThreshold}
}

// ForecastTotalUsage fits a linear regression of daily total bytes against
// day index and projects the trend over the remaining days of the current
// 30-day period. With fewer than 3 data points it returns
// ErrInsufficientData.
func (p *Predictor) ForecastTotalUsage(ctx context.Context) (Forecast, error) {
	dailies, err := p.store.RecentDailySummaries(ctx, forecastWindow)
	if err != nil {
		return Forecast{}, fmt.Errorf("load daily summaries: %w", err)
	}
	if len(dailies) < minForecastPoints {
		return Forecast{}, ErrInsufficientData
	}

	totals := make([]float64, len(dailies))
	var current float64
	for i, d := range dailies {
		totals[i] = float64(d.BytesSent + d.BytesRecv)
		current += totals[i]
	}

	slope, intercept := linearRegression(totals)
	mean := current / float64(len(totals))

	f := Forecast{
		CurrentUsage: current,
		Trend:        classifyTrend(slope, mean),
	}
	if mean > 0 {
		f.GrowthRatePct = slope / mean * 100
	}

	elapsed := len(totals)
	remaining := forecastWindow - elapsed
	if remaining <= 0 {
		// Period already elapsed; nothing left to project.
		f.PredictedBytes = current
		f.PeriodEnded = true
		return f, nil
	}

	predicted := current
	for day := elapsed; day < elapsed+remaining; day++ {
		v := slope*float64(day) + intercept
		if v < 0 {
			v = 0
		}
		predicted += v
	}
	f.PredictedBytes = predicted
	return f, nil
}

// DetectAnomalies flags devices in the given organization whose latest daily
// total exceeds their own rolling baseline by more than the z threshold.
// Only over-consumption is flagged.
func (p *Predictor) DetectAnomalies(ctx context.Context, orgID int64) ([]Anomaly, error) {
	devices, err := p.store.DevicesByOrg(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("load devices for org %d: %w", orgID, err)
	}

	var anomalies []Anomaly
	for _, dev := range devices {
		a, ok, err := p.checkDevice(ctx, dev)
		if err != nil {
			log.Printf("anomaly check %s: %v", dev.MAC, err)
			continue
		}
		if ok {
			anomalies = append(anomalies, a)
		}
	}
	return anomalies, nil
}

func (p *Predictor) checkDevice(ctx context.Context, dev model.Device) (Anomaly, bool, error) {
	rows, err := p.store.RecentDeviceDailies(ctx, dev.MAC, anomalyHistory)
	if err != nil {
		return Anomaly{}, false, err
	}
	if len(rows) < minAnomalyHistory {
		return Anomaly{}, false, nil
	}

	// Baseline excludes the most recent day, which is the value under test.
	baseline := rows[:len(rows)-1]
	today := float64(rows[len(rows)-1].Upload + rows[len(rows)-1].Download)

	var sum float64
	for _, r := range baseline {
		sum += float64(r.Upload + r.Download)
	}
	mean := sum / float64(len(baseline))

	var sq float64
	for _, r := range baseline {
		d := float64(r.Upload+r.Download) - mean
		sq += d * d
	}
	stddev := math.Sqrt(sq / float64(len(baseline)))
	if stddev == 0 {
		// Degenerate variance carries no signal.
		return Anomaly{}, false, nil
	}

	z := (today - mean) / stddev
	if z <= p.zThreshold {
		return Anomaly{}, false, nil
	}

	label := dev.Hostname
	if label == "" {
		label = dev.IP
	}
	severity := "warning"
	if z > 2*p.zThreshold {
		severity = "critical"
	}

	return Anomaly{
		DeviceID:     dev.MAC,
		DeviceLabel:  label,
		Severity:     severity,
		CurrentUsage: today,
		AvgUsage:     mean,
		ZScore:       z,
	}, true, nil
}

// linearRegression fits y = slope*x + intercept over y values indexed
// 0..n-1.
func linearRegression(ys []float64) (slope, intercept float64) {
	n := float64(len(ys))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

// classifyTrend labels the slope, with an epsilon band proportional to the
// metric's scale so floating-point noise does not flap the label.
func classifyTrend(slope, meanDaily float64) string {
	eps := 0.01 * math.Abs(meanDaily)
	switch {
	case slope > eps:
		return "up"
	case slope < -eps:
		return "down"
	default:
		return "stable"
	}
}
