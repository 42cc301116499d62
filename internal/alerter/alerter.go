package alerter

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"netsentry/internal/config"
	"netsentry/internal/events"
	"netsentry/internal/predictor"
	"netsentry/internal/storage"
)

const sweepTimeout = time.Minute

// Alerter periodically runs anomaly detection across every organization and
// fans the findings out: an event per anomaly on the bus, plus a
// consolidated email when a notifier is configured.
type Alerter struct {
	store         storage.Store
	predictor     *predictor.Predictor
	notifier      Notifier
	publisher     *events.Publisher
	checkInterval time.Duration
	stopChan      chan struct{}
	wg            sync.WaitGroup
}

// Notifier is the outbound channel for consolidated alert summaries.
type Notifier interface {
	Send(subject, body string) error
}

// New creates an Alerter. notifier and publisher may each be nil.
func New(cfg config.AlerterConfig, store storage.Store, pred *predictor.Predictor, notifier Notifier, publisher *events.Publisher) (*Alerter, error) {
	interval, err := time.ParseDuration(cfg.CheckInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid check_interval for alerter: %w", err)
	}

	return &Alerter{
		store:         store,
		predictor:     pred,
		notifier:      notifier,
		publisher:     publisher,
		checkInterval: interval,
		stopChan:      make(chan struct{}),
	}, nil
}

// Start begins the periodic anomaly sweep.
func (a *Alerter) Start() {
	log.Println("Alerter started")

	a.wg.Add(1)
	defer a.wg.Done()

	ticker := time.NewTicker(a.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.sweep()
		case <-a.stopChan:
			return
		}
	}
}

// Stop ends the sweep loop.
func (a *Alerter) Stop() {
	log.Println("Stopping Alerter...")
	close(a.stopChan)
	a.wg.Wait()
}

// sweep runs anomaly detection per organization so findings never cross
// tenant boundaries.
func (a *Alerter) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	devices, err := a.store.ListDevices(ctx)
	if err != nil {
		log.Printf("alerter: list devices: %v", err)
		return
	}

	orgs := make(map[int64]struct{})
	for _, d := range devices {
		orgs[d.OrgID] = struct{}{}
	}

	var sections []string
	for orgID := range orgs {
		anomalies, err := a.predictor.DetectAnomalies(ctx, orgID)
		if err != nil {
			log.Printf("alerter: detect anomalies org %d: %v", orgID, err)
			continue
		}

		for _, an := range anomalies {
			if a.publisher != nil {
				a.publisher.Anomaly(events.AnomalyEvent{
					Time:         time.Now(),
					OrgID:        orgID,
					DeviceID:     an.DeviceID,
					DeviceLabel:  an.DeviceLabel,
					Severity:     an.Severity,
					CurrentUsage: an.CurrentUsage,
					AvgUsage:     an.AvgUsage,
					ZScore:       an.ZScore,
				})
			}
			sections = append(sections, fmt.Sprintf(
				"<h3>Device %s (%s)</h3>"+
					"<ul>"+
					"<li><b>Severity:</b> <code>%s</code></li>"+
					"<li><b>Current usage:</b> <code>%.0f bytes</code></li>"+
					"<li><b>Baseline average:</b> <code>%.0f bytes</code></li>"+
					"<li><b>Z-score:</b> <code>%.2f</code></li>"+
					"</ul>",
				an.DeviceLabel, an.DeviceID, an.Severity,
				an.CurrentUsage, an.AvgUsage, an.ZScore))
		}
	}

	if len(sections) == 0 {
		return
	}

	log.Printf("Alerter sweep completed. %d anomaly(ies) found.", len(sections))

	if a.notifier == nil {
		return
	}

	body := "<h1>NetSentry Anomaly Summary</h1>" +
		"<p>The following devices exceeded their usage baseline during the last check:</p><hr>" +
		strings.Join(sections, "<hr>")
	subject := fmt.Sprintf("NetSentry Anomaly Summary (%d flagged)", len(sections))
	if err := a.notifier.Send(subject, body); err != nil {
		log.Printf("ERROR: Failed to send anomaly notification: %v", err)
	}
}
