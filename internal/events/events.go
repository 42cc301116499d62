package events

import (
	"encoding/json"
	"log"
	"time"

	"netsentry/internal/core/model"

	"github.com/nats-io/nats.go"
)

// NATS subjects the engine publishes on. The surrounding application
// subscribes to these instead of registering callbacks into the collector.
const (
	SubjectDevice  = "netsentry.events.device"
	SubjectAnomaly = "netsentry.events.anomaly"
)

// DeviceEvent announces a newly discovered device.
type DeviceEvent struct {
	Time   time.Time    `json:"time"`
	Device model.Device `json:"device"`
}

// AnomalyEvent announces a device flagged by anomaly detection.
type AnomalyEvent struct {
	Time         time.Time `json:"time"`
	OrgID        int64     `json:"org_id"`
	DeviceID     string    `json:"device_id"`
	DeviceLabel  string    `json:"device_label"`
	Severity     string    `json:"severity"`
	CurrentUsage float64   `json:"current_usage"`
	AvgUsage     float64   `json:"avg_usage"`
	ZScore       float64   `json:"z_score"`
}

// Publisher broadcasts engine events over NATS with at-most-once delivery.
// Publish failures are logged and dropped; the ingest path never depends on
// the bus being up.
type Publisher struct {
	nc *nats.Conn
}

// NewPublisher connects to the NATS server.
func NewPublisher(natsURL string) (*Publisher, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", natsURL)
	return &Publisher{nc: nc}, nil
}

// DeviceDiscovered publishes a device discovery event, fire-and-forget.
func (p *Publisher) DeviceDiscovered(d model.Device) {
	p.publish(SubjectDevice, DeviceEvent{Time: time.Now(), Device: d})
}

// Anomaly publishes an anomaly event, fire-and-forget.
func (p *Publisher) Anomaly(ev AnomalyEvent) {
	p.publish(SubjectAnomaly, ev)
}

func (p *Publisher) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("events: marshal %s: %v", subject, err)
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		log.Printf("events: publish %s: %v", subject, err)
	}
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		log.Println("NATS connection drained and closed.")
	}
}

// DeviceHandler processes a received device event.
type DeviceHandler func(ev DeviceEvent)

// Subscriber consumes engine events, for the service layer's use.
type Subscriber struct {
	nc   *nats.Conn
	subs []*nats.Subscription
}

// NewSubscriber connects to the NATS server.
func NewSubscriber(natsURL string) (*Subscriber, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Subscriber{nc: nc}, nil
}

// OnDevice subscribes the handler to device discovery events.
func (s *Subscriber) OnDevice(handler DeviceHandler) error {
	sub, err := s.nc.Subscribe(SubjectDevice, func(msg *nats.Msg) {
		var ev DeviceEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("events: unmarshal device event: %v", err)
			return
		}
		handler(ev)
	})
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Close unsubscribes and closes the connection.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
	}
}
