package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"netsentry/internal/aggregator"
	"netsentry/internal/core/model"
	"netsentry/internal/engine/collector"
	"netsentry/internal/predictor"
	"netsentry/internal/storage/storetest"
)

func newTestServer(t *testing.T) (*Server, *collector.Collector, *storetest.Fake) {
	t.Helper()
	store := storetest.New()
	c := collector.New(collector.Options{})
	a := aggregator.New(store)
	p := predictor.New(store, 0)
	return NewServer(":0", c, a, p), c, store
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	s.http.Handler.ServeHTTP(rec, req)
	return rec
}

func ingestSample(c *collector.Collector, n int, dstPort uint16, proto uint8) {
	for i := 0; i < n; i++ {
		c.Ingest(&model.PacketInfo{
			Timestamp: time.Now(),
			FiveTuple: model.FiveTuple{
				SrcIP:    net.ParseIP("192.168.1.10"),
				DstIP:    net.ParseIP("8.8.8.8"),
				SrcPort:  40000,
				DstPort:  dstPort,
				Protocol: proto,
			},
			Length: 100,
		})
	}
}

func TestAnalyticsEndpoint(t *testing.T) {
	s, c, _ := newTestServer(t)
	ingestSample(c, 3, 443, 6)
	ingestSample(c, 2, 53, 17)

	rec := serve(s, "GET", "/api/analytics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var sum collector.Summary
	if err := json.NewDecoder(rec.Body).Decode(&sum); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if sum.TotalPackets != 5 {
		t.Errorf("TotalPackets = %d, want 5", sum.TotalPackets)
	}
	if sum.Protocols[model.ProtoHTTPS] != 3 || sum.Protocols[model.ProtoDNS] != 2 {
		t.Errorf("Protocols = %v, want 3 HTTPS and 2 DNS", sum.Protocols)
	}
}

func TestPacketLogEndpointFilters(t *testing.T) {
	s, c, _ := newTestServer(t)
	ingestSample(c, 3, 443, 6)
	ingestSample(c, 2, 53, 17)

	rec := serve(s, "GET", "/api/packets?protocol=dns")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var entries []model.PacketLogEntry
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d entries, want 2", len(entries))
	}

	rec = serve(s, "GET", "/api/packets?port=443&limit=2")
	entries = nil
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d entries with limit, want 2", len(entries))
	}
}

func TestForecastEndpointInsufficientData(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := serve(s, "GET", "/api/forecast")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["error"] != "insufficient data" {
		t.Errorf("body = %v, want the insufficient data marker", body)
	}
}

func TestAnomaliesEndpointRequiresOrg(t *testing.T) {
	s, _, _ := newTestServer(t)

	if rec := serve(s, "GET", "/api/anomalies"); rec.Code != http.StatusBadRequest {
		t.Errorf("missing org: status = %d, want 400", rec.Code)
	}
	if rec := serve(s, "GET", "/api/anomalies?org=abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad org: status = %d, want 400", rec.Code)
	}

	rec := serve(s, "GET", "/api/anomalies?org=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	// An org with no flagged devices returns an empty array, not null.
	if got := rec.Body.String(); got != "[]\n" {
		t.Errorf("body = %q, want empty JSON array", got)
	}
}

func TestRollupEndpoint(t *testing.T) {
	s, _, store := newTestServer(t)

	rec := serve(s, "POST", "/api/rollup/daily")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	// An empty day still writes a zero summary row for today.
	today := time.Now().Format("2006-01-02")
	if _, ok, _ := store.GetDailySummary(context.Background(), today); !ok {
		t.Errorf("no daily summary row for %s", today)
	}

	if rec := serve(s, "GET", "/api/rollup/daily"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET rollup: status = %d, want 405", rec.Code)
	}
}
