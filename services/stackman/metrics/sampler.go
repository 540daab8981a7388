// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package metrics samples host and broker telemetry.
//
// The sampler takes one point-in-time snapshot per tick: CPU, memory, and
// disk utilization, network throughput derived from interface counter
// deltas, and (when configured) RabbitMQ queue depth from its management
// API. Each snapshot is appended to the history store and broadcast to
// viewers; a failed broker probe degrades to an offline block inside the
// snapshot rather than suppressing it.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/AleutianAI/AleutianStacks/services/stackman/datatypes"
	"github.com/AleutianAI/AleutianStacks/services/stackman/history"
	"github.com/AleutianAI/AleutianStacks/services/stackman/hub"
	"github.com/AleutianAI/AleutianStacks/services/stackman/observability"
)

// DefaultInterval is the sample interval when none is configured.
const DefaultInterval = 2 * time.Second

// probeTimeout bounds the broker management-API call so a hung broker
// cannot stall the sample loop.
const probeTimeout = 3 * time.Second

// Publisher is the slice of the hub the sampler needs.
type Publisher interface {
	Publish(evt hub.Event)
}

// HostSource reads host utilization. The production implementation lives
// in host.go; tests substitute a deterministic one.
type HostSource interface {
	// CPUPercent returns instantaneous whole-host CPU utilization.
	CPUPercent(ctx context.Context) (float64, error)

	// Memory returns used and total bytes plus used percentage.
	Memory(ctx context.Context) (used, total uint64, pct float64, err error)

	// Disk returns used and total bytes plus used percentage for the
	// monitored mount.
	Disk(ctx context.Context) (used, total uint64, pct float64, err error)

	// NetCounters returns cumulative bytes received and sent across all
	// interfaces since boot.
	NetCounters(ctx context.Context) (rx, tx uint64, err error)
}

// Config assembles a Sampler. Store and Publisher are required; Broker and
// Mirror are optional and nil disables them.
type Config struct {
	Source   HostSource
	Broker   *BrokerProbe
	Store    *history.Store
	Pub      Publisher
	Mirror   api.WriteAPIBlocking
	Interval time.Duration
}

// Sampler drives the periodic snapshot loop.
type Sampler struct {
	source   HostSource
	broker   *BrokerProbe
	store    *history.Store
	pub      Publisher
	mirror   api.WriteAPIBlocking
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	lastRx uint64
	lastTx uint64
	lastAt time.Time
}

// New returns a sampler. Interval <= 0 selects DefaultInterval.
func New(cfg Config) *Sampler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Sampler{
		source:   cfg.Source,
		broker:   cfg.Broker,
		store:    cfg.Store,
		pub:      cfg.Pub,
		mirror:   cfg.Mirror,
		interval: cfg.Interval,
		now:      time.Now,
	}
}

// Run samples until ctx is cancelled. The first sample happens immediately.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sample(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("metrics sampler stopped")
			return
		case <-ticker.C:
			s.Sample(ctx)
		}
	}
}

// Sample takes one snapshot, persists it, and broadcasts it. A failing
// host reading logs and leaves that field zero; the snapshot itself is
// never suppressed.
func (s *Sampler) Sample(ctx context.Context) datatypes.MetricSnapshot {
	snap := datatypes.MetricSnapshot{Timestamp: s.now()}

	if cpu, err := s.source.CPUPercent(ctx); err != nil {
		slog.Warn("cpu sample failed", "error", err)
	} else {
		snap.CPUPct = cpu
	}
	if used, total, pct, err := s.source.Memory(ctx); err != nil {
		slog.Warn("memory sample failed", "error", err)
	} else {
		snap.RAMUsed, snap.RAMTotal, snap.RAMPct = used, total, pct
	}
	if used, total, pct, err := s.source.Disk(ctx); err != nil {
		slog.Warn("disk sample failed", "error", err)
	} else {
		snap.DiskUsed, snap.DiskTotal, snap.DiskPct = used, total, pct
	}
	snap.NetInKBps, snap.NetOutKBps = s.netRates(ctx, snap.Timestamp)

	if s.broker != nil {
		snap.RabbitMQ = s.broker.Probe(ctx)
	}

	if err := s.store.Append(snap); err != nil {
		slog.Error("appending metric snapshot", "error", err)
	}
	s.pub.Publish(hub.Event{Event: hub.EventSystemStats, Data: snap})
	s.mirrorPoint(ctx, snap)

	if m := observability.DefaultMetrics; m != nil {
		m.SamplesTotal.Inc()
	}
	return snap
}

// netRates converts cumulative interface counters into KB/s since the
// previous sample. The first sample has no baseline and reports zero; a
// counter reset (reboot, interface churn) also reports zero for one tick
// rather than a huge negative spike.
func (s *Sampler) netRates(ctx context.Context, at time.Time) (inKBps, outKBps float64) {
	rx, tx, err := s.source.NetCounters(ctx)
	if err != nil {
		slog.Warn("network counter sample failed", "error", err)
		return 0, 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prevRx, prevTx, prevAt := s.lastRx, s.lastTx, s.lastAt
	s.lastRx, s.lastTx, s.lastAt = rx, tx, at

	if prevAt.IsZero() || rx < prevRx || tx < prevTx {
		return 0, 0
	}
	elapsed := at.Sub(prevAt).Seconds()
	if elapsed <= 0 {
		return 0, 0
	}
	return float64(rx-prevRx) / 1024 / elapsed, float64(tx-prevTx) / 1024 / elapsed
}

// mirrorPoint writes the snapshot to InfluxDB when a mirror is configured.
// The mirror is observe-only: a write failure logs and nothing more.
func (s *Sampler) mirrorPoint(ctx context.Context, snap datatypes.MetricSnapshot) {
	if s.mirror == nil {
		return
	}
	p := influxdb2.NewPoint(
		"host_stats",
		map[string]string{"service": "stackman"},
		map[string]interface{}{
			"cpu_pct":  snap.CPUPct,
			"ram_pct":  snap.RAMPct,
			"disk_pct": snap.DiskPct,
			"net_in":   snap.NetInKBps,
			"net_out":  snap.NetOutKBps,
		},
		snap.Timestamp,
	)
	if err := s.mirror.WritePoint(ctx, p); err != nil {
		slog.Warn("influx mirror write failed", "error", err)
	}
}

// ===== Broker probe =====

// BrokerProbe queries the RabbitMQ management API overview endpoint.
type BrokerProbe struct {
	URL      string // management base URL, e.g. http://localhost:15672
	Username string
	Password string

	// Client may be replaced in tests; nil gets a bounded-timeout default.
	Client *http.Client
}

// overview is the subset of /api/overview the snapshot carries.
type overview struct {
	QueueTotals struct {
		Messages int64 `json:"messages"`
	} `json:"queue_totals"`
	MessageStats struct {
		Publish        int64 `json:"publish"`
		PublishDetails struct {
			Rate float64 `json:"rate"`
		} `json:"publish_details"`
		DeliverGetDetails struct {
			Rate float64 `json:"rate"`
		} `json:"deliver_get_details"`
	} `json:"message_stats"`
}

// Probe returns the broker block for one snapshot. Every failure mode
// (unreachable, bad credentials, malformed body) maps to an offline block
// carrying the error text; Probe itself never fails.
func (b *BrokerProbe) Probe(ctx context.Context) *datatypes.BrokerStats {
	client := b.Client
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.URL+"/api/overview", nil)
	if err != nil {
		return b.offline(err)
	}
	req.SetBasicAuth(b.Username, b.Password)

	resp, err := client.Do(req)
	if err != nil {
		return b.offline(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return b.offline(fmt.Errorf("management API returned %s", resp.Status))
	}

	var ov overview
	if err := json.NewDecoder(resp.Body).Decode(&ov); err != nil {
		return b.offline(fmt.Errorf("decoding overview: %w", err))
	}

	return &datatypes.BrokerStats{
		Status:      datatypes.BrokerStatusOK,
		Queued:      ov.QueueTotals.Messages,
		Total:       ov.MessageStats.Publish,
		PublishRate: ov.MessageStats.PublishDetails.Rate,
		DeliverRate: ov.MessageStats.DeliverGetDetails.Rate,
	}
}

func (b *BrokerProbe) offline(err error) *datatypes.BrokerStats {
	if m := observability.DefaultMetrics; m != nil {
		m.BrokerProbeFailures.Inc()
	}
	slog.Warn("broker probe failed", "url", b.URL, "error", err)
	return &datatypes.BrokerStats{
		Status: datatypes.BrokerStatusOffline,
		Error:  err.Error(),
	}
}
