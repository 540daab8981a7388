// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// BrokerStatusOffline is the BrokerStats status reported when the queue
// broker's management API is unreachable or times out.
const BrokerStatusOffline = "offline"

// BrokerStatusOK is the BrokerStats status for a successful probe.
const BrokerStatusOK = "ok"

// BrokerStats is the optional queue-broker block of a MetricSnapshot.
// When the broker is unreachable only Status and Error are populated.
type BrokerStats struct {
	Status      string  `json:"status"`
	Queued      int64   `json:"queued"`
	Total       int64   `json:"total"`
	PublishRate float64 `json:"publish_rate"`
	DeliverRate float64 `json:"deliver_rate"`
	Error       string  `json:"error,omitempty"`
}

// MetricSnapshot is one immutable point-in-time sample of host resources.
// Network values are rates (KB/s) computed against the previous sample;
// everything else is a point reading.
type MetricSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	CPUPct float64 `json:"cpu_pct"`

	RAMPct   float64 `json:"ram_pct"`
	RAMUsed  uint64  `json:"ram_used"`
	RAMTotal uint64  `json:"ram_total"`

	DiskPct   float64 `json:"disk_pct"`
	DiskUsed  uint64  `json:"disk_used"`
	DiskTotal uint64  `json:"disk_total"`

	NetInKBps  float64 `json:"net_in"`
	NetOutKBps float64 `json:"net_out"`

	RabbitMQ *BrokerStats `json:"rabbitmq,omitempty"`
}
