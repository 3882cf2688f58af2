// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package rp

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all go-passkey metrics.
	Namespace = "passkey"

	// Label names.
	LabelCeremony = "ceremony"
	LabelPhase    = "phase"
	LabelOutcome  = "outcome"

	// Ceremony names.
	CeremonyRegistration   = "registration"
	CeremonyAuthentication = "authentication"

	// Phase names.
	PhaseBegin    = "begin"
	PhaseComplete = "complete"

	// Outcome values.
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

var (
	// CeremoniesTotal counts ceremony phases by outcome. Rejections
	// (failed gates) are distinguished from storage/config errors.
	CeremoniesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremonies_total",
			Help:      "Total ceremony begin/complete operations by outcome",
		},
		[]string{LabelCeremony, LabelPhase, LabelOutcome},
	)

	// CeremonyDuration tracks ceremony phase latency in seconds.
	CeremonyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "ceremony_duration_seconds",
			Help:      "Duration of ceremony begin/complete operations in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{LabelCeremony, LabelPhase},
	)
)

// recordCeremony observes one ceremony phase.
func recordCeremony(ceremony, phase string, start time.Time, err error) {
	outcome := OutcomeSuccess
	switch {
	case err == nil:
	case IsRejection(err):
		outcome = OutcomeRejected
	default:
		outcome = OutcomeError
	}
	CeremoniesTotal.WithLabelValues(ceremony, phase, outcome).Inc()
	CeremonyDuration.WithLabelValues(ceremony, phase).Observe(time.Since(start).Seconds())
}
