// Package metrics exposes the vault's ledger and event stream as Prometheus
// series.
package metrics

import (
	"context"
	"net/http"

	sdkmath "cosmossdk.io/math"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/elys-network/epochvault/internal/events"
	"github.com/elys-network/epochvault/internal/ledger"
	"github.com/elys-network/epochvault/internal/logger"
	"github.com/elys-network/epochvault/internal/utils"
)

const namespace = "epochvault"

// State is one observation of the vault taken by the keeper.
type State struct {
	Snapshot     ledger.Snapshot
	ShareSupply  sdkmath.Int
	QueueDepth   int
	CurrentEpoch uint64
	Paused       bool
}

// Collector owns the vault's Prometheus series. It doubles as an events
// sink counting emitted events by kind.
type Collector struct {
	registry *prometheus.Registry
	decimals int
	logger   zerolog.Logger

	totalValue         prometheus.Gauge
	backingValue       prometheus.Gauge
	withdrawable       prometheus.Gauge
	idle               prometheus.Gauge
	tierValue          *prometheus.GaugeVec
	pendingWithdrawals prometheus.Gauge
	pendingDeposits    prometheus.Gauge
	queueDepth         prometheus.Gauge
	shareSupply        prometheus.Gauge
	currentEpoch       prometheus.Gauge
	paused             prometheus.Gauge
	events             *prometheus.CounterVec
	keeperCycles       *prometheus.CounterVec
}

// New builds a collector on its own registry. Asset amounts are exported in
// whole units, scaled down by decimals.
func New(decimals int) *Collector {
	reg := prometheus.NewRegistry()
	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
		reg.MustRegister(g)
		return g
	}

	c := &Collector{
		registry: reg,
		decimals: decimals,
		logger:   logger.GetForComponent("metrics"),

		totalValue:         gauge("total_value", "Custody plus every tier, less queued withdrawal claims."),
		backingValue:       gauge("backing_value", "Total value less escrowed deposits; the share pricing base."),
		withdrawable:       gauge("withdrawable_liquidity", "Custody plus what fast slots can release now."),
		idle:               gauge("idle_assets", "Assets held in custody."),
		pendingWithdrawals: gauge("pending_withdrawal_assets", "Assets owed to queued withdrawal requests."),
		pendingDeposits:    gauge("pending_deposit_assets", "Escrowed deposits awaiting settlement."),
		queueDepth:         gauge("withdrawal_queue_depth", "Unpaid withdrawal requests."),
		shareSupply:        gauge("share_supply", "Total vault shares outstanding, in raw units."),
		currentEpoch:       gauge("current_epoch", "Current epoch index."),
		paused:             gauge("deployment_paused", "1 while the reserve loop has paused deployment."),
	}

	c.tierValue = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tier_value",
		Help:      "Value held per liquidity tier.",
	}, []string{"tier"})
	c.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Vault events emitted, by kind.",
	}, []string{"kind"})
	c.keeperCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "keeper_cycles_total",
		Help:      "Keeper cycles run, by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(c.tierValue, c.events, c.keeperCycles)

	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) amount(v sdkmath.Int) float64 {
	if v.IsNil() {
		return 0
	}
	f, err := utils.SDKIntToFloat64(v, c.decimals)
	if err != nil {
		c.logger.Warn().Err(err).Str("amount", v.String()).Msg("Amount not representable as a metric")
		return 0
	}
	return f
}

// Observe publishes one vault observation.
func (c *Collector) Observe(s State) {
	snap := s.Snapshot
	c.totalValue.Set(c.amount(snap.Total))
	c.backingValue.Set(c.amount(snap.Backing))
	c.withdrawable.Set(c.amount(snap.Withdrawable))
	c.idle.Set(c.amount(snap.Idle))
	c.tierValue.WithLabelValues("fast").Set(c.amount(snap.Fast))
	c.tierValue.WithLabelValues("locked").Set(c.amount(snap.Locked))
	c.tierValue.WithLabelValues("external_pooled").Set(c.amount(snap.Pooled))
	c.pendingWithdrawals.Set(c.amount(snap.PendingWithdrawals))
	c.pendingDeposits.Set(c.amount(snap.PendingDeposits))
	c.queueDepth.Set(float64(s.QueueDepth))
	c.currentEpoch.Set(float64(s.CurrentEpoch))

	supply := 0.0
	if !s.ShareSupply.IsNil() {
		if f, err := utils.SDKIntToFloat64(s.ShareSupply, 0); err == nil {
			supply = f
		}
	}
	c.shareSupply.Set(supply)

	if s.Paused {
		c.paused.Set(1)
	} else {
		c.paused.Set(0)
	}
}

// Emit counts the event by kind.
func (c *Collector) Emit(_ context.Context, ev events.Event) {
	c.events.WithLabelValues(string(ev.Kind)).Inc()
}

// CycleDone counts one keeper cycle.
func (c *Collector) CycleDone(failed bool) {
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	c.keeperCycles.WithLabelValues(outcome).Inc()
}
