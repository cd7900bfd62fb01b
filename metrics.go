// FILE: metrics.go
// Package main – Prometheus metrics for observability.
//
// Grounded on the teacher's metrics.go: same init()-time MustRegister
// pattern and labeled counter/gauge shapes, relabeled for the DCA/TPM
// domain instead of the original stop/take-profit bot.
//
//   tm_orders_total{side,tag}     – orders placed, tagged ENTRY/DCA/TPM/PINE
//   tm_account_value_usd          – account value snapshot (gauge)
//   tm_dca_stage{symbol}          – current DCA stage per held symbol
//   tm_tpm_phase{symbol}          – current TPM phase (0/1/2) per held symbol
//   tm_ticks_total                – completed control-loop ticks
//   tm_snapshot_fallback_total    – ticks that fell back to the last-good snapshot
package main

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tm_orders_total",
			Help: "Orders placed by side and tag",
		},
		[]string{"side", "tag"},
	)

	mtxAccountValue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tm_account_value_usd",
			Help: "Account value in quote currency",
		},
	)

	mtxDCAStage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tm_dca_stage",
			Help: "Current DCA stage for a held symbol",
		},
		[]string{"symbol"},
	)

	mtxTPMPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tm_tpm_phase",
			Help: "Current trailing profit-margin phase (0=disarmed,1=armed,2=triggered)",
		},
		[]string{"symbol"},
	)

	mtxTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tm_ticks_total",
			Help: "Completed control-loop ticks",
		},
	)

	mtxSnapshotFallback = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tm_snapshot_fallback_total",
			Help: "Ticks that fell back to the last-good account snapshot",
		},
	)
)

func init() {
	prometheus.MustRegister(mtxOrders, mtxAccountValue, mtxDCAStage, mtxTPMPhase, mtxTicks, mtxSnapshotFallback)
}

func IncOrder(side, tag string)        { mtxOrders.WithLabelValues(side, tag).Inc() }
func SetAccountValue(v float64)        { mtxAccountValue.Set(v) }
func SetDCAStage(symbol string, v int) { mtxDCAStage.WithLabelValues(symbol).Set(float64(v)) }
func SetTPMPhase(symbol string, phase TPMPhase) {
	mtxTPMPhase.WithLabelValues(symbol).Set(float64(phase))
}
func IncTick()             { mtxTicks.Inc() }
func IncSnapshotFallback() { mtxSnapshotFallback.Inc() }
