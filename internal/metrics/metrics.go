// Package metrics holds the Prometheus collectors for the ledger node and
// the relayer.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cipherbet"

type Metrics struct {
	reg *prometheus.Registry

	Txs              *prometheus.CounterVec
	BlockHeight      prometheus.Gauge
	BetsPlaced       prometheus.Counter
	Requests         *prometheus.CounterVec
	Fulfilled        *prometheus.CounterVec
	PendingRequests  prometheus.Gauge
	CiphertextStore  prometheus.Gauge
	RelayerSubmitted *prometheus.CounterVec
}

// New builds a fresh set of collectors on their own registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Txs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "txs_total", Help: "delivered transactions by type and result code",
		}, []string{"type", "code"}),
		BlockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "block_height", Help: "last finalized block height",
		}),
		BetsPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bets_placed_total", Help: "accepted bets",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "decryption_requests_total", Help: "oracle requests issued by kind",
		}, []string{"kind"}),
		Fulfilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "decryption_fulfilled_total", Help: "oracle callbacks accepted by kind",
		}, []string{"kind"}),
		PendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pending_requests", Help: "outstanding oracle requests after the last block",
		}),
		CiphertextStore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ciphertext_store_size", Help: "handles held by the coprocessor",
		}),
		RelayerSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "relayer_submissions_total", Help: "relayer callback submissions by kind and outcome",
		}, []string{"kind", "outcome"}),
	}
	m.reg.MustRegister(
		m.Txs, m.BlockHeight, m.BetsPlaced, m.Requests, m.Fulfilled,
		m.PendingRequests, m.CiphertextStore, m.RelayerSubmitted,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

type HealthFunc func(ctx context.Context) error

// Server serves /metrics and /healthz on addr. The caller owns Start and Shutdown.
func (m *Metrics) Server(addr string, health HealthFunc) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if health != nil {
			if err := health(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = fmt.Fprintf(w, "unhealthy: %v", err)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
