package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Message outcomes recorded by the consumer
const (
	OutcomeAcked        = "acked"
	OutcomeRejected     = "rejected"
	OutcomeRequeued     = "requeued"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeDuplicate    = "duplicate"
)

type Registry struct {
	reg              *prometheus.Registry
	Messages         *prometheus.CounterVec
	UnresolvedItems  prometheus.Counter
	RowsUpdated      prometheus.Counter
	RowsMissing      prometheus.Counter
	LedgerTxSec      prometheus.Histogram
	EventsPublished  prometheus.Counter
	EventsDropped    prometheus.Counter
	BrokerReconnects prometheus.Counter
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_messages_total",
		Help: "order.created messages by terminal outcome",
	}, []string{"outcome"})
	unresolved := prometheus.NewCounter(prometheus.CounterOpts{Name: "stock_items_unresolved_total"})
	updated := prometheus.NewCounter(prometheus.CounterOpts{Name: "stock_rows_updated_total"})
	missing := prometheus.NewCounter(prometheus.CounterOpts{Name: "stock_rows_missing_total"})
	txLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_ledger_tx_seconds",
		Buckets: prometheus.DefBuckets,
	})
	published := prometheus.NewCounter(prometheus.CounterOpts{Name: "franchise_events_published_total"})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{Name: "franchise_events_dropped_total"})
	reconnects := prometheus.NewCounter(prometheus.CounterOpts{Name: "rabbitmq_reconnects_total"})

	r.MustRegister(messages, unresolved, updated, missing, txLatency, published, dropped, reconnects)
	return &Registry{
		reg:              r,
		Messages:         messages,
		UnresolvedItems:  unresolved,
		RowsUpdated:      updated,
		RowsMissing:      missing,
		LedgerTxSec:      txLatency,
		EventsPublished:  published,
		EventsDropped:    dropped,
		BrokerReconnects: reconnects,
	}
}

// Outcome counts one message reaching a terminal state
func (r *Registry) Outcome(outcome string) {
	r.Messages.WithLabelValues(outcome).Inc()
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
