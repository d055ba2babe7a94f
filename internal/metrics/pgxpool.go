package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterPgxPoolMetrics exposes registry pool statistics as Prometheus
// gauges, labelled with the pool name so the fleet API and the worker can
// be told apart on one dashboard.
func RegisterPgxPoolMetrics(pool *pgxpool.Pool, name string) {
	labels := prometheus.Labels{"pool": name}

	gauge := func(suffix, help string, value func() float64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "registry_pool_" + suffix,
			Help:        help,
			ConstLabels: labels,
		}, value)
	}

	prometheus.MustRegister(
		gauge("acquired_conns", "Connections currently acquired from the registry pool",
			func() float64 { return float64(pool.Stat().AcquiredConns()) }),
		gauge("idle_conns", "Idle connections in the registry pool",
			func() float64 { return float64(pool.Stat().IdleConns()) }),
		gauge("total_conns", "Total connections in the registry pool",
			func() float64 { return float64(pool.Stat().TotalConns()) }),
		gauge("max_conns", "Registry pool connection limit",
			func() float64 { return float64(pool.Stat().MaxConns()) }),
	)
}
