package scheduler

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	LabelMethod  = "method"
	LabelSuccess = "success"
	LabelOutcome = "outcome"
)

var (
	rpcDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "schedclient",
		Name:      "rpc_duration_seconds",
		Help:      "Duration of scheduler RPCs in seconds, including transient retries.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{LabelMethod, LabelSuccess})

	connectAttempts = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "schedclient",
		Name:      "connect_attempts_total",
		Help:      "Attempts to open a transport to the scheduler.",
	}, []string{LabelOutcome})

	transientRetries = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "schedclient",
		Name:      "transient_retries_total",
		Help:      "RPCs re-issued after an ERROR_TRANSIENT response.",
	}, []string{LabelMethod})
)
