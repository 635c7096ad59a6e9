package monitoring

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deauthwatch"

var (
	detectorAlerts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "alerts_total",
			Help:      "Number of deauthentication floods detected",
		},
	)
	detectorDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "dropped_events_total",
			Help:      "Number of detections dropped because the relay queue was full",
		},
	)
	relaySends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "sends_total",
			Help:      "Number of relay datagram sends by outcome",
		},
		[]string{"outcome"},
	)
	gatewayForwarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "forwarded_total",
			Help:      "Number of records forwarded to the serial link",
		},
	)
	gatewayDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "discarded_total",
			Help:      "Number of datagrams discarded for having the wrong length",
		},
	)
	serialReadErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "serial",
			Name:      "read_errors_total",
			Help:      "Number of serial read errors that were retried",
		},
	)
	ingestRecords = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "records_total",
			Help:      "Number of records read from the serial link",
		},
	)
	ingestQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "queue_depth",
			Help:      "Records waiting between the reader and the persister",
		},
	)
	ingestBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "batches_total",
			Help:      "Number of bucket batches written, by outcome",
		},
		[]string{"outcome"},
	)
	ingestRows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "rows_persisted_total",
			Help:      "Number of event rows committed to the store",
		},
	)
	locateEstimates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "locate",
			Name:      "estimates_total",
			Help:      "Number of position estimates, by status",
		},
		[]string{"status"},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default Prometheus registry. It is
// safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			detectorAlerts,
			detectorDropped,
			relaySends,
			gatewayForwarded,
			gatewayDiscarded,
			serialReadErrors,
			ingestRecords,
			ingestQueueDepth,
			ingestBatches,
			ingestRows,
			locateEstimates,
		)
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

func DetectorAlert()   { detectorAlerts.Inc() }
func DetectorDropped() { detectorDropped.Inc() }

// RelaySend records the outcome of one datagram send.
func RelaySend(err error) {
	if err != nil {
		relaySends.WithLabelValues("failure").Inc()
		return
	}
	relaySends.WithLabelValues("success").Inc()
}

func GatewayForwarded() { gatewayForwarded.Inc() }
func GatewayDiscarded() { gatewayDiscarded.Inc() }
func SerialReadError()  { serialReadErrors.Inc() }
func IngestRecord()     { ingestRecords.Inc() }

func IngestQueueDepth(n int) { ingestQueueDepth.Set(float64(n)) }

// IngestBatch records a bucket write. rows is only counted on success.
func IngestBatch(rows int, err error) {
	if err != nil {
		ingestBatches.WithLabelValues("failure").Inc()
		return
	}
	ingestBatches.WithLabelValues("success").Inc()
	ingestRows.Add(float64(rows))
}

func LocateEstimate(status string) { locateEstimates.WithLabelValues(status).Inc() }
