package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	barsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spp_bars_ingested_total",
		Help: "Bars written to the stock table",
	})

	predictionsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spp_predictions_written_total",
		Help: "Prediction rows written to the prediction table",
	})

	modelUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spp_model_updates_total",
		Help: "Model snapshot updates by horizon",
	}, []string{"horizon"})

	invocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spp_invocations_total",
		Help: "Handler invocations by operation and outcome",
	}, []string{"operation", "outcome"}) // outcome=success|failure
)

func RecordBarsIngested(n int)       { barsIngested.Add(float64(n)) }
func RecordPredictionsWritten(n int) { predictionsWritten.Add(float64(n)) }
func RecordModelUpdate(horizon string) {
	modelUpdates.WithLabelValues(horizon).Inc()
}

func RecordInvocation(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	invocations.WithLabelValues(operation, outcome).Inc()
}
