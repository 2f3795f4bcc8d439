package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeProcessed = "processed"
	outcomeDropped   = "dropped"
	outcomeFailed    = "failed"
	outcomeDuplicate = "duplicate"
)

var (
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photolib_messages_total",
			Help: "Messages handled per consumer and outcome.",
		},
		[]string{"consumer", "outcome"},
	)
	emailsSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "photolib_emails_sent_total",
		Help: "Review notification emails accepted by the relay.",
	})
	objectsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "photolib_objects_deleted_total",
		Help: "Uploaded objects removed by compensation.",
	})
)

// observe records the outcome of one message and passes err through.
// Permanent errors count as dropped.
func observe(consumer string, err error) error {
	switch {
	case err == nil:
		messagesTotal.WithLabelValues(consumer, outcomeProcessed).Inc()
	case IsPermanent(err):
		messagesTotal.WithLabelValues(consumer, outcomeDropped).Inc()
	default:
		messagesTotal.WithLabelValues(consumer, outcomeFailed).Inc()
	}
	return err
}
