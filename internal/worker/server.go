package worker

import (
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/photolib/internal/config"
)

// ServerConfig builds the asynq server settings for the pipeline queues.
func ServerConfig(q config.QueueConfig, p *Processor, log zerolog.Logger) asynq.Config {
	return asynq.Config{
		Concurrency: q.Concurrency,
		Queues: map[string]int{
			q.Ingest:     3,
			q.Review:     3,
			q.Mailer:     2,
			q.DeadLetter: 1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(p.HandleError),
		Logger:       asynqLogger{log: log.With().Str("component", "asynq").Logger()},
	}
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct {
	log zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{}) { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{}) { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal().Msg(fmt.Sprint(args...)) }
