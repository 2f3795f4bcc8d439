package queue

import (
	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/photolib/internal/config"
)

// RedisOpt converts the broker settings for asynq.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}
