package rater

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the rating worker.
type Config struct {
	NATSURL string        `env:"NATS_URL,required"`
	Command string        `env:"RATER_COMMAND,required"`
	Subject string        `env:"RATER_SUBJECT,default=mlreg.rate"`
	Queue   string        `env:"RATER_QUEUE,default=raters"`
	Timeout time.Duration `env:"RATER_TIMEOUT,default=60s"`
	// Concurrency is how many requests one worker rates at once.
	Concurrency int    `env:"RATER_CONCURRENCY,default=4"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	LogFormat   string `env:"LOG_FORMAT,default=console"`
}

// LoadConfig returns a Config populated from l.
func LoadConfig(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
