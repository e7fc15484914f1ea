package logger

import "go.uber.org/zap"

type Config struct {
	Development bool
}

func New(cfg Config) (*zap.Logger, error) {
	if cfg.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
