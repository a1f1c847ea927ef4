package logger

import (
	"go.uber.org/zap"
)

// New builds a named sugared logger writing to stdout.
func New(name string) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stdout"}
	cfg.DisableStacktrace = true

	log, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return log.Named(name).Sugar(), nil
}
