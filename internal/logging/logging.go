package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds the process-wide logger. Production emits JSON, anything
// else uses the human-readable development encoder.
func New(appEnv string) (*zap.Logger, error) {
	var (
		log *zap.Logger
		err error
	)
	switch appEnv {
	case "production", "prod":
		log, err = zap.NewProduction()
	default:
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return log, nil
}
