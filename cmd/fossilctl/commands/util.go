package commands

import (
	"fmt"

	"github.com/archivefs/fossil/internal/logger"
	"github.com/archivefs/fossil/pkg/config"
)

// initLogger initializes the structured logger from configuration, the
// same way fossild does.
func initLogger(cfg *config.Config) error {
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.MustLoad(configFile())
	if err != nil {
		return nil, err
	}
	if err := initLogger(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
