package bootstrap

import (
	"github.com/safmarket/saf-backend/pkg/config"
	"github.com/safmarket/saf-backend/pkg/instance"
	"github.com/safmarket/saf-backend/pkg/logger"
)

// NewLogger builds the process logger from the app config, tagging every
// entry with the environment and instance id.
func NewLogger(service string, cfg *config.Config) *logger.Logger {
	if cfg == nil {
		return logger.New(logger.Options{ServiceName: service})
	}
	return logger.New(logger.Options{
		ServiceName: service,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
		Fields: map[string]string{
			"env":      cfg.App.Env,
			"instance": instance.GetID(),
		},
	})
}
