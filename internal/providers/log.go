package providers

import "log/slog"

// LogProvider writes one structured log line per event.
type LogProvider struct {
	name   string
	logger *slog.Logger
}

// NewLogProvider logs through logger, or the default logger when nil.
func NewLogProvider(name string, logger *slog.Logger) *LogProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProvider{name: name, logger: logger}
}

func (p *LogProvider) Name() string { return p.name }

func (p *LogProvider) Report(eventName string, props map[string]interface{}) error {
	p.logger.Info("Telemetry event",
		"provider", p.name,
		"event", eventName,
		"properties", props,
	)
	return nil
}
