package observability

import (
	"time"

	"github.com/rs/zerolog"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
)

// OTelHook forwards zerolog events to the global OpenTelemetry logger
// provider. Only the level and message are exported; fields stay local.
type OTelHook struct {
	logger otellog.Logger
}

// NewOTelHook creates a hook bound to the current global logger provider
func NewOTelHook(name string) *OTelHook {
	return &OTelHook{logger: global.GetLoggerProvider().Logger(name)}
}

// Run implements zerolog.Hook
func (h *OTelHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	if level == zerolog.NoLevel || level == zerolog.Disabled {
		return
	}

	var record otellog.Record
	record.SetTimestamp(time.Now())
	record.SetBody(otellog.StringValue(msg))
	record.SetSeverity(severityOf(level))
	record.SetSeverityText(level.String())

	h.logger.Emit(e.GetCtx(), record)
}

func severityOf(level zerolog.Level) otellog.Severity {
	switch level {
	case zerolog.TraceLevel:
		return otellog.SeverityTrace
	case zerolog.DebugLevel:
		return otellog.SeverityDebug
	case zerolog.WarnLevel:
		return otellog.SeverityWarn
	case zerolog.ErrorLevel:
		return otellog.SeverityError
	case zerolog.FatalLevel, zerolog.PanicLevel:
		return otellog.SeverityFatal
	}
	return otellog.SeverityInfo
}
