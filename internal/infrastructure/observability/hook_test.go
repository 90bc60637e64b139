package observability

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	otellog "go.opentelemetry.io/otel/log"
)

func TestSeverityOf(t *testing.T) {
	tests := []struct {
		level zerolog.Level
		want  otellog.Severity
	}{
		{zerolog.DebugLevel, otellog.SeverityDebug},
		{zerolog.InfoLevel, otellog.SeverityInfo},
		{zerolog.WarnLevel, otellog.SeverityWarn},
		{zerolog.ErrorLevel, otellog.SeverityError},
		{zerolog.PanicLevel, otellog.SeverityFatal},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, severityOf(tt.level))
		})
	}
}

func TestRecordHelpersAcceptNilMetrics(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordBookingAttempt(t.Context(), nil, "booked")
		RecordClaimConflict(t.Context(), nil, "book")
		RecordReschedule(t.Context(), nil, "direct")
		RecordNotificationDelivery(t.Context(), nil, "whatsapp", "sent")
		RecordRateLimited(t.Context(), nil, "booking")
		RecordRequestMetric(t.Context(), nil, "GET", "/health", 200, 0)
	})
}

func TestInitMetrics(t *testing.T) {
	metrics, err := InitMetrics()
	assert.NoError(t, err)
	assert.NotPanics(t, func() {
		RecordBookingAttempt(t.Context(), metrics, "booked")
	})
}
