package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_BookingConfig(t *testing.T) {
	t.Setenv("SLOT_TEMPLATES", "08:30, 13:00")
	t.Setenv("SLOT_HORIZON_DAYS", "5")
	t.Setenv("SLOT_FEE_MIN", "20")
	t.Setenv("SLOT_FEE_MAX", "45.5")
	t.Setenv("RESCHEDULE_REQUIRES_RECONFIRM", "false")
	t.Setenv("PROPOSAL_MAX_AGE", "24h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"08:30", "13:00"}, cfg.Booking.DailyTemplates)
	assert.Equal(t, 5, cfg.Booking.HorizonDays)
	assert.Equal(t, 20.0, cfg.Booking.FeeMin)
	assert.Equal(t, 45.5, cfg.Booking.FeeMax)
	assert.False(t, cfg.Booking.ReconfirmAfterReschedule)
	assert.Equal(t, 24*time.Hour, cfg.Booking.ProposalMaxAge)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "carebook", cfg.Database.Database)
	assert.Equal(t, 30, cfg.Booking.DefaultDurationMinutes)
	assert.True(t, cfg.Booking.ReconfirmAfterReschedule)
	assert.Equal(t, 4, cfg.Notification.Workers)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.False(t, cfg.WhatsApp.Enabled())
}

func TestLoad_RejectsInvalidFeeRange(t *testing.T) {
	t.Setenv("SLOT_FEE_MIN", "100")
	t.Setenv("SLOT_FEE_MAX", "10")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsOutOfRangeDuration(t *testing.T) {
	t.Setenv("SLOT_DURATION_MINUTES", "5")

	_, err := Load()
	assert.Error(t, err)
}

func TestDatabaseConfig_DatabaseURL(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "care", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5433/care?sslmode=disable", c.DatabaseURL())
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=care sslmode=disable", c.DatabaseDSN())
}
