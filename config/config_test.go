package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lesson-booking/config"
	"github.com/warp/lesson-booking/generic"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileWithEnvOverride(t *testing.T) {
	// GIVEN: a postgres config file and a REDIS_ADDR override
	path := writeYAML(t, `
env: staging
storage:
  driver: postgres
  dsn: postgres://booking@db/booking
redis:
  enabled: true
  addr: localhost:6379
rules:
  fallback_teacher_id: 99
  location_lead_minutes:
    VN: 45
  absence_allowed: 12h
  absence_nearly_missed: 1h
`)
	t.Setenv("REDIS_ADDR", "cache:6380")

	// WHEN
	cfg, err := config.Load(path)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, 15*time.Second, cfg.HTTP.ReadTimeout, "unset fields keep defaults")

	rules := cfg.BookingRules()
	assert.Equal(t, generic.TeacherID(99), rules.FallbackTeacherID)
	assert.Equal(t, map[string]int{"vn": 45}, rules.LocationLeadMinutes)
	assert.Equal(t, 12*time.Hour, rules.AbsenceWindows.Allowed)
	assert.Equal(t, time.Hour, rules.AbsenceWindows.NearlyMissed)
	assert.Equal(t, 60, rules.DefaultLeadMinutes)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))

	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "*/5 * * * *", cfg.Scheduler.AutoFinish)

	rules := cfg.BookingRules()
	assert.Equal(t, 30, rules.LocationLeadMinutes["vn"])
	assert.Equal(t, 120, rules.DefaultCancelWindowMinutes)
	assert.Equal(t, 3, rules.BestMemoCap)
	assert.Equal(t, 8, rules.TrialMemoHours)
	assert.Equal(t, 12, rules.NormalMemoHours)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "storage:\n  driver: mysql\n"},
		{"production without secret", "env: production\n"},
		{"absence windows inverted", "rules:\n  absence_allowed: 1h\n  absence_nearly_missed: 3h\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeYAML(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	for _, env := range []string{"local", "production"} {
		log, err := config.NewLogger(env)
		require.NoError(t, err)
		log.Info("logger ready")
	}
}
