/*
config.go - Server configuration

PURPOSE:
  One YAML file per deployment, every field overridable from the
  environment. A .env file next to the binary is loaded first so local
  runs can keep secrets out of the YAML.

LOOKUP:
  -config flag -> CONFIG_PATH -> config/config.yaml

SEE ALSO:
  - config/config.yaml: Local defaults
  - cmd/server/main.go: Consumer
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/warp/lesson-booking/booking"
	"github.com/warp/lesson-booking/deadline"
	"github.com/warp/lesson-booking/generic"
)

const DefaultPath = "config/config.yaml"

type Config struct {
	Env       string     `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTPServer `yaml:"http"`
	Storage   Storage    `yaml:"storage"`
	Redis     Redis      `yaml:"redis"`
	Auth      Auth       `yaml:"auth"`
	Meeting   Meeting    `yaml:"meeting"`
	Rules     Rules      `yaml:"rules"`
	Scheduler Scheduler  `yaml:"scheduler"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" env:"HTTP_ADDRESS" env-default:"localhost:8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"30s"`
	CORSOrigins     []string      `yaml:"cors_origins" env:"HTTP_CORS_ORIGINS" env-separator:"," env-default:"http://localhost:3000,http://localhost:5173"`
}

type Storage struct {
	// Driver is sqlite or postgres.
	Driver string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"sqlite"`
	DSN    string `yaml:"dsn" env:"STORAGE_DSN" env-default:"lesson-booking.db"`
}

type Redis struct {
	Enabled  bool   `yaml:"enabled" env:"REDIS_ENABLED" env-default:"false"`
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	Prefix   string `yaml:"prefix" env:"REDIS_PREFIX" env-default:"lesson-booking"`
	// QueueMaxLen caps each outbound list. Zero keeps everything.
	QueueMaxLen int64 `yaml:"queue_max_len" env:"REDIS_QUEUE_MAX_LEN" env-default:"100000"`
}

type Auth struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}

type Meeting struct {
	BaseURL string `yaml:"base_url" env:"MEETING_BASE_URL"`
}

type Rules struct {
	FallbackTeacherID          int64          `yaml:"fallback_teacher_id" env:"RULES_FALLBACK_TEACHER_ID" env-default:"0"`
	DefaultLeadMinutes         int            `yaml:"default_lead_minutes" env:"RULES_DEFAULT_LEAD_MINUTES" env-default:"60"`
	LocationLeadMinutes        map[string]int `yaml:"location_lead_minutes"`
	DefaultCancelWindowMinutes int            `yaml:"default_cancel_window_minutes" env:"RULES_CANCEL_WINDOW_MINUTES" env-default:"120"`
	AbsenceAllowed             time.Duration  `yaml:"absence_allowed" env:"RULES_ABSENCE_ALLOWED" env-default:"24h"`
	AbsenceNearlyMissed        time.Duration  `yaml:"absence_nearly_missed" env:"RULES_ABSENCE_NEARLY_MISSED" env-default:"2h"`
	TrialMemoHours             int            `yaml:"trial_memo_hours" env:"RULES_TRIAL_MEMO_HOURS" env-default:"8"`
	NormalMemoHours            int            `yaml:"normal_memo_hours" env:"RULES_NORMAL_MEMO_HOURS" env-default:"12"`
	BestMemoCap                int            `yaml:"best_memo_cap" env:"RULES_BEST_MEMO_CAP" env-default:"3"`
	StartEarlyMinutes          int            `yaml:"start_early_minutes" env:"RULES_START_EARLY_MINUTES" env-default:"10"`
}

// Scheduler holds cron specs evaluated in TimeZone.
type Scheduler struct {
	Enabled         bool   `yaml:"enabled" env:"SCHEDULER_ENABLED" env-default:"true"`
	AutoFinish      string `yaml:"auto_finish" env:"SCHEDULER_AUTO_FINISH" env-default:"*/5 * * * *"`
	ApprovedLeaves  string `yaml:"approved_leaves" env:"SCHEDULER_APPROVED_LEAVES" env-default:"*/10 * * * *"`
	RegularBookings string `yaml:"regular_bookings" env:"SCHEDULER_REGULAR_BOOKINGS" env-default:"0 1 * * 6"`
	TimeZone        string `yaml:"time_zone" env:"SCHEDULER_TIME_ZONE" env-default:"Asia/Ho_Chi_Minh"`
}

// Load reads .env (if present), then the YAML file at path, then the
// environment. A missing YAML file falls back to env and defaults only.
func Load(path string) (*Config, error) {
	const op = "config.Load"

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: .env: %w", op, err)
	}

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = DefaultPath
	}

	var cfg Config
	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", op, path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("%s: env: %w", op, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

// MustLoad is Load that panics.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver %q: want sqlite or postgres", c.Storage.Driver)
	}
	if c.Storage.DSN == "" {
		return errors.New("storage.dsn is required")
	}
	if c.IsProduction() && c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required in production")
	}
	if c.Rules.AbsenceNearlyMissed > c.Rules.AbsenceAllowed {
		return errors.New("rules.absence_nearly_missed must not exceed rules.absence_allowed")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// BookingRules converts the rules section. Unset location leads keep the
// built-in table.
func (c *Config) BookingRules() booking.Rules {
	r := booking.DefaultRules()
	r.FallbackTeacherID = generic.TeacherID(c.Rules.FallbackTeacherID)
	r.DefaultLeadMinutes = c.Rules.DefaultLeadMinutes
	if len(c.Rules.LocationLeadMinutes) > 0 {
		r.LocationLeadMinutes = make(map[string]int, len(c.Rules.LocationLeadMinutes))
		for k, v := range c.Rules.LocationLeadMinutes {
			r.LocationLeadMinutes[strings.ToLower(k)] = v
		}
	}
	r.DefaultCancelWindowMinutes = c.Rules.DefaultCancelWindowMinutes
	r.AbsenceWindows = deadline.AbsenceWindows{
		Allowed:      c.Rules.AbsenceAllowed,
		NearlyMissed: c.Rules.AbsenceNearlyMissed,
	}
	r.TrialMemoHours = c.Rules.TrialMemoHours
	r.NormalMemoHours = c.Rules.NormalMemoHours
	r.BestMemoCap = c.Rules.BestMemoCap
	r.StartEarlyMinutes = c.Rules.StartEarlyMinutes
	return r
}
