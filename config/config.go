/*
config.go - Server configuration

PURPOSE:
  One struct for everything cmd/server needs to wire the engine. Values come
  from config.yml, overridden by environment variables, falling back to the
  `default` tags. Durations are whole minutes or hours so the file stays
  readable for HR operations staff.

  configor decodes `default` tags and environment values as YAML, so a
  value containing ": " or ending in ":" must be quoted, for example
  LEAVE_DB_PATH="':memory:'".

SECTIONS:
  HTTP:      listen address, CORS origins, per-IP rate limit
  Database:  SQLite path
  Log:       zap level and encoder
  Directory: static org directory file and lookup cache TTL
  Profile:   jurisdiction profile (statutory minimums, planner rules)
  Redis:     optional reminder de-dup backend
  Smtp:      optional e-mail relay
  Scheduler: reminder and escalation thresholds
  Workflow:  approval rules that differ between ministries

SEE ALSO:
  - profile.go: jurisdiction profile loader
  - cmd/server/main.go: consumer
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/gotify/configor"

	"github.com/warp/leave-portal/leave"
	"github.com/warp/leave-portal/notify"
	"github.com/warp/leave-portal/scheduler"
	"github.com/warp/leave-portal/workflow"
)

type Configuration struct {
	HTTP struct {
		ListenAddr     string  `yaml:"listen_addr" default:"" env:"LEAVE_HTTP_HOST"`
		Port           int     `yaml:"port" default:"8080" env:"LEAVE_HTTP_PORT"`
		AllowedOrigins string  `yaml:"allowed_origins" default:"'http://localhost:5173,http://localhost:8080'" env:"LEAVE_HTTP_ORIGINS"`
		RateLimit      float64 `yaml:"rate_limit" default:"20" env:"LEAVE_HTTP_RATE_LIMIT"`
		RateBurst      int     `yaml:"rate_burst" default:"40" env:"LEAVE_HTTP_RATE_BURST"`
	} `yaml:"http"`
	Database struct {
		Path string `yaml:"path" default:"leave.db" env:"LEAVE_DB_PATH"`
	} `yaml:"database"`
	Log struct {
		Level       string `yaml:"level" default:"info" env:"LEAVE_LOG_LEVEL"`
		Development *bool  `yaml:"development" default:"false" env:"LEAVE_LOG_DEVELOPMENT"`
	} `yaml:"log"`
	Directory struct {
		Path            string `yaml:"path" default:"directory.yml" env:"LEAVE_DIRECTORY_PATH"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds" default:"300" env:"LEAVE_DIRECTORY_CACHE_TTL"`
	} `yaml:"directory"`
	Profile struct {
		Path string `yaml:"path" default:"" env:"LEAVE_PROFILE_PATH"`
	} `yaml:"profile"`
	Redis struct {
		Addr     string `yaml:"addr" default:"" env:"LEAVE_REDIS_ADDR"`
		Password string `yaml:"password" default:"" env:"LEAVE_REDIS_PASSWORD"`
		DB       int    `yaml:"db" default:"0" env:"LEAVE_REDIS_DB"`
		Prefix   string `yaml:"prefix" default:"'leave:'" env:"LEAVE_REDIS_PREFIX"`
	} `yaml:"redis"`
	Smtp struct {
		Host       string `yaml:"host" default:"" env:"SMTP_HOST"`
		Port       int    `yaml:"port" default:"587" env:"SMTP_PORT"`
		User       string `yaml:"user" default:"" env:"SMTP_USER"`
		Password   string `yaml:"password" default:"" env:"SMTP_PASSWORD"`
		From       string `yaml:"from" default:"leave-portal@localhost" env:"SMTP_FROM"`
		TLSEnabled *bool  `yaml:"tls_enabled" default:"false" env:"SMTP_TLS_ENABLED"`
	} `yaml:"smtp"`
	Scheduler struct {
		Enabled              *bool `yaml:"enabled" default:"true" env:"LEAVE_SCHEDULER_ENABLED"`
		IntervalMinutes      int   `yaml:"interval_minutes" default:"60" env:"LEAVE_SCHEDULER_INTERVAL"`
		ReminderAfterHours   int   `yaml:"reminder_after_hours" default:"24"`
		HRReminderAfterHours int   `yaml:"hr_reminder_after_hours" default:"72"`
		// Zero disables escalation.
		EscalateAfterHours int `yaml:"escalate_after_hours" default:"0"`
		DedupWindowHours   int `yaml:"dedup_window_hours" default:"12"`
	} `yaml:"scheduler"`
	Workflow struct {
		AllowDelegatedReject *bool  `yaml:"allow_delegate_reject" default:"false"`
		RequireRejectComment *bool  `yaml:"require_reject_comment" default:"true"`
		ExemptTypes          string `yaml:"exempt_types" default:"unpaid"`
	} `yaml:"workflow"`
}

// Load reads files in order; later files and the environment win.
func Load(files ...string) (*Configuration, error) {
	conf := new(Configuration)
	if err := configor.New(&configor.Config{}).Load(conf, files...); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate rejects combinations the server cannot run with.
func (c *Configuration) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("config: http.port %d out of range", c.HTTP.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("config: database.path is required")
	}
	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("config: scheduler.interval_minutes must be positive")
	}
	if _, err := c.Exempt(); err != nil {
		return err
	}
	return nil
}

func (c *Configuration) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.ListenAddr, c.HTTP.Port)
}

func (c *Configuration) Origins() []string {
	return splitList(c.HTTP.AllowedOrigins)
}

func (c *Configuration) DirectoryTTL() time.Duration {
	return time.Duration(c.Directory.CacheTTLSeconds) * time.Second
}

// Exempt returns the leave types that never touch the balance check.
func (c *Configuration) Exempt() ([]leave.LeaveType, error) {
	var out []leave.LeaveType
	for _, s := range splitList(c.Workflow.ExemptTypes) {
		t, err := leave.ParseLeaveType(s)
		if err != nil {
			return nil, fmt.Errorf("config: workflow.exempt_types: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (c *Configuration) WorkflowConfig() workflow.Config {
	return workflow.Config{
		AllowDelegatedReject: isTrue(c.Workflow.AllowDelegatedReject),
		RequireRejectComment: isTrue(c.Workflow.RequireRejectComment),
	}
}

func (c *Configuration) SchedulerConfig() scheduler.Config {
	s := c.Scheduler
	return scheduler.Config{
		Enabled:         isTrue(s.Enabled),
		Interval:        time.Duration(s.IntervalMinutes) * time.Minute,
		ReminderAfter:   time.Duration(s.ReminderAfterHours) * time.Hour,
		HRReminderAfter: time.Duration(s.HRReminderAfterHours) * time.Hour,
		EscalateAfter:   time.Duration(s.EscalateAfterHours) * time.Hour,
		DedupWindow:     time.Duration(s.DedupWindowHours) * time.Hour,
	}
}

func (c *Configuration) SMTPConfig() notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:       c.Smtp.Host,
		Port:       c.Smtp.Port,
		Username:   c.Smtp.User,
		Password:   c.Smtp.Password,
		From:       c.Smtp.From,
		TLSEnabled: isTrue(c.Smtp.TLSEnabled),
	}
}

func isTrue(b *bool) bool {
	return b != nil && *b
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
