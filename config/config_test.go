package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-portal/leave"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsFillGaps(t *testing.T) {
	path := writeFile(t, "config.yml", `
database:
  path: /var/lib/leave/leave.db
scheduler:
  escalate_after_hours: 96
`)
	conf, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", conf.Addr())
	assert.Equal(t, "/var/lib/leave/leave.db", conf.Database.Path)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:8080"}, conf.Origins())
	assert.Equal(t, 5*time.Minute, conf.DirectoryTTL())
	assert.Equal(t, "leave:", conf.Redis.Prefix)

	sc := conf.SchedulerConfig()
	assert.True(t, sc.Enabled)
	assert.Equal(t, time.Hour, sc.Interval)
	assert.Equal(t, 24*time.Hour, sc.ReminderAfter)
	assert.Equal(t, 96*time.Hour, sc.EscalateAfter)
	assert.True(t, sc.EscalationEnabled())

	wc := conf.WorkflowConfig()
	assert.False(t, wc.AllowDelegatedReject)
	assert.True(t, wc.RequireRejectComment)

	exempt, err := conf.Exempt()
	require.NoError(t, err)
	assert.Equal(t, []leave.LeaveType{leave.Unpaid}, exempt)
	assert.False(t, conf.SMTPConfig().TLSEnabled)
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	path := writeFile(t, "config.yml", "log:\n  level: debug\n")
	conf, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:5173,http://localhost:8080", conf.HTTP.AllowedOrigins)
	assert.Equal(t, "leave:", conf.Redis.Prefix)
	assert.Equal(t, "leave.db", conf.Database.Path)
	assert.Equal(t, "debug", conf.Log.Level)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "config.yml", "http:\n  port: 9000\n")
	t.Setenv("LEAVE_HTTP_PORT", "9100")
	// Values are YAML scalars; a trailing colon needs quoting.
	t.Setenv("LEAVE_DB_PATH", "':memory:'")

	conf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, conf.HTTP.Port)
	assert.Equal(t, ":memory:", conf.Database.Path)
}

func TestLoad_RejectsUnknownExemptType(t *testing.T) {
	path := writeFile(t, "config.yml", "workflow:\n  exempt_types: unpaid, sabbatical\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sabbatical")
}

const ghanaProfile = `
name: Ghana Civil Service
code: gh
statutory_minimums:
  annual: 21
  maternity: 84
planner:
  extended_leave_days: 15
  recorded_types: [special_service, training]
`

func TestParseProfile(t *testing.T) {
	p, err := ParseProfile([]byte(ghanaProfile))
	require.NoError(t, err)
	assert.Equal(t, "gh", p.Code)

	table, err := p.StatutoryTable()
	require.NoError(t, err)
	assert.Equal(t, 21, table[leave.Annual])
	assert.Equal(t, 84, table[leave.Maternity])
	_, hasSick := table[leave.Sick]
	assert.False(t, hasSick)

	rules, err := p.PlannerRules()
	require.NoError(t, err)
	assert.Equal(t, 15, rules.ExtendedLeaveDays)
	assert.Equal(t, 30, rules.HQLeaveDays)
	assert.Equal(t, []leave.LeaveType{leave.SpecialService, leave.Training}, rules.RecordedTypes)
	assert.Equal(t, []leave.LeaveType{leave.Study, leave.Training}, rules.DirectorTypes)
}

func TestProfile_NilUsesDefaults(t *testing.T) {
	p, err := LoadProfile("")
	require.NoError(t, err)
	require.Nil(t, p)

	table, err := p.StatutoryTable()
	require.NoError(t, err)
	assert.Equal(t, 15, table[leave.Annual])

	rules, err := p.PlannerRules()
	require.NoError(t, err)
	assert.Equal(t, 10, rules.ExtendedLeaveDays)
}

func TestParseProfile_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown type", "code: x\nstatutory_minimums:\n  holiday: 5\n", "holiday"},
		{"negative minimum", "code: x\nstatutory_minimums:\n  annual: -1\n", "negative"},
		{"hq below extended", "code: x\nplanner:\n  extended_leave_days: 40\n", "hq_leave_days"},
		{"bad recorded type", "code: x\nplanner:\n  recorded_types: [gardening]\n", "gardening"},
		{"malformed yaml", "code: [x\n", "parse profile"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProfile([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadProfile_MissingFile(t *testing.T) {
	_, err := LoadProfile(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
