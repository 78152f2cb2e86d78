package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/warp/leave-portal/leave"
	"github.com/warp/leave-portal/planner"
	"github.com/warp/leave-portal/policy"
)

// Profile holds the rules that come from labour law and public service
// regulations rather than from HR: statutory minimums and the shape of the
// approval chain.
type Profile struct {
	Name              string         `yaml:"name" json:"name"`
	Code              string         `yaml:"code" json:"code"`
	StatutoryMinimums map[string]int `yaml:"statutory_minimums" json:"statutory_minimums"`
	Planner           PlannerProfile `yaml:"planner" json:"planner"`
}

// PlannerProfile overrides planner.DefaultRules; zero fields keep the default.
type PlannerProfile struct {
	ExtendedLeaveDays int      `yaml:"extended_leave_days" json:"extended_leave_days"`
	HQLeaveDays       int      `yaml:"hq_leave_days" json:"hq_leave_days"`
	DirectorTypes     []string `yaml:"director_types,omitempty" json:"director_types,omitempty"`
	RecordedTypes     []string `yaml:"recorded_types,omitempty" json:"recorded_types,omitempty"`
}

// LoadProfile reads a jurisdiction profile. An empty path yields nil, which
// every accessor treats as "use the defaults".
func LoadProfile(path string) (*Profile, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}
	return ParseProfile(data)
}

func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if _, err := p.StatutoryTable(); err != nil {
		return nil, err
	}
	if _, err := p.PlannerRules(); err != nil {
		return nil, err
	}
	return &p, nil
}

// StatutoryTable returns the profile's minimums, or the default table when
// the profile names none.
func (p *Profile) StatutoryTable() (policy.StatutoryTable, error) {
	if p == nil || len(p.StatutoryMinimums) == 0 {
		return policy.DefaultStatutoryTable(), nil
	}
	table := make(policy.StatutoryTable, len(p.StatutoryMinimums))
	for name, days := range p.StatutoryMinimums {
		t, err := leave.ParseLeaveType(name)
		if err != nil {
			return nil, fmt.Errorf("profile %s: statutory_minimums: %w", p.Code, err)
		}
		if days < 0 {
			return nil, fmt.Errorf("profile %s: statutory minimum for %s is negative", p.Code, name)
		}
		table[t] = days
	}
	return table, nil
}

func (p *Profile) PlannerRules() (planner.Rules, error) {
	rules := planner.DefaultRules()
	if p == nil {
		return rules, nil
	}
	pp := p.Planner
	if pp.ExtendedLeaveDays > 0 {
		rules.ExtendedLeaveDays = pp.ExtendedLeaveDays
	}
	if pp.HQLeaveDays > 0 {
		rules.HQLeaveDays = pp.HQLeaveDays
	}
	if rules.HQLeaveDays < rules.ExtendedLeaveDays {
		return rules, fmt.Errorf("profile %s: hq_leave_days (%d) below extended_leave_days (%d)",
			p.Code, rules.HQLeaveDays, rules.ExtendedLeaveDays)
	}
	var err error
	if pp.DirectorTypes != nil {
		if rules.DirectorTypes, err = parseTypes(pp.DirectorTypes); err != nil {
			return rules, fmt.Errorf("profile %s: director_types: %w", p.Code, err)
		}
	}
	if pp.RecordedTypes != nil {
		if rules.RecordedTypes, err = parseTypes(pp.RecordedTypes); err != nil {
			return rules, fmt.Errorf("profile %s: recorded_types: %w", p.Code, err)
		}
	}
	return rules, nil
}

func parseTypes(names []string) ([]leave.LeaveType, error) {
	out := make([]leave.LeaveType, 0, len(names))
	for _, n := range names {
		t, err := leave.ParseLeaveType(n)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
