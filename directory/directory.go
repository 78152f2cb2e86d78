/*
Package directory provides OrgDirectory implementations.

PURPOSE:
  Org placement is owned by the HR master data system. This package ships a
  static directory loaded from YAML (development, tests, small deployments)
  and a caching decorator that collapses concurrent lookups of the same
  employee into one call to the wrapped directory.

FILE FORMAT:
  employees:
    - id: emp-1
      name: Ama Mensah
      email: ama@example.gov
      roles: []
  placements:
    - employee_id: emp-1
      unit: Registry
      manager_id: mgr-1
      ...
*/
package directory

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/warp/leave-portal/leave"
)

type file struct {
	Employees  []leave.Employee `yaml:"employees"`
	Placements []leave.OrgInfo  `yaml:"placements"`
}

// Static is an immutable in-memory directory.
type Static struct {
	employees map[string]leave.Employee
	org       map[string]leave.OrgInfo
}

func NewStatic(employees []leave.Employee, placements []leave.OrgInfo) *Static {
	s := &Static{
		employees: make(map[string]leave.Employee, len(employees)),
		org:       make(map[string]leave.OrgInfo, len(placements)),
	}
	for _, e := range employees {
		s.employees[e.ID] = e
	}
	for _, o := range placements {
		s.org[o.EmployeeID] = o
	}
	return s
}

// LoadFile reads a YAML directory file.
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load directory %q: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Static, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse directory: %w", err)
	}
	for _, e := range f.Employees {
		if e.ID == "" {
			return nil, fmt.Errorf("parse directory: employee without id")
		}
	}
	return NewStatic(f.Employees, f.Placements), nil
}

func (s *Static) GetOrgInfo(_ context.Context, employeeID string) (leave.OrgInfo, error) {
	o, ok := s.org[employeeID]
	if !ok {
		return leave.OrgInfo{}, &leave.OrgInfoError{EmployeeID: employeeID, Reason: "no placement on record"}
	}
	return o, nil
}

func (s *Static) GetEmployee(_ context.Context, employeeID string) (leave.Employee, error) {
	e, ok := s.employees[employeeID]
	if !ok {
		return leave.Employee{}, leave.NotFoundError("employee", employeeID)
	}
	return e, nil
}

func (s *Static) ListByRole(_ context.Context, role leave.ApproverRole) ([]leave.Employee, error) {
	var out []leave.Employee
	for _, e := range s.employees {
		if e.HasRole(role) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
