package directory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-portal/leave"
)

const sample = `
employees:
  - id: emp-1
    name: Ama Mensah
    email: ama@example.gov
  - id: hr-1
    name: Kofi Boateng
    email: kofi@example.gov
    roles: [hr]
  - id: hr-2
    name: Efua Asante
    email: efua@example.gov
    roles: [hr, hq]
placements:
  - employee_id: emp-1
    unit: Registry
    manager_id: mgr-1
    department: Administration
    hr_approver_id: hr-1
`

func TestParse(t *testing.T) {
	d, err := Parse([]byte(sample))
	require.NoError(t, err)
	ctx := context.Background()

	org, err := d.GetOrgInfo(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "Registry", org.Unit)
	assert.Equal(t, "mgr-1", org.ManagerID)

	_, err = d.GetOrgInfo(ctx, "hr-1")
	assert.ErrorIs(t, err, leave.ErrOrgInfoNotFound)

	hr, err := d.ListByRole(ctx, leave.RoleHR)
	require.NoError(t, err)
	require.Len(t, hr, 2)
	assert.Equal(t, "hr-1", hr[0].ID)

	_, err = d.GetEmployee(ctx, "nobody")
	assert.ErrorIs(t, err, leave.ErrNotFound)
}

type countingDirectory struct {
	leave.OrgDirectory
	calls atomic.Int32
}

func (c *countingDirectory) GetOrgInfo(ctx context.Context, id string) (leave.OrgInfo, error) {
	c.calls.Add(1)
	time.Sleep(10 * time.Millisecond)
	return c.OrgDirectory.GetOrgInfo(ctx, id)
}

func TestCached_CollapsesConcurrentLookups(t *testing.T) {
	static, err := Parse([]byte(sample))
	require.NoError(t, err)
	upstream := &countingDirectory{OrgDirectory: static}
	cached := NewCached(upstream, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cached.GetOrgInfo(context.Background(), "emp-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, upstream.calls.Load(), int32(2))

	// Served from cache afterwards.
	before := upstream.calls.Load()
	_, err = cached.GetOrgInfo(context.Background(), "emp-1")
	require.NoError(t, err)
	assert.Equal(t, before, upstream.calls.Load())

	cached.Invalidate("emp-1")
	_, err = cached.GetOrgInfo(context.Background(), "emp-1")
	require.NoError(t, err)
	assert.Equal(t, before+1, upstream.calls.Load())
}
