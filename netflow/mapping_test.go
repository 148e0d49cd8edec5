package netflow

import (
	"context"
	"testing"

	pnet "github.com/jinmuyano/procnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMappingLookupBothOrders(t *testing.T) {
	src := &fakeConns{conns: []pnet.Connection{{LocalPort: 5000, RemotePort: 80, PID: 100}}}
	m := NewMapping()
	require.NoError(t, m.Refresh(context.Background(), src))

	pid, ok := m.Lookup(5000, 80)
	assert.True(t, ok)
	assert.Equal(t, int32(100), pid)

	rpid, rok := m.Lookup(80, 5000)
	assert.Equal(t, ok, rok)
	assert.Equal(t, pid, rpid)
	assert.Equal(t, 2, m.Len())
}

func TestMappingSkipsIncompleteRecords(t *testing.T) {
	src := &fakeConns{conns: []pnet.Connection{
		{LocalPort: 22, RemotePort: 0, PID: 1},
		{LocalPort: 5001, RemotePort: 443, PID: 0},
		{LocalPort: 0, RemotePort: 443, PID: 7},
	}}
	m := NewMapping()
	require.NoError(t, m.Refresh(context.Background(), src))

	assert.Equal(t, 0, m.Len())
	_, ok := m.Lookup(5001, 443)
	assert.False(t, ok)
}

func TestMappingRefreshIdempotent(t *testing.T) {
	src := &fakeConns{conns: []pnet.Connection{
		{LocalPort: 5000, RemotePort: 80, PID: 100},
		{LocalPort: 5002, RemotePort: 443, PID: 200},
	}}
	m := NewMapping()
	require.NoError(t, m.Refresh(context.Background(), src))
	first := snapshotOf(m)

	require.NoError(t, m.Refresh(context.Background(), src))
	assert.Equal(t, first, snapshotOf(m))
}

func TestMappingLastRefreshWins(t *testing.T) {
	src := &fakeConns{conns: []pnet.Connection{{LocalPort: 5000, RemotePort: 80, PID: 100}}}
	m := NewMapping()
	require.NoError(t, m.Refresh(context.Background(), src))

	src.set([]pnet.Connection{{LocalPort: 5000, RemotePort: 80, PID: 300}}, nil)
	require.NoError(t, m.Refresh(context.Background(), src))

	pid, _ := m.Lookup(80, 5000)
	assert.Equal(t, int32(300), pid)
}

func TestMappingFailedRefreshKeepsTable(t *testing.T) {
	src := &fakeConns{conns: []pnet.Connection{{LocalPort: 5000, RemotePort: 80, PID: 100}}}
	m := NewMapping()
	require.NoError(t, m.Refresh(context.Background(), src))
	before := snapshotOf(m)
	rev := m.Revision()

	src.set(nil, errRace)
	assert.ErrorIs(t, m.Refresh(context.Background(), src), errRace)
	assert.Equal(t, before, snapshotOf(m))
	assert.Equal(t, rev, m.Revision())
}

func TestMappingSweep(t *testing.T) {
	src := &fakeConns{conns: []pnet.Connection{
		{LocalPort: 5000, RemotePort: 80, PID: 100},
		{LocalPort: 5002, RemotePort: 443, PID: 200},
	}}
	m := NewMapping()
	ctx := context.Background()
	require.NoError(t, m.Refresh(ctx, src))

	// connection of pid 200 closed
	src.set([]pnet.Connection{{LocalPort: 5000, RemotePort: 80, PID: 100}}, nil)
	require.NoError(t, m.Refresh(ctx, src))
	assert.Equal(t, 0, m.Sweep(2))
	assert.Equal(t, 0, m.Sweep(0))

	require.NoError(t, m.Refresh(ctx, src))
	assert.Equal(t, 2, m.Sweep(2))

	_, ok := m.Lookup(443, 5002)
	assert.False(t, ok)
	_, ok = m.Lookup(5000, 80)
	assert.True(t, ok)
}
