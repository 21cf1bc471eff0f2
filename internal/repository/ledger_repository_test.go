package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/ipamd/internal/domain"
	"github.com/jbweber/homelab/ipamd/internal/testutil"
)

type ledgerFixture struct {
	ctx     context.Context
	ledger  LedgerRepository
	subnets SubnetRepository
	servers ServerRepository
	subnet  domain.Subnet
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	db, cleanup := testutil.SetupTestDBWithMigrations(t, t.Name())
	t.Cleanup(cleanup)

	f := &ledgerFixture{
		ctx:     context.Background(),
		ledger:  NewLedgerRepository(db),
		subnets: NewSubnetRepository(db),
		servers: NewServerRepository(db),
	}
	subnet, err := f.subnets.Save(f.ctx, domain.Subnet{
		Name:        "prod",
		Network:     "10.0.1.0/24",
		StaticPools: []string{"10.0.1.10-10.0.1.20"},
	})
	require.NoError(t, err)
	f.subnet = subnet
	return f
}

func (f *ledgerFixture) server(t *testing.T, hostname string) domain.Server {
	t.Helper()
	s, err := f.servers.Save(f.ctx, domain.Server{Hostname: hostname, NICMAC: "aa:aa:aa:aa:aa:01", BMCMAC: "bb:bb:bb:bb:bb:01"})
	require.NoError(t, err)
	return s
}

func TestLedgerRepository_Upsert(t *testing.T) {
	f := newLedgerFixture(t)

	first, err := f.ledger.Upsert(f.ctx, "10.0.1.15", &f.subnet.ID, domain.PoolStatic)
	require.NoError(t, err)
	assert.NotZero(t, first.ID)
	assert.Equal(t, domain.StatusAvailable, first.Status)
	assert.Equal(t, domain.PoolStatic, first.Pool)
	require.NotNil(t, first.SubnetID)
	assert.Equal(t, f.subnet.ID, *first.SubnetID)

	again, err := f.ledger.Upsert(f.ctx, "10.0.1.15", &f.subnet.ID, domain.PoolStatic)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	all, err := f.ledger.FindAll(f.ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestLedgerRepository_Upsert_Unrouted(t *testing.T) {
	f := newLedgerFixture(t)

	first, err := f.ledger.Upsert(f.ctx, "192.168.99.5", nil, domain.PoolUnrouted)
	require.NoError(t, err)
	assert.Nil(t, first.SubnetID)

	again, err := f.ledger.Upsert(f.ctx, "192.168.99.5", nil, domain.PoolUnrouted)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = f.ledger.Upsert(f.ctx, "192.168.99.6", nil, domain.PoolStatic)
	assert.ErrorIs(t, err, ErrInvalidEntity)

	_, err = f.ledger.Upsert(f.ctx, "not-an-ip", nil, domain.PoolUnrouted)
	assert.ErrorIs(t, err, ErrInvalidEntity)
}

func TestLedgerRepository_Upsert_NormalizesAddress(t *testing.T) {
	f := newLedgerFixture(t)

	mapped, err := f.ledger.Upsert(f.ctx, "::ffff:10.0.1.12", &f.subnet.ID, domain.PoolStatic)
	require.NoError(t, err)
	assert.Equal(t, "10.0.1.12", mapped.Address)

	plain, err := f.ledger.Find(f.ctx, " 10.0.1.12 ", &f.subnet.ID)
	require.NoError(t, err)
	assert.Equal(t, mapped.ID, plain.ID)
}

func TestLedgerRepository_SetAssigned(t *testing.T) {
	f := newLedgerFixture(t)
	server := f.server(t, "web-01")

	entry, err := f.ledger.Upsert(f.ctx, "10.0.1.15", &f.subnet.ID, domain.PoolStatic)
	require.NoError(t, err)

	assigned, err := f.ledger.SetAssigned(f.ctx, entry.ID, server, false)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAssigned, assigned.Status)
	require.NotNil(t, assigned.ServerID)
	assert.Equal(t, server.ID, *assigned.ServerID)
	assert.Equal(t, "web-01", assigned.Hostname)
	assert.Equal(t, "aa:aa:aa:aa:aa:01", assigned.MACAddress)
	assert.False(t, assigned.IsBMC)

	bmc, err := f.ledger.SetAssigned(f.ctx, entry.ID, server, true)
	require.NoError(t, err)
	assert.True(t, bmc.IsBMC)
	assert.Equal(t, "bb:bb:bb:bb:bb:01", bmc.MACAddress)

	_, err = f.ledger.SetAssigned(f.ctx, 12345, server, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLedgerRepository_SetAssigned_NeverStealsReserved(t *testing.T) {
	f := newLedgerFixture(t)
	server := f.server(t, "web-01")

	entry, err := f.ledger.Upsert(f.ctx, "10.0.1.16", &f.subnet.ID, domain.PoolStatic)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Claim(f.ctx, entry.ID, "held for migration", "alice"))

	_, err = f.ledger.SetAssigned(f.ctx, entry.ID, server, false)
	assert.ErrorIs(t, err, ErrConflict)

	after, err := f.ledger.FindByID(f.ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReserved, after.Status)
	assert.Equal(t, "held for migration", after.Description)
	assert.Equal(t, "alice", after.ReservedBy)
	assert.Nil(t, after.ServerID)
}

func TestLedgerRepository_ClearAssignment_Static(t *testing.T) {
	f := newLedgerFixture(t)
	server := f.server(t, "web-01")

	entry, err := f.ledger.Upsert(f.ctx, "10.0.1.15", &f.subnet.ID, domain.PoolStatic)
	require.NoError(t, err)
	entry, err = f.ledger.SetAssigned(f.ctx, entry.ID, server, true)
	require.NoError(t, err)

	deleted, err := f.ledger.ClearAssignment(f.ctx, entry)
	require.NoError(t, err)
	assert.False(t, deleted)

	after, err := f.ledger.FindByID(f.ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAvailable, after.Status)
	assert.Nil(t, after.ServerID)
	assert.Empty(t, after.Hostname)
	assert.Empty(t, after.MACAddress)
	assert.False(t, after.IsBMC)
}

func TestLedgerRepository_ClearAssignment_DeletesDHCPAndUnrouted(t *testing.T) {
	f := newLedgerFixture(t)
	server := f.server(t, "web-01")

	dhcp, err := f.ledger.Upsert(f.ctx, "10.0.1.100", &f.subnet.ID, domain.PoolDHCP)
	require.NoError(t, err)
	dhcp, err = f.ledger.SetAssigned(f.ctx, dhcp.ID, server, false)
	require.NoError(t, err)

	unrouted, err := f.ledger.Upsert(f.ctx, "192.168.99.5", nil, domain.PoolUnrouted)
	require.NoError(t, err)

	for _, e := range []domain.LedgerEntry{dhcp, unrouted} {
		deleted, err := f.ledger.ClearAssignment(f.ctx, e)
		require.NoError(t, err)
		assert.True(t, deleted)

		_, err = f.ledger.FindByID(f.ctx, e.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	}
}

func TestLedgerRepository_ClearAssignment_RefusesReserved(t *testing.T) {
	f := newLedgerFixture(t)

	entry, err := f.ledger.Upsert(f.ctx, "10.0.1.11", &f.subnet.ID, domain.PoolStatic)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Claim(f.ctx, entry.ID, "keep", "alice"))
	entry, err = f.ledger.FindByID(f.ctx, entry.ID)
	require.NoError(t, err)

	_, err = f.ledger.ClearAssignment(f.ctx, entry)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestLedgerRepository_ClaimAndRelease(t *testing.T) {
	f := newLedgerFixture(t)

	entry, err := f.ledger.Upsert(f.ctx, "10.0.1.21", &f.subnet.ID, domain.PoolDHCP)
	require.NoError(t, err)

	assert.ErrorIs(t, f.ledger.Claim(f.ctx, entry.ID, "  ", "alice"), ErrInvalidEntity)
	require.NoError(t, f.ledger.Claim(f.ctx, entry.ID, "reserved for migration", "alice"))

	reserved, err := f.ledger.FindByID(f.ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReserved, reserved.Status)
	assert.Equal(t, "reserved for migration", reserved.Description)
	assert.Equal(t, "alice", reserved.ReservedBy)
	assert.NotEmpty(t, reserved.ReservedAt)

	// A second claim loses the compare-and-set
	assert.ErrorIs(t, f.ledger.Claim(f.ctx, entry.ID, "mine now", "bob"), ErrConflict)

	// Release only matches the recorded owner
	assert.ErrorIs(t, f.ledger.Release(f.ctx, entry.ID, "bob"), ErrConflict)
	require.NoError(t, f.ledger.Release(f.ctx, entry.ID, "alice"))

	released, err := f.ledger.FindByID(f.ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAvailable, released.Status)
	assert.Empty(t, released.Description)
	assert.Empty(t, released.ReservedBy)
	assert.Empty(t, released.ReservedAt)

	assert.ErrorIs(t, f.ledger.Release(f.ctx, entry.ID, "alice"), ErrConflict)
	assert.ErrorIs(t, f.ledger.Claim(f.ctx, 98765, "x", "alice"), ErrNotFound)
}

func TestLedgerRepository_Claim_ConcurrentConnections(t *testing.T) {
	db, cleanup := testutil.SetupFileTestDBWithMigrations(t, 8)
	t.Cleanup(cleanup)
	ctx := context.Background()
	ledger := NewLedgerRepository(db)

	subnet, err := NewSubnetRepository(db).Save(ctx, domain.Subnet{Name: "prod", Network: "10.0.1.0/24"})
	require.NoError(t, err)
	entry, err := ledger.Upsert(ctx, "10.0.1.21", &subnet.ID, domain.PoolDHCP)
	require.NoError(t, err)

	const claimants = 8
	errs := make([]error, claimants)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = ledger.Claim(ctx, entry.ID, "race", fmt.Sprintf("user%d", i))
		}(i)
	}
	close(start)
	wg.Wait()

	winner := -1
	for i, err := range errs {
		if err == nil {
			assert.Equal(t, -1, winner, "more than one claim succeeded")
			winner = i
			continue
		}
		assert.ErrorIs(t, err, ErrConflict)
	}
	require.NotEqual(t, -1, winner, "no claim succeeded")

	reserved, err := ledger.FindByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReserved, reserved.Status)
	assert.Equal(t, fmt.Sprintf("user%d", winner), reserved.ReservedBy)
}

func TestLedgerRepository_UpdateDescription(t *testing.T) {
	f := newLedgerFixture(t)

	entry, err := f.ledger.Upsert(f.ctx, "10.0.1.12", &f.subnet.ID, domain.PoolStatic)
	require.NoError(t, err)

	assert.ErrorIs(t, f.ledger.UpdateDescription(f.ctx, entry.ID, "note"), ErrConflict)

	require.NoError(t, f.ledger.Claim(f.ctx, entry.ID, "first", "alice"))
	require.NoError(t, f.ledger.UpdateDescription(f.ctx, entry.ID, "second"))
	assert.ErrorIs(t, f.ledger.UpdateDescription(f.ctx, entry.ID, ""), ErrInvalidEntity)

	after, err := f.ledger.FindByID(f.ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", after.Description)
	assert.Equal(t, "alice", after.ReservedBy)
}

func TestLedgerRepository_Save_Invariants(t *testing.T) {
	f := newLedgerFixture(t)
	server := f.server(t, "web-01")

	_, err := f.ledger.Save(f.ctx, domain.LedgerEntry{
		Address: "10.0.1.13", SubnetID: &f.subnet.ID, Pool: domain.PoolStatic,
		Status: domain.StatusAvailable, ServerID: &server.ID,
	})
	assert.ErrorIs(t, err, ErrInvalidEntity, "available rows cannot have a server")

	_, err = f.ledger.Save(f.ctx, domain.LedgerEntry{
		Address: "10.0.1.13", SubnetID: &f.subnet.ID, Pool: domain.PoolStatic, Status: domain.StatusReserved,
	})
	assert.ErrorIs(t, err, ErrInvalidEntity, "reserved rows need a note and owner")

	saved, err := f.ledger.Save(f.ctx, domain.LedgerEntry{
		Address: "10.0.1.13", SubnetID: &f.subnet.ID, Pool: domain.PoolStatic, Description: "stale",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAvailable, saved.Status)
	assert.Empty(t, saved.Description, "descriptions only live on reserved rows")

	_, err = f.ledger.Save(f.ctx, domain.LedgerEntry{
		Address: "10.0.1.13", SubnetID: &f.subnet.ID, Pool: domain.PoolStatic,
	})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestLedgerRepository_UpdatePlacement(t *testing.T) {
	f := newLedgerFixture(t)

	entry, err := f.ledger.Upsert(f.ctx, "10.0.1.50", nil, domain.PoolUnrouted)
	require.NoError(t, err)

	require.NoError(t, f.ledger.UpdatePlacement(f.ctx, entry.ID, &f.subnet.ID, domain.PoolDHCP))
	moved, err := f.ledger.FindByID(f.ctx, entry.ID)
	require.NoError(t, err)
	require.NotNil(t, moved.SubnetID)
	assert.Equal(t, f.subnet.ID, *moved.SubnetID)
	assert.Equal(t, domain.PoolDHCP, moved.Pool)

	assert.ErrorIs(t, f.ledger.UpdatePlacement(f.ctx, entry.ID, nil, domain.PoolStatic), ErrInvalidEntity)
	assert.ErrorIs(t, f.ledger.UpdatePlacement(f.ctx, 5555, nil, domain.PoolUnrouted), ErrNotFound)
}

func TestLedgerRepository_List_NumericOrderAndFilters(t *testing.T) {
	f := newLedgerFixture(t)
	server := f.server(t, "db-primary")

	for _, addr := range []string{"10.0.1.100", "10.0.1.9", "10.0.1.20", "10.0.1.3"} {
		_, err := f.ledger.Upsert(f.ctx, addr, &f.subnet.ID, domain.PoolDHCP)
		require.NoError(t, err)
	}
	unrouted, err := f.ledger.Upsert(f.ctx, "192.168.99.5", nil, domain.PoolUnrouted)
	require.NoError(t, err)
	_, err = f.ledger.SetAssigned(f.ctx, unrouted.ID, server, false)
	require.NoError(t, err)

	all, err := f.ledger.List(f.ctx, LedgerFilter{})
	require.NoError(t, err)
	var addrs []string
	for _, e := range all {
		addrs = append(addrs, e.Address)
	}
	assert.Equal(t, []string{"10.0.1.3", "10.0.1.9", "10.0.1.20", "10.0.1.100", "192.168.99.5"}, addrs)

	onlySubnet, err := f.ledger.List(f.ctx, LedgerFilter{SubnetID: &f.subnet.ID})
	require.NoError(t, err)
	assert.Len(t, onlySubnet, 4)

	onlyUnrouted, err := f.ledger.FindUnrouted(f.ctx)
	require.NoError(t, err)
	require.Len(t, onlyUnrouted, 1)
	assert.Equal(t, "192.168.99.5", onlyUnrouted[0].Address)

	bySearch, err := f.ledger.List(f.ctx, LedgerFilter{Search: "DB-PRI"})
	require.NoError(t, err)
	require.Len(t, bySearch, 1)
	assert.Equal(t, unrouted.ID, bySearch[0].ID)

	byAddrFragment, err := f.ledger.List(f.ctx, LedgerFilter{Search: "1.2"})
	require.NoError(t, err)
	assert.Len(t, byAddrFragment, 1)

	// LIKE wildcards in the search text are literal
	none, err := f.ledger.List(f.ctx, LedgerFilter{Search: "%"})
	require.NoError(t, err)
	assert.Empty(t, none)

	page, err := f.ledger.List(f.ctx, LedgerFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "10.0.1.9", page[0].Address)

	total, err := f.ledger.Count(f.ctx, LedgerFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
}

func TestLedgerRepository_List_IPv6AfterIPv4(t *testing.T) {
	f := newLedgerFixture(t)

	for _, addr := range []string{"2001:db8::1", "10.0.0.1", "::1", "255.255.255.255"} {
		_, err := f.ledger.Upsert(f.ctx, addr, nil, domain.PoolUnrouted)
		require.NoError(t, err)
	}
	all, err := f.ledger.List(f.ctx, LedgerFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "10.0.0.1", all[0].Address)
	assert.Equal(t, "255.255.255.255", all[1].Address)
	assert.Equal(t, "::1", all[2].Address)
	assert.Equal(t, "2001:db8::1", all[3].Address)
}

func TestLedgerRepository_Counts(t *testing.T) {
	f := newLedgerFixture(t)
	server := f.server(t, "web-01")

	a, err := f.ledger.Upsert(f.ctx, "10.0.1.10", &f.subnet.ID, domain.PoolStatic)
	require.NoError(t, err)
	b, err := f.ledger.Upsert(f.ctx, "10.0.1.11", &f.subnet.ID, domain.PoolStatic)
	require.NoError(t, err)
	_, err = f.ledger.Upsert(f.ctx, "10.0.1.12", &f.subnet.ID, domain.PoolStatic)
	require.NoError(t, err)
	d, err := f.ledger.Upsert(f.ctx, "10.0.1.200", &f.subnet.ID, domain.PoolDHCP)
	require.NoError(t, err)

	_, err = f.ledger.SetAssigned(f.ctx, a.ID, server, false)
	require.NoError(t, err)
	_, err = f.ledger.SetAssigned(f.ctx, d.ID, server, true)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Claim(f.ctx, b.ID, "hold", "alice"))

	counts, err := f.ledger.CountByStatus(f.ctx, LedgerFilter{SubnetID: &f.subnet.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.StatusAvailable])
	assert.Equal(t, int64(2), counts[domain.StatusAssigned])
	assert.Equal(t, int64(1), counts[domain.StatusReserved])

	// One assigned and one reserved static row; the dhcp row does not count
	staticAllocated, err := f.ledger.CountStaticAllocated(f.ctx, f.subnet.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), staticAllocated)

	mine, err := f.ledger.List(f.ctx, LedgerFilter{ReservedBy: "alice"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, b.ID, mine[0].ID)
}

func TestLedgerRepository_DeleteForSubnetAndAll(t *testing.T) {
	f := newLedgerFixture(t)

	_, err := f.ledger.Upsert(f.ctx, "10.0.1.10", &f.subnet.ID, domain.PoolStatic)
	require.NoError(t, err)
	reserved, err := f.ledger.Upsert(f.ctx, "10.0.1.11", &f.subnet.ID, domain.PoolStatic)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Claim(f.ctx, reserved.ID, "hold", "alice"))
	_, err = f.ledger.Upsert(f.ctx, "192.168.99.5", nil, domain.PoolUnrouted)
	require.NoError(t, err)

	n, err := f.ledger.DeleteForSubnet(f.ctx, f.subnet.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "subnet delete is unconditional")

	n, err = f.ledger.DeleteAll(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestLedgerRepository_RunsInsideTransaction(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestLedgerRepository_RunsInsideTransaction")
	defer cleanup()
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = NewLedgerRepository(tx).Upsert(ctx, "192.168.99.5", nil, domain.PoolUnrouted)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	_, err = NewLedgerRepository(db).Find(ctx, "192.168.99.5", nil)
	assert.ErrorIs(t, err, ErrNotFound)

	var _ DBTX = (*sql.Tx)(nil)
}
