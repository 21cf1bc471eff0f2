package ipam

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/ipamd/internal/datastore"
	"github.com/jbweber/homelab/ipamd/internal/domain"
	"github.com/jbweber/homelab/ipamd/internal/repository"
	"github.com/jbweber/homelab/ipamd/internal/testutil"
)

var (
	admin = Actor{Name: "root", Privileged: true}
	alice = Actor{Name: "alice"}
	bob   = Actor{Name: "bob"}
)

func newTestService(t *testing.T) (*Service, *datastore.Datastore) {
	t.Helper()
	db, cleanup := testutil.SetupTestDBWithMigrations(t, t.Name())
	t.Cleanup(cleanup)
	ds := datastore.New(db)
	return NewService(ds, nil), ds
}

// createProd creates the 10.0.1.0/24 subnet with static pool .10-.20 and gateway .1
func createProd(t *testing.T, svc *Service) domain.Subnet {
	t.Helper()
	subnet, report, err := svc.SaveSubnet(context.Background(), domain.Subnet{
		Name:        "prod",
		Network:     "10.0.1.0/24",
		Gateway:     "10.0.1.1",
		StaticPools: []string{"10.0.1.10-10.0.1.20"},
	}, admin)
	require.NoError(t, err)
	require.Empty(t, report.Warnings)
	return subnet
}

func mustEntry(t *testing.T, ds *datastore.Datastore, address string, subnetID *int64) domain.LedgerEntry {
	t.Helper()
	e, err := ds.Ledger.Find(context.Background(), address, subnetID)
	require.NoError(t, err, "ledger row for %s", address)
	return e
}

type rowState struct {
	Address  string
	SubnetID int64
	Pool     domain.PoolType
	Status   domain.Status
	ServerID int64
	IsBMC    bool
	Hostname string
}

func ledgerState(t *testing.T, ds *datastore.Datastore) []rowState {
	t.Helper()
	entries, err := ds.Ledger.FindAll(context.Background())
	require.NoError(t, err)
	state := make([]rowState, 0, len(entries))
	for _, e := range entries {
		s := rowState{Address: e.Address, Pool: e.Pool, Status: e.Status, IsBMC: e.IsBMC, Hostname: e.Hostname}
		if e.SubnetID != nil {
			s.SubnetID = *e.SubnetID
		}
		if e.ServerID != nil {
			s.ServerID = *e.ServerID
		}
		state = append(state, s)
	}
	return state
}

func TestSubnetSaved_PopulatesStaticPool(t *testing.T) {
	svc, ds := newTestService(t)
	ctx := context.Background()

	subnet := createProd(t, svc)
	assert.Equal(t, []string{"10.0.1.2-10.0.1.9", "10.0.1.21-10.0.1.254"}, subnet.DHCPRanges)

	rows, err := ds.Ledger.FindBySubnet(ctx, subnet.ID)
	require.NoError(t, err)
	require.Len(t, rows, 11)
	assert.Equal(t, "10.0.1.10", rows[0].Address)
	assert.Equal(t, "10.0.1.20", rows[10].Address)
	for _, row := range rows {
		assert.Equal(t, domain.PoolStatic, row.Pool)
		assert.Equal(t, domain.StatusAvailable, row.Status)
	}

	view, err := svc.Subnet(ctx, subnet.ID)
	require.NoError(t, err)
	require.NotNil(t, view.Summary)
	assert.Equal(t, uint64(254), view.Summary.Usable)
	assert.Equal(t, uint64(11), view.Summary.StaticTotal)
	assert.Equal(t, uint64(0), view.Summary.StaticAllocated)
	assert.Equal(t, []string{"10.0.1.2-10.0.1.9", "10.0.1.21-10.0.1.254"}, view.Summary.DHCPRanges)
}

func TestServerSaved_StaticAddressLifecycle(t *testing.T) {
	svc, ds := newTestService(t)
	ctx := context.Background()
	subnet := createProd(t, svc)

	server, report, err := svc.SaveServer(ctx, domain.Server{Hostname: "web01", IPAddress: "10.0.1.15", NICMAC: "AA:BB:CC:00:11:22"}, admin)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Assigned)

	e := mustEntry(t, ds, "10.0.1.15", &subnet.ID)
	assert.Equal(t, domain.PoolStatic, e.Pool)
	assert.Equal(t, domain.StatusAssigned, e.Status)
	require.NotNil(t, e.ServerID)
	assert.Equal(t, server.ID, *e.ServerID)
	assert.Equal(t, "web01", e.Hostname)
	assert.Equal(t, "aa:bb:cc:00:11:22", e.MACAddress)
	assert.False(t, e.IsBMC)

	view, err := svc.Subnet(ctx, subnet.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), view.Summary.StaticAllocated)

	report, err = svc.DeleteServer(ctx, server.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Released)

	e = mustEntry(t, ds, "10.0.1.15", &subnet.ID)
	assert.Equal(t, domain.StatusAvailable, e.Status)
	assert.Nil(t, e.ServerID)
	assert.Empty(t, e.Hostname)
	assert.Empty(t, e.MACAddress)
}

func TestServerSaved_UnroutedAddress(t *testing.T) {
	svc, ds := newTestService(t)
	ctx := context.Background()
	createProd(t, svc)

	server, _, err := svc.SaveServer(ctx, domain.Server{Hostname: "edge01", IPAddress: "192.168.99.5"}, admin)
	require.NoError(t, err)

	e := mustEntry(t, ds, "192.168.99.5", nil)
	assert.Nil(t, e.SubnetID)
	assert.Equal(t, domain.PoolUnrouted, e.Pool)
	assert.Equal(t, domain.StatusAssigned, e.Status)
	assert.Equal(t, server.ID, *e.ServerID)

	_, err = svc.DeleteServer(ctx, server.ID, admin)
	require.NoError(t, err)
	_, err = ds.Ledger.Find(ctx, "192.168.99.5", nil)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestServerSaved_DHCPAndBMCRows(t *testing.T) {
	svc, ds := newTestService(t)
	ctx := context.Background()
	subnet := createProd(t, svc)

	server, report, err := svc.SaveServer(ctx, domain.Server{
		Hostname: "db01", IPAddress: "10.0.1.50", BMCIP: "10.0.1.12", BMCMAC: "de:ad:be:ef:00:01",
	}, admin)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Assigned)

	primary := mustEntry(t, ds, "10.0.1.50", &subnet.ID)
	assert.Equal(t, domain.PoolDHCP, primary.Pool)
	assert.False(t, primary.IsBMC)

	bmc := mustEntry(t, ds, "10.0.1.12", &subnet.ID)
	assert.Equal(t, domain.PoolStatic, bmc.Pool)
	assert.True(t, bmc.IsBMC)
	assert.Equal(t, "de:ad:be:ef:00:01", bmc.MACAddress)

	_, err = svc.DeleteServer(ctx, server.ID, admin)
	require.NoError(t, err)

	_, err = ds.Ledger.Find(ctx, "10.0.1.50", &subnet.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound, "dhcp rows are deleted with their server")
	bmc = mustEntry(t, ds, "10.0.1.12", &subnet.ID)
	assert.Equal(t, domain.StatusAvailable, bmc.Status)
	assert.False(t, bmc.IsBMC)
}

func TestServerSaved_Idempotent(t *testing.T) {
	svc, ds := newTestService(t)
	ctx := context.Background()
	createProd(t, svc)

	server, _, err := svc.SaveServer(ctx, domain.Server{Hostname: "web01", IPAddress: "10.0.1.15", BMCIP: "10.0.1.77"}, admin)
	require.NoError(t, err)
	once := ledgerState(t, ds)

	report, err := svc.Engine().ServerSaved(ctx, ServerChange{Before: &server, After: server})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Assigned)
	assert.Equal(t, 0, report.Released)
	assert.Equal(t, once, ledgerState(t, ds))

	_, report, err = svc.SaveServer(ctx, server, admin)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Assigned)
	assert.Equal(t, once, ledgerState(t, ds))
}

func TestServerSaved_AddressChangeReleasesPrevious(t *testing.T) {
	svc, ds := newTestService(t)
	ctx := context.Background()
	subnet := createProd(t, svc)

	server, _, err := svc.SaveServer(ctx, domain.Server{Hostname: "web01", IPAddress: "10.0.1.15", BMCIP: "10.0.1.60"}, admin)
	require.NoError(t, err)

	server.IPAddress = "10.0.1.16"
	server.BMCIP = ""
	_, report, err := svc.SaveServer(ctx, server, admin)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Released)
	assert.Equal(t, 1, report.Assigned)

	old := mustEntry(t, ds, "10.0.1.15", &subnet.ID)
	assert.Equal(t, domain.StatusAvailable, old.Status)
	current := mustEntry(t, ds, "10.0.1.16", &subnet.ID)
	assert.Equal(t, domain.StatusAssigned, current.Status)
	_, err = ds.Ledger.Find(ctx, "10.0.1.60", &subnet.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestServerSaved_SwapPrimaryAndBMC(t *testing.T) {
	svc, ds := newTestService(t)
	ctx := context.Background()
	subnet := createProd(t, svc)

	server, _, err := svc.SaveServer(ctx, domain.Server{Hostname: "web01", IPAddress: "10.0.1.15", BMCIP: "10.0.1.16"}, admin)
	require.NoError(t, err)

	server.IPAddress, server.BMCIP = server.BMCIP, server.IPAddress
	_, _, err = svc.SaveServer(ctx, server, admin)
	require.NoError(t, err)

	primary := mustEntry(t, ds, "10.0.1.16", &subnet.ID)
	assert.Equal(t, domain.StatusAssigned, primary.Status)
	assert.False(t, primary.IsBMC)
	bmc := mustEntry(t, ds, "10.0.1.15", &subnet.ID)
	assert.Equal(t, domain.StatusAssigned, bmc.Status)
	assert.True(t, bmc.IsBMC)
}

func TestServerSaved_NeverStealsReservation(t *testing.T) {
	svc, ds := newTestService(t)
	ctx := context.Background()
	subnet := createProd(t, svc)

	e := mustEntry(t, ds, "10.0.1.12", &subnet.ID)
	res, err := svc.Reserve(ctx, []int64{e.ID}, "held for migration", alice)
	require.NoError(t, err)
	require.Len(t, res.Succeeded, 1)

	server, report, err := svc.SaveServer(ctx, domain.Server{Hostname: "web01", IPAddress: "10.0.1.12"}, admin)
	require.NoError(t, err, "the server itself is still saved")
	assert.NotZero(t, server.ID)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "reserved by alice")

	e = mustEntry(t, ds, "10.0.1.12", &subnet.ID)
	assert.Equal(t, domain.StatusReserved, e.Status)
	assert.Nil(t, e.ServerID)
	assert.Equal(t, "held for migration", e.Description)
}

func TestServerSaved_ConcurrentSavesLastWriteWins(t *testing.T) {
	svc, ds := newTestService(t)
	ctx := context.Background()
	subnet := createProd(t, svc)

	ids := make(chan int64, 2)
	var wg sync.WaitGroup
	for _, host := range []string{"a01", "b01"} {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			s, _, err := svc.SaveServer(ctx, domain.Server{Hostname: host, IPAddress: "10.0.1.15"}, admin)
			assert.NoError(t, err)
			ids <- s.ID
		}(host)
	}
	wg.Wait()
	close(ids)

	var saved []int64
	for id := range ids {
		saved = append(saved, id)
	}

	rows, err := ds.Ledger.FindByAddress(ctx, "10.0.1.15")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, subnet.ID, *rows[0].SubnetID)
	assert.Equal(t, domain.StatusAssigned, rows[0].Status)
	require.NotNil(t, rows[0].ServerID)
	assert.Contains(t, saved, *rows[0].ServerID)
}

func TestSubnetSaved_ShrinkKeepsAssignedRows(t *testing.T) {
	svc, ds := newTestService(t)
	ctx := context.Background()
	subnet := createProd(t, svc)

	_, _, err := svc.SaveServer(ctx, domain.Server{Hostname: "web01", IPAddress: "10.0.1.20"}, admin)
	require.NoError(t, err)

	subnet.StaticPools = []string{"10.0.1.10-10.0.1.15"}
	updated, report, err := svc.SaveSubnet(ctx, subnet, admin)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Removed)
	assert.Equal(t, 0, report.Created)
	assert.Equal(t, []string{"10.0.1.2-10.0.1.9", "10.0.1.16-10.0.1.254"}, updated.DHCPRanges)

	rows, err := ds.Ledger.FindBySubnet(ctx, subnet.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 7)

	kept := mustEntry(t, ds, "10.0.1.20", &subnet.ID)
	assert.Equal(t, domain.StatusAssigned, kept.Status)
	assert.Equal(t, domain.PoolStatic, kept.Pool)
}

// narrowProd saves h1 on 10.0.1.200 and then cuts prod down to 10.0.1.0/25,
// leaving the assigned row outside its subnet's network
func narrowProd(t *testing.T, svc *Service, ds *datastore.Datastore) (domain.Subnet, domain.Server) {
	t.Helper()
	ctx := context.Background()
	subnet := createProd(t, svc)

	server, _, err := svc.SaveServer(ctx, domain.Server{Hostname: "h1", IPAddress: "10.0.1.200"}, admin)
	require.NoError(t, err)

	subnet.Network = "10.0.1.0/25"
	subnet, report, err := svc.SaveSubnet(ctx, subnet, admin)
	require.NoError(t, err)
	require.NotEmpty(t, report.Warnings)

	kept := mustEntry(t, ds, "10.0.1.200", &subnet.ID)
	require.Equal(t, domain.StatusAssigned, kept.Status)
	return subnet, server
}

func assertSingleUnroutedAssignment(t *testing.T, ds *datastore.Datastore, server domain.Server) {
	t.Helper()
	ctx := context.Background()
	rows, err := ds.Ledger.FindByAddress(ctx, "10.0.1.200")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].SubnetID)
	assert.Equal(t, domain.PoolUnrouted, rows[0].Pool)
	assert.Equal(t, domain.StatusAssigned, rows[0].Status)
	require.NotNil(t, rows[0].ServerID)
	assert.Equal(t, server.ID, *rows[0].ServerID)

	assigned, err := ds.Ledger.Count(ctx, repository.LedgerFilter{Status: domain.StatusAssigned})
	require.NoError(t, err)
	assert.Equal(t, int64(1), assigned)
}

func TestSubnetSaved_NarrowedNetworkThenServerSave(t *testing.T) {
	svc, ds := newTestService(t)
	_, server := narrowProd(t, svc, ds)

	_, report, err := svc.SaveServer(context.Background(), server, admin)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Assigned)
	assert.Equal(t, 1, report.Removed)
	assertSingleUnroutedAssignment(t, ds, server)
}

func TestSubnetSaved_NarrowedNetworkThenReconcileAll(t *testing.T) {
	svc, ds := newTestService(t)
	_, server := narrowProd(t, svc, ds)

	report, err := svc.ReconcileAll(context.Background(), false, admin)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, 1, report.Assigned)
	assertSingleUnroutedAssignment(t, ds, server)

	again, err := svc.ReconcileAll(context.Background(), false, admin)
	require.NoError(t, err)
	assert.Zero(t, again.Removed)
	assert.Zero(t, again.Assigned)
	assertSingleUnroutedAssignment(t, ds, server)
}

func TestSubnetSaved_GrowReclassifiesDHCPRows(t *testing.T) {
	svc, ds := newTestService(t)
	ctx := context.Background()
	subnet := createProd(t, svc)

	_, _, err := svc.SaveServer(ctx, domain.Server{Hostname: "web01", IPAddress: "10.0.1.25"}, admin)
	require.NoError(t, err)
	assert.Equal(t, domain.PoolDHCP, mustEntry(t, ds, "10.0.1.25", &subnet.ID).Pool)

	subnet.StaticPools = []string{"10.0.1.10-10.0.1.30"}
	_, report, err := svc.SaveSubnet(ctx, subnet, admin)
	require.NoError(t, err)
	assert.Equal(t, 9, report.Created)
	assert.Equal(t, 1, report.Reclassified)

	e := mustEntry(t, ds, "10.0.1.25", &subnet.ID)
	assert.Equal(t, domain.PoolStatic, e.Pool)
	assert.Equal(t, domain.StatusAssigned, e.Status)
}

func TestSubnetSaved_UnchangedPoolSkipsReconcile(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	subnet := createProd(t, svc)

	subnet.Description = "production"
	_, report, err := svc.SaveSubnet(ctx, subnet, admin)
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
}

func TestSubnetSaved_RehomesUnroutedRows(t *testing.T) {
	svc, ds := newTestService(t)
	ctx := context.Background()

	server, _, err := svc.SaveServer(ctx, domain.Server{Hostname: "lab01", IPAddress: "192.168.5.10"}, admin)
	require.NoError(t, err)

	lab, report, err := svc.SaveSubnet(ctx, domain.Subnet{
		Name: "lab", Network: "192.168.5.0/24", StaticPools: []string{"192.168.5.10-192.168.5.12"},
	}, admin)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rehomed)
	assert.Equal(t, 2, report.Created)

	e := mustEntry(t, ds, "192.168.5.10", &lab.ID)
	assert.Equal(t, domain.PoolStatic, e.Pool)
	assert.Equal(t, domain.StatusAssigned, e.Status)
	assert.Equal(t, server.ID, *e.ServerID)

	unrouted, err := ds.Ledger.FindUnrouted(ctx)
	require.NoError(t, err)
	assert.Empty(t, unrouted)
}

func TestSubnetDeleted_RemovesRows(t *testing.T) {
	svc, ds := newTestService(t)
	ctx := context.Background()
	subnet := createProd(t, svc)

	_, _, err := svc.SaveServer(ctx, domain.Server{Hostname: "web01", IPAddress: "10.0.1.15"}, admin)
	require.NoError(t, err)

	_, err = svc.DeleteSubnet(ctx, subnet.ID, admin)
	require.NoError(t, err)

	count, err := ds.Ledger.Count(ctx, repository.LedgerFilter{})
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = svc.DeleteSubnet(ctx, subnet.ID, admin)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestServerSaved_MalformedSubnetIsWarning(t *testing.T) {
	svc, ds := newTestService(t)
	ctx := context.Background()
	createProd(t, svc)

	// written around the service so the bad network reaches storage
	_, err := ds.Subnets.Save(ctx, domain.Subnet{Name: "broken", Network: "not-a-cidr"})
	require.NoError(t, err)

	_, report, err := svc.SaveServer(ctx, domain.Server{Hostname: "web01", IPAddress: "10.0.1.15"}, admin)
	require.NoError(t, err)
	require.NotEmpty(t, report.Warnings)
	assert.True(t, strings.Contains(report.Warnings[0], "broken"))
	assert.Equal(t, 1, report.Assigned)
}

func TestReconcileAll(t *testing.T) {
	svc, ds := newTestService(t)
	ctx := context.Background()
	subnet := createProd(t, svc)

	web, _, err := svc.SaveServer(ctx, domain.Server{Hostname: "web01", IPAddress: "10.0.1.15", BMCIP: "10.0.1.100"}, admin)
	require.NoError(t, err)
	_, _, err = svc.SaveServer(ctx, domain.Server{Hostname: "edge01", IPAddress: "172.16.0.9"}, admin)
	require.NoError(t, err)
	want := ledgerState(t, ds)

	t.Run("rebuilds an emptied ledger", func(t *testing.T) {
		_, err := ds.Ledger.DeleteAll(ctx)
		require.NoError(t, err)

		report, err := svc.ReconcileAll(ctx, false, admin)
		require.NoError(t, err)
		assert.Equal(t, 11, report.Created)
		assert.Equal(t, 3, report.Assigned)
		assert.Equal(t, want, ledgerState(t, ds))
	})

	t.Run("is idempotent", func(t *testing.T) {
		report, err := svc.ReconcileAll(ctx, false, admin)
		require.NoError(t, err)
		assert.Zero(t, report.Created)
		assert.Zero(t, report.Assigned)
		assert.Zero(t, report.Released)
		assert.Equal(t, want, ledgerState(t, ds))
	})

	t.Run("releases stale assignments", func(t *testing.T) {
		stale := mustEntry(t, ds, "10.0.1.11", &subnet.ID)
		_, err := ds.Ledger.SetAssigned(ctx, stale.ID, web, false)
		require.NoError(t, err)

		report, err := svc.ReconcileAll(ctx, false, admin)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Released)
		assert.Equal(t, domain.StatusAvailable, mustEntry(t, ds, "10.0.1.11", &subnet.ID).Status)
		assert.Equal(t, want, ledgerState(t, ds))
	})

	t.Run("clear drops reservations", func(t *testing.T) {
		e := mustEntry(t, ds, "10.0.1.13", &subnet.ID)
		_, err := svc.Reserve(ctx, []int64{e.ID}, "temp", alice)
		require.NoError(t, err)

		_, err = svc.ReconcileAll(ctx, true, admin)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusAvailable, mustEntry(t, ds, "10.0.1.13", &subnet.ID).Status)
		assert.Equal(t, want, ledgerState(t, ds))
	})
}
