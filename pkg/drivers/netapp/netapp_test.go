package netapp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"git.srvlab.io/whiskey/arraysync/pkg/model"
	"git.srvlab.io/whiskey/arraysync/pkg/transport"
	"git.srvlab.io/whiskey/arraysync/pkg/utils"
	"git.srvlab.io/whiskey/arraysync/test/mock"
)

const (
	aggr0UUID = "a71b1e4f-7d4a-4cfc-8c0a-3b0a9fd6a9d1"
	aggr1UUID = "5d1f3a22-8c3e-4f4e-9a57-2b9d1c8e7f60"
	sp1UUID   = "0ad7c6b2-4a1e-4aa4-8ee3-0cbd7d7ad8f1"
	MiB       = int64(1) << 20
)

func newFixtureDriver(t *testing.T) (*Driver, *transport.MockExecutor) {
	t.Helper()
	exec := transport.NewMockExecutor()
	for command, output := range mock.FixtureOutputs {
		exec.SetOutput(command, output)
	}
	return New(exec), exec
}

func TestLogin(t *testing.T) {
	d, exec := newFixtureDriver(t)

	require.NoError(t, d.Login(context.Background()))
	require.NoError(t, d.Login(context.Background()))
	assert.Equal(t, 2, exec.CallCount("version"))

	exec.SetError("version", utils.NewAuthError("version", errors.New("permission denied")))
	err := d.Login(context.Background())
	assert.True(t, utils.IsAuthError(err), "expected auth error, got %v", err)
}

func TestGetStorage_Fixture(t *testing.T) {
	d, _ := newFixtureDriver(t)

	storage, err := d.GetStorage(context.Background())
	require.NoError(t, err)

	assert.Equal(t, mock.FixtureClusterName, storage.Name)
	assert.Equal(t, Vendor, storage.Vendor)
	assert.Equal(t, "SIMBOX", storage.Model)
	assert.Equal(t, mock.FixtureSerialNumber, storage.SerialNumber)
	assert.Equal(t, "NetApp Release 9.8", storage.FirmwareVersion)
	assert.Equal(t, "rack-12", storage.Location)
	assert.Equal(t, model.StorageStatusNormal, storage.Status)

	assert.Equal(t, mock.FixturePoolTotal, storage.TotalCapacity)
	assert.Equal(t, mock.FixturePoolUsed, storage.UsedCapacity)
	assert.Equal(t, mock.FixturePoolFree, storage.FreeCapacity)
	assert.Equal(t, mock.FixtureRawCapacity, storage.RawCapacity)
	assert.LessOrEqual(t, storage.UsedCapacity+storage.FreeCapacity, storage.TotalCapacity)
}

func TestGetStorage_TotalsAreSumsOfResources(t *testing.T) {
	d, _ := newFixtureDriver(t)
	ctx := context.Background()

	storage, err := d.GetStorage(ctx)
	require.NoError(t, err)
	pools, err := d.ListStoragePools(ctx, "s1")
	require.NoError(t, err)
	disks, err := d.ListDisks(ctx, "s1")
	require.NoError(t, err)

	var total, raw int64
	for _, p := range pools {
		total += p.TotalCapacity
	}
	for _, disk := range disks {
		raw += disk.Capacity
	}
	assert.Equal(t, total, storage.TotalCapacity)
	assert.Equal(t, raw, storage.RawCapacity)
}

func TestGetStorage_Errors(t *testing.T) {
	tests := []struct {
		name      string
		command   string
		output    string
		err       error
		wantField string
		check     func(error) bool
	}{
		{
			name:      "missing serial number",
			command:   "cluster identity show",
			output:    "\r\n  Cluster Name: cl\r\n",
			wantField: "ClusterSerialNumber",
			check:     utils.IsParseError,
		},
		{
			name:      "missing node model",
			command:   "system node show -instance",
			output:    "\r\n  Node: cl-01\r\n  Location: x\r\n",
			wantField: "Model",
			check:     utils.IsParseError,
		},
		{
			name:      "empty health status",
			command:   "system health status show",
			output:    "Status\r\n",
			wantField: "Status",
			check:     utils.IsParseError,
		},
		{
			name:    "transport failure",
			command: "storage disk show -instance",
			err:     utils.NewTransportError("storage disk show", errors.New("connection reset")),
			check:   utils.IsTransportError,
		},
		{
			name:    "unclassified failure",
			command: "version",
			err:     errors.New("eof"),
			check:   utils.IsTransportError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, exec := newFixtureDriver(t)
			if tt.err != nil {
				exec.SetError(tt.command, tt.err)
			} else {
				exec.SetOutput(tt.command, tt.output)
			}

			_, err := d.GetStorage(context.Background())
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error kind: %v", err)
			if tt.wantField != "" {
				var se *utils.StorageError
				require.True(t, errors.As(err, &se))
				assert.Equal(t, tt.wantField, se.Field)
			}
		})
	}
}

func TestParseHealthStatus(t *testing.T) {
	tests := []struct {
		status string
		want   model.StorageStatus
	}{
		{"ok", model.StorageStatusNormal},
		{"ok-with-suppressed", model.StorageStatusNormal},
		{"degraded", model.StorageStatusAbnormal},
		{"unreachable", model.StorageStatusOffline},
		{"something-new", model.StorageStatusAbnormal},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			got, err := parseHealthStatus("Status\r\n----------\r\n" + tt.status + "\r\n")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListStoragePools_AggregatesThenPools(t *testing.T) {
	d, _ := newFixtureDriver(t)

	pools, err := d.ListStoragePools(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, pools, mock.FixturePoolCount)

	assert.Equal(t, model.StoragePool{
		StorageID:           "s1",
		Name:                "aggr0",
		NativeStoragePoolID: aggr0UUID,
		Status:              model.PoolStatusNormal,
		StorageType:         model.StorageTypeUnified,
		TotalCapacity:       10 * mock.GiB,
		UsedCapacity:        8 * mock.GiB,
		FreeCapacity:        2 * mock.GiB,
	}, pools[0])
	assert.Equal(t, "aggr1", pools[1].Name)
	assert.Equal(t, 1024*mock.GiB, pools[1].TotalCapacity)

	sp := pools[2]
	assert.Equal(t, "sp1", sp.Name)
	assert.Equal(t, sp1UUID, sp.NativeStoragePoolID)
	assert.Equal(t, model.PoolStatusNormal, sp.Status)
	assert.Equal(t, 100*mock.GiB, sp.TotalCapacity)
	assert.Equal(t, 40*mock.GiB, sp.UsedCapacity)
	assert.Equal(t, 60*mock.GiB, sp.FreeCapacity)
}

func TestListStoragePools_Status(t *testing.T) {
	d, exec := newFixtureDriver(t)
	exec.SetOutput("storage aggregate show -instance",
		"\r\n  Aggregate: a\r\n  UUID String: u1\r\n  Size: 1GB\r\n  Used Size: 0B\r\n  Available Size: 1GB\r\n  State: offline\r\n"+
			"\r\n  Aggregate: b\r\n  UUID String: u2\r\n  Size: 1GB\r\n  Used Size: 0B\r\n  Available Size: 1GB\r\n  State: relocating\r\n")
	exec.SetOutput("storage pool show -instance",
		"\r\n  Storage Pool Name: p\r\n  UUID of Storage Pool: u3\r\n  Is Pool Healthy?: false\r\n  Storage Pool Total Size: 1GB\r\n  Storage Pool Usable Size: 1GB\r\n")

	pools, err := d.ListStoragePools(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, pools, 3)
	assert.Equal(t, model.PoolStatusOffline, pools[0].Status)
	assert.Equal(t, model.PoolStatusAbnormal, pools[1].Status)
	assert.Equal(t, model.PoolStatusAbnormal, pools[2].Status)
}

func TestListStoragePools_MissingKey(t *testing.T) {
	d, exec := newFixtureDriver(t)
	exec.SetOutput("storage aggregate show -instance", "\r\n  Aggregate: a\r\n  Size: 1GB\r\n")

	_, err := d.ListStoragePools(context.Background(), "s1")
	require.Error(t, err)
	assert.True(t, utils.IsParseError(err))

	var se *utils.StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "UUIDString", se.Field)
}

func TestListVolumes_PoolLinkage(t *testing.T) {
	d, _ := newFixtureDriver(t)

	volumes, err := d.ListVolumes(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, volumes, 2)

	lun1 := volumes[0]
	assert.Equal(t, "lun1", lun1.Name)
	assert.Equal(t, "0c1a8f7e-2b8d-4d3c-9e65-6a3b1f0c2d11", lun1.NativeVolumeID)
	assert.Equal(t, aggr1UUID, lun1.NativeStoragePoolID)
	assert.False(t, lun1.PoolUnresolved)
	assert.Equal(t, model.ProvisioningThin, lun1.Type)
	assert.Equal(t, model.VolumeStatusNormal, lun1.Status)
	assert.Equal(t, 5*mock.GiB, lun1.TotalCapacity)
	assert.Equal(t, 1*mock.GiB, lun1.UsedCapacity)
	assert.Equal(t, 4*mock.GiB, lun1.FreeCapacity)

	lun2 := volumes[1]
	assert.Equal(t, "", lun2.NativeStoragePoolID)
	assert.True(t, lun2.PoolUnresolved, "LUN on unknown volume must be flagged")
	assert.Equal(t, model.ProvisioningThick, lun2.Type)
	assert.Equal(t, model.VolumeStatusOffline, lun2.Status)
	assert.Equal(t, 2*mock.GiB-512*MiB, lun2.FreeCapacity)
}

func TestListDisks_PhysicalJoin(t *testing.T) {
	d, _ := newFixtureDriver(t)

	disks, err := d.ListDisks(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, disks, 3)

	first := disks[0]
	assert.Equal(t, "NET-1.1", first.Name)
	assert.Equal(t, "NET-1.1", first.NativeDiskID)
	assert.Equal(t, "07294300", first.SerialNumber)
	assert.Equal(t, "NETAPP", first.Manufacturer)
	assert.Equal(t, model.DiskStatusNormal, first.Status)
	assert.Equal(t, model.DiskLogicalMember, first.LogicalType)
	assert.Equal(t, "aggr0", first.NativeDiskGroupID)
	require.NotNil(t, first.PhysicalType)
	assert.Equal(t, model.DiskPhysicalFC, *first.PhysicalType)
	require.NotNil(t, first.Firmware)
	assert.Equal(t, "0042", *first.Firmware)
	require.NotNil(t, first.Speed)
	assert.Equal(t, int64(15000), *first.Speed)

	second := disks[1]
	assert.Equal(t, model.DiskStatusAbnormal, second.Status)
	assert.Equal(t, model.DiskLogicalSpare, second.LogicalType)
	assert.Equal(t, "", second.NativeDiskGroupID)
	require.NotNil(t, second.PhysicalType)
	assert.Equal(t, model.DiskPhysicalSSD, *second.PhysicalType)
	assert.Nil(t, second.Speed, "RPM \"-\" means no speed")

	third := disks[2]
	assert.Equal(t, model.DiskLogicalFailed, third.LogicalType)
	assert.Equal(t, model.DiskStatusNormal, third.Status, "no Errors key means normal")
	assert.Nil(t, third.PhysicalType)
	assert.Nil(t, third.Firmware)
	assert.Nil(t, third.Speed)
	assert.Equal(t, 2*mock.GiB, third.Capacity)
}

func TestListFilesystems_Joins(t *testing.T) {
	d, _ := newFixtureDriver(t)

	filesystems, err := d.ListFilesystems(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, filesystems, 3)

	vol1 := filesystems[0]
	assert.Equal(t, "vol1", vol1.Name)
	assert.Equal(t, "vol1", vol1.NativeFilesystemID)
	assert.Equal(t, aggr1UUID, vol1.NativePoolID)
	assert.Equal(t, model.ProvisioningThin, vol1.Type)
	assert.False(t, vol1.Deduplicated)
	assert.False(t, vol1.Compressed)
	assert.Equal(t, "non-snaplock", vol1.Worm)
	assert.Equal(t, model.FilesystemStatusNormal, vol1.Status)
	assert.Equal(t, 15*mock.GiB, vol1.FreeCapacity)

	vol2 := filesystems[1]
	assert.Equal(t, aggr0UUID, vol2.NativePoolID)
	assert.Equal(t, model.ProvisioningThick, vol2.Type)
	assert.True(t, vol2.Deduplicated)
	assert.True(t, vol2.Compressed)
	assert.Equal(t, model.FilesystemStatusFaulty, vol2.Status)

	vol0 := filesystems[2]
	assert.Equal(t, "", vol0.NativePoolID)
	assert.True(t, vol0.PoolUnresolved)
}

func TestListAlerts_MergesSources(t *testing.T) {
	d, _ := newFixtureDriver(t)

	alerts, err := d.ListAlerts(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, alerts, 3)

	first := alerts[0]
	assert.Equal(t, "2077", first.AlertID)
	assert.Equal(t, "mgmtgwd.rootvol.recovery.changed", first.AlertName)
	assert.Equal(t, model.SeverityCritical, first.Severity)
	assert.Equal(t, model.CategoryEvent, first.Category)
	assert.Equal(t, mock.FixtureEvent1Time, first.OccurTime)
	assert.Equal(t, "apache", first.Location)
	assert.Equal(t, model.MatchKey("2077", mock.FixtureEvent1Time), first.MatchKey)

	assert.Equal(t, model.SeverityWarning, alerts[1].Severity)
	assert.Equal(t, mock.FixtureEvent2Time, alerts[1].OccurTime)

	last := alerts[2]
	assert.Equal(t, "DualPathToDiskShelf_Alert", last.AlertID)
	assert.Equal(t, "Connection_establishment_error", last.AlertName)
	assert.Equal(t, model.SeverityMajor, last.Severity)
	assert.Equal(t, model.CategoryFault, last.Category)
	assert.Equal(t, mock.FixtureAlertTime, last.OccurTime)
	assert.Equal(t, "Shelf ID 2", last.Location)
	assert.Equal(t, model.ResourceStorage, last.ResourceType)
}

func TestListAlerts_Window(t *testing.T) {
	tests := []struct {
		name  string
		query *model.AlertQuery
		want  []string
	}{
		{
			name:  "inclusive bounds",
			query: &model.AlertQuery{BeginTime: mock.FixtureAlertTime, EndTime: mock.FixtureEvent2Time},
			want:  []string{"2081", "DualPathToDiskShelf_Alert"},
		},
		{
			name:  "open end",
			query: &model.AlertQuery{BeginTime: mock.FixtureEvent2Time},
			want:  []string{"2081"},
		},
		{
			name:  "open begin",
			query: &model.AlertQuery{EndTime: mock.FixtureEvent1Time},
			want:  []string{"2077"},
		},
		{
			name:  "empty window",
			query: &model.AlertQuery{BeginTime: 1, EndTime: 2},
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newFixtureDriver(t)
			alerts, err := d.ListAlerts(context.Background(), tt.query)
			require.NoError(t, err)

			var ids []string
			for _, a := range alerts {
				ids = append(ids, a.AlertID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestListAlerts_UnknownPerceivedSeverity(t *testing.T) {
	d, exec := newFixtureDriver(t)
	exec.SetOutput("system health alert show -instance",
		"\r\n  Node: cl-01\r\n  Alert ID: X\r\n  Indication Time: Mon Mar 08 10:20:30 2021\r\n  Perceived Severity: Apocalyptic\r\n")

	_, err := d.ListAlerts(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, utils.IsParseError(err))
}

func TestMatchKey_Timestamps(t *testing.T) {
	assert.Equal(t, model.MatchKey("2077", 100), model.MatchKey("2077", 100))
	assert.NotEqual(t, model.MatchKey("2077", 100), model.MatchKey("2077", 101))
	assert.Len(t, model.MatchKey("2077", 100), 32)
}

func TestParseAlert(t *testing.T) {
	now := time.Unix(mock.FixtureAlertTime, 0)
	d := New(transport.NewMockExecutor(), WithClock(testingclock.NewFakePassiveClock(now)))
	ctx := context.Background()

	trap := map[string]string{OIDTrapData: mock.FixtureTrapData}
	first, err := d.ParseAlert(ctx, trap)
	require.NoError(t, err)
	second, err := d.ParseAlert(ctx, trap)
	require.NoError(t, err)
	assert.Equal(t, first, second, "parsing is idempotent under a fixed clock")

	assert.Equal(t, "raid.vol.failed", first.AlertName)
	assert.Equal(t, "Volume vol2 failed: too many disks missing", first.Description)
	assert.Equal(t, model.SeverityCritical, first.Severity)
	assert.Equal(t, model.CategoryEvent, first.Category)
	assert.Equal(t, mock.FixtureAlertTime, first.OccurTime)
	assert.Equal(t, model.MatchKey(mock.FixtureTrapData, mock.FixtureAlertTime), first.MatchKey)
}

func TestParseAlert_Sentinels(t *testing.T) {
	tests := []struct {
		name      string
		trap      map[string]string
		wantEmpty bool
		wantErr   bool
	}{
		{name: "unknown alert name", trap: map[string]string{OIDTrapData: "some.other.event:whatever"}, wantEmpty: true},
		{name: "missing trap data", trap: map[string]string{"1.3.6.1.2.1.1.3.0": "123"}, wantErr: true},
		{name: "no delimiter", trap: map[string]string{OIDTrapData: "raid.vol.failed"}, wantErr: true},
	}

	d := New(transport.NewMockExecutor())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alert, err := d.ParseAlert(context.Background(), tt.trap)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, utils.IsParseError(err))
				assert.Nil(t, alert)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantEmpty, alert.IsEmpty())
		})
	}
}

func TestClearAlert(t *testing.T) {
	ctx := context.Background()

	t.Run("deleted", func(t *testing.T) {
		d, exec := newFixtureDriver(t)
		exec.SetOutput("system health alert delete -alert-id A1", "")
		require.NoError(t, d.ClearAlert(ctx, &model.Alert{AlertID: "A1"}))
		assert.Equal(t, 1, exec.CallCount("system health alert delete -alert-id A1"))
	})

	t.Run("already cleared", func(t *testing.T) {
		d, exec := newFixtureDriver(t)
		exec.SetError("system health alert delete -alert-id A2", &transport.CommandError{
			Command:    "system health alert delete -alert-id A2",
			ExitStatus: 1,
			Output:     "Error: entry doesn't exist",
		})
		assert.NoError(t, d.ClearAlert(ctx, &model.Alert{AlertID: "A2"}))
	})

	t.Run("no matching entries", func(t *testing.T) {
		d, exec := newFixtureDriver(t)
		exec.SetError("system health alert delete -alert-id A5", &transport.CommandError{
			Command:    "system health alert delete -alert-id A5",
			ExitStatus: 1,
			Output:     "There are no entries matching your query.",
		})
		assert.NoError(t, d.ClearAlert(ctx, &model.Alert{AlertID: "A5"}))
	})

	t.Run("no matching entries on success", func(t *testing.T) {
		d, exec := newFixtureDriver(t)
		exec.SetOutput("system health alert delete -alert-id A6", "There are no entries matching your query.\n")
		assert.NoError(t, d.ClearAlert(ctx, &model.Alert{AlertID: "A6"}))
	})

	t.Run("other failure", func(t *testing.T) {
		d, exec := newFixtureDriver(t)
		exec.SetError("system health alert delete -alert-id A3", &transport.CommandError{
			Command:    "system health alert delete -alert-id A3",
			ExitStatus: 1,
			Output:     "Error: not authorized",
		})
		assert.Error(t, d.ClearAlert(ctx, &model.Alert{AlertID: "A3"}))
	})

	t.Run("unsafe id", func(t *testing.T) {
		d, exec := newFixtureDriver(t)
		err := d.ClearAlert(ctx, &model.Alert{AlertID: "A4; system node halt"})
		assert.True(t, utils.IsParseError(err))
		assert.Empty(t, exec.Calls())
	})
}

func TestClose(t *testing.T) {
	d, exec := newFixtureDriver(t)
	require.NoError(t, d.Close())
	assert.True(t, exec.Closed())
}

func TestDriver_OverSSH(t *testing.T) {
	server, err := mock.NewMockONTAPServer(0, "admin", "netapp1!")
	require.NoError(t, err)
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })

	pool, err := transport.NewSessionPool(transport.Config{
		Host:           server.Address(),
		Port:           server.Port(),
		Username:       "admin",
		Password:       "netapp1!",
		CommandTimeout: 5 * time.Second,
	}, transport.PoolConfig{})
	require.NoError(t, err)

	d := New(pool)
	defer d.Close()

	ctx := context.Background()
	require.NoError(t, d.Login(ctx))

	storage, err := d.GetStorage(ctx)
	require.NoError(t, err)
	assert.Equal(t, mock.FixtureSerialNumber, storage.SerialNumber)
	assert.Equal(t, mock.FixturePoolTotal, storage.TotalCapacity)
	assert.Equal(t, mock.FixtureRawCapacity, storage.RawCapacity)

	require.NoError(t, d.ClearAlert(ctx, &model.Alert{AlertID: "DualPathToDiskShelf_Alert"}))
	require.NoError(t, d.ClearAlert(ctx, &model.Alert{AlertID: "AlreadyGone"}))
}
