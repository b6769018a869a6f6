// Package fake implements a driver that fabricates a deterministic array from
// its host name. It needs no network and backs the end-to-end tests and demo
// deployments.
package fake

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"

	"k8s.io/utils/clock"

	"git.srvlab.io/whiskey/arraysync/pkg/model"
	"git.srvlab.io/whiskey/arraysync/pkg/utils"
)

const (
	// Vendor and Model form the "fake_storage" driver key
	Vendor = "fake"
	Model  = "storage"

	// TrapNameKey and TrapDescriptionKey are the varbinds ParseAlert reads
	TrapNameKey        = "alert_name"
	TrapDescriptionKey = "description"

	gib = int64(1) << 30
)

// Extra attribute names understood by the fake driver
const (
	ExtraPools       = "pools"
	ExtraVolumes     = "volumes"
	ExtraDisks       = "disks"
	ExtraFilesystems = "filesystems"
	ExtraFail        = "fail"
	ExtraSerial      = "serial"
)

// Config describes a fake array
type Config struct {
	Host string

	// Counts of generated resources
	Pools, Volumes, Disks, Filesystems int

	// Serial overrides the serial number derived from Host
	Serial string

	// Fail lists operations that return a transport error, for example
	// "ListDisks" or "GetStorage"
	Fail []string
}

// ConfigFromExtra reads a Config from registration extra attributes
func ConfigFromExtra(host string, extra map[string]string) (Config, error) {
	cfg := Config{Host: host, Pools: 2, Volumes: 4, Disks: 6, Filesystems: 2, Serial: extra[ExtraSerial]}

	counts := map[string]*int{
		ExtraPools:       &cfg.Pools,
		ExtraVolumes:     &cfg.Volumes,
		ExtraDisks:       &cfg.Disks,
		ExtraFilesystems: &cfg.Filesystems,
	}
	for key, dst := range counts {
		raw, ok := extra[key]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid %s count %q", key, raw)
		}
		*dst = n
	}
	if raw := extra[ExtraFail]; raw != "" {
		cfg.Fail = strings.Split(raw, ",")
	}
	return cfg, nil
}

// Driver is a fabricated array. It is safe for concurrent use.
type Driver struct {
	cfg   Config
	seed  uint64
	clock clock.PassiveClock

	mu      sync.Mutex
	logins  int
	cleared []string
	closed  bool
}

// New creates a fake driver. A nil clock means the real clock.
func New(cfg Config, clk clock.PassiveClock) *Driver {
	if clk == nil {
		clk = clock.RealClock{}
	}
	sum := sha256.Sum256([]byte(cfg.Host))
	if cfg.Serial == "" {
		cfg.Serial = "FAKE-" + strings.ToUpper(hex.EncodeToString(sum[:6]))
	}
	return &Driver{
		cfg:   cfg,
		seed:  binary.BigEndian.Uint64(sum[:8]),
		clock: clk,
	}
}

func (d *Driver) rng(salt uint64) *rand.Rand {
	return rand.New(rand.NewPCG(d.seed, salt))
}

func (d *Driver) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return utils.NewTransportError(op, err)
	}
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return utils.NewTransportError(op, errors.New("driver is closed"))
	}
	for _, f := range d.cfg.Fail {
		if strings.EqualFold(strings.TrimSpace(f), op) {
			return utils.NewTransportError(op, errors.New("injected failure"))
		}
	}
	return nil
}

// Logins returns how often Login was called
func (d *Driver) Logins() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logins
}

// Cleared returns the ids passed to ClearAlert
func (d *Driver) Cleared() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.cleared...)
}

// Login counts the call
func (d *Driver) Login(ctx context.Context) error {
	if err := d.check(ctx, "Login"); err != nil {
		return err
	}
	d.mu.Lock()
	d.logins++
	d.mu.Unlock()
	return nil
}

// GetStorage sums the fabricated pools and disks
func (d *Driver) GetStorage(ctx context.Context) (*model.Storage, error) {
	if err := d.check(ctx, "GetStorage"); err != nil {
		return nil, err
	}

	storage := &model.Storage{
		Name:            "fake_storage_" + d.cfg.Host,
		Vendor:          Vendor,
		Model:           Model,
		Status:          model.StorageStatusNormal,
		SerialNumber:    d.cfg.Serial,
		FirmwareVersion: "1.0.0",
		Location:        "HK",
	}
	for _, pool := range d.pools("") {
		storage.TotalCapacity += pool.TotalCapacity
		storage.UsedCapacity += pool.UsedCapacity
		storage.FreeCapacity += pool.FreeCapacity
	}
	for _, disk := range d.disks("") {
		storage.RawCapacity += disk.Capacity
	}
	return storage, nil
}

// ListStoragePools fabricates cfg.Pools pools
func (d *Driver) ListStoragePools(ctx context.Context, storageID string) ([]model.StoragePool, error) {
	if err := d.check(ctx, "ListStoragePools"); err != nil {
		return nil, err
	}
	return d.pools(storageID), nil
}

func (d *Driver) pools(storageID string) []model.StoragePool {
	r := d.rng(1)
	pools := make([]model.StoragePool, 0, d.cfg.Pools)
	for i := 0; i < d.cfg.Pools; i++ {
		total := int64(r.IntN(900)+100) * gib
		used := total * int64(r.IntN(90)) / 100
		pools = append(pools, model.StoragePool{
			StorageID:           storageID,
			Name:                fmt.Sprintf("fake_pool_%d", i),
			NativeStoragePoolID: fmt.Sprintf("fake_original_id_%d", i),
			Description:         "Fake Pool",
			Status:              model.PoolStatusNormal,
			StorageType:         model.StorageTypeBlock,
			TotalCapacity:       total,
			UsedCapacity:        used,
			FreeCapacity:        total - used,
		})
	}
	return pools
}

// ListVolumes fabricates cfg.Volumes volumes spread over the pools
func (d *Driver) ListVolumes(ctx context.Context, storageID string) ([]model.Volume, error) {
	if err := d.check(ctx, "ListVolumes"); err != nil {
		return nil, err
	}

	r := d.rng(2)
	volumes := make([]model.Volume, 0, d.cfg.Volumes)
	for i := 0; i < d.cfg.Volumes; i++ {
		total := int64(r.IntN(100)+1) * gib
		used := total * int64(r.IntN(100)) / 100
		vol := model.Volume{
			StorageID:      storageID,
			Name:           fmt.Sprintf("fake_vol_%d", i),
			Description:    "Fake Volume",
			NativeVolumeID: fmt.Sprintf("fake_vol_id_%d", i),
			Status:         model.VolumeStatusNormal,
			Type:           model.ProvisioningThin,
			WWN:            fmt.Sprintf("fake_wwn_%d", i),
			TotalCapacity:  total,
			UsedCapacity:   used,
			FreeCapacity:   total - used,
		}
		if d.cfg.Pools > 0 {
			vol.NativeStoragePoolID = fmt.Sprintf("fake_original_id_%d", i%d.cfg.Pools)
		} else {
			vol.PoolUnresolved = true
		}
		volumes = append(volumes, vol)
	}
	return volumes, nil
}

// ListDisks fabricates cfg.Disks disks
func (d *Driver) ListDisks(ctx context.Context, storageID string) ([]model.Disk, error) {
	if err := d.check(ctx, "ListDisks"); err != nil {
		return nil, err
	}
	return d.disks(storageID), nil
}

func (d *Driver) disks(storageID string) []model.Disk {
	r := d.rng(3)
	types := []model.DiskPhysicalType{model.DiskPhysicalSSD, model.DiskPhysicalSAS, model.DiskPhysicalNLSAS}
	disks := make([]model.Disk, 0, d.cfg.Disks)
	for i := 0; i < d.cfg.Disks; i++ {
		physical := types[r.IntN(len(types))]
		firmware := "F" + strconv.Itoa(r.IntN(100))
		speed := int64(15000)
		disks = append(disks, model.Disk{
			StorageID:    storageID,
			Name:         fmt.Sprintf("fake_disk_%d", i),
			NativeDiskID: fmt.Sprintf("fake_disk_id_%d", i),
			SerialNumber: fmt.Sprintf("%s-D%03d", d.cfg.Serial, i),
			Manufacturer: "FAKE",
			Model:        "FD-1000",
			Firmware:     &firmware,
			Speed:        &speed,
			Capacity:     int64(r.IntN(8)+1) * gib,
			Status:       model.DiskStatusNormal,
			PhysicalType: &physical,
			LogicalType:  model.DiskLogicalMember,
		})
	}
	return disks
}

// ListFilesystems fabricates cfg.Filesystems filesystems
func (d *Driver) ListFilesystems(ctx context.Context, storageID string) ([]model.Filesystem, error) {
	if err := d.check(ctx, "ListFilesystems"); err != nil {
		return nil, err
	}

	r := d.rng(4)
	filesystems := make([]model.Filesystem, 0, d.cfg.Filesystems)
	for i := 0; i < d.cfg.Filesystems; i++ {
		total := int64(r.IntN(500)+1) * gib
		used := total * int64(r.IntN(100)) / 100
		fs := model.Filesystem{
			StorageID:          storageID,
			Name:               fmt.Sprintf("fake_fs_%d", i),
			NativeFilesystemID: fmt.Sprintf("fake_fs_id_%d", i),
			Worm:               "non-snaplock",
			Status:             model.FilesystemStatusNormal,
			Type:               model.ProvisioningThick,
			TotalCapacity:      total,
			UsedCapacity:       used,
			FreeCapacity:       total - used,
		}
		if d.cfg.Pools > 0 {
			fs.NativePoolID = fmt.Sprintf("fake_original_id_%d", i%d.cfg.Pools)
		} else {
			fs.PoolUnresolved = true
		}
		filesystems = append(filesystems, fs)
	}
	return filesystems, nil
}

// ListAlerts returns one event and one fault, an hour and a minute old
func (d *Driver) ListAlerts(ctx context.Context, query *model.AlertQuery) ([]model.Alert, error) {
	if err := d.check(ctx, "ListAlerts"); err != nil {
		return nil, err
	}

	now := d.clock.Now().Unix()
	all := []model.Alert{
		{
			AlertID:     "fake_event_1",
			AlertName:   "fake.event",
			Severity:    model.SeverityInformational,
			Category:    model.CategoryEvent,
			Type:        model.TypeEquipmentAlarm,
			OccurTime:   now - 3600,
			Description: "Fake event",
		},
		{
			AlertID:     "fake_fault_1",
			AlertName:   "fake.fault",
			Severity:    model.SeverityMajor,
			Category:    model.CategoryFault,
			Type:        model.TypeEquipmentAlarm,
			OccurTime:   now - 60,
			Description: "Fake fault",
		},
	}

	var alerts []model.Alert
	for _, a := range all {
		if query != nil && !utils.InWindow(a.OccurTime, query.BeginTime, query.EndTime) {
			continue
		}
		a.MatchKey = model.MatchKey(a.AlertID, a.OccurTime)
		a.ResourceType = model.ResourceStorage
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// ClearAlert records the id
func (d *Driver) ClearAlert(ctx context.Context, alert *model.Alert) error {
	if err := d.check(ctx, "ClearAlert"); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleared = append(d.cleared, alert.AlertID)
	return nil
}

// ParseAlert reads the alert_name and description varbinds. A trap without a
// name is malformed.
func (d *Driver) ParseAlert(_ context.Context, trap map[string]string) (*model.Alert, error) {
	name, ok := trap[TrapNameKey]
	if !ok || name == "" {
		return nil, utils.NewParseError("parse alert", TrapNameKey, errors.New("missing alert name"))
	}
	occurTime := d.clock.Now().Unix()
	return &model.Alert{
		AlertID:      name,
		AlertName:    name,
		Severity:     model.SeverityWarning,
		Category:     model.CategoryEvent,
		Type:         model.TypeEquipmentAlarm,
		OccurTime:    occurTime,
		Description:  trap[TrapDescriptionKey],
		MatchKey:     model.MatchKey(name, occurTime),
		ResourceType: model.ResourceStorage,
	}, nil
}

// Close marks the driver closed; later calls fail like a dropped session
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
