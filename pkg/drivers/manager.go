package drivers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"git.srvlab.io/whiskey/arraysync/pkg/db"
	"git.srvlab.io/whiskey/arraysync/pkg/lock"
	"git.srvlab.io/whiskey/arraysync/pkg/model"
	"git.srvlab.io/whiskey/arraysync/pkg/observability"
	"git.srvlab.io/whiskey/arraysync/pkg/security"
	"git.srvlab.io/whiskey/arraysync/pkg/transport"
	"git.srvlab.io/whiskey/arraysync/pkg/utils"
)

// ErrInvalidRegistration is returned for registration requests that fail validation
var ErrInvalidRegistration = errors.New("invalid registration")

// Manager maps storage ids to live drivers. It builds a driver on first use
// from the persisted Storage and AccessInfo and keeps it until RemoveDriver.
type Manager struct {
	store     *db.Store
	cryptor   *security.Cryptor
	factories map[string]Factory
	metrics   *observability.Metrics
	clock     clock.PassiveClock

	pool               transport.PoolConfig
	commandTimeout     time.Duration
	insecureSkipVerify bool

	// buildLocks serializes construction per storage id, and registration
	// per serial number
	buildLocks *lock.KeyedMutex

	mu      sync.RWMutex
	drivers map[string]Driver
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithFactories replaces the driver class registry
func WithFactories(factories map[string]Factory) ManagerOption {
	return func(m *Manager) { m.factories = factories }
}

// WithMetrics enables driver and remote command metrics
func WithMetrics(metrics *observability.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithClock sets the clock handed to drivers and used for timestamps
func WithClock(c clock.PassiveClock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// WithTransport tunes the session pools of CLI drivers
func WithTransport(pool transport.PoolConfig, commandTimeout time.Duration, insecureSkipVerify bool) ManagerOption {
	return func(m *Manager) {
		m.pool = pool
		m.commandTimeout = commandTimeout
		m.insecureSkipVerify = insecureSkipVerify
	}
}

// NewManager creates a Manager over store. cryptor encodes passwords before
// they are persisted and decodes them when a driver is rebuilt.
func NewManager(store *db.Store, cryptor *security.Cryptor, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:      store,
		cryptor:    cryptor,
		factories:  DefaultFactories(),
		clock:      clock.RealClock{},
		buildLocks: lock.NewKeyedMutex(),
		drivers:    make(map[string]Driver),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.metrics != nil {
		metrics := m.metrics
		m.metrics.SetDriverCache(func() int { return len(m.CachedIDs()) })
		if m.pool.Observer == nil {
			m.pool.Observer = metrics.RecordCommand
		}
		if m.pool.Breakers == nil {
			m.pool.Breakers = transport.NewHostBreakers(transport.WithStateChange(
				func(_ string, _, to gobreaker.State) {
					metrics.RecordBreakerTransition(to.String())
				}))
		}
	}
	if m.pool.Breakers == nil {
		m.pool.Breakers = transport.NewHostBreakers()
	}
	return m
}

func address(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// build constructs a driver for access and logs it in
func (m *Manager) build(ctx context.Context, access model.AccessInfo) (Driver, error) {
	key := model.DriverKey(access.Manufacturer, access.Model)
	factory, ok := m.factories[key]
	if !ok {
		return nil, utils.NewUnsupportedDeviceError(key)
	}

	driver, err := factory(Options{
		Access:             access,
		Pool:               m.pool,
		CommandTimeout:     m.commandTimeout,
		InsecureSkipVerify: m.insecureSkipVerify,
		Clock:              m.clock,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s driver: %w", key, err)
	}

	if err := driver.Login(ctx); err != nil {
		_ = driver.Close()
		return nil, err
	}
	return driver, nil
}

func (m *Manager) recordBuild(err error) {
	if m.metrics != nil {
		m.metrics.RecordDriverBuild(err)
	}
}

// RegisterStorage connects to a new array, persists it and caches its driver.
// An array whose serial number is already registered is rejected with
// utils.ErrStorageExists.
func (m *Manager) RegisterStorage(ctx context.Context, info model.RegistrationInfo) (*model.Storage, error) {
	start := m.clock.Now()
	addr := address(info.Host, info.Port)
	logger := security.GetLogger()
	logger.LogStorageRegister("", "", addr, security.OutcomeUnknown, nil, 0)

	if err := utils.ValidateRegistration(info.Manufacturer, info.Model, info.Host, info.Port, info.Username, info.Password); err != nil {
		logger.LogValidationFailure("registration", info.DriverKey(), err.Error())
		return nil, fmt.Errorf("%w: %v", ErrInvalidRegistration, err)
	}

	access := model.AccessInfo{
		Manufacturer: info.Manufacturer,
		Model:        info.Model,
		Host:         info.Host,
		Port:         info.Port,
		Username:     info.Username,
		Password:     info.Password,
		Extra:        info.Extra,
	}

	driver, err := m.build(ctx, access)
	m.recordBuild(err)
	if err != nil {
		logger.LogStorageRegister("", "", addr, security.OutcomeFailure, err, m.clock.Since(start))
		return nil, err
	}

	storage, err := m.persist(ctx, driver, access)
	if err != nil {
		_ = driver.Close()
		serial := ""
		if storage != nil {
			serial = storage.SerialNumber
		}
		logger.LogStorageRegister("", serial, addr, security.OutcomeFailure, err, m.clock.Since(start))
		return nil, err
	}

	m.mu.Lock()
	m.drivers[storage.ID] = driver
	m.mu.Unlock()

	logger.LogStorageRegister(storage.ID, storage.SerialNumber, addr, security.OutcomeSuccess, nil, m.clock.Since(start))
	klog.Infof("Registered storage %s (%s %s, serial %s, %s total)", storage.ID, storage.Vendor, storage.Model,
		storage.SerialNumber, utils.FormatBytes(storage.TotalCapacity))
	return storage, nil
}

// persist describes the array and stores it with its encoded access info
func (m *Manager) persist(ctx context.Context, driver Driver, access model.AccessInfo) (*model.Storage, error) {
	storage, err := driver.GetStorage(ctx)
	if err != nil {
		return nil, err
	}

	// Registration of the same array from two requests must not race between
	// the uniqueness check and the insert
	serialKey := "serial/" + storage.SerialNumber
	m.buildLocks.Lock(serialKey)
	defer m.buildLocks.Unlock(serialKey)

	existing, err := m.store.Storages.GetAll(ctx, db.Query{Filters: map[string]any{"serial_number": storage.SerialNumber}})
	if err != nil {
		return storage, fmt.Errorf("failed to check serial number: %w", err)
	}
	if len(existing) > 0 {
		return storage, fmt.Errorf("%w: serial number %s is storage %s", utils.ErrStorageExists, storage.SerialNumber, existing[0].ID)
	}

	encoded, err := m.cryptor.Encode(access.Password)
	if err != nil {
		return storage, err
	}

	now := m.clock.Now().UTC()
	storage.ID = uuid.NewString()
	storage.SyncStatus = model.SyncStatusSynced
	storage.CreatedAt = now
	storage.UpdatedAt = now

	created, err := m.store.Storages.Create(ctx, *storage)
	if err != nil {
		return storage, fmt.Errorf("failed to save storage: %w", err)
	}

	access.StorageID = created.ID
	access.Password = encoded
	if _, err := m.store.AccessInfos.Create(ctx, access); err != nil {
		if delErr := m.store.Storages.Delete(ctx, created.ID); delErr != nil {
			klog.Errorf("Failed to roll back storage %s: %v", created.ID, delErr)
		}
		return storage, fmt.Errorf("failed to save access info: %w", err)
	}

	return &created, nil
}

// GetDriver returns the cached driver of storageID, building it from the
// persisted registration on first use. A rebuilt driver must reach the array
// with the registered serial number. Concurrent first calls build one driver.
func (m *Manager) GetDriver(ctx context.Context, storageID string) (Driver, error) {
	if d, ok := m.cached(storageID); ok {
		return d, nil
	}

	m.buildLocks.Lock(storageID)
	defer m.buildLocks.Unlock(storageID)

	if d, ok := m.cached(storageID); ok {
		return d, nil
	}

	driver, err := m.rebuild(ctx, storageID)
	m.recordBuild(err)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.drivers[storageID] = driver
	m.mu.Unlock()
	return driver, nil
}

func (m *Manager) cached(storageID string) (Driver, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[storageID]
	return d, ok
}

func (m *Manager) rebuild(ctx context.Context, storageID string) (Driver, error) {
	storage, err := m.store.Storages.Get(ctx, storageID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", utils.ErrStorageNotFound, storageID)
		}
		return nil, err
	}
	access, err := m.store.AccessInfoFor(ctx, storageID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: no access info for %s", utils.ErrStorageNotFound, storageID)
		}
		return nil, err
	}

	logger := security.GetLogger()
	addr := address(access.Host, access.Port)
	logger.LogDriverRebuild(storageID, addr, security.OutcomeUnknown, nil)

	access.Password, err = m.cryptor.Decode(access.Password)
	if err != nil {
		logger.LogDriverRebuild(storageID, addr, security.OutcomeFailure, err)
		return nil, err
	}

	driver, err := m.build(ctx, access)
	if err != nil {
		logger.LogDriverRebuild(storageID, addr, security.OutcomeFailure, err)
		return nil, err
	}

	current, err := driver.GetStorage(ctx)
	if err != nil {
		_ = driver.Close()
		logger.LogDriverRebuild(storageID, addr, security.OutcomeFailure, err)
		return nil, err
	}
	if current.SerialNumber != storage.SerialNumber {
		_ = driver.Close()
		logger.LogSerialNumberMismatch(storageID, storage.SerialNumber, current.SerialNumber)
		return nil, fmt.Errorf("%w: storage %s expected %s, array reports %s",
			utils.ErrSerialMismatch, storageID, storage.SerialNumber, current.SerialNumber)
	}

	logger.LogDriverRebuild(storageID, addr, security.OutcomeSuccess, nil)
	klog.V(2).Infof("Built driver for storage %s", storageID)
	return driver, nil
}

// RemoveDriver evicts and closes the driver of storageID. It is a no-op when
// nothing is cached.
func (m *Manager) RemoveDriver(storageID string) {
	m.buildLocks.Lock(storageID)
	defer m.buildLocks.Unlock(storageID)

	m.mu.Lock()
	driver, ok := m.drivers[storageID]
	delete(m.drivers, storageID)
	m.mu.Unlock()

	if !ok {
		return
	}
	if err := driver.Close(); err != nil {
		klog.Warningf("Failed to close driver for storage %s: %v", storageID, err)
	}
	klog.V(2).Infof("Removed driver for storage %s", storageID)
}

// CachedIDs returns the storage ids with a cached driver, sorted
func (m *Manager) CachedIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.drivers))
	for id := range m.drivers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ParseAlert parses a trap with the driver of storageID
func (m *Manager) ParseAlert(ctx context.Context, storageID string, trap map[string]string) (*model.Alert, error) {
	driver, err := m.GetDriver(ctx, storageID)
	if err != nil {
		return nil, err
	}
	alert, err := driver.ParseAlert(ctx, trap)
	if err != nil {
		return nil, err
	}
	if !alert.IsEmpty() {
		alert.StorageID = storageID
	}
	return alert, nil
}

// SetAlertSource records where traps of storageID come from. The community
// string is encoded before it is persisted. An existing source is replaced.
func (m *Manager) SetAlertSource(ctx context.Context, source model.AlertSource) (model.AlertSource, error) {
	if _, err := m.store.Storages.Get(ctx, source.StorageID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return model.AlertSource{}, fmt.Errorf("%w: %s", utils.ErrStorageNotFound, source.StorageID)
		}
		return model.AlertSource{}, err
	}
	if net.ParseIP(source.Host) == nil {
		return model.AlertSource{}, fmt.Errorf("%w: alert source host %q is not an IP address", ErrInvalidRegistration, source.Host)
	}

	encoded, err := m.cryptor.Encode(source.Community)
	if err != nil {
		return model.AlertSource{}, err
	}
	source.Community = encoded
	source.ID = ""

	if _, err := m.store.AlertSources.DeleteWhere(ctx, map[string]any{"storage_id": source.StorageID}); err != nil {
		return model.AlertSource{}, err
	}
	return m.store.AlertSources.Create(ctx, source)
}

// Close closes every cached driver
func (m *Manager) Close() {
	for _, id := range m.CachedIDs() {
		m.RemoveDriver(id)
	}
}
