package drivers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.srvlab.io/whiskey/arraysync/pkg/db"
	"git.srvlab.io/whiskey/arraysync/pkg/drivers/fake"
	"git.srvlab.io/whiskey/arraysync/pkg/model"
	"git.srvlab.io/whiskey/arraysync/pkg/observability"
	"git.srvlab.io/whiskey/arraysync/pkg/security"
	"git.srvlab.io/whiskey/arraysync/pkg/utils"
)

// countingFactories records every fake driver built and the total build count
type countingFactories struct {
	mu     sync.Mutex
	built  []*fake.Driver
	builds atomic.Int32
}

func (c *countingFactories) factories() map[string]Factory {
	return map[string]Factory{
		model.DriverKey(fake.Vendor, fake.Model): func(opts Options) (Driver, error) {
			cfg, err := fake.ConfigFromExtra(opts.Access.Host, opts.Access.Extra)
			if err != nil {
				return nil, err
			}
			d := fake.New(cfg, opts.Clock)
			c.builds.Add(1)
			c.mu.Lock()
			c.built = append(c.built, d)
			c.mu.Unlock()
			return d, nil
		},
	}
}

func (c *countingFactories) logins() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, d := range c.built {
		total += d.Logins()
	}
	return total
}

func newTestStore(t *testing.T) *db.Store {
	t.Helper()
	store, err := db.OpenStore(db.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestCryptor(t *testing.T) *security.Cryptor {
	t.Helper()
	c, err := security.NewCryptor([]byte("test-key"))
	require.NoError(t, err)
	return c
}

func fakeRegistration(host string) model.RegistrationInfo {
	return model.RegistrationInfo{
		Manufacturer: fake.Vendor,
		Model:        fake.Model,
		Host:         host,
		Port:         22,
		Username:     "admin",
		Password:     "secret",
	}
}

func TestManager_RegisterStorage(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	cryptor := newTestCryptor(t)
	counter := &countingFactories{}
	m := NewManager(store, cryptor, WithFactories(counter.factories()))
	defer m.Close()

	audit := security.GetLogger().GetMetrics()
	requests := audit.Count(security.EventStorageRegisterRequest)

	storage, err := m.RegisterStorage(ctx, fakeRegistration("array-a"))
	require.NoError(t, err)
	assert.NotEmpty(t, storage.ID)
	assert.Equal(t, model.SyncStatusSynced, storage.SyncStatus)
	assert.Equal(t, requests+1, audit.Count(security.EventStorageRegisterRequest))
	assert.Equal(t, []string{storage.ID}, m.CachedIDs())

	persisted, err := store.Storages.Get(ctx, storage.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.SerialNumber, persisted.SerialNumber)

	access, err := store.AccessInfoFor(ctx, storage.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "secret", access.Password, "password must be stored encoded")
	plain, err := cryptor.Decode(access.Password)
	require.NoError(t, err)
	assert.Equal(t, "secret", plain)

	// Cached driver is handed out without another build
	_, err = m.GetDriver(ctx, storage.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), counter.builds.Load())
}

func TestManager_RegisterStorageErrors(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	m := NewManager(store, newTestCryptor(t))
	defer m.Close()

	t.Run("duplicate serial", func(t *testing.T) {
		_, err := m.RegisterStorage(ctx, fakeRegistration("array-dup"))
		require.NoError(t, err)
		_, err = m.RegisterStorage(ctx, fakeRegistration("array-dup"))
		assert.ErrorIs(t, err, utils.ErrStorageExists)

		all, err := store.Storages.GetAll(ctx, db.Query{})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("unsupported driver", func(t *testing.T) {
		info := fakeRegistration("array-x")
		info.Manufacturer = "acme"
		_, err := m.RegisterStorage(ctx, info)
		assert.True(t, utils.IsUnsupportedDeviceError(err))
	})

	t.Run("invalid registration", func(t *testing.T) {
		info := fakeRegistration("array-y")
		info.Password = ""
		_, err := m.RegisterStorage(ctx, info)
		assert.ErrorIs(t, err, ErrInvalidRegistration)
	})

	t.Run("login failure persists nothing", func(t *testing.T) {
		info := fakeRegistration("array-z")
		info.Extra = map[string]string{fake.ExtraFail: "Login"}
		_, err := m.RegisterStorage(ctx, info)
		assert.True(t, utils.IsTransportError(err))

		all, err := store.Storages.GetAll(ctx, db.Query{})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}

func TestManager_ConcurrentFirstGetDriver(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	cryptor := newTestCryptor(t)

	registrar := NewManager(store, cryptor)
	storage, err := registrar.RegisterStorage(ctx, fakeRegistration("array-a"))
	require.NoError(t, err)
	registrar.Close()

	counter := &countingFactories{}
	m := NewManager(store, cryptor, WithFactories(counter.factories()))
	defer m.Close()

	var wg sync.WaitGroup
	results := make([]Driver, 16)
	errs := make([]error, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.GetDriver(ctx, storage.ID)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, int32(1), counter.builds.Load())
	assert.Equal(t, 1, counter.logins())
}

func TestManager_RemoveThenGetRelogsOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	counter := &countingFactories{}
	m := NewManager(store, newTestCryptor(t), WithFactories(counter.factories()))
	defer m.Close()

	storage, err := m.RegisterStorage(ctx, fakeRegistration("array-a"))
	require.NoError(t, err)
	require.Equal(t, 1, counter.logins())

	m.RemoveDriver(storage.ID)
	assert.Empty(t, m.CachedIDs())
	// Removing twice is a no-op
	m.RemoveDriver(storage.ID)

	audit := security.GetLogger().GetMetrics()
	requests := audit.Count(security.EventDriverRebuildRequest)
	for i := 0; i < 3; i++ {
		_, err := m.GetDriver(ctx, storage.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, counter.logins())
	assert.Equal(t, requests+1, audit.Count(security.EventDriverRebuildRequest), "one rebuild is requested")
	assert.Equal(t, int32(2), counter.builds.Load())
}

func TestManager_GetDriverErrors(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	cryptor := newTestCryptor(t)
	m := NewManager(store, cryptor)
	defer m.Close()

	_, err := m.GetDriver(ctx, "missing")
	assert.ErrorIs(t, err, utils.ErrStorageNotFound)

	storage, err := m.RegisterStorage(ctx, fakeRegistration("array-a"))
	require.NoError(t, err)
	m.RemoveDriver(storage.ID)

	_, err = store.Storages.Update(ctx, storage.ID, map[string]any{"serial_number": "SOMETHING-ELSE"})
	require.NoError(t, err)

	_, err = m.GetDriver(ctx, storage.ID)
	assert.ErrorIs(t, err, utils.ErrSerialMismatch)
	assert.Empty(t, m.CachedIDs())
}

func TestManager_ParseAlert(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newTestStore(t), newTestCryptor(t))
	defer m.Close()

	storage, err := m.RegisterStorage(ctx, fakeRegistration("array-a"))
	require.NoError(t, err)

	alert, err := m.ParseAlert(ctx, storage.ID, map[string]string{
		fake.TrapNameKey:        "disk.failed",
		fake.TrapDescriptionKey: "disk 3 failed",
	})
	require.NoError(t, err)
	assert.Equal(t, storage.ID, alert.StorageID)

	_, err = m.ParseAlert(ctx, storage.ID, map[string]string{})
	assert.True(t, utils.IsParseError(err))
}

func TestManager_SetAlertSource(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	cryptor := newTestCryptor(t)
	m := NewManager(store, cryptor)
	defer m.Close()

	storage, err := m.RegisterStorage(ctx, fakeRegistration("array-a"))
	require.NoError(t, err)

	_, err = m.SetAlertSource(ctx, model.AlertSource{StorageID: storage.ID, Host: "10.0.0.9", Version: "2c", Community: "public"})
	require.NoError(t, err)
	_, err = m.SetAlertSource(ctx, model.AlertSource{StorageID: storage.ID, Host: "10.0.0.10", Version: "2c", Community: "public"})
	require.NoError(t, err)

	sources, err := store.AlertSources.GetAll(ctx, db.Query{Filters: map[string]any{"storage_id": storage.ID}})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "10.0.0.10", sources[0].Host)
	community, err := cryptor.Decode(sources[0].Community)
	require.NoError(t, err)
	assert.Equal(t, "public", community)

	_, err = m.SetAlertSource(ctx, model.AlertSource{StorageID: "missing", Host: "10.0.0.11"})
	assert.ErrorIs(t, err, utils.ErrStorageNotFound)

	_, err = m.SetAlertSource(ctx, model.AlertSource{StorageID: storage.ID, Host: "not-an-ip"})
	assert.True(t, errors.Is(err, ErrInvalidRegistration))
}

func TestManager_Metrics(t *testing.T) {
	ctx := context.Background()
	metrics := observability.NewMetrics()
	m := NewManager(newTestStore(t), newTestCryptor(t), WithMetrics(metrics))
	defer m.Close()

	_, err := m.RegisterStorage(ctx, fakeRegistration("array-a"))
	require.NoError(t, err)

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	assert.True(t, found["arraysync_driver_builds_total"])
	assert.True(t, found["arraysync_drivers_cached"])
}
