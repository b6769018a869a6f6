// Package drivers defines the vendor driver contract and the Manager that
// creates, caches and retires one driver per registered storage.
//
// Drivers are looked up by the "manufacturer_model" key of a registration.
// The Manager owns every driver it hands out: callers must not Close them.
package drivers

import (
	"context"

	"git.srvlab.io/whiskey/arraysync/pkg/model"
)

// Driver is bound to one array and translates its native output into
// canonical records. All methods may be called concurrently.
//
// Errors are *utils.StorageError values: utils.ErrTransport when the array
// could not be reached, utils.ErrAuth when it refused the credentials and
// utils.ErrParse when its output lacked something required.
type Driver interface {
	// Login establishes or validates the remote session. It is idempotent.
	Login(ctx context.Context) error

	// GetStorage describes the whole array
	GetStorage(ctx context.Context) (*model.Storage, error)

	ListStoragePools(ctx context.Context, storageID string) ([]model.StoragePool, error)
	ListVolumes(ctx context.Context, storageID string) ([]model.Volume, error)
	ListDisks(ctx context.Context, storageID string) ([]model.Disk, error)
	ListFilesystems(ctx context.Context, storageID string) ([]model.Filesystem, error)

	// ListAlerts returns the array's alerts inside query, or all of them when
	// query is nil
	ListAlerts(ctx context.Context, query *model.AlertQuery) ([]model.Alert, error)

	// ClearAlert removes an alert on the array. Clearing an alert that is
	// already gone succeeds.
	ClearAlert(ctx context.Context, alert *model.Alert) error

	// ParseAlert converts trap varbinds into an alert. Traps the driver does
	// not report yield an alert for which IsEmpty is true and a nil error.
	ParseAlert(ctx context.Context, trap map[string]string) (*model.Alert, error)

	// Close releases the transport
	Close() error
}
