// Package task implements the resource sync tasks run by the scheduler. A task
// is bound to one storage and one resource kind: Sync refreshes the persisted
// records of that kind from the array, Remove deletes them.
package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"git.srvlab.io/whiskey/arraysync/pkg/alert"
	"git.srvlab.io/whiskey/arraysync/pkg/db"
	"git.srvlab.io/whiskey/arraysync/pkg/drivers"
)

// Kind names a resource sync task
type Kind string

const (
	KindStorage     Kind = "storage"
	KindPools       Kind = "pools"
	KindVolumes     Kind = "volumes"
	KindDisks       Kind = "disks"
	KindFilesystems Kind = "filesystems"
	KindAlerts      Kind = "alerts"
)

// Kinds lists every task kind. Scheduler.RunOnce finishes the storage kind
// before starting the others; the background workers give no ordering.
var Kinds = []Kind{KindStorage, KindPools, KindVolumes, KindDisks, KindFilesystems, KindAlerts}

// ErrUnknownKind is returned by New for an unsupported kind
var ErrUnknownKind = errors.New("unknown task kind")

// DefaultAlertWindow is how far back the alert task asks arrays for alerts
const DefaultAlertWindow = 15 * time.Minute

// Task refreshes or tears down one resource kind of one storage
type Task interface {
	Sync(ctx context.Context) error
	Remove(ctx context.Context) error
}

// DriverSource hands out the driver of a storage
type DriverSource interface {
	GetDriver(ctx context.Context, storageID string) (drivers.Driver, error)
}

// Deps are the collaborators shared by every task
type Deps struct {
	Store    *db.Store
	Drivers  DriverSource
	Exporter alert.Exporter
	Clock    clock.PassiveClock

	// AlertWindow bounds the alert task query, DefaultAlertWindow when zero
	AlertWindow time.Duration
}

// ParseKind converts a name to a Kind
func ParseKind(name string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == name {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// New returns the task of kind bound to storageID
func New(kind Kind, storageID string, deps Deps) (Task, error) {
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if deps.AlertWindow == 0 {
		deps.AlertWindow = DefaultAlertWindow
	}

	switch kind {
	case KindStorage:
		return &storageTask{storageID: storageID, deps: deps}, nil
	case KindPools:
		return newPoolsTask(storageID, deps), nil
	case KindVolumes:
		return newVolumesTask(storageID, deps), nil
	case KindDisks:
		return newDisksTask(storageID, deps), nil
	case KindFilesystems:
		return newFilesystemsTask(storageID, deps), nil
	case KindAlerts:
		return &alertsTask{storageID: storageID, deps: deps}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}
