package task

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/arraysync/pkg/db"
	"git.srvlab.io/whiskey/arraysync/pkg/drivers"
	"git.srvlab.io/whiskey/arraysync/pkg/model"
)

// resourceTask mirrors the records a driver lists into a table. Records are
// matched by native id: new ones are created, known ones updated in place
// keeping their id, and ones the array no longer reports are deleted.
type resourceTask[T any] struct {
	kind      Kind
	storageID string
	deps      Deps
	table     *db.Table[T]

	list     func(ctx context.Context, d drivers.Driver, storageID string) ([]T, error)
	id       func(T) string
	nativeID func(T) string
}

func newPoolsTask(storageID string, deps Deps) Task {
	return &resourceTask[model.StoragePool]{
		kind: KindPools, storageID: storageID, deps: deps, table: deps.Store.Pools,
		list: func(ctx context.Context, d drivers.Driver, id string) ([]model.StoragePool, error) {
			return d.ListStoragePools(ctx, id)
		},
		id:       func(p model.StoragePool) string { return p.ID },
		nativeID: func(p model.StoragePool) string { return p.NativeStoragePoolID },
	}
}

func newVolumesTask(storageID string, deps Deps) Task {
	return &resourceTask[model.Volume]{
		kind: KindVolumes, storageID: storageID, deps: deps, table: deps.Store.Volumes,
		list: func(ctx context.Context, d drivers.Driver, id string) ([]model.Volume, error) {
			return d.ListVolumes(ctx, id)
		},
		id:       func(v model.Volume) string { return v.ID },
		nativeID: func(v model.Volume) string { return v.NativeVolumeID },
	}
}

func newDisksTask(storageID string, deps Deps) Task {
	return &resourceTask[model.Disk]{
		kind: KindDisks, storageID: storageID, deps: deps, table: deps.Store.Disks,
		list: func(ctx context.Context, d drivers.Driver, id string) ([]model.Disk, error) {
			return d.ListDisks(ctx, id)
		},
		id:       func(d model.Disk) string { return d.ID },
		nativeID: func(d model.Disk) string { return d.NativeDiskID },
	}
}

func newFilesystemsTask(storageID string, deps Deps) Task {
	return &resourceTask[model.Filesystem]{
		kind: KindFilesystems, storageID: storageID, deps: deps, table: deps.Store.Filesystems,
		list: func(ctx context.Context, d drivers.Driver, id string) ([]model.Filesystem, error) {
			return d.ListFilesystems(ctx, id)
		},
		id:       func(f model.Filesystem) string { return f.ID },
		nativeID: func(f model.Filesystem) string { return f.NativeFilesystemID },
	}
}

// Sync lists the resources on the array and applies the difference
func (t *resourceTask[T]) Sync(ctx context.Context) error {
	driver, err := t.deps.Drivers.GetDriver(ctx, t.storageID)
	if err != nil {
		return fmt.Errorf("failed to get driver for storage %s: %w", t.storageID, err)
	}

	current, err := t.list(ctx, driver, t.storageID)
	if err != nil {
		return fmt.Errorf("failed to list %s of storage %s: %w", t.kind, t.storageID, err)
	}

	stored, err := t.table.GetAll(ctx, db.Query{Filters: map[string]any{"storage_id": t.storageID}})
	if err != nil {
		return err
	}
	known := make(map[string]T, len(stored))
	for _, rec := range stored {
		known[t.nativeID(rec)] = rec
	}

	var created, updated, deleted int
	for _, rec := range current {
		nid := t.nativeID(rec)
		existing, ok := known[nid]
		if !ok {
			if _, err := t.table.Create(ctx, rec); err != nil {
				return err
			}
			created++
			continue
		}
		delete(known, nid)

		values, err := db.Fields(rec)
		if err != nil {
			return err
		}
		delete(values, "id")
		if _, err := t.table.Update(ctx, t.id(existing), values); err != nil {
			return err
		}
		updated++
	}

	for _, stale := range known {
		if err := t.table.Delete(ctx, t.id(stale)); err != nil {
			return err
		}
		deleted++
	}

	klog.V(3).Infof("Synced %s of storage %s (created=%d, updated=%d, deleted=%d)",
		t.kind, t.storageID, created, updated, deleted)
	return nil
}

// Remove deletes every record of this kind for the storage
func (t *resourceTask[T]) Remove(ctx context.Context) error {
	n, err := t.table.DeleteWhere(ctx, map[string]any{"storage_id": t.storageID})
	if err != nil {
		return fmt.Errorf("failed to remove %s of storage %s: %w", t.kind, t.storageID, err)
	}
	klog.V(3).Infof("Removed %d %s of storage %s", n, t.kind, t.storageID)
	return nil
}
