package task

import (
	"context"
	"errors"
	"fmt"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/arraysync/pkg/db"
	"git.srvlab.io/whiskey/arraysync/pkg/model"
	"git.srvlab.io/whiskey/arraysync/pkg/utils"
)

// storageTask refreshes the storage record itself
type storageTask struct {
	storageID string
	deps      Deps
}

func (t *storageTask) setSyncStatus(ctx context.Context, status model.SyncStatus) error {
	_, err := t.deps.Store.Storages.Update(ctx, t.storageID, map[string]any{"sync_status": string(status)})
	return err
}

// Sync marks the storage syncing, copies what the array reports onto the
// record and marks it synced again, whether or not the refresh worked
func (t *storageTask) Sync(ctx context.Context) (err error) {
	if err := t.setSyncStatus(ctx, model.SyncStatusSyncing); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("%w: %s", utils.ErrStorageNotFound, t.storageID)
		}
		return err
	}
	defer func() {
		// The caller's context may already be done
		if resetErr := t.setSyncStatus(context.WithoutCancel(ctx), model.SyncStatusSynced); resetErr != nil {
			klog.Errorf("Failed to reset sync status of storage %s: %v", t.storageID, resetErr)
			if err == nil {
				err = resetErr
			}
		}
	}()

	driver, err := t.deps.Drivers.GetDriver(ctx, t.storageID)
	if err != nil {
		return fmt.Errorf("failed to get driver for storage %s: %w", t.storageID, err)
	}
	current, err := driver.GetStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to get storage %s: %w", t.storageID, err)
	}

	values := map[string]any{
		"name":             current.Name,
		"vendor":           current.Vendor,
		"model":            current.Model,
		"status":           string(current.Status),
		"firmware_version": current.FirmwareVersion,
		"location":         current.Location,
		"total_capacity":   current.TotalCapacity,
		"raw_capacity":     current.RawCapacity,
		"used_capacity":    current.UsedCapacity,
		"free_capacity":    current.FreeCapacity,
		"thin_provisioned": current.ThinProvisioned,
		"updated_at":       t.deps.Clock.Now().UTC(),
	}
	if _, err := t.deps.Store.Storages.Update(ctx, t.storageID, values); err != nil {
		return err
	}

	klog.V(3).Infof("Synced storage %s: status=%s total=%s used=%s", t.storageID, current.Status,
		utils.FormatBytes(current.TotalCapacity), utils.FormatBytes(current.UsedCapacity))
	return nil
}

// Remove deletes the storage record with its access info and alert source.
// Resource records are removed by their own tasks.
func (t *storageTask) Remove(ctx context.Context) error {
	if err := t.deps.Store.DeleteStorage(ctx, t.storageID); err != nil && !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("failed to remove storage %s: %w", t.storageID, err)
	}
	return nil
}
