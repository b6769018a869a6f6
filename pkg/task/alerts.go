package task

import (
	"context"
	"errors"
	"fmt"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/arraysync/pkg/model"
)

// alertsTask polls the array's alert logs and exports what it finds. Alerts
// are not persisted; consumers deduplicate on the match key.
type alertsTask struct {
	storageID string
	deps      Deps
}

func (t *alertsTask) Sync(ctx context.Context) error {
	if t.deps.Exporter == nil {
		return errors.New("alert sync needs an exporter")
	}

	storage, err := t.deps.Store.Storages.Get(ctx, t.storageID)
	if err != nil {
		return err
	}
	driver, err := t.deps.Drivers.GetDriver(ctx, t.storageID)
	if err != nil {
		return fmt.Errorf("failed to get driver for storage %s: %w", t.storageID, err)
	}

	now := t.deps.Clock.Now()
	query := &model.AlertQuery{
		BeginTime: now.Add(-t.deps.AlertWindow).Unix(),
		EndTime:   now.Unix(),
	}
	alerts, err := driver.ListAlerts(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to list alerts of storage %s: %w", t.storageID, err)
	}

	var errs []error
	for _, a := range alerts {
		a.StorageID = storage.ID
		a.StorageName = storage.Name
		a.Vendor = storage.Vendor
		a.Model = storage.Model
		if err := t.deps.Exporter.Export(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("alert %s: %w", a.AlertID, err))
		}
	}

	klog.V(3).Infof("Exported %d alerts of storage %s", len(alerts), t.storageID)
	return errors.Join(errs...)
}

// Remove has nothing to delete
func (t *alertsTask) Remove(context.Context) error {
	return nil
}
