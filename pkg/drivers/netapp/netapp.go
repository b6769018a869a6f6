// Package netapp implements the driver for clustered ONTAP arrays.
//
// The driver speaks the ONTAP CLI over an SSH transport. Every "-instance"
// listing is split into records at its marker key (see utils.ParseRecords) and
// tabular listings are read row by row after their dashed ruler.
package netapp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"git.srvlab.io/whiskey/arraysync/pkg/model"
	"git.srvlab.io/whiskey/arraysync/pkg/security"
	"git.srvlab.io/whiskey/arraysync/pkg/transport"
	"git.srvlab.io/whiskey/arraysync/pkg/utils"
)

// Driver talks to one clustered ONTAP system
type Driver struct {
	exec  transport.Executor
	clock clock.PassiveClock
}

// Option configures a Driver
type Option func(*Driver)

// WithClock sets the clock used to timestamp parsed traps
func WithClock(c clock.PassiveClock) Option {
	return func(d *Driver) {
		d.clock = c
	}
}

// New creates a driver running its commands through exec. The driver owns
// exec and closes it in Close.
func New(exec transport.Executor, opts ...Option) *Driver {
	d := &Driver{
		exec:  exec,
		clock: clock.RealClock{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// run executes a command and classifies its failure
func (d *Driver) run(ctx context.Context, command string) (string, error) {
	klog.V(5).Infof("netapp: running %q", command)
	out, err := d.exec.Execute(ctx, command)
	if err != nil {
		return out, utils.Classify(transport.CommandLabel(command), err)
	}
	return out, nil
}

// fail logs a failed driver operation and returns it with vendor context
func fail(op string, err error) error {
	err = utils.Classify("netapp "+op, err)
	klog.Errorf("Failed to %s from netapp cmode: %s", op, utils.SanitizeErrorMessage(err.Error()))
	return err
}

// required returns the value of key or a parse error naming it
func required(rec utils.Record, op, key string) (string, error) {
	v, ok := rec.Get(key)
	if !ok {
		return "", utils.NewParseError(op, key, errors.New("missing key"))
	}
	return v, nil
}

// capacity reads a required capacity field
func capacity(rec utils.Record, op, key string) (int64, error) {
	v, err := required(rec, op, key)
	if err != nil {
		return 0, err
	}
	n, err := utils.ParseCapacity(v)
	if err != nil {
		return 0, utils.NewParseError(op, key, err)
	}
	return n, nil
}

// Login validates the session by running "version". It is idempotent.
func (d *Driver) Login(ctx context.Context) error {
	if _, err := d.run(ctx, cmdVersion); err != nil {
		return fail("login", err)
	}
	return nil
}

// Close releases the transport
func (d *Driver) Close() error {
	return d.exec.Close()
}

// GetStorage describes the cluster. Capacities are sums over the pools and,
// for raw capacity, over the disks.
func (d *Driver) GetStorage(ctx context.Context) (*model.Storage, error) {
	storage, err := d.getStorage(ctx)
	if err != nil {
		return nil, fail("get storage", err)
	}
	return storage, nil
}

func (d *Driver) getStorage(ctx context.Context) (*model.Storage, error) {
	identityOut, err := d.run(ctx, cmdClusterIdentity)
	if err != nil {
		return nil, err
	}
	versionOut, err := d.run(ctx, cmdVersion)
	if err != nil {
		return nil, err
	}
	healthOut, err := d.run(ctx, cmdHealthStatus)
	if err != nil {
		return nil, err
	}
	nodeOut, err := d.run(ctx, cmdNodeDetail)
	if err != nil {
		return nil, err
	}

	identity := utils.ParseKeyValues(utils.SplitLines(identityOut))
	name, err := required(identity, cmdClusterIdentity, "ClusterName")
	if err != nil {
		return nil, err
	}
	serial, err := required(identity, cmdClusterIdentity, "ClusterSerialNumber")
	if err != nil {
		return nil, err
	}

	nodes := utils.ParseRecords(nodeOut, markerNode)
	if len(nodes) == 0 {
		return nil, utils.NewParseError(cmdNodeDetail, markerNode, errors.New("no node records"))
	}
	nodeModel, err := required(nodes[0], cmdNodeDetail, "Model")
	if err != nil {
		return nil, err
	}
	location, err := required(nodes[0], cmdNodeDetail, "Location")
	if err != nil {
		return nil, err
	}

	status, err := parseHealthStatus(healthOut)
	if err != nil {
		return nil, err
	}

	disks, err := d.listDisks(ctx, "")
	if err != nil {
		return nil, err
	}
	pools, err := d.listStoragePools(ctx, "")
	if err != nil {
		return nil, err
	}

	storage := &model.Storage{
		Name:            name,
		Vendor:          Vendor,
		Model:           nodeModel,
		Status:          status,
		SerialNumber:    serial,
		FirmwareVersion: parseVersion(versionOut),
		Location:        location,
	}
	for _, disk := range disks {
		storage.RawCapacity += disk.Capacity
	}
	for _, pool := range pools {
		storage.TotalCapacity += pool.TotalCapacity
		storage.UsedCapacity += pool.UsedCapacity
		storage.FreeCapacity += pool.FreeCapacity
	}

	klog.V(3).Infof("netapp: cluster %s serial %s total %s raw %s", name, serial,
		utils.FormatBytes(storage.TotalCapacity), utils.FormatBytes(storage.RawCapacity))
	return storage, nil
}

// parseVersion returns the release from "NetApp Release 9.8: Fri Aug 19 ..."
func parseVersion(output string) string {
	for _, line := range utils.SplitLines(output) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		release, _, _ := strings.Cut(line, ":")
		return strings.TrimSpace(release)
	}
	return ""
}

// parseHealthStatus reads the single row of "system health status show".
// Unknown states count as abnormal.
func parseHealthStatus(output string) (model.StorageStatus, error) {
	rows := utils.ParseTable(output)
	if len(rows) == 0 || len(rows[0]) == 0 {
		return "", utils.NewParseError(cmdHealthStatus, "Status", errors.New("no status row"))
	}
	if status, ok := storageStatus[strings.ToLower(rows[0][0])]; ok {
		return status, nil
	}
	klog.Warningf("netapp: unknown cluster health status %q", rows[0][0])
	return model.StorageStatusAbnormal, nil
}

// ClearAlert deletes a health monitor alert. An alert that no longer exists
// counts as cleared.
func (d *Driver) ClearAlert(ctx context.Context, alert *model.Alert) error {
	if alert == nil {
		return fail("clear alert", utils.NewParseError("clear alert", "alert_id", errors.New("no alert")))
	}
	if err := utils.ValidateCommandArgument("alert id", alert.AlertID); err != nil {
		security.GetLogger().LogCommandInjectionAttempt("alert id", alert.AlertID)
		return fail("clear alert", utils.NewParseError("clear alert", "alert_id", err))
	}

	out, err := d.exec.Execute(ctx, cmdClearAlert+alert.AlertID)
	if err != nil {
		var cmdErr *transport.CommandError
		if errors.As(err, &cmdErr) && alreadyCleared(out+cmdErr.Output) {
			klog.V(3).Infof("netapp: alert %s already cleared", alert.AlertID)
			return nil
		}
		return fail("clear alert", fmt.Errorf("alert %s: %w", alert.AlertID, err))
	}
	if alreadyCleared(out) {
		klog.V(3).Infof("netapp: alert %s already cleared", alert.AlertID)
	}
	return nil
}

func alreadyCleared(out string) bool {
	for _, msg := range alertNotFound {
		if strings.Contains(out, msg) {
			return true
		}
	}
	return false
}
