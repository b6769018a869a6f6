package netapp

import (
	"context"
	"errors"
	"strconv"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/arraysync/pkg/model"
	"git.srvlab.io/whiskey/arraysync/pkg/utils"
)

// ListStoragePools returns all aggregates followed by all storage pools
func (d *Driver) ListStoragePools(ctx context.Context, storageID string) ([]model.StoragePool, error) {
	pools, err := d.listStoragePools(ctx, storageID)
	if err != nil {
		return nil, fail("list storage pools", err)
	}
	return pools, nil
}

func (d *Driver) listStoragePools(ctx context.Context, storageID string) ([]model.StoragePool, error) {
	aggregates, err := d.listAggregates(ctx, storageID)
	if err != nil {
		return nil, err
	}
	pools, err := d.listPools(ctx, storageID)
	if err != nil {
		return nil, err
	}
	return append(aggregates, pools...), nil
}

func (d *Driver) listAggregates(ctx context.Context, storageID string) ([]model.StoragePool, error) {
	out, err := d.run(ctx, cmdAggregateDetail)
	if err != nil {
		return nil, err
	}

	var pools []model.StoragePool
	for _, rec := range utils.ParseRecords(out, markerAggregate) {
		pool, err := parseAggregate(rec, storageID)
		if err != nil {
			return nil, err
		}
		pools = append(pools, pool)
	}
	return pools, nil
}

func parseAggregate(rec utils.Record, storageID string) (model.StoragePool, error) {
	const op = cmdAggregateDetail

	name, err := required(rec, op, "Aggregate")
	if err != nil {
		return model.StoragePool{}, err
	}
	uuid, err := required(rec, op, "UUIDString")
	if err != nil {
		return model.StoragePool{}, err
	}
	state, err := required(rec, op, "State")
	if err != nil {
		return model.StoragePool{}, err
	}
	total, err := capacity(rec, op, "Size")
	if err != nil {
		return model.StoragePool{}, err
	}
	used, err := capacity(rec, op, "UsedSize")
	if err != nil {
		return model.StoragePool{}, err
	}
	free, err := capacity(rec, op, "AvailableSize")
	if err != nil {
		return model.StoragePool{}, err
	}

	status, ok := aggregateStatus[state]
	if !ok {
		status = model.PoolStatusAbnormal
	}

	return model.StoragePool{
		StorageID:           storageID,
		Name:                name,
		NativeStoragePoolID: uuid,
		Status:              status,
		StorageType:         model.StorageTypeUnified,
		TotalCapacity:       total,
		UsedCapacity:        used,
		FreeCapacity:        free,
	}, nil
}

func (d *Driver) listPools(ctx context.Context, storageID string) ([]model.StoragePool, error) {
	out, err := d.run(ctx, cmdPoolDetail)
	if err != nil {
		return nil, err
	}

	var pools []model.StoragePool
	for _, rec := range utils.ParseRecords(out, markerPool) {
		pool, err := parsePool(rec, storageID)
		if err != nil {
			return nil, err
		}
		pools = append(pools, pool)
	}
	return pools, nil
}

func parsePool(rec utils.Record, storageID string) (model.StoragePool, error) {
	const op = cmdPoolDetail

	name, err := required(rec, op, "StoragePoolName")
	if err != nil {
		return model.StoragePool{}, err
	}
	uuid, err := required(rec, op, "UUIDofStoragePool")
	if err != nil {
		return model.StoragePool{}, err
	}
	healthy, err := required(rec, op, "IsPoolHealthy?")
	if err != nil {
		return model.StoragePool{}, err
	}
	total, err := capacity(rec, op, "StoragePoolTotalSize")
	if err != nil {
		return model.StoragePool{}, err
	}
	usable, err := capacity(rec, op, "StoragePoolUsableSize")
	if err != nil {
		return model.StoragePool{}, err
	}

	status := model.PoolStatusAbnormal
	if healthy == "true" {
		status = model.PoolStatusNormal
	}

	return model.StoragePool{
		StorageID:           storageID,
		Name:                name,
		NativeStoragePoolID: uuid,
		Status:              status,
		StorageType:         model.StorageTypeUnified,
		TotalCapacity:       total,
		UsedCapacity:        total - usable,
		FreeCapacity:        usable,
	}, nil
}

// ListVolumes returns the LUNs. A LUN's pool is the pool of the filesystem
// (ONTAP volume) whose name equals the LUN's volume name.
func (d *Driver) ListVolumes(ctx context.Context, storageID string) ([]model.Volume, error) {
	volumes, err := d.listVolumes(ctx, storageID)
	if err != nil {
		return nil, fail("list volumes", err)
	}
	return volumes, nil
}

func (d *Driver) listVolumes(ctx context.Context, storageID string) ([]model.Volume, error) {
	out, err := d.run(ctx, cmdLunDetail)
	if err != nil {
		return nil, err
	}
	filesystems, err := d.listFilesystems(ctx, storageID)
	if err != nil {
		return nil, err
	}

	fsByName := make(map[string]model.Filesystem, len(filesystems))
	for _, fs := range filesystems {
		fsByName[fs.Name] = fs
	}

	var volumes []model.Volume
	for _, rec := range utils.ParseRecords(out, markerVserver) {
		vol, err := parseLun(rec, storageID)
		if err != nil {
			return nil, err
		}
		volumeName, _ := rec.Get("VolumeName")
		if fs, ok := fsByName[volumeName]; ok && !fs.PoolUnresolved {
			vol.NativeStoragePoolID = fs.NativePoolID
		} else {
			vol.PoolUnresolved = true
			klog.V(4).Infof("netapp: no pool for LUN %s on volume %q", vol.Name, volumeName)
		}
		volumes = append(volumes, vol)
	}
	return volumes, nil
}

func parseLun(rec utils.Record, storageID string) (model.Volume, error) {
	const op = cmdLunDetail

	name, err := required(rec, op, "LUNName")
	if err != nil {
		return model.Volume{}, err
	}
	uuid, err := required(rec, op, "LUNUUID")
	if err != nil {
		return model.Volume{}, err
	}
	state, err := required(rec, op, "State")
	if err != nil {
		return model.Volume{}, err
	}
	allocation, err := required(rec, op, "SpaceAllocation")
	if err != nil {
		return model.Volume{}, err
	}
	total, err := capacity(rec, op, "LUNSize")
	if err != nil {
		return model.Volume{}, err
	}
	used, err := capacity(rec, op, "UsedSize")
	if err != nil {
		return model.Volume{}, err
	}

	status := model.VolumeStatusOffline
	if state == "online" {
		status = model.VolumeStatusNormal
	}
	provisioning := model.ProvisioningThick
	if allocation == "enabled" {
		provisioning = model.ProvisioningThin
	}
	description, _ := rec.Get("LUNPath")

	return model.Volume{
		StorageID:      storageID,
		Name:           name,
		Description:    description,
		NativeVolumeID: uuid,
		Status:         status,
		Type:           provisioning,
		TotalCapacity:  total,
		UsedCapacity:   used,
		FreeCapacity:   total - used,
	}, nil
}

// ListDisks joins the disk detail records with the physical attribute table by
// disk name. Disks missing from the table have no type, firmware or speed.
func (d *Driver) ListDisks(ctx context.Context, storageID string) ([]model.Disk, error) {
	disks, err := d.listDisks(ctx, storageID)
	if err != nil {
		return nil, fail("list disks", err)
	}
	return disks, nil
}

// physicalRow is one row of "storage disk show -physical"
type physicalRow struct {
	diskType string
	firmware string
	speed    string
}

func (d *Driver) listDisks(ctx context.Context, storageID string) ([]model.Disk, error) {
	detailOut, err := d.run(ctx, cmdDiskDetail)
	if err != nil {
		return nil, err
	}
	physicalOut, err := d.run(ctx, cmdDiskPhysical)
	if err != nil {
		return nil, err
	}

	physical := make(map[string]physicalRow)
	for _, row := range utils.ParseTable(physicalOut) {
		if len(row) <= 6 {
			continue
		}
		if _, seen := physical[row[0]]; seen {
			continue
		}
		physical[row[0]] = physicalRow{diskType: row[1], firmware: row[4], speed: row[5]}
	}

	var disks []model.Disk
	for _, rec := range utils.ParseRecords(detailOut, markerDisk) {
		disk, err := parseDisk(rec, storageID)
		if err != nil {
			return nil, err
		}
		if row, ok := physical[disk.Name]; ok {
			if err := applyPhysical(&disk, row); err != nil {
				return nil, err
			}
		}
		disks = append(disks, disk)
	}
	return disks, nil
}

func parseDisk(rec utils.Record, storageID string) (model.Disk, error) {
	const op = cmdDiskDetail

	name, err := required(rec, op, "Disk")
	if err != nil {
		return model.Disk{}, err
	}
	containerType, err := required(rec, op, "ContainerType")
	if err != nil {
		return model.Disk{}, err
	}
	size, err := capacity(rec, op, "PhysicalSize")
	if err != nil {
		return model.Disk{}, err
	}

	logical, ok := diskLogicalType[containerType]
	if !ok {
		logical = model.DiskLogicalUnknown
	}

	status := model.DiskStatusNormal
	if errs, ok := rec.Get("Errors"); ok && placeholder(errs) != "" {
		status = model.DiskStatusAbnormal
	}

	serial, _ := rec.Get("SerialNumber")
	vendor, _ := rec.Get("Vendor")
	diskModel, _ := rec.Get("Model")
	aggregate, _ := rec.Get("Aggregate")

	return model.Disk{
		StorageID:         storageID,
		Name:              name,
		NativeDiskID:      name,
		SerialNumber:      serial,
		Manufacturer:      vendor,
		Model:             diskModel,
		Capacity:          size,
		Status:            status,
		LogicalType:       logical,
		NativeDiskGroupID: placeholder(aggregate),
	}, nil
}

func applyPhysical(disk *model.Disk, row physicalRow) error {
	physicalType, ok := diskPhysicalType[row.diskType]
	if !ok {
		physicalType = model.DiskPhysicalUnknown
	}
	disk.PhysicalType = &physicalType

	firmware := row.firmware
	disk.Firmware = &firmware

	if speed := placeholder(row.speed); speed != "" {
		rpm, err := strconv.ParseInt(speed, 10, 64)
		if err != nil {
			return utils.NewParseError(cmdDiskPhysical, "RPM", err)
		}
		disk.Speed = &rpm
	}
	return nil
}

// placeholder maps the CLI's "-" (no value) to the empty string
func placeholder(v string) string {
	if v == "-" {
		return ""
	}
	return v
}

// ListFilesystems returns the ONTAP volumes. Each is linked to the pool whose
// name equals its aggregate and is thin when listed without space guarantee.
func (d *Driver) ListFilesystems(ctx context.Context, storageID string) ([]model.Filesystem, error) {
	filesystems, err := d.listFilesystems(ctx, storageID)
	if err != nil {
		return nil, fail("list filesystems", err)
	}
	return filesystems, nil
}

func (d *Driver) listFilesystems(ctx context.Context, storageID string) ([]model.Filesystem, error) {
	detailOut, err := d.run(ctx, cmdVolumeDetail)
	if err != nil {
		return nil, err
	}
	thinOut, err := d.run(ctx, cmdThinVolumes)
	if err != nil {
		return nil, err
	}
	pools, err := d.listStoragePools(ctx, storageID)
	if err != nil {
		return nil, err
	}

	poolIDs := make(map[string]string, len(pools))
	for _, pool := range pools {
		if _, seen := poolIDs[pool.Name]; !seen {
			poolIDs[pool.Name] = pool.NativeStoragePoolID
		}
	}

	thin := make(map[string]bool)
	for _, row := range utils.ParseTable(thinOut) {
		if len(row) > 4 {
			thin[row[1]] = true
		}
	}

	var filesystems []model.Filesystem
	for _, rec := range utils.ParseRecords(detailOut, markerVserver) {
		fs, err := parseVolume(rec, storageID)
		if err != nil {
			return nil, err
		}

		aggregate, _ := rec.Get("AggregateName")
		if id, ok := poolIDs[aggregate]; ok {
			fs.NativePoolID = id
		} else {
			fs.PoolUnresolved = true
			klog.V(4).Infof("netapp: no pool %q for volume %s", aggregate, fs.Name)
		}
		if thin[fs.Name] {
			fs.Type = model.ProvisioningThin
		}
		filesystems = append(filesystems, fs)
	}
	return filesystems, nil
}

func parseVolume(rec utils.Record, storageID string) (model.Filesystem, error) {
	const op = cmdVolumeDetail

	name, err := required(rec, op, "VolumeName")
	if err != nil {
		return model.Filesystem{}, err
	}
	state, err := required(rec, op, "VolumeState")
	if err != nil {
		return model.Filesystem{}, err
	}
	total, err := capacity(rec, op, "VolumeSize")
	if err != nil {
		return model.Filesystem{}, err
	}
	used, err := capacity(rec, op, "UsedSize")
	if err != nil {
		return model.Filesystem{}, err
	}
	dedupSaved, err := required(rec, op, "SpaceSavedbyDeduplication")
	if err != nil {
		return model.Filesystem{}, err
	}
	shared, err := required(rec, op, "VolumeContainsSharedorCompressedData")
	if err != nil {
		return model.Filesystem{}, err
	}
	if name == "" {
		return model.Filesystem{}, utils.NewParseError(op, "VolumeName", errors.New("empty volume name"))
	}

	status, ok := filesystemStatus[state]
	if !ok {
		status = model.FilesystemStatusUnknown
	}
	worm, _ := rec.Get("SnapLockType")

	return model.Filesystem{
		StorageID:          storageID,
		Name:               name,
		NativeFilesystemID: name,
		Compressed:         shared != "false",
		Deduplicated:       dedupSaved != "0B",
		Worm:               worm,
		Status:             status,
		Type:               model.ProvisioningThick,
		TotalCapacity:      total,
		UsedCapacity:       used,
		FreeCapacity:       total - used,
	}, nil
}
