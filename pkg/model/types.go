// Package model holds the canonical, vendor-independent records every driver produces.
package model

import "time"

// StorageStatus is the health of a whole array
type StorageStatus string

const (
	StorageStatusNormal   StorageStatus = "normal"
	StorageStatusOffline  StorageStatus = "offline"
	StorageStatusAbnormal StorageStatus = "abnormal"
)

// PoolStatus is the health of a storage pool
type PoolStatus string

const (
	PoolStatusNormal   PoolStatus = "normal"
	PoolStatusOffline  PoolStatus = "offline"
	PoolStatusAbnormal PoolStatus = "abnormal"
)

// VolumeStatus is the state of a volume (LUN)
type VolumeStatus string

const (
	VolumeStatusNormal  VolumeStatus = "normal"
	VolumeStatusOffline VolumeStatus = "offline"
)

// DiskStatus is derived from the vendor error field of a disk
type DiskStatus string

const (
	DiskStatusNormal   DiskStatus = "normal"
	DiskStatusAbnormal DiskStatus = "abnormal"
)

// FilesystemStatus is the state of a filesystem
type FilesystemStatus string

const (
	FilesystemStatusNormal  FilesystemStatus = "normal"
	FilesystemStatusFaulty  FilesystemStatus = "faulty"
	FilesystemStatusUnknown FilesystemStatus = "unknown"
)

// ProvisioningType is shared by volumes and filesystems
type ProvisioningType string

const (
	ProvisioningThin  ProvisioningType = "thin"
	ProvisioningThick ProvisioningType = "thick"
)

// StorageType describes what a pool serves
type StorageType string

const (
	StorageTypeBlock   StorageType = "block"
	StorageTypeFile    StorageType = "file"
	StorageTypeUnified StorageType = "unified"
)

// DiskPhysicalType is the media type of a disk
type DiskPhysicalType string

const (
	DiskPhysicalSATA    DiskPhysicalType = "sata"
	DiskPhysicalSAS     DiskPhysicalType = "sas"
	DiskPhysicalSSD     DiskPhysicalType = "ssd"
	DiskPhysicalFC      DiskPhysicalType = "fc"
	DiskPhysicalNLSAS   DiskPhysicalType = "nl-sas"
	DiskPhysicalUnknown DiskPhysicalType = "unknown"
)

// DiskLogicalType is the role a disk plays in the array
type DiskLogicalType string

const (
	DiskLogicalMember  DiskLogicalType = "member"
	DiskLogicalSpare   DiskLogicalType = "spare"
	DiskLogicalFailed  DiskLogicalType = "failed"
	DiskLogicalFree    DiskLogicalType = "free"
	DiskLogicalUnknown DiskLogicalType = "unknown"
)

// SyncStatus tracks whether a storage is currently being refreshed
type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusSyncing SyncStatus = "syncing"
)

// Storage is one registered array
type Storage struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Vendor          string        `json:"vendor"`
	Model           string        `json:"model"`
	Status          StorageStatus `json:"status"`
	SerialNumber    string        `json:"serial_number"`
	FirmwareVersion string        `json:"firmware_version"`
	Location        string        `json:"location"`
	TotalCapacity   int64         `json:"total_capacity"`
	RawCapacity     int64         `json:"raw_capacity"`
	UsedCapacity    int64         `json:"used_capacity"`
	FreeCapacity    int64         `json:"free_capacity"`
	ThinProvisioned bool          `json:"thin_provisioned"`
	SyncStatus      SyncStatus    `json:"sync_status"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// StoragePool is either an aggregate or a pool on the array
type StoragePool struct {
	ID                  string      `json:"id"`
	StorageID           string      `json:"storage_id"`
	Name                string      `json:"name"`
	NativeStoragePoolID string      `json:"native_storage_pool_id"`
	Description         string      `json:"description"`
	Status              PoolStatus  `json:"status"`
	StorageType         StorageType `json:"storage_type"`
	TotalCapacity       int64       `json:"total_capacity"`
	UsedCapacity        int64       `json:"used_capacity"`
	FreeCapacity        int64       `json:"free_capacity"`
}

// Volume is a block volume (LUN). PoolUnresolved is set when no pool matched
// the volume, NativeStoragePoolID is then empty.
type Volume struct {
	ID                  string           `json:"id"`
	StorageID           string           `json:"storage_id"`
	Name                string           `json:"name"`
	Description         string           `json:"description"`
	NativeVolumeID      string           `json:"native_volume_id"`
	NativeStoragePoolID string           `json:"native_storage_pool_id"`
	PoolUnresolved      bool             `json:"pool_unresolved"`
	Status              VolumeStatus     `json:"status"`
	Type                ProvisioningType `json:"type"`
	WWN                 string           `json:"wwn"`
	TotalCapacity       int64            `json:"total_capacity"`
	UsedCapacity        int64            `json:"used_capacity"`
	FreeCapacity        int64            `json:"free_capacity"`
}

// Disk is one physical drive. Firmware, Speed and PhysicalType are nil when the
// physical attribute listing had no row for the disk.
type Disk struct {
	ID                string            `json:"id"`
	StorageID         string            `json:"storage_id"`
	Name              string            `json:"name"`
	NativeDiskID      string            `json:"native_disk_id"`
	SerialNumber      string            `json:"serial_number"`
	Manufacturer      string            `json:"manufacturer"`
	Model             string            `json:"model"`
	Firmware          *string           `json:"firmware"`
	Speed             *int64            `json:"speed"`
	Capacity          int64             `json:"capacity"`
	Status            DiskStatus        `json:"status"`
	PhysicalType      *DiskPhysicalType `json:"physical_type"`
	LogicalType       DiskLogicalType   `json:"logical_type"`
	NativeDiskGroupID string            `json:"native_disk_group_id"`
	Location          string            `json:"location"`
}

// Filesystem is a NAS volume
type Filesystem struct {
	ID                 string           `json:"id"`
	StorageID          string           `json:"storage_id"`
	Name               string           `json:"name"`
	NativeFilesystemID string           `json:"native_filesystem_id"`
	NativePoolID       string           `json:"native_pool_id"`
	PoolUnresolved     bool             `json:"pool_unresolved"`
	Compressed         bool             `json:"compressed"`
	Deduplicated       bool             `json:"deduplicated"`
	Worm               string           `json:"worm"`
	Status             FilesystemStatus `json:"status"`
	Type               ProvisioningType `json:"type"`
	TotalCapacity      int64            `json:"total_capacity"`
	UsedCapacity       int64            `json:"used_capacity"`
	FreeCapacity       int64            `json:"free_capacity"`
}

// AccessInfo is what is needed to rebuild a driver for a registered storage.
// Password is always the encoded form.
type AccessInfo struct {
	ID           string            `json:"id"`
	StorageID    string            `json:"storage_id"`
	Manufacturer string            `json:"manufacturer"`
	Model        string            `json:"model"`
	Host         string            `json:"host"`
	Port         int               `json:"port"`
	Username     string            `json:"username"`
	Password     string            `json:"password"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// AlertSource tells the trap receiver which storage a trap sender belongs to.
// Community is always the encoded form.
type AlertSource struct {
	ID        string `json:"id"`
	StorageID string `json:"storage_id"`
	Host      string `json:"host"`
	Version   string `json:"version"`
	Community string `json:"community"`
}

// RegistrationInfo is the input of a storage registration. Password is plaintext
// here and is encoded before anything is persisted.
type RegistrationInfo struct {
	Manufacturer string            `json:"manufacturer"`
	Model        string            `json:"model"`
	Host         string            `json:"host"`
	Port         int               `json:"port"`
	Username     string            `json:"username"`
	Password     string            `json:"password"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// DriverKey is the "manufacturer_model" lookup key of the driver class registry
func (r RegistrationInfo) DriverKey() string {
	return DriverKey(r.Manufacturer, r.Model)
}

// DriverKey joins manufacturer and model the way the driver registry is keyed
func DriverKey(manufacturer, model string) string {
	return manufacturer + "_" + model
}
