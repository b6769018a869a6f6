package netapp

import "git.srvlab.io/whiskey/arraysync/pkg/model"

// Vendor is reported on every Storage this driver builds
const Vendor = "NetApp"

// CLI commands issued against the cluster management LIF
const (
	cmdVersion         = "version"
	cmdClusterIdentity = "cluster identity show"
	cmdHealthStatus    = "system health status show"
	cmdNodeDetail      = "system node show -instance"
	cmdAggregateDetail = "storage aggregate show -instance"
	cmdPoolDetail      = "storage pool show -instance"
	cmdLunDetail       = "lun show -instance"
	cmdVolumeDetail    = "volume show -instance"
	cmdThinVolumes     = "volume show -space-guarantee none"
	cmdDiskDetail      = "storage disk show -instance"
	cmdDiskPhysical    = "storage disk show -physical"
	cmdEventDetail     = "event log show -detail"
	cmdAlertDetail     = "system health alert show -instance"
	cmdClearAlert      = "system health alert delete -alert-id "
)

// Record marker keys: the normalized key of the first line of every block
const (
	markerNode      = "Node"
	markerAggregate = "Aggregate"
	markerPool      = "StoragePoolName"
	markerVserver   = "VserverName"
	markerDisk      = "Disk"
)

// Timestamp layouts of the event log and the health alert list
const (
	eventTimeLayout = "1/2/2006 15:04:05"
	alertTimeLayout = "Mon Jan 02 15:04:05 2006"
)

// OIDTrapData carries "<alert name>:<description>" in NetApp traps
const OIDTrapData = "1.3.6.1.4.1.789.1.1.12.0"

// alertNotFound holds the replies to deleting an alert that was already
// cleared. Which one is printed depends on the ONTAP release.
var alertNotFound = []string{
	"entry doesn't exist",
	"There are no entries matching your query.",
}

var storageStatus = map[string]model.StorageStatus{
	"ok":                 model.StorageStatusNormal,
	"ok-with-suppressed": model.StorageStatusNormal,
	"degraded":           model.StorageStatusAbnormal,
	"unreachable":        model.StorageStatusOffline,
}

var aggregateStatus = map[string]model.PoolStatus{
	"online":  model.PoolStatusNormal,
	"offline": model.PoolStatusOffline,
}

var filesystemStatus = map[string]model.FilesystemStatus{
	"online":     model.FilesystemStatusNormal,
	"offline":    model.FilesystemStatusFaulty,
	"restricted": model.FilesystemStatusFaulty,
}

var diskPhysicalType = map[string]model.DiskPhysicalType{
	"FCAL":    model.DiskPhysicalFC,
	"SAS":     model.DiskPhysicalSAS,
	"SSD":     model.DiskPhysicalSSD,
	"SSD-NVM": model.DiskPhysicalSSD,
	"SATA":    model.DiskPhysicalSATA,
	"BSAS":    model.DiskPhysicalSATA,
	"MSATA":   model.DiskPhysicalSATA,
	"ATA":     model.DiskPhysicalSATA,
	"FSAS":    model.DiskPhysicalNLSAS,
}

var diskLogicalType = map[string]model.DiskLogicalType{
	"aggregate":  model.DiskLogicalMember,
	"shared":     model.DiskLogicalMember,
	"remote":     model.DiskLogicalMember,
	"spare":      model.DiskLogicalSpare,
	"broken":     model.DiskLogicalFailed,
	"unassigned": model.DiskLogicalFree,
}

// eventSeverity maps event log severities. Anything not listed is Critical.
var eventSeverity = map[string]model.AlertSeverity{
	"EMERGENCY":     model.SeverityFatal,
	"ALERT":         model.SeverityCritical,
	"ERROR":         model.SeverityMajor,
	"WARNING":       model.SeverityWarning,
	"NOTICE":        model.SeverityWarning,
	"INFORMATIONAL": model.SeverityInformational,
	"DEBUG":         model.SeverityInformational,
}

// alertSeverity maps the Perceived Severity of health monitor alerts
var alertSeverity = map[string]model.AlertSeverity{
	"Fatal":         model.SeverityFatal,
	"Critical":      model.SeverityCritical,
	"Major":         model.SeverityMajor,
	"Minor":         model.SeverityMinor,
	"Warning":       model.SeverityWarning,
	"Degraded":      model.SeverityWarning,
	"Information":   model.SeverityInformational,
	"Informational": model.SeverityInformational,
	"Other":         model.SeverityNotSpecified,
	"Unknown":       model.SeverityNotSpecified,
}

// trapSeverity lists the trap alert names this driver reports. Traps with any
// other name are ignored.
var trapSeverity = map[string]model.AlertSeverity{
	"raid.vol.failed":                     model.SeverityCritical,
	"raid.disk.missing":                   model.SeverityMajor,
	"raid.disk.predictiveFailure":         model.SeverityMajor,
	"disk.failed":                         model.SeverityCritical,
	"shelf.fault":                         model.SeverityMajor,
	"fan.failed":                          model.SeverityMajor,
	"ps.failed":                           model.SeverityMajor,
	"nvram.battery.low":                   model.SeverityWarning,
	"cf.takeover":                         model.SeverityMajor,
	"monitor.globalStatus.critical":       model.SeverityCritical,
	"monitor.globalStatus.nonCritical":    model.SeverityWarning,
	"monitor.globalStatus.nonRecoverable": model.SeverityFatal,
}
