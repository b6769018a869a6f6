package mock

import "strings"

// crlf joins lines the way the ONTAP CLI terminates them over SSH
func crlf(lines ...string) string {
	return strings.Join(lines, "\r\n") + "\r\n"
}

// Fixture capacity totals, in bytes, of the default transcript
const (
	GiB = int64(1) << 30

	// FixturePoolCount is aggregates (2) plus storage pools (1)
	FixturePoolCount = 3

	// FixturePoolTotal is 10GB + 1TB + 100GB
	FixturePoolTotal = 1134 * GiB

	// FixturePoolUsed is 8GB + 256GB + (100GB - 60GB)
	FixturePoolUsed = 304 * GiB

	// FixturePoolFree is 2GB + 768GB + 60GB
	FixturePoolFree = 830 * GiB

	// FixtureRawCapacity is the sum of the physical size of the three disks
	FixtureRawCapacity = 4 * GiB

	FixtureSerialNumber = "1-80-000011"
	FixtureClusterName  = "cl"
	FixtureTrapData     = "raid.vol.failed:Volume vol2 failed: too many disks missing"
)

// FixtureOutputs is a transcript of a small clustered ONTAP system keyed by command
var FixtureOutputs = map[string]string{
	"version": crlf(
		"NetApp Release 9.8: Fri Aug 19 06:39:33 UTC 2020",
		"",
	),

	"cluster identity show": crlf(
		"",
		"          Cluster UUID: 47096983-8018-11eb-bd5b-000c293284bd",
		"          Cluster Name: cl",
		" Cluster Serial Number: 1-80-000011",
		"      Cluster Location:",
		"       Cluster Contact:",
	),

	"system health status show": crlf(
		"Status",
		"---------------",
		"ok",
	),

	"system node show -instance": crlf(
		"",
		"                          Node: cl-01",
		"                         Owner:",
		"                      Location: rack-12",
		"                         Model: SIMBOX",
		"                 Serial Number: 4082368-50-7",
		"                     Asset Tag: -",
		"                        Uptime: 3 days 02:37",
		"               NVRAM System ID: 4082368507",
	),

	"storage aggregate show -instance": crlf(
		"",
		"                                         Aggregate: aggr0",
		"                                      Storage Type: hdd",
		"                                       UUID String: a71b1e4f-7d4a-4cfc-8c0a-3b0a9fd6a9d1",
		"                                              Size: 10GB",
		"                                         Used Size: 8GB",
		"                                    Available Size: 2GB",
		"                                             State: online",
		"",
		"                                         Aggregate: aggr1",
		"                                      Storage Type: hdd",
		"                                       UUID String: 5d1f3a22-8c3e-4f4e-9a57-2b9d1c8e7f60",
		"                                              Size: 1TB",
		"                                         Used Size: 256GB",
		"                                    Available Size: 768GB",
		"                                             State: online",
		"2 entries were displayed.",
	),

	"storage pool show -instance": crlf(
		"",
		"                      Storage Pool Name: sp1",
		"                  UUID of Storage Pool: 0ad7c6b2-4a1e-4aa4-8ee3-0cbd7d7ad8f1",
		"               Nodes Sharing the Storage Pool: cl-01",
		"                      Is Pool Healthy?: true",
		"                   State of the Storage Pool: normal",
		"                  Storage Pool Total Size: 100GB",
		"                 Storage Pool Usable Size: 60GB",
	),

	"lun show -instance": crlf(
		"",
		"              Vserver Name: svm1",
		"                  LUN Path: /vol/vol1/lun1",
		"               Volume Name: vol1",
		"                Qtree Name: \"\"",
		"                  LUN Name: lun1",
		"                  LUN Size: 5GB",
		"                   OS Type: linux",
		"          Space Allocation: enabled",
		"                     State: online",
		"                  LUN UUID: 0c1a8f7e-2b8d-4d3c-9e65-6a3b1f0c2d11",
		"                 Used Size: 1GB",
		"",
		"              Vserver Name: svm1",
		"                  LUN Path: /vol/archive/lun2",
		"               Volume Name: archive",
		"                Qtree Name: \"\"",
		"                  LUN Name: lun2",
		"                  LUN Size: 2GB",
		"                   OS Type: linux",
		"          Space Allocation: disabled",
		"                     State: offline",
		"                  LUN UUID: 7f3e9a10-51c4-4b8e-a1d2-93c7e4b6f0a5",
		"                 Used Size: 512MB",
		"2 entries were displayed.",
	),

	"volume show -instance": crlf(
		"",
		"                                   Vserver Name: svm1",
		"                                    Volume Name: vol1",
		"                                 Aggregate Name: aggr1",
		"                                    Volume Size: 20GB",
		"                                      Used Size: 5GB",
		"                                   Volume State: online",
		"                                  SnapLock Type: non-snaplock",
		"                   Space Saved by Deduplication: 0B",
		"          Volume Contains Shared or Compressed Data: false",
		"",
		"                                   Vserver Name: svm1",
		"                                    Volume Name: vol2",
		"                                 Aggregate Name: aggr0",
		"                                    Volume Size: 2GB",
		"                                      Used Size: 512MB",
		"                                   Volume State: offline",
		"                                  SnapLock Type: compliance",
		"                   Space Saved by Deduplication: 12MB",
		"          Volume Contains Shared or Compressed Data: true",
		"",
		"                                   Vserver Name: cl-01",
		"                                    Volume Name: vol0",
		"                                 Aggregate Name: aggr9",
		"                                    Volume Size: 1GB",
		"                                      Used Size: 900MB",
		"                                   Volume State: online",
		"                                  SnapLock Type: non-snaplock",
		"                   Space Saved by Deduplication: 0B",
		"          Volume Contains Shared or Compressed Data: false",
		"3 entries were displayed.",
	),

	"volume show -space-guarantee none": crlf(
		"Vserver   Volume       Aggregate    State      Type       Size  Available Used%",
		"--------- ------------ ------------ ---------- ---- ---------- ---------- -----",
		"svm1      vol1         aggr1        online     RW         20GB    15.00GB   25%",
	),

	"storage disk show -instance": crlf(
		"",
		"                  Disk: NET-1.1",
		"        Container Type: aggregate",
		"            Owner/Home: cl-01 / cl-01",
		"                Vendor: NETAPP",
		"                 Model: VD-1000MB-FZ-520",
		"         Serial Number: 07294300",
		"         Physical Size: 1GB",
		"             Aggregate: aggr0",
		"                Errors: -",
		"",
		"                  Disk: NET-1.2",
		"        Container Type: spare",
		"            Owner/Home: cl-01 / cl-01",
		"                Vendor: NETAPP",
		"                 Model: VD-1000MB-FZ-520",
		"         Serial Number: 07294301",
		"         Physical Size: 1GB",
		"             Aggregate: -",
		"                Errors: disk failure predicted",
		"",
		"                  Disk: NET-1.3",
		"        Container Type: broken",
		"            Owner/Home: cl-01 / cl-01",
		"                Vendor: NETAPP",
		"                 Model: VD-2000MB-FZ-520",
		"         Serial Number: 07294302",
		"         Physical Size: 2GB",
		"             Aggregate: -",
		"3 entries were displayed.",
	),

	"storage disk show -physical": crlf(
		"Disk             Type    Vendor   Model                Revision     RPM     BPS",
		"---------------- ------- -------- -------------------- -------- ------- -------",
		"NET-1.1          FCAL    NETAPP   VD-1000MB-FZ-520     0042       15000     520",
		"NET-1.2          SSD     NETAPP   VD-1000MB-FZ-520     0042           -     520",
		"2 entries were displayed.",
	),

	"event log show -detail": crlf(
		"",
		"                  Node: cl-01",
		"             Sequence#: 2077",
		"                  Time: 3/4/2021 10:20:30",
		"              Severity: ALERT",
		"                Source: apache",
		"          Message Name: mgmtgwd.rootvol.recovery.changed",
		"                 Event: mgmtgwd.rootvol.recovery.changed: The System Configuration Recovery state changed.",
		"",
		"                  Node: cl-01",
		"             Sequence#: 2081",
		"                  Time: 3/9/2021 08:00:00",
		"              Severity: NOTICE",
		"                Source: raid",
		"          Message Name: raid.disk.predictiveFailure",
		"                 Event: raid.disk.predictiveFailure: Disk NET-1.2 reported a predictive failure.",
		"2 entries were displayed.",
	),

	"system health alert show -instance": crlf(
		"",
		"                  Node: cl-01",
		"               Monitor: node-connect",
		"              Alert ID: DualPathToDiskShelf_Alert",
		"     Alerting Resource: 50:05:0c:c1:02:00:0f:02",
		"             Subsystem: SAS-connect",
		"       Indication Time: Mon Mar 08 10:20:30 2021",
		"    Perceived Severity: Major",
		"        Probable Cause: Connection_establishment_error",
		"           Description: Disk shelf 2 does not have two paths to controller cl-01.",
		"Alerting Resource Name: Shelf ID 2",
	),
}

// Fixture alert times in Unix seconds
const (
	FixtureEvent1Time = int64(1614853230) // 2021-03-04 10:20:30 UTC
	FixtureAlertTime  = int64(1615198830) // 2021-03-08 10:20:30 UTC
	FixtureEvent2Time = int64(1615276800) // 2021-03-09 08:00:00 UTC
)
