package model

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
)

// AlertSeverity is the canonical severity of an alert
type AlertSeverity string

const (
	SeverityFatal         AlertSeverity = "Fatal"
	SeverityCritical      AlertSeverity = "Critical"
	SeverityMajor         AlertSeverity = "Major"
	SeverityMinor         AlertSeverity = "Minor"
	SeverityWarning       AlertSeverity = "Warning"
	SeverityInformational AlertSeverity = "Informational"
	SeverityNotSpecified  AlertSeverity = "NotSpecified"
)

// AlertCategory distinguishes standing faults from one-off events
type AlertCategory string

const (
	CategoryFault    AlertCategory = "Fault"
	CategoryEvent    AlertCategory = "Event"
	CategoryRecovery AlertCategory = "Recovery"
)

// AlertType is the kind of condition an alert reports
type AlertType string

const (
	TypeEquipmentAlarm        AlertType = "EquipmentAlarm"
	TypeCommunicationsAlarm   AlertType = "CommunicationsAlarm"
	TypeProcessingErrorAlarm  AlertType = "ProcessingErrorAlarm"
	TypeQualityOfServiceAlarm AlertType = "QualityOfServiceAlarm"
	TypeEnvironmentalAlarm    AlertType = "EnvironmentalAlarm"
	TypeSecurityAlarm         AlertType = "SecurityAlarm"
	TypeNotSpecified          AlertType = "NotSpecified"
)

// Alert is a canonical fault or event reported by an array. OccurTime is Unix
// seconds. MatchKey identifies the same fault occurrence across sources.
type Alert struct {
	AlertID      string        `json:"alert_id"`
	AlertName    string        `json:"alert_name"`
	Severity     AlertSeverity `json:"severity"`
	Category     AlertCategory `json:"category"`
	Type         AlertType     `json:"type"`
	OccurTime    int64         `json:"occur_time"`
	Description  string        `json:"description"`
	MatchKey     string        `json:"match_key"`
	ResourceType string        `json:"resource_type"`
	Location     string        `json:"location"`
	StorageID    string        `json:"storage_id"`
	StorageName  string        `json:"storage_name"`
	Vendor       string        `json:"vendor"`
	Model        string        `json:"model"`
}

// IsEmpty reports whether a is the empty sentinel returned for traps that
// carry no alert worth reporting
func (a *Alert) IsEmpty() bool {
	return a == nil || (a.AlertID == "" && a.AlertName == "" && a.MatchKey == "")
}

// AlertQuery bounds a ListAlerts call to [BeginTime, EndTime] in Unix seconds.
// A zero bound is open.
type AlertQuery struct {
	BeginTime int64 `json:"begin_time"`
	EndTime   int64 `json:"end_time"`
}

// ResourceType values used on alerts
const (
	ResourceStorage = "Storage"
)

// MatchKey is the md5 hex digest of a natural alert identifier followed by the
// decimal occurrence time. Two reports of the same fault in the same second
// share a key.
func MatchKey(naturalID string, occurTime int64) string {
	sum := md5.Sum([]byte(naturalID + strconv.FormatInt(occurTime, 10)))
	return hex.EncodeToString(sum[:])
}
