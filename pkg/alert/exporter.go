// Package alert routes alerts from arrays to exporters. Alerts arrive either
// as SNMP traps, handled by TrapReceiver and Processor, or from the periodic
// alert sync task.
package alert

import (
	"context"
	"errors"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/arraysync/pkg/model"
	"git.srvlab.io/whiskey/arraysync/pkg/observability"
)

// Exporter delivers a canonical alert to a consumer
type Exporter interface {
	Export(ctx context.Context, alert model.Alert) error
}

// LogExporter writes alerts to the log
type LogExporter struct{}

// Export logs alert at a level that follows its severity
func (LogExporter) Export(_ context.Context, a model.Alert) error {
	switch a.Severity {
	case model.SeverityFatal, model.SeverityCritical, model.SeverityMajor:
		klog.Warningf("Alert %s on storage %s (%s): %s [%s] %s",
			a.AlertName, a.StorageID, a.StorageName, a.Severity, a.MatchKey, a.Description)
	default:
		klog.V(2).Infof("Alert %s on storage %s (%s): %s [%s] %s",
			a.AlertName, a.StorageID, a.StorageName, a.Severity, a.MatchKey, a.Description)
	}
	return nil
}

// MetricsExporter counts alerts by severity
type MetricsExporter struct {
	Metrics *observability.Metrics
}

// Export counts alert
func (e MetricsExporter) Export(_ context.Context, a model.Alert) error {
	if e.Metrics != nil {
		e.Metrics.RecordAlertExported(string(a.Severity))
	}
	return nil
}

// MultiExporter hands every alert to each of its exporters. All exporters are
// called even when one fails; the errors are joined.
type MultiExporter []Exporter

// Export fans alert out
func (m MultiExporter) Export(ctx context.Context, a model.Alert) error {
	var errs []error
	for _, e := range m {
		if err := e.Export(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
