package netapp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/arraysync/pkg/model"
	"git.srvlab.io/whiskey/arraysync/pkg/utils"
)

// ListAlerts returns the event log entries followed by the health monitor
// alerts, each filtered to the query window. The two sources are not
// de-duplicated against each other.
func (d *Driver) ListAlerts(ctx context.Context, query *model.AlertQuery) ([]model.Alert, error) {
	events, err := d.listEvents(ctx, query)
	if err != nil {
		return nil, fail("list alerts", err)
	}
	alerts, err := d.listHealthAlerts(ctx, query)
	if err != nil {
		return nil, fail("list alerts", err)
	}
	return append(events, alerts...), nil
}

func inQuery(query *model.AlertQuery, ts int64) bool {
	if query == nil {
		return true
	}
	return utils.InWindow(ts, query.BeginTime, query.EndTime)
}

func (d *Driver) listEvents(ctx context.Context, query *model.AlertQuery) ([]model.Alert, error) {
	out, err := d.run(ctx, cmdEventDetail)
	if err != nil {
		return nil, err
	}

	var alerts []model.Alert
	for _, rec := range utils.ParseRecords(out, markerNode) {
		alert, err := parseEvent(rec)
		if err != nil {
			return nil, err
		}
		if inQuery(query, alert.OccurTime) {
			alerts = append(alerts, alert)
		}
	}
	return alerts, nil
}

func parseEvent(rec utils.Record) (model.Alert, error) {
	const op = cmdEventDetail

	seq, err := required(rec, op, "Sequence#")
	if err != nil {
		return model.Alert{}, err
	}
	rawTime, err := required(rec, op, "Time")
	if err != nil {
		return model.Alert{}, err
	}
	name, err := required(rec, op, "MessageName")
	if err != nil {
		return model.Alert{}, err
	}
	occurTime, err := utils.ParseUnixSeconds(eventTimeLayout, rawTime)
	if err != nil {
		return model.Alert{}, utils.NewParseError(op, "Time", err)
	}

	rawSeverity, _ := rec.Get("Severity")
	severity, ok := eventSeverity[strings.ToUpper(rawSeverity)]
	if !ok {
		severity = model.SeverityCritical
	}
	description, _ := rec.Get("Event")
	source, _ := rec.Get("Source")

	return model.Alert{
		AlertID:      seq,
		AlertName:    name,
		Severity:     severity,
		Category:     model.CategoryEvent,
		Type:         model.TypeEquipmentAlarm,
		OccurTime:    occurTime,
		Description:  description,
		MatchKey:     model.MatchKey(seq, occurTime),
		ResourceType: model.ResourceStorage,
		Location:     source,
	}, nil
}

func (d *Driver) listHealthAlerts(ctx context.Context, query *model.AlertQuery) ([]model.Alert, error) {
	out, err := d.run(ctx, cmdAlertDetail)
	if err != nil {
		return nil, err
	}

	var alerts []model.Alert
	for _, rec := range utils.ParseRecords(out, markerNode) {
		alert, err := parseHealthAlert(rec)
		if err != nil {
			return nil, err
		}
		if inQuery(query, alert.OccurTime) {
			alerts = append(alerts, alert)
		}
	}
	return alerts, nil
}

func parseHealthAlert(rec utils.Record) (model.Alert, error) {
	const op = cmdAlertDetail

	id, err := required(rec, op, "AlertID")
	if err != nil {
		return model.Alert{}, err
	}
	rawTime, err := required(rec, op, "IndicationTime")
	if err != nil {
		return model.Alert{}, err
	}
	rawSeverity, err := required(rec, op, "PerceivedSeverity")
	if err != nil {
		return model.Alert{}, err
	}
	occurTime, err := utils.ParseUnixSeconds(alertTimeLayout, rawTime)
	if err != nil {
		return model.Alert{}, utils.NewParseError(op, "IndicationTime", err)
	}
	severity, ok := alertSeverity[rawSeverity]
	if !ok {
		return model.Alert{}, utils.NewParseError(op, "PerceivedSeverity", fmt.Errorf("unknown severity %q", rawSeverity))
	}

	name, _ := rec.Get("ProbableCause")
	description, _ := rec.Get("Description")
	location, _ := rec.Get("AlertingResourceName")

	return model.Alert{
		AlertID:      id,
		AlertName:    name,
		Severity:     severity,
		Category:     model.CategoryFault,
		Type:         model.TypeEquipmentAlarm,
		OccurTime:    occurTime,
		Description:  description,
		MatchKey:     model.MatchKey(id, occurTime),
		ResourceType: model.ResourceStorage,
		Location:     location,
	}, nil
}

// ParseAlert turns a trap varbind map into an alert. A trap naming an alert
// this driver does not report yields the empty alert and no error. The
// occurrence time is the time of parsing.
func (d *Driver) ParseAlert(_ context.Context, trap map[string]string) (*model.Alert, error) {
	const op = "parse alert"

	data, ok := trap[OIDTrapData]
	if !ok {
		return nil, utils.NewParseError(op, OIDTrapData, errors.New("trap data missing"))
	}
	name, description, found := strings.Cut(data, ":")
	if !found {
		return nil, utils.NewParseError(op, OIDTrapData, fmt.Errorf("malformed trap data %q", data))
	}
	name = strings.TrimSpace(name)

	severity, known := trapSeverity[name]
	if !known {
		klog.V(4).Infof("netapp: ignoring trap %q", name)
		return &model.Alert{}, nil
	}

	occurTime := d.clock.Now().Unix()
	return &model.Alert{
		AlertID:      name,
		AlertName:    name,
		Severity:     severity,
		Category:     model.CategoryEvent,
		Type:         model.TypeEquipmentAlarm,
		OccurTime:    occurTime,
		Description:  strings.TrimSpace(description),
		MatchKey:     model.MatchKey(data, occurTime),
		ResourceType: model.ResourceStorage,
	}, nil
}
