package alert

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/arraysync/pkg/db"
	"git.srvlab.io/whiskey/arraysync/pkg/drivers"
	"git.srvlab.io/whiskey/arraysync/pkg/model"
	"git.srvlab.io/whiskey/arraysync/pkg/observability"
	"git.srvlab.io/whiskey/arraysync/pkg/security"
)

// Trap outcomes, as counted in metrics
const (
	OutcomeAccepted = "accepted"
	OutcomeIgnored  = "ignored"
	OutcomeDenied   = "denied"
	OutcomeFailed   = "failed"
)

var (
	// ErrUnknownSource is returned for traps from a host with no alert source
	ErrUnknownSource = errors.New("trap from unknown source")

	// ErrCommunityMismatch is returned when a trap's community does not match
	// the one registered for its source
	ErrCommunityMismatch = errors.New("trap community mismatch")
)

// Drivers is the part of drivers.Manager the processor needs
type Drivers interface {
	GetDriver(ctx context.Context, storageID string) (drivers.Driver, error)
	ParseAlert(ctx context.Context, storageID string, trap map[string]string) (*model.Alert, error)
}

// Processor turns inbound traps into exported alerts
type Processor struct {
	store    *db.Store
	drivers  Drivers
	cryptor  *security.Cryptor
	exporter Exporter
	metrics  *observability.Metrics
}

// NewProcessor creates a Processor. metrics may be nil.
func NewProcessor(store *db.Store, drv Drivers, cryptor *security.Cryptor, exporter Exporter, metrics *observability.Metrics) *Processor {
	return &Processor{
		store:    store,
		drivers:  drv,
		cryptor:  cryptor,
		exporter: exporter,
		metrics:  metrics,
	}
}

func (p *Processor) record(outcome string) {
	if p.metrics != nil {
		p.metrics.RecordTrapReceived(outcome)
	}
}

// Process handles one trap sent by sourceHost. community is the SNMP
// community of the trap and is ignored for SNMPv3 sources. Traps the driver
// does not report are dropped without error.
func (p *Processor) Process(ctx context.Context, sourceHost, community string, trap map[string]string) error {
	logger := security.GetLogger()

	source, err := p.store.AlertSourceForHost(ctx, sourceHost)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			logger.LogTrap(sourceHost, "", false, "no alert source")
			p.record(OutcomeDenied)
			return fmt.Errorf("%w: %s", ErrUnknownSource, sourceHost)
		}
		p.record(OutcomeFailed)
		return err
	}

	if source.Version != "3" {
		expected, err := p.cryptor.Decode(source.Community)
		if err != nil {
			p.record(OutcomeFailed)
			return err
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(community)) != 1 {
			logger.LogTrap(sourceHost, source.StorageID, false, "community mismatch")
			p.record(OutcomeDenied)
			return ErrCommunityMismatch
		}
	}

	alert, err := p.drivers.ParseAlert(ctx, source.StorageID, trap)
	if err != nil {
		p.record(OutcomeFailed)
		return fmt.Errorf("failed to parse trap from %s: %w", sourceHost, err)
	}
	if alert.IsEmpty() {
		klog.V(4).Infof("Ignoring trap from %s: not an alert", sourceHost)
		p.record(OutcomeIgnored)
		return nil
	}

	if err := p.fill(ctx, alert); err != nil {
		p.record(OutcomeFailed)
		return err
	}

	logger.LogTrap(sourceHost, source.StorageID, true, alert.AlertName)
	p.record(OutcomeAccepted)
	return p.exporter.Export(ctx, *alert)
}

// fill copies the storage identity onto alert
func (p *Processor) fill(ctx context.Context, alert *model.Alert) error {
	storage, err := p.store.Storages.Get(ctx, alert.StorageID)
	if err != nil {
		return fmt.Errorf("failed to load storage %s: %w", alert.StorageID, err)
	}
	alert.StorageName = storage.Name
	alert.Vendor = storage.Vendor
	alert.Model = storage.Model
	return nil
}

// ClearAlert removes alertID on the array of storageID
func (p *Processor) ClearAlert(ctx context.Context, storageID, alertID string) error {
	driver, err := p.drivers.GetDriver(ctx, storageID)
	if err == nil {
		err = driver.ClearAlert(ctx, &model.Alert{AlertID: alertID, StorageID: storageID})
	}
	security.GetLogger().LogAlertCleared(storageID, alertID, err)
	return err
}
