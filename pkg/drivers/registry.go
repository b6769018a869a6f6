package drivers

import (
	"sort"
	"time"

	"k8s.io/utils/clock"

	"git.srvlab.io/whiskey/arraysync/pkg/drivers/fake"
	"git.srvlab.io/whiskey/arraysync/pkg/drivers/netapp"
	"git.srvlab.io/whiskey/arraysync/pkg/model"
	"git.srvlab.io/whiskey/arraysync/pkg/transport"
	"git.srvlab.io/whiskey/arraysync/pkg/utils"
)

// Options is everything a Factory needs to build a driver
type Options struct {
	// Access carries the plaintext password
	Access model.AccessInfo

	// Pool tunes the session pool of CLI based drivers
	Pool transport.PoolConfig

	// CommandTimeout bounds each remote command
	CommandTimeout time.Duration

	// InsecureSkipVerify disables SSH host key pinning
	InsecureSkipVerify bool

	// Clock timestamps parsed traps
	Clock clock.PassiveClock
}

// Factory builds an unconnected driver
type Factory func(opts Options) (Driver, error)

// DefaultFactories is the driver class registry keyed by "manufacturer_model"
func DefaultFactories() map[string]Factory {
	return map[string]Factory{
		"netapp_cmode": NewNetAppDriver,
		"fake_storage": NewFakeDriver,
	}
}

// NewNetAppDriver builds a clustered ONTAP driver over an SSH session pool
func NewNetAppDriver(opts Options) (Driver, error) {
	pool, err := transport.NewSessionPool(transport.Config{
		Host:               opts.Access.Host,
		Port:               opts.Access.Port,
		Username:           opts.Access.Username,
		Password:           opts.Access.Password,
		InsecureSkipVerify: opts.InsecureSkipVerify,
		CommandTimeout:     opts.CommandTimeout,
	}, opts.Pool)
	if err != nil {
		return nil, err
	}

	var driverOpts []netapp.Option
	if opts.Clock != nil {
		driverOpts = append(driverOpts, netapp.WithClock(opts.Clock))
	}
	return netapp.New(pool, driverOpts...), nil
}

// NewFakeDriver builds the fabricated driver from the registration extras
func NewFakeDriver(opts Options) (Driver, error) {
	cfg, err := fake.ConfigFromExtra(opts.Access.Host, opts.Access.Extra)
	if err != nil {
		return nil, utils.NewParseError("fake driver", "extra", err)
	}
	return fake.New(cfg, opts.Clock), nil
}

// SupportedKeys lists the keys of factories, sorted
func SupportedKeys(factories map[string]Factory) []string {
	keys := make([]string, 0, len(factories))
	for k := range factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
