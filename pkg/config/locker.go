package config

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"git.srvlab.io/whiskey/arraysync/pkg/lock"
)

// NewLocker builds the configured lock backend. The database backend keeps
// its leases in leases, the store every process of this manager opens. The
// lease backend reads Lock.Kubeconfig, or the in-cluster config when it is
// empty.
func (c *Config) NewLocker(leases lock.LeaseStore) (lock.Locker, error) {
	hostname, _ := os.Hostname()
	holder := hostname + "_" + uuid.NewString()

	switch c.Lock.Backend {
	case LockBackendDatabase, "":
		if leases == nil {
			return nil, fmt.Errorf("lock backend %q needs the manager database", LockBackendDatabase)
		}
		return lock.NewStoreLocker(leases, holder, c.Lock.LeaseDuration, nil), nil
	case LockBackendLocal:
		return lock.NewLocalLocker(c.Lock.LeaseDuration, nil), nil
	case LockBackendLease:
	default:
		return nil, fmt.Errorf("unknown lock backend %q", c.Lock.Backend)
	}

	var restConfig *rest.Config
	var err error
	if c.Lock.Kubeconfig != "" {
		restConfig, err = clientcmd.BuildConfigFromFlags("", c.Lock.Kubeconfig)
	} else {
		restConfig, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load Kubernetes config: %w", err)
	}
	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}

	return lock.NewLeaseLocker(client, c.Lock.LeaseNamespace, holder, c.Lock.LeaseDuration, nil), nil
}
