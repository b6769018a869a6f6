package e2e

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	. "github.com/onsi/gomega"

	"git.srvlab.io/whiskey/arraysync/pkg/db"
	"git.srvlab.io/whiskey/arraysync/pkg/drivers/fake"
	"git.srvlab.io/whiskey/arraysync/pkg/model"
)

// Constants for test configuration
const (
	ontapUser      = "admin"
	ontapPassword  = "netapp1!"
	defaultTimeout = 30 * time.Second
	pollInterval   = 100 * time.Millisecond

	// alertWindow reaches back past the health alert but not the oldest event
	alertWindow = 72 * time.Hour
)

// collectingExporter keeps every exported alert
type collectingExporter struct {
	mu     sync.Mutex
	alerts []model.Alert
}

func (c *collectingExporter) Export(_ context.Context, a model.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return nil
}

// For returns the alerts exported for storageID
func (c *collectingExporter) For(storageID string) []model.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.Alert
	for _, a := range c.alerts {
		if a.StorageID == storageID {
			out = append(out, a)
		}
	}
	return out
}

func (c *collectingExporter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = nil
}

// ontapRegistration points at the mock ONTAP server
func ontapRegistration() model.RegistrationInfo {
	return model.RegistrationInfo{
		Manufacturer: "netapp",
		Model:        "cmode",
		Host:         mockONTAP.Address(),
		Port:         mockONTAP.Port(),
		Username:     ontapUser,
		Password:     ontapPassword,
	}
}

// fakeRegistration creates a fabricated array unique to this test run
func fakeRegistration(name string, pools, volumes, disks, filesystems int) model.RegistrationInfo {
	return model.RegistrationInfo{
		Manufacturer: fake.Vendor,
		Model:        fake.Model,
		Host:         fmt.Sprintf("%s-%s", testRunID, name),
		Port:         22,
		Username:     "user",
		Password:     "secret",
		Extra: map[string]string{
			fake.ExtraPools:       strconv.Itoa(pools),
			fake.ExtraVolumes:     strconv.Itoa(volumes),
			fake.ExtraDisks:       strconv.Itoa(disks),
			fake.ExtraFilesystems: strconv.Itoa(filesystems),
		},
	}
}

// byStorage filters on the owning array
func byStorage(storageID string) db.Query {
	return db.Query{Filters: map[string]any{"storage_id": storageID}}
}

// resourceCounts returns how many pools, volumes, disks and filesystems the
// store holds for storageID
func resourceCounts(storageID string) [4]int {
	q := byStorage(storageID)
	pools, err := store.Pools.GetAll(ctx, q)
	Expect(err).NotTo(HaveOccurred())
	volumes, err := store.Volumes.GetAll(ctx, q)
	Expect(err).NotTo(HaveOccurred())
	disks, err := store.Disks.GetAll(ctx, q)
	Expect(err).NotTo(HaveOccurred())
	filesystems, err := store.Filesystems.GetAll(ctx, q)
	Expect(err).NotTo(HaveOccurred())
	return [4]int{len(pools), len(volumes), len(disks), len(filesystems)}
}

// poolIDs returns the record ids of the pools of storageID keyed by native id
func poolIDs(storageID string) map[string]string {
	pools, err := store.Pools.GetAll(ctx, byStorage(storageID))
	Expect(err).NotTo(HaveOccurred())
	ids := make(map[string]string, len(pools))
	for _, p := range pools {
		ids[p.NativeStoragePoolID] = p.ID
	}
	return ids
}

// removeStorage removes storageID and waits until nothing references it
func removeStorage(storageID string) {
	Expect(sched.RemoveStorage(ctx, storageID)).To(Succeed())
	Eventually(func() [4]int {
		return resourceCounts(storageID)
	}, defaultTimeout, pollInterval).Should(Equal([4]int{}))
	_, err := store.Storages.Get(ctx, storageID)
	Expect(err).To(MatchError(db.ErrNotFound))
}
