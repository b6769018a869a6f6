package e2e

import (
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"git.srvlab.io/whiskey/arraysync/pkg/lock"
	"git.srvlab.io/whiskey/arraysync/pkg/model"
	"git.srvlab.io/whiskey/arraysync/pkg/scheduler"
	"git.srvlab.io/whiskey/arraysync/pkg/task"
)

var _ = Describe("Concurrent operations", Ordered, func() {
	const arrays = 5
	var storageIDs []string

	BeforeAll(func() {
		for i := 0; i < arrays; i++ {
			storage, err := manager.RegisterStorage(ctx, fakeRegistration(fmt.Sprintf("lab-%d", i), 2, 4, 3, 1))
			Expect(err).NotTo(HaveOccurred())
			storageIDs = append(storageIDs, storage.ID)
		}
	})

	AfterAll(func() {
		for _, id := range storageIDs {
			removeStorage(id)
		}
	})

	It("registers the same array once when asked concurrently", func() {
		info := fakeRegistration("racing", 1, 1, 1, 1)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created []*model.Storage
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				storage, err := manager.RegisterStorage(ctx, info)
				if err == nil {
					mu.Lock()
					created = append(created, storage)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		Expect(created).To(HaveLen(1))
		storageIDs = append(storageIDs, created[0].ID)
	})

	It("converges when several syncs of all arrays overlap", func() {
		var wg sync.WaitGroup
		errs := make(chan error, 3)
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				errs <- sched.RunOnce(ctx)
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			Expect(err).NotTo(HaveOccurred())
		}

		for _, id := range storageIDs[:arrays] {
			Expect(resourceCounts(id)).To(Equal([4]int{2, 4, 3, 1}), "array %s", id)
		}
	})

	It("picks up a new array in the background loop", func() {
		background := scheduler.New(scheduler.Config{
			Interval: 200 * time.Millisecond,
			Workers:  2,
			Kinds:    []task.Kind{task.KindPools},
		}, store, manager, lock.NewLocalLocker(time.Minute, nil), task.Deps{Exporter: exported})
		background.Start(ctx)
		defer background.Stop()

		storage, err := manager.RegisterStorage(ctx, fakeRegistration("late", 3, 1, 1, 1))
		Expect(err).NotTo(HaveOccurred())
		storageIDs = append(storageIDs, storage.ID)

		Eventually(func() [4]int {
			return resourceCounts(storage.ID)
		}, defaultTimeout, pollInterval).Should(Equal([4]int{3, 0, 0, 0}))
	})

	It("keeps one driver per array in the cache", func() {
		Expect(manager.CachedIDs()).To(ContainElements(storageIDs))
	})
})
