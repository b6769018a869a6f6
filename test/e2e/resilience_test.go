package e2e

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"git.srvlab.io/whiskey/arraysync/pkg/model"
	"git.srvlab.io/whiskey/arraysync/pkg/utils"
	"git.srvlab.io/whiskey/arraysync/test/mock"
)

var _ = Describe("Resilience", Ordered, func() {
	var storageID string

	BeforeAll(func() {
		storage, err := manager.RegisterStorage(ctx, ontapRegistration())
		Expect(err).NotTo(HaveOccurred())
		storageID = storage.ID
		Expect(sched.RunOnce(ctx, storageID)).To(Succeed())
	})

	AfterAll(func() {
		mockONTAP.ErrorInjector().SetMode(mock.ErrorModeNone, 0)
		if storageID != "" {
			removeStorage(storageID)
		}
	})

	It("keeps the collected records when the array answers with errors", func() {
		before := resourceCounts(storageID)
		Expect(before[0]).To(Equal(mock.FixturePoolCount))

		mockONTAP.ErrorInjector().SetMode(mock.ErrorModeCommandFail, 0)
		Expect(sched.RunOnce(ctx, storageID)).NotTo(Succeed())
		Expect(resourceCounts(storageID)).To(Equal(before))

		storage, err := store.Storages.Get(ctx, storageID)
		Expect(err).NotTo(HaveOccurred())
		Expect(storage.SyncStatus).To(Equal(model.SyncStatusSynced), "a failed sync must not leave the array syncing")
	})

	It("recovers once the array answers again", func() {
		mockONTAP.ErrorInjector().SetMode(mock.ErrorModeNone, 0)
		Expect(sched.RunOnce(ctx, storageID)).To(Succeed())
		Expect(resourceCounts(storageID)[0]).To(Equal(mock.FixturePoolCount))
	})

	It("logs in again after the driver was evicted", func() {
		logins := mockONTAP.Logins()
		manager.RemoveDriver(storageID)
		Expect(manager.CachedIDs()).NotTo(ContainElement(storageID))

		Expect(sched.RunOnce(ctx, storageID)).To(Succeed())
		Expect(mockONTAP.Logins()).To(BeNumerically(">", logins))
		Expect(manager.CachedIDs()).To(ContainElement(storageID))
	})

	It("refuses a rebuilt driver that reaches a different array", func() {
		manager.RemoveDriver(storageID)
		_, err := store.Storages.Update(ctx, storageID, map[string]any{"serial_number": "replaced-array"})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			_, err := store.Storages.Update(ctx, storageID, map[string]any{"serial_number": mock.FixtureSerialNumber})
			Expect(err).NotTo(HaveOccurred())
		})

		_, err = manager.GetDriver(ctx, storageID)
		Expect(err).To(MatchError(utils.ErrSerialMismatch))
	})
})
