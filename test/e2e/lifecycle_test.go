package e2e

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"git.srvlab.io/whiskey/arraysync/pkg/alert"
	"git.srvlab.io/whiskey/arraysync/pkg/drivers/netapp"
	"git.srvlab.io/whiskey/arraysync/pkg/model"
	"git.srvlab.io/whiskey/arraysync/pkg/utils"
	"git.srvlab.io/whiskey/arraysync/test/mock"
)

var _ = Describe("ONTAP array lifecycle", Ordered, func() {
	var storageID string

	BeforeAll(func() {
		exported.Reset()
		mockONTAP.ClearCommandHistory()
	})

	AfterAll(func() {
		if storageID != "" {
			removeStorage(storageID)
		}
	})

	It("registers the array", func() {
		storage, err := manager.RegisterStorage(ctx, ontapRegistration())
		Expect(err).NotTo(HaveOccurred())
		storageID = storage.ID

		Expect(storage.Name).To(Equal(mock.FixtureClusterName))
		Expect(storage.SerialNumber).To(Equal(mock.FixtureSerialNumber))
		Expect(storage.TotalCapacity).To(Equal(mock.FixturePoolTotal))
		Expect(storage.SyncStatus).To(Equal(model.SyncStatusSynced))

		access, err := store.AccessInfoFor(ctx, storageID)
		Expect(err).NotTo(HaveOccurred())
		Expect(access.Password).NotTo(Equal(ontapPassword), "password must be stored encoded")
		Expect(manager.CachedIDs()).To(ContainElement(storageID))
	})

	It("rejects a second registration of the same array", func() {
		_, err := manager.RegisterStorage(ctx, ontapRegistration())
		Expect(err).To(MatchError(utils.ErrStorageExists))
	})

	It("syncs every resource kind", func() {
		Expect(sched.RunOnce(ctx, storageID)).To(Succeed())

		counts := resourceCounts(storageID)
		Expect(counts[0]).To(Equal(mock.FixturePoolCount))
		Expect(counts[1]).To(BeNumerically(">", 0), "volumes")
		Expect(counts[2]).To(BeNumerically(">", 0), "disks")

		storage, err := store.Storages.Get(ctx, storageID)
		Expect(err).NotTo(HaveOccurred())
		Expect(storage.SyncStatus).To(Equal(model.SyncStatusSynced))
		Expect(storage.UsedCapacity).To(Equal(mock.FixturePoolUsed))
	})

	It("exports the alerts inside the window", func() {
		alerts := exported.For(storageID)
		Expect(alerts).To(HaveLen(2))
		for _, a := range alerts {
			Expect(a.StorageName).To(Equal(mock.FixtureClusterName))
			Expect(a.OccurTime).To(BeNumerically(">", mock.FixtureEvent1Time))
		}
	})

	It("keeps record ids stable across syncs", func() {
		before := poolIDs(storageID)
		Expect(sched.RunOnce(ctx, storageID)).To(Succeed())
		Expect(poolIDs(storageID)).To(Equal(before))
	})

	It("turns a trap into an alert of the array", func() {
		_, err := manager.SetAlertSource(ctx, model.AlertSource{
			StorageID: storageID,
			Host:      mockONTAP.Address(),
			Version:   "2c",
			Community: "public",
		})
		Expect(err).NotTo(HaveOccurred())
		exported.Reset()

		trap := map[string]string{netapp.OIDTrapData: mock.FixtureTrapData}
		Expect(processor.Process(ctx, mockONTAP.Address(), "public", trap)).To(Succeed())

		alerts := exported.For(storageID)
		Expect(alerts).To(HaveLen(1))
		Expect(alerts[0].AlertName).To(Equal("raid.vol.failed"))
		Expect(alerts[0].StorageName).To(Equal(mock.FixtureClusterName))

		Expect(processor.Process(ctx, mockONTAP.Address(), "private", trap)).To(MatchError(alert.ErrCommunityMismatch))
		Expect(processor.Process(ctx, "192.0.2.99", "public", trap)).To(MatchError(alert.ErrUnknownSource))
		Expect(exported.For(storageID)).To(HaveLen(1))
	})

	It("clears a health alert on the array", func() {
		Expect(processor.ClearAlert(ctx, storageID, "DualPathToDiskShelf_Alert")).To(Succeed())
		Expect(mockONTAP.CommandCount("system health alert delete -alert-id DualPathToDiskShelf_Alert")).To(Equal(1))
	})

	It("removes the array and everything collected from it", func() {
		removeStorage(storageID)
		Expect(manager.CachedIDs()).NotTo(ContainElement(storageID))
		_, err := store.AccessInfoFor(ctx, storageID)
		Expect(err).To(HaveOccurred())
		storageID = ""
	})
})
