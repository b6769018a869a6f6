package e2e

import (
	"context"
	"fmt"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"k8s.io/klog/v2"
	testclock "k8s.io/utils/clock/testing"

	"git.srvlab.io/whiskey/arraysync/pkg/alert"
	"git.srvlab.io/whiskey/arraysync/pkg/db"
	"git.srvlab.io/whiskey/arraysync/pkg/drivers"
	"git.srvlab.io/whiskey/arraysync/pkg/lock"
	"git.srvlab.io/whiskey/arraysync/pkg/observability"
	"git.srvlab.io/whiskey/arraysync/pkg/scheduler"
	"git.srvlab.io/whiskey/arraysync/pkg/security"
	"git.srvlab.io/whiskey/arraysync/pkg/task"
	"git.srvlab.io/whiskey/arraysync/pkg/transport"
	"git.srvlab.io/whiskey/arraysync/test/mock"
)

// Suite-level variables
var (
	testRunID string
	mockONTAP *mock.MockONTAPServer
	store     *db.Store
	cryptor   *security.Cryptor
	metrics   *observability.Metrics
	fakeClock *testclock.FakeClock
	manager   *drivers.Manager
	exported  *collectingExporter
	sched     *scheduler.Scheduler
	processor *alert.Processor
	ctx       context.Context
	cancel    context.CancelFunc
)

// TestE2E is the entry point for the Ginkgo test suite
func TestE2E(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "arraysync E2E Suite")
}

var _ = BeforeSuite(func() {
	klog.SetOutput(GinkgoWriter)

	testRunID = fmt.Sprintf("e2e-%d", time.Now().Unix())
	klog.Infof("Starting E2E test suite with testRunID=%s", testRunID)

	By("Starting mock ONTAP server")
	var err error
	mockONTAP, err = mock.NewMockONTAPServer(0, ontapUser, ontapPassword)
	Expect(err).NotTo(HaveOccurred(), "Failed to create mock ONTAP server")
	Expect(mockONTAP.Start()).To(Succeed(), "Failed to start mock ONTAP server")
	klog.Infof("Mock ONTAP server started on %s:%d", mockONTAP.Address(), mockONTAP.Port())

	By("Opening the in-memory store")
	store, err = db.OpenStore(db.MemoryPath)
	Expect(err).NotTo(HaveOccurred())
	cryptor, err = security.NewCryptor([]byte(testRunID))
	Expect(err).NotTo(HaveOccurred())

	// Shortly after the last fixture event so the alert window holds known entries
	fakeClock = testclock.NewFakeClock(time.Unix(mock.FixtureEvent2Time+60, 0))
	metrics = observability.NewMetrics()

	By("Creating the driver manager")
	manager = drivers.NewManager(store, cryptor,
		drivers.WithMetrics(metrics),
		drivers.WithClock(fakeClock),
		drivers.WithTransport(transport.PoolConfig{MaxSize: 2, MaxIdle: 2, IdleTimeout: time.Minute}, 5*time.Second, true),
	)

	By("Creating the scheduler")
	exported = &collectingExporter{}
	sched = scheduler.New(scheduler.Config{
		Workers:  4,
		LockWait: 30 * time.Second,
	}, store, manager, lock.NewLocalLocker(time.Minute, nil), task.Deps{
		Exporter:    alert.MultiExporter{exported, alert.MetricsExporter{Metrics: metrics}},
		Clock:       fakeClock,
		AlertWindow: alertWindow,
	}, scheduler.WithMetrics(metrics))

	processor = alert.NewProcessor(store, manager, cryptor, exported, metrics)

	ctx, cancel = context.WithTimeout(context.Background(), 2*time.Minute)

	klog.Infof("E2E suite setup complete")
})

var _ = AfterSuite(func() {
	By("Cleaning up test suite")

	if sched != nil && store != nil && ctx != nil {
		By("Removing registered arrays")
		storages, err := store.Storages.GetAll(ctx, db.Query{})
		if err == nil {
			for _, s := range storages {
				klog.Infof("Cleaning up array: %s", s.ID)
				_ = sched.RemoveStorage(ctx, s.ID)
			}
		}
	}

	if manager != nil {
		manager.Close()
	}
	if store != nil {
		_ = store.Close()
	}
	if cancel != nil {
		cancel()
	}

	if mockONTAP != nil {
		By("Stopping mock ONTAP server")
		Expect(mockONTAP.Stop()).To(Succeed(), "Failed to stop mock ONTAP server")
	}

	klog.Infof("E2E suite cleanup complete")
})

var _ = Describe("E2E Suite Sanity", func() {
	It("should have valid test infrastructure", func() {
		Expect(testRunID).NotTo(BeEmpty(), "testRunID should be set")
		Expect(mockONTAP).NotTo(BeNil(), "mockONTAP should be initialized")
		Expect(store.Ping(ctx)).To(Succeed())
		Expect(drivers.SupportedKeys(drivers.DefaultFactories())).To(ContainElements("netapp_cmode", "fake_storage"))
	})
})
