package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/arraysync/pkg/alert"
	"git.srvlab.io/whiskey/arraysync/pkg/config"
	"git.srvlab.io/whiskey/arraysync/pkg/db"
	"git.srvlab.io/whiskey/arraysync/pkg/drivers"
	"git.srvlab.io/whiskey/arraysync/pkg/health"
	"git.srvlab.io/whiskey/arraysync/pkg/observability"
	"git.srvlab.io/whiskey/arraysync/pkg/scheduler"
	"git.srvlab.io/whiskey/arraysync/pkg/security"
	"git.srvlab.io/whiskey/arraysync/pkg/task"
	"git.srvlab.io/whiskey/arraysync/pkg/transport"
)

var (
	configFile = flag.String("config", "", "Path to the YAML config file (default "+config.DefaultPath+" when present)")

	// Overrides of config file settings
	databasePath = flag.String("database", "", "SQLite database path")
	keyFile      = flag.String("encryption-key-file", "", "File holding the key that encodes array passwords")
	lockBackend  = flag.String("lock-backend", "", "Lock backend: database, local or lease")
	kubeconfig   = flag.String("kubeconfig", "", "Kubeconfig for the lease lock backend (in-cluster config when empty)")
	trapAddress  = flag.String("trap-address", "", "UDP address to receive SNMP traps on, \"-\" disables the receiver")

	version = flag.Bool("version", false, "Print version and exit")
)

// Version is set at build time
var Version = "dev"

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *version {
		fmt.Println("arraysync-manager", Version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		klog.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		klog.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		klog.Fatalf("Manager failed: %v", err)
	}
	klog.Info("Manager stopped")
}

func applyFlags(cfg *config.Config) {
	if *databasePath != "" {
		cfg.DatabasePath = *databasePath
	}
	if *keyFile != "" {
		cfg.EncryptionKeyFile = *keyFile
	}
	if *lockBackend != "" {
		cfg.Lock.Backend = *lockBackend
	}
	if *kubeconfig != "" {
		cfg.Lock.Kubeconfig = *kubeconfig
	}
	if *trapAddress != "" {
		cfg.TrapAddress = *trapAddress
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := db.OpenStore(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	cryptor, err := security.LoadCryptor(cfg.EncryptionKeyFile)
	if err != nil {
		return err
	}

	locker, err := cfg.NewLocker(store)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	manager := drivers.NewManager(store, cryptor,
		drivers.WithMetrics(metrics),
		drivers.WithTransport(transport.PoolConfig{
			MaxSize:     cfg.Remote.MaxSessions,
			MaxIdle:     cfg.Remote.MaxSessions,
			IdleTimeout: 5 * time.Minute,
			RateLimit:   2,
			RateBurst:   cfg.Remote.MaxSessions,
		}, cfg.Remote.CommandTimeout, cfg.Remote.InsecureSkipVerify),
	)
	defer manager.Close()

	exporter := alert.MultiExporter{alert.LogExporter{}, alert.MetricsExporter{Metrics: metrics}}

	sched := scheduler.New(scheduler.Config{
		Interval:        cfg.Sync.Interval,
		CleanupInterval: cfg.Sync.CleanupInterval,
		Workers:         cfg.Sync.Workers,
		LockWait:        cfg.Lock.Wait,
	}, store, manager, locker, task.Deps{
		Exporter:    exporter,
		AlertWindow: cfg.Sync.AlertWindow,
	}, scheduler.WithMetrics(metrics))

	healthServer := health.NewServer(cfg.HealthAddress, store.Ping, health.DefaultProbeInterval)
	if err := healthServer.Start(ctx); err != nil {
		return err
	}
	defer healthServer.Stop()

	metricsServer := &http.Server{Addr: cfg.MetricsAddress, Handler: metrics.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		klog.Infof("Serving metrics on %s", cfg.MetricsAddress)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.Errorf("Metrics server failed: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if cfg.TrapAddress != "-" {
		processor := alert.NewProcessor(store, manager, cryptor, exporter, metrics)
		receiver := alert.NewTrapReceiver(cfg.TrapAddress, processor)
		go func() {
			if err := receiver.Listen(); err != nil {
				klog.Errorf("Trap receiver failed: %v", err)
			}
		}()
		defer receiver.Close()
	}

	sched.Start(ctx)
	defer sched.Stop()

	klog.Infof("Manager %s running with %s lock as %s", Version, cfg.Lock.Backend, locker.Holder())
	<-ctx.Done()
	klog.Info("Shutting down")
	return nil
}
