package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"git.srvlab.io/whiskey/arraysync/pkg/alert"
	"git.srvlab.io/whiskey/arraysync/pkg/config"
	"git.srvlab.io/whiskey/arraysync/pkg/db"
	"git.srvlab.io/whiskey/arraysync/pkg/drivers"
	"git.srvlab.io/whiskey/arraysync/pkg/model"
	"git.srvlab.io/whiskey/arraysync/pkg/scheduler"
	"git.srvlab.io/whiskey/arraysync/pkg/security"
	"git.srvlab.io/whiskey/arraysync/pkg/task"
	"git.srvlab.io/whiskey/arraysync/pkg/transport"
)

// PasswordEnv is read when --password is not given
const PasswordEnv = "ARRAYSYNC_PASSWORD"

// env is what every command works with
type env struct {
	cfg     *config.Config
	store   *db.Store
	cryptor *security.Cryptor
	manager *drivers.Manager
}

func openEnv() (*env, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if databasePath != "" {
		cfg.DatabasePath = databasePath
	}
	if keyFile != "" {
		cfg.EncryptionKeyFile = keyFile
	}

	cryptor, err := security.LoadCryptor(cfg.EncryptionKeyFile)
	if err != nil {
		return nil, err
	}
	store, err := db.OpenStore(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	manager := drivers.NewManager(store, cryptor,
		drivers.WithTransport(transport.PoolConfig{}, cfg.Remote.CommandTimeout, cfg.Remote.InsecureSkipVerify))
	return &env{cfg: cfg, store: store, cryptor: cryptor, manager: manager}, nil
}

func (e *env) close() {
	e.manager.Close()
	_ = e.store.Close()
}

// scheduler runs the given kinds, all of them when none are given. Alerts
// found by a manual sync are logged.
func (e *env) scheduler(kinds ...task.Kind) (*scheduler.Scheduler, error) {
	locker, err := e.cfg.NewLocker(e.store)
	if err != nil {
		return nil, err
	}
	return scheduler.New(scheduler.Config{
		Workers:  e.cfg.Sync.Workers,
		LockWait: e.cfg.Lock.Wait,
		Kinds:    kinds,
	}, e.store, e.manager, locker, task.Deps{
		Exporter:    alert.LogExporter{},
		AlertWindow: e.cfg.Sync.AlertWindow,
	}), nil
}

// withEnv opens the environment around fn
func withEnv(fn func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.close()
		return fn(cmd.Context(), e, cmd, args)
	}
}

func registerCmd() *cobra.Command {
	var info model.RegistrationInfo
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a storage array",
		Example: `  arraysyncctl register --manufacturer netapp --model cmode --host 192.0.2.20 --username admin
  arraysyncctl register --manufacturer fake --model storage --host lab-1 --username u --password p --extra pools=3`,
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, _ []string) error {
			if info.Password == "" {
				info.Password = os.Getenv(PasswordEnv)
			}
			if info.Password == "" {
				return fmt.Errorf("a password is required, use --password or %s", PasswordEnv)
			}
			storage, err := e.manager.RegisterStorage(ctx, info)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s %s, serial %s, %s total)\n", storage.ID,
				storage.Vendor, storage.Model, storage.SerialNumber, humanize.IBytes(uint64(storage.TotalCapacity)))
			return nil
		}),
	}

	f := cmd.Flags()
	f.StringVar(&info.Manufacturer, "manufacturer", "", "array manufacturer, for example netapp")
	f.StringVar(&info.Model, "model", "", "array model, for example cmode")
	f.StringVar(&info.Host, "host", "", "management address")
	f.IntVar(&info.Port, "port", 22, "management port")
	f.StringVar(&info.Username, "username", "", "login user")
	f.StringVar(&info.Password, "password", "", "login password (default $"+PasswordEnv+")")
	f.StringToStringVar(&info.Extra, "extra", nil, "driver specific attributes as key=value")
	for _, name := range []string{"manufacturer", "model", "host", "username"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func listCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list [storage-id]",
		Short: "List registered arrays, or the resources of one array",
		Args:  cobra.MaximumNArgs(1),
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				storages, err := e.store.Storages.GetAll(ctx, db.Query{SortKeys: []string{"name"}})
				if err != nil {
					return err
				}
				if jsonOut {
					return printJSON(out, storages)
				}
				printStorages(out, storages)
				return nil
			}
			return listResources(ctx, e, out, args[0], jsonOut)
		}),
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print JSON")
	return cmd
}

func listResources(ctx context.Context, e *env, out io.Writer, storageID string, jsonOut bool) error {
	storage, err := e.store.Storages.Get(ctx, storageID)
	if err != nil {
		return err
	}
	q := db.Query{Filters: map[string]any{"storage_id": storageID}, SortKeys: []string{"name"}}
	pools, err := e.store.Pools.GetAll(ctx, q)
	if err != nil {
		return err
	}
	volumes, err := e.store.Volumes.GetAll(ctx, q)
	if err != nil {
		return err
	}
	disks, err := e.store.Disks.GetAll(ctx, q)
	if err != nil {
		return err
	}
	filesystems, err := e.store.Filesystems.GetAll(ctx, q)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(out, map[string]any{
			"storage":     storage,
			"pools":       pools,
			"volumes":     volumes,
			"disks":       disks,
			"filesystems": filesystems,
		})
	}

	printStorages(out, []model.Storage{storage})
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tNAME\tNATIVE ID\tSTATUS\tTOTAL\tUSED")
	for _, p := range pools {
		fmt.Fprintf(w, "pool\t%s\t%s\t%s\t%s\t%s\n", p.Name, p.NativeStoragePoolID, p.Status, size(p.TotalCapacity), size(p.UsedCapacity))
	}
	for _, v := range volumes {
		fmt.Fprintf(w, "volume\t%s\t%s\t%s\t%s\t%s\n", v.Name, v.NativeVolumeID, v.Status, size(v.TotalCapacity), size(v.UsedCapacity))
	}
	for _, fs := range filesystems {
		fmt.Fprintf(w, "filesystem\t%s\t%s\t%s\t%s\t%s\n", fs.Name, fs.NativeFilesystemID, fs.Status, size(fs.TotalCapacity), size(fs.UsedCapacity))
	}
	for _, d := range disks {
		fmt.Fprintf(w, "disk\t%s\t%s\t%s\t%s\t-\n", d.Name, d.NativeDiskID, d.Status, size(d.Capacity))
	}
	return w.Flush()
}

func printStorages(out io.Writer, storages []model.Storage) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tVENDOR\tMODEL\tSERIAL\tSTATUS\tTOTAL\tUSED\tSYNC\tUPDATED")
	for _, s := range storages {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.Name, s.Vendor, s.Model, s.SerialNumber,
			s.Status, size(s.TotalCapacity), size(s.UsedCapacity), s.SyncStatus, humanize.Time(s.UpdatedAt))
	}
	_ = w.Flush()
}

func size(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(n))
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func syncCmd() *cobra.Command {
	var kinds []string
	cmd := &cobra.Command{
		Use:   "sync [storage-id...]",
		Short: "Sync arrays now, all of them when no id is given",
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			selected := make([]task.Kind, 0, len(kinds))
			for _, name := range kinds {
				k, err := task.ParseKind(name)
				if err != nil {
					return err
				}
				selected = append(selected, k)
			}
			sched, err := e.scheduler(selected...)
			if err != nil {
				return err
			}
			if err := sched.RunOnce(ctx, args...); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Sync complete")
			return nil
		}),
	}
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "resource kinds to sync (storage, pools, volumes, disks, filesystems, alerts)")
	return cmd
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <storage-id>",
		Short: "Remove an array and everything collected from it",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			if _, err := e.store.Storages.Get(ctx, args[0]); err != nil {
				return err
			}
			sched, err := e.scheduler()
			if err != nil {
				return err
			}
			if err := sched.RemoveStorage(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		}),
	}
}

func alertSourceCmd() *cobra.Command {
	var source model.AlertSource
	cmd := &cobra.Command{
		Use:   "alert-source <storage-id>",
		Short: "Set the SNMP trap sender of an array",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			source.StorageID = args[0]
			saved, err := e.manager.SetAlertSource(ctx, source)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Traps from %s are now attributed to %s\n", saved.Host, saved.StorageID)
			return nil
		}),
	}
	f := cmd.Flags()
	f.StringVar(&source.Host, "host", "", "IP address the array sends traps from")
	f.StringVar(&source.Version, "version", "2c", "SNMP version: 1, 2c or 3")
	f.StringVar(&source.Community, "community", "public", "SNMP community")
	_ = cmd.MarkFlagRequired("host")
	return cmd
}

func clearAlertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-alert <storage-id> <alert-id>",
		Short: "Clear an alert on an array",
		Args:  cobra.ExactArgs(2),
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			processor := alert.NewProcessor(e.store, e.manager, e.cryptor, alert.LogExporter{}, nil)
			if err := processor.ClearAlert(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared alert %s\n", args[1])
			return nil
		}),
	}
}

func driversCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drivers",
		Short: "List the supported manufacturer/model pairs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, key := range drivers.SupportedKeys(drivers.DefaultFactories()) {
				manufacturer, modelName, ok := strings.Cut(key, "_")
				if !ok {
					return errors.New("malformed driver key " + key)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", manufacturer, modelName)
			}
			return nil
		},
	}
}
