package commands

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/beam-cloud/contestfs/pkg/config"
	"github.com/beam-cloud/contestfs/pkg/contest"
	"github.com/beam-cloud/contestfs/pkg/contestfs"
	"github.com/beam-cloud/contestfs/pkg/ejudge"
	"github.com/beam-cloud/contestfs/pkg/inode"
	"github.com/beam-cloud/contestfs/pkg/metrics"
	"github.com/beam-cloud/contestfs/pkg/render"
	"github.com/beam-cloud/contestfs/pkg/submit"
	"github.com/gofrs/flock"
	"github.com/moby/sys/mountinfo"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type MountOptions struct {
	configPath string
	envFile    string
	mountPoint string
	url        string
	verbose    bool
}

var mountOptions MountOptions

var MountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Mount a contest server to a specified mount point",
	RunE:  runMount,
}

func init() {
	MountCmd.Flags().StringVarP(&mountOptions.configPath, "config", "c", "", "TOML config file")
	MountCmd.Flags().StringVar(&mountOptions.envFile, "env-file", config.DefaultEnvFile, "File holding CONTESTFS_* credentials")
	MountCmd.Flags().StringVarP(&mountOptions.mountPoint, "mountpoint", "m", "", "Directory to mount the contest tree")
	MountCmd.Flags().StringVarP(&mountOptions.url, "url", "u", "", "Contest server base URL")
	MountCmd.Flags().BoolVarP(&mountOptions.verbose, "verbose", "v", false, "Verbose logging")
}

func loadConfig(opts MountOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(opts.envFile); err != nil {
		return nil, err
	}

	if opts.mountPoint != "" {
		cfg.Mount.MountPoint = opts.mountPoint
	}
	if opts.url != "" {
		cfg.Server.URL = opts.url
	}
	if opts.verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// lockPath names the lock file guarding one mount point.
func lockPath(mountPoint string) (string, error) {
	abs, err := filepath.Abs(mountPoint)
	if err != nil {
		return "", err
	}
	sum := inode.Sum(abs)
	return filepath.Join(os.TempDir(), "contestfs-"+hex.EncodeToString(sum[:8])+".lock"), nil
}

// checkMountPoint fails if something is already mounted at mountPoint, such
// as a stale mount left by a crashed instance. A missing directory is fine.
func checkMountPoint(mountPoint string) error {
	mounted, err := mountinfo.Mounted(mountPoint)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to inspect mount point %s: %w", mountPoint, err)
	}
	if mounted {
		return fmt.Errorf("%s is already a mount point; unmount it first (fusermount -u %s)", mountPoint, mountPoint)
	}
	return nil
}

func runMount(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(mountOptions)
	if err != nil {
		return err
	}
	if err := contestfs.SetLogLevel(cfg.LogLevel); err != nil {
		return err
	}

	path, err := lockPath(cfg.Mount.MountPoint)
	if err != nil {
		return fmt.Errorf("invalid mount point: %w", err)
	}
	fileLock := flock.New(path)
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("another contestfs instance is serving %s", cfg.Mount.MountPoint)
	}
	defer os.Remove(path)
	defer fileLock.Unlock()

	if err := checkMountPoint(cfg.Mount.MountPoint); err != nil {
		return err
	}

	client, err := ejudge.New(ejudge.Options{
		BaseURL:    cfg.Server.URL,
		Login:      cfg.Login,
		Password:   cfg.Password,
		UserAgent:  cfg.Server.UserAgent,
		HTTPClient: &http.Client{Timeout: cfg.Server.Timeout.Duration},

		MaxResponseSize: cfg.Server.MaxResponseBytes,
	})
	if err != nil {
		return err
	}

	m := metrics.NewMetrics()
	opts := cfg.ContestOptions()
	opts.Metrics = m
	st := contest.New(client, opts)

	renderCache, err := render.NewCache(render.Options{MaxBytes: cfg.Cache.RenderBytes, Metrics: m})
	if err != nil {
		return fmt.Errorf("could not create render cache: %w", err)
	}
	defer renderCache.Close()

	start, serverErr, server, err := contestfs.Mount(contestfs.MountOptions{
		MountPoint:   cfg.Mount.MountPoint,
		State:        st,
		Render:       renderCache,
		AttrTimeout:  cfg.Mount.AttrTimeout.Duration,
		EntryTimeout: cfg.Mount.EntryTimeout.Duration,
		AllowOther:   cfg.Mount.AllowOther,
		Debug:        cfg.Mount.Debug,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	worker := submit.NewWorker(submit.WorkerOpts{
		Queue:     st.Queue,
		Store:     st.Store,
		Submitter: st,
		Metrics:   m,
		Delay:     cfg.Submit.Delay.Duration,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		// The worker stops once the mount goes away.
		defer cancel()

		if err := start(); err != nil {
			return err
		}
		select {
		case err, ok := <-serverErr:
			if ok && err != nil {
				return fmt.Errorf("mount failed: %w", err)
			}
			log.Info().Msg("filesystem unmounted")
			return nil
		case <-gctx.Done():
		}

		log.Info().Msgf("unmounting %s", cfg.Mount.MountPoint)
		if err := server.Unmount(); err != nil {
			log.Warn().Err(err).Msg("unmount failed")
			return err
		}
		<-serverErr
		return nil
	})

	log.Info().Msgf("serving %s at %s", cfg.Server.URL, cfg.Mount.MountPoint)
	err = g.Wait()

	st.Close()
	if n := st.Queue.Len(); n > 0 {
		log.Warn().Int("pending", n).Msg("submissions left unsent")
	}
	stats := st.Store.Stats()
	log.Info().Int("live", stats.Live).Int("parked", stats.Parked).Int64("bytes", stats.Bytes).Msg("file store at exit")
	m.LogSummary()
	return err
}
