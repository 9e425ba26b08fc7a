package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/google/gops/agent"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/dendrascience/shallfs/auditfs"
	"github.com/dendrascience/shallfs/blockdev"
	"github.com/dendrascience/shallfs/config"
	"github.com/dendrascience/shallfs/control"
	"github.com/dendrascience/shallfs/journal"
	"github.com/dendrascience/shallfs/metrics"
	"github.com/dendrascience/shallfs/util"
	"github.com/dendrascience/shallfs/version"
)

type mountFlags struct {
	options   string
	socketDir string
	metrics   string
	gops      bool
	allow     bool
}

// NewMountCmd creates and returns the mount subcommand for the shallfs CLI.
// It journals a device and serves the fs= directory at the mountpoint.
func NewMountCmd(g *globals) *cobra.Command {
	var f mountFlags
	cmd := &cobra.Command{
		Use:   "mount DEVICE MOUNTPOINT",
		Short: "Mount an audited view of a directory",
		Long: `Mount the directory named by the fs= option at MOUNTPOINT, recording
every change made through the mount in the journal on DEVICE.

Options (-o) are a comma separated list:
  fs=DIR                directory to mirror (required)
  commit=SECONDS:SIZE   commit interval and buffer size
  overflow=wait|drop    what a full journal does to writers
  too_big=log|error     what happens to records larger than the buffer
  log=before|after|twice
  data=none|data        whether written bytes are journaled
  debug=on|off

SIGINT and SIGTERM unmount. SIGHUP rereads the configuration file and
applies the options again.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("socket-dir") {
				f.socketDir = g.cfg.Control.SocketDir
			}
			if !cmd.Flags().Changed("metrics") {
				f.metrics = g.cfg.Metrics.Address
			}
			return runMount(cmd.Context(), g, args[0], args[1], f)
		},
	}

	cmd.Flags().StringVarP(&f.options, "options", "o", "", "Mount options")
	cmd.Flags().StringVar(&f.socketDir, "socket-dir", util.DefaultRunDir, "Directory for the control socket")
	cmd.Flags().StringVar(&f.metrics, "metrics", "", "Serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&f.gops, "gops", false, "Start a gops diagnostics agent")
	cmd.Flags().BoolVar(&f.allow, "allow-other", false, "Let other users access the mount")

	return cmd
}

// pathsOverlap reports whether one path contains the other.
func pathsOverlap(path1, path2 string) bool {
	a, err := filepath.Abs(path1)
	if err != nil {
		a = filepath.Clean(path1)
	}
	b, err := filepath.Abs(path2)
	if err != nil {
		b = filepath.Clean(path2)
	}
	within := func(p, dir string) bool {
		return p == dir || strings.HasPrefix(p, dir+string(filepath.Separator))
	}
	return within(a, b) || within(b, a)
}

// checkMountPaths requires the mirrored directory to exist and to be
// disjoint from the mountpoint.
func checkMountPaths(dir, mountpoint string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return errors.Wrap(err, "fs")
	}
	if !info.IsDir() {
		return errors.Wrap(util.ErrExpectedDirectory, dir)
	}
	if pathsOverlap(dir, mountpoint) {
		return errors.Wrapf(util.ErrPathsOverlap, "%s and %s", dir, mountpoint)
	}
	return nil
}

func runMount(ctx context.Context, g *globals, device, mountpoint string, f mountFlags) error {
	log := logrus.WithFields(logrus.Fields{"device": device, "mountpoint": mountpoint})
	log.Infof("shallfs %s starting", version.GetFullVersion())

	opts, err := g.cfg.MountOptions(f.options)
	if err != nil {
		return err
	}
	if opts.FS == "" {
		return errors.Wrap(journal.ErrInvalidOption, "fs= is required")
	}
	if opts.FS, err = filepath.Abs(opts.FS); err != nil {
		return err
	}
	if err := checkMountPaths(opts.FS, mountpoint); err != nil {
		return err
	}
	mode, err := g.cfg.Control.Mode()
	if err != nil {
		return err
	}

	if f.gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.WithError(err).Warn("failed to start gops agent")
		} else {
			defer agent.Close()
		}
	}

	// Nodes are created with the caller's mode; the kernel already applied
	// the caller's umask.
	unix.Umask(0)

	dev, err := blockdev.Open(device, false)
	if err != nil {
		return err
	}
	defer dev.Close()

	j, err := journal.Open(dev, opts, journal.WithLogger(log))
	if err != nil {
		return errors.Wrapf(err, "failed to mount journal on %s", device)
	}
	log = log.WithField("journal", j.ID())
	defer func() {
		if err := j.Close(); err != nil {
			log.WithError(err).Error("failed to unmount journal")
		}
	}()
	reg := journal.NewRegistry()
	reg.Add(j)
	defer reg.Remove(j.ID())

	srv, err := control.Listen(util.SocketPath(f.socketDir, device), mode, j, log)
	if err != nil {
		return err
	}
	defer srv.Close()

	var msrv *metrics.Server
	if f.metrics != "" {
		if msrv, err = metrics.NewServer(f.metrics, metrics.NewRegistry(reg), log); err != nil {
			return err
		}
	}

	mountOpts := []fuse.MountOption{
		fuse.FSName("shallfs"),
		fuse.Subtype("shallfs"),
		fuse.DefaultPermissions(),
	}
	if f.allow {
		mountOpts = append(mountOpts, fuse.AllowOther())
	}
	c, err := fuse.Mount(mountpoint, mountOpts...)
	if err != nil {
		return errors.Wrapf(err, "failed to mount %s", mountpoint)
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := fs.Serve(c, auditfs.NewFS(opts.FS, j, log)); err != nil {
			return err
		}
		// Unmounted; stop the other services.
		return errStopped
	})
	eg.Go(func() error {
		<-ctx.Done()
		if err := fuse.Unmount(mountpoint); err != nil {
			log.WithError(err).Debug("unmount")
		}
		return nil
	})
	eg.Go(func() error { return srv.Serve(ctx) })
	if msrv != nil {
		eg.Go(func() error { return msrv.Serve(ctx) })
	}
	eg.Go(func() error { return reloadOnHangup(ctx, g, j, f.options, log) })

	log.WithField("fs", opts.FS).Info("mounted")
	if err := eg.Wait(); err != nil && err != errStopped {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

var errStopped = errors.New("filesystem stopped")

// reloadOnHangup applies the configuration again each time SIGHUP arrives.
func reloadOnHangup(ctx context.Context, g *globals, j *journal.Journal, flag string, log *logrus.Entry) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
		}
		if err := remount(ctx, g, j, flag); err != nil {
			log.WithError(err).Error("remount failed")
			continue
		}
		log.WithField("options", j.Options().String()).Info("remounted")
	}
}

func remount(ctx context.Context, g *globals, j *journal.Journal, flag string) error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}
	opts, err := cfg.MountOptions(flag)
	if err != nil {
		return err
	}
	if opts.FS, err = filepath.Abs(opts.FS); err != nil {
		return err
	}
	return j.Remount(ctx, opts)
}
