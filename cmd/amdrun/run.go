package main

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/daaku/go.amdefine"
	"github.com/daaku/go.amdefine/config"
	"github.com/daaku/go.amdefine/host"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

const debounce = 300 * time.Millisecond

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <entry>",
		Short: "Evaluate an entry script with define available to its module tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(c.LogLevel)
			if err != nil {
				return err
			}
			entry := args[0]
			watch, err := cmd.Flags().GetBool("watch")
			if err != nil {
				return err
			}
			if !watch {
				return runEntry(c, logger, entry)
			}
			dir := c.BasePath
			if dir == "" {
				dir = "."
			}
			return watchAndRun(cmd.Context(), dir, logger, func() error {
				return runEntry(c, logger, entry)
			})
		},
	}
	cmd.Flags().Bool("watch", false, "run again whenever a file under the base path changes")
	return cmd
}

// runEntry evaluates entry in a fresh runtime and loader.
func runEntry(c *config.Config, logger *log.Logger, entry string) error {
	vm := goja.New()
	require.NewRegistry().Enable(vm)
	console.Enable(vm)

	l := host.New(host.WithRuntime(vm), host.WithLogger(logger))
	amdefine.Register(l)
	root, err := l.Main(entry)
	if err != nil {
		return err
	}
	opts := c.Options()
	opts.Logger = logger
	if _, err := amdefine.Attach(l, root, opts); err != nil {
		return err
	}
	return l.Run(root)
}

func watchAndRun(ctx context.Context, dir string, logger *log.Logger, fn func() error) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
	if err != nil {
		return err
	}

	report := func() {
		if err := fn(); err != nil {
			logger.Error("run failed", "err", err)
		}
	}
	report()

	fire := make(chan struct{}, 1)
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() && !skipDir(fi.Name()) {
					if err := w.Add(ev.Name); err != nil {
						logger.Warn("cannot watch directory", "dir", ev.Name, "err", err)
					}
				}
			}
			logger.Debug("change", "path", ev.Name, "op", ev.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "err", err)
		case <-fire:
			logger.Info("change detected, running again")
			report()
		}
	}
}

func skipDir(name string) bool {
	return name == "node_modules" || strings.HasPrefix(name, ".")
}
