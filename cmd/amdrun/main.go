// Command amdrun runs AMD style scripts in a CommonJS host.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/daaku/go.amdefine/config"
	"github.com/spf13/cobra"
)

// flagKeys binds config keys to the flags overriding them.
var flagKeys = map[string]string{
	"basePath":       "base-path",
	"blackList":      "black-list",
	"whiteList":      "white-list",
	"disableCache":   "disable-cache",
	"aliasRequire":   "alias-require",
	"exposeAmdefine": "expose-amdefine",
	"forceUpstream":  "force-upstream",
	"invasiveMode":   "invasive",
	"logLevel":       "log-level",
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "amdrun",
		Short:         "Run AMD style modules in a CommonJS host",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	f := root.PersistentFlags()
	f.String("config", "", "config file (TOML, YAML or JSON); defaults to ./"+config.FileName+".*")
	f.String("log-level", "", "log level: debug, info, warn or error")
	f.String("base-path", "", "project root dependencies are resolved against (default: working directory)")
	f.StringArray("path", nil, "alias as prefix=target, repeatable; target "+`"empty:"`+" yields an empty module")
	f.StringSlice("black-list", nil, "glob patterns of modules that never get define")
	f.StringSlice("white-list", nil, "glob patterns of modules that get define (default: all)")
	f.Bool("disable-cache", false, "evaluate dependencies again on every require")
	f.Bool("alias-require", false, "rewrite plain require calls through the alias table")
	f.Bool("expose-amdefine", false, "set define.amd and define.require")
	f.Bool("force-upstream", false, "attach the configuration to every ancestor module")
	f.Bool("invasive", false, "also hook the content compiler")

	root.AddCommand(newRunCmd(), newDepsCmd(), newConfigCmd())
	return root
}

// loadConfig merges defaults, the config file, the environment and flags.
// Aliases given with --path come before those from the file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := config.New()
	flags := cmd.Flags()
	for key, name := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	file, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}
	c, err := config.Load(v, file, ".")
	if err != nil {
		return nil, err
	}
	paths, err := flags.GetStringArray("path")
	if err != nil {
		return nil, err
	}
	extra := make([]config.Alias, 0, len(paths))
	for _, p := range paths {
		prefix, target, ok := strings.Cut(p, "=")
		if !ok || prefix == "" {
			return nil, fmt.Errorf("invalid --path %q: want prefix=target", p)
		}
		extra = append(extra, config.Alias{Prefix: prefix, Target: target})
	}
	c.Paths = append(extra, c.Paths...)
	return c, nil
}

func newLogger(level string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "amdrun",
		Level:  lvl,
	}), nil
}
