// Package amdefine gives CommonJS modules loaded by a host.Loader an AMD
// style define function, so code written against define([...], factory)
// runs unmodified in a synchronous host.
//
// A Scope holds one configuration: base path, alias table, white and black
// lists and behaviour flags. It is attached to a module, usually the one
// bootstrapping a test run, and every module that module loads inherits it.
// The loader hook installed by Install gives each inheriting module that
// passes the lists its own define function.
package amdefine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/daaku/go.amdefine/amd"
	"github.com/daaku/go.amdefine/host"
	"github.com/dop251/goja"
)

const (
	// ConfigName is the identifier scripts require to configure a scope
	// themselves: require('global-define')({basePath: ...}).
	ConfigName = "global-define"
	// PrimitiveName is the identifier of the bare define primitive, for
	// modules that fall back to require('amdefine')(module) when no define
	// was given to them.
	PrimitiveName = "amdefine"
)

// Options configures a Scope. The zero value is valid: the base path
// defaults to the working directory and everything else is off or empty.
type Options struct {
	BasePath string
	// Paths maps identifier prefixes to replacements. A replacement of
	// EmptyModule resolves to an empty object.
	Paths map[string]string
	// BlackList and WhiteList are glob patterns matched against module
	// filenames relative to BasePath. An empty WhiteList allows everything.
	BlackList []string
	WhiteList []string
	// DisableCache evicts every dependency from the module cache before it
	// is loaded, so it is evaluated again.
	DisableCache bool
	// AliasRequire routes plain require calls through the alias table too.
	// Only the alias rewrite applies to them: unlike declared dependencies,
	// a rewritten id is not looked up under BasePath, so "foo/" to
	// "libs/foo/" needs a target native resolution can find, such as
	// "./libs/foo/".
	AliasRequire bool
	// ExposeAmdefine sets define.amd and define.require.
	ExposeAmdefine bool
	// ForceUpstream attaches the scope to every ancestor of the module it
	// is created for, not just that module.
	ForceUpstream bool
	// InvasiveMode also hooks the content compiler, for code compiled
	// without going through an extension handler.
	InvasiveMode bool

	Logger *log.Logger
}

// Scope is an immutable configuration shared by a module tree.
type Scope struct {
	basePath        string
	aliases         AliasTable
	blackList       []string
	whiteList       []string
	disableCache    bool
	aliasRequire    bool
	exposeInternals bool
	forceUpstream   bool
	invasive        bool
	logger          *log.Logger
}

// NewScope validates opts and builds a Scope. A malformed glob pattern
// fails with doublestar.ErrBadPattern, unwrapped.
func NewScope(opts Options) (*Scope, error) {
	base := opts.BasePath
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("amdefine: determine working directory: %w", err)
		}
		base = wd
	}
	base, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("amdefine: resolve base path: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	for _, list := range [][]string{opts.WhiteList, opts.BlackList} {
		if pat, err := validatePatterns(list); err != nil {
			logger.Debug("malformed glob pattern", "pattern", pat)
			return nil, err
		}
	}
	return &Scope{
		basePath:        base,
		aliases:         NewAliasTable(opts.Paths),
		blackList:       append([]string(nil), opts.BlackList...),
		whiteList:       append([]string(nil), opts.WhiteList...),
		disableCache:    opts.DisableCache,
		aliasRequire:    opts.AliasRequire,
		exposeInternals: opts.ExposeAmdefine,
		forceUpstream:   opts.ForceUpstream,
		invasive:        opts.InvasiveMode,
		logger:          logger,
	}, nil
}

// BasePath returns the absolute project root dependencies resolve against.
func (s *Scope) BasePath() string {
	return s.basePath
}

// Aliases returns the alias table, most specific prefix first.
func (s *Scope) Aliases() AliasTable {
	return s.aliases
}

// CheckPath rewrites id through the alias table.
func (s *Scope) CheckPath(id string) string {
	return s.aliases.CheckPath(id)
}

// PropagateUpstream attaches s to m and, when force is set, to each of m's
// ancestors. It stops at the first module that already has a scope: an
// attached scope is never replaced.
func (s *Scope) PropagateUpstream(m *host.Module, force bool) {
	for ; m != nil; m = m.Parent {
		if m.Attachment() != nil {
			return
		}
		m.Attach(s)
		s.logger.Debug("attached scope", "module", m.Filename)
		if !force {
			return
		}
	}
}

// ScopeOf returns the scope attached to m, or nil.
func ScopeOf(m *host.Module) *Scope {
	if m == nil {
		return nil
	}
	s, _ := m.Attachment().(*Scope)
	return s
}

// Attach creates a scope from opts, installs the loader hooks it needs and
// attaches it starting at m. A nil opts.Logger uses the loader's logger.
func Attach(l *host.Loader, m *host.Module, opts Options) (*Scope, error) {
	if opts.Logger == nil {
		opts.Logger = l.Logger()
	}
	s, err := NewScope(opts)
	if err != nil {
		return nil, err
	}
	Install(l, s)
	s.PropagateUpstream(m, s.forceUpstream)
	return s, nil
}

// Register makes ConfigName and PrimitiveName requirable from scripts
// loaded by l. Calling the ConfigName export with an options object
// attaches a scope starting at the requiring module. Calling the
// PrimitiveName export with a module object returns a define function for
// that module, resolving dependencies with the module's own require or
// with the require function given as second argument.
func Register(l *host.Loader) {
	l.RegisterNative(ConfigName, func(l *host.Loader, requirer *host.Module) (goja.Value, error) {
		vm := l.Runtime()
		return vm.ToValue(func(call goja.FunctionCall) goja.Value {
			opts, err := optionsFromValue(vm, call.Argument(0))
			if err != nil {
				host.Throw(vm, err)
			}
			if _, err := Attach(l, requirer, opts); err != nil {
				host.Throw(vm, err)
			}
			return goja.Undefined()
		}), nil
	})
	l.RegisterNative(PrimitiveName, func(l *host.Loader, requirer *host.Module) (goja.Value, error) {
		vm := l.Runtime()
		return vm.ToValue(func(call goja.FunctionCall) goja.Value {
			obj, ok := call.Argument(0).(*goja.Object)
			if !ok {
				if requirer == nil {
					host.Throw(vm, fmt.Errorf("%s: module object required", PrimitiveName))
				}
				obj = requirer.Object()
			}
			var require amd.RequireFunc
			if fn, ok := goja.AssertFunction(call.Argument(1)); ok {
				require = func(id string) (goja.Value, error) {
					return fn(goja.Undefined(), vm.ToValue(id))
				}
			}
			return amd.New(vm, obj, require).Function()
		}), nil
	})
}

func optionsFromValue(vm *goja.Runtime, v goja.Value) (Options, error) {
	var opts Options
	if !present(v) {
		return opts, nil
	}
	obj := v.ToObject(vm)
	if bp := obj.Get("basePath"); present(bp) {
		opts.BasePath = bp.String()
	}
	if p := obj.Get("paths"); present(p) {
		po := p.ToObject(vm)
		opts.Paths = make(map[string]string)
		for _, k := range po.Keys() {
			opts.Paths[k] = po.Get(k).String()
		}
	}
	lists := []struct {
		name string
		dst  *[]string
	}{
		{"blackList", &opts.BlackList},
		{"whiteList", &opts.WhiteList},
	}
	for _, l := range lists {
		if lv := obj.Get(l.name); present(lv) {
			if err := vm.ExportTo(lv, l.dst); err != nil {
				return opts, fmt.Errorf("amdefine: %s: %w", l.name, err)
			}
		}
	}
	flags := []struct {
		name string
		dst  *bool
	}{
		{"disableCache", &opts.DisableCache},
		{"aliasRequire", &opts.AliasRequire},
		{"exposeAmdefine", &opts.ExposeAmdefine},
		{"forceUpstream", &opts.ForceUpstream},
		{"invasiveMode", &opts.InvasiveMode},
	}
	for _, f := range flags {
		if fv := obj.Get(f.name); present(fv) {
			*f.dst = fv.ToBoolean()
		}
	}
	return opts, nil
}

func present(v goja.Value) bool {
	return v != nil && !goja.IsUndefined(v) && !goja.IsNull(v)
}
