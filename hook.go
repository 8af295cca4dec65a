package amdefine

import (
	"github.com/daaku/go.amdefine/host"
	"github.com/dop251/goja"
)

const (
	hookMarker     = "amdefine/extension"
	invasiveMarker = "amdefine/compiler"

	// defineGlobal is the name modules see their define function under.
	defineGlobal = "define"
)

// Install wraps l's ".js" handler so every script compiled by l gets the
// define function of the scope it inherits. The wrapper is installed once
// per Loader however many scopes are created. When s asks for invasive
// mode the content compiler is wrapped as well, also at most once.
func Install(l *host.Loader, s *Scope) {
	if l.Mark(hookMarker) {
		next := l.Extension(".js")
		l.SetExtension(".js", func(c *host.Compilation) error {
			return intercept(c, next)
		})
		l.Logger().Debug("installed define hook")
	}
	if s.invasive && l.Mark(invasiveMarker) {
		next := l.Compiler()
		l.SetCompiler(func(c *host.Compilation) error {
			return interceptCompile(c, next)
		})
		l.Logger().Debug("installed invasive define hook")
	}
}

// intercept sets or clears define for the module being compiled and puts
// back whatever was there once the compile returns, including when it
// fails.
func intercept(c *host.Compilation, next host.Handler) error {
	saved := c.Global(defineGlobal)
	defer c.SetGlobal(defineGlobal, saved)

	define, err := definition(c.Module, inherit(c.Module))
	if err != nil {
		return err
	}
	c.SetGlobal(defineGlobal, define)
	return next(c)
}

// interceptCompile only acts on modules without a scope yet, which are the
// ones that did not come through the extension handler. It never clears
// define on the way in; it restores it on the way out.
func interceptCompile(c *host.Compilation, next host.CompileFunc) error {
	saved := c.Global(defineGlobal)
	defer c.SetGlobal(defineGlobal, saved)

	if ScopeOf(c.Module) == nil {
		define, err := definition(c.Module, inherit(c.Module))
		if err != nil {
			return err
		}
		if define != nil {
			c.SetGlobal(defineGlobal, define)
		}
	}
	return next(c)
}

// inherit returns the scope governing m: its own, or else its parent's,
// which is then attached to m for m's children to find.
func inherit(m *host.Module) *Scope {
	if s := ScopeOf(m); s != nil {
		return s
	}
	s := ScopeOf(m.Parent)
	if s != nil && m.Attachment() == nil {
		m.Attach(s)
	}
	return s
}

// definition returns the define function m gets from s, or nil when s is
// nil or its lists exclude m.
func definition(m *host.Module, s *Scope) (goja.Value, error) {
	if s == nil {
		return nil, nil
	}
	ok, err := s.Inject(m.Filename)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("compile", "module", m.Filename, "define", ok)
	if !ok {
		return nil, nil
	}
	if s.aliasRequire {
		m.SetRequire(s.aliasedRequire(m))
	}
	return s.Define(m), nil
}
