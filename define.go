package amdefine

import (
	"github.com/daaku/go.amdefine/amd"
	"github.com/daaku/go.amdefine/host"
	"github.com/dop251/goja"
)

// Define builds the define function for m. Dependencies go through
// Require. Unlike plain amd, a definition with an explicit id is run right
// away and becomes m's exports: the host loads eagerly and nothing would
// ever ask for the id later.
func (s *Scope) Define(m *host.Module) *goja.Object {
	vm := m.Loader().Runtime()
	prim := amd.New(vm, m.Object(), func(id string) (goja.Value, error) {
		return s.Require(m, id)
	})
	fn := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		if err := prim.Call(call.Arguments...); err != nil {
			host.Throw(vm, err)
		}
		if id, ok := call.Argument(0).Export().(string); ok && id != "" {
			v, err := prim.Require(id)
			if err != nil {
				host.Throw(vm, err)
			}
			m.SetExports(v)
		}
		return goja.Undefined()
	}).(*goja.Object)
	if s.exposeInternals {
		_ = fn.Set("amd", prim.AMD())
		_ = fn.Set("require", prim.RequireFunction())
	}
	return fn
}
