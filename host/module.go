package host

import (
	"path/filepath"

	"github.com/dop251/goja"
)

// Module is one loaded unit. Modules form a tree rooted at the main module:
// Parent points at the module that first required this one and Children
// lists the modules this one loaded first.
type Module struct {
	ID       string
	Filename string
	Parent   *Module
	Children []*Module
	Loaded   bool

	loader     *Loader
	obj        *goja.Object
	require    func(id string) (goja.Value, error)
	attachment interface{}
}

func (l *Loader) newModule(id, filename string, parent *Module) *Module {
	m := &Module{
		ID:       id,
		Filename: filename,
		Parent:   parent,
		loader:   l,
		obj:      l.vm.NewObject(),
	}
	_ = m.obj.Set("id", id)
	_ = m.obj.Set("filename", filename)
	_ = m.obj.Set("exports", l.vm.NewObject())
	_ = m.obj.Set("loaded", false)
	if parent != nil {
		_ = m.obj.Set("parent", parent.obj)
	} else {
		_ = m.obj.Set("parent", goja.Null())
	}
	return m
}

// Loader returns the Loader that created m.
func (m *Module) Loader() *Loader {
	return m.loader
}

// Object returns the JavaScript module object.
func (m *Module) Object() *goja.Object {
	return m.obj
}

// Exports returns the current value of module.exports.
func (m *Module) Exports() goja.Value {
	return m.obj.Get("exports")
}

// SetExports replaces module.exports.
func (m *Module) SetExports(v goja.Value) {
	_ = m.obj.Set("exports", v)
}

// Dir returns the directory relative identifiers are resolved against.
func (m *Module) Dir() string {
	if !filepath.IsAbs(m.Filename) {
		return m.loader.dir
	}
	return filepath.Dir(m.Filename)
}

// Require loads id on behalf of m using native resolution. It ignores any
// entry point installed with SetRequire.
func (m *Module) Require(id string) (goja.Value, error) {
	return m.loader.require(m, id)
}

// SetRequire substitutes the require function visible to the module's
// code. A nil fn restores native resolution.
func (m *Module) SetRequire(fn func(id string) (goja.Value, error)) {
	m.require = fn
}

func (m *Module) callRequire(id string) (goja.Value, error) {
	if m.require != nil {
		return m.require(id)
	}
	return m.Require(id)
}

// Attachment returns the value attached to m, or nil.
func (m *Module) Attachment() interface{} {
	return m.attachment
}

// Attach sets the value attached to m.
func (m *Module) Attach(v interface{}) {
	m.attachment = v
}

func (m *Module) markLoaded() {
	m.Loaded = true
	_ = m.obj.Set("loaded", true)
}
