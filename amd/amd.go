// Package amd implements asynchronous module definition semantics for a
// synchronous CommonJS module: a define function bound to one module, with
// identified definitions held until something requires them.
package amd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

var (
	errAnonymousTwice = errors.New("amdefine with no module ID cannot be called more than once per file")
	errFromText       = errors.New("amdefine does not implement load.fromText")
)

// defaultDeps are handed to factories declared without a dependency list.
var defaultDeps = []string{"require", "exports", "module"}

// RequireFunc loads a dependency the definitions do not provide themselves.
type RequireFunc func(id string) (goja.Value, error)

type definition struct {
	id      string
	deps    []string
	factory goja.Value
}

// Define is the define function of one module.
type Define struct {
	vm      *goja.Runtime
	module  *goja.Object
	require RequireFunc

	defined       map[string]definition
	loaded        map[string]goja.Value
	anonymousDone bool
	marker        *goja.Object
	fn            *goja.Object
}

// New creates the define function for module, the JavaScript module object
// of the defining file. Dependencies the file does not define itself are
// loaded with require; a nil require loads them with module.require.
func New(vm *goja.Runtime, module *goja.Object, require RequireFunc) *Define {
	d := &Define{
		vm:      vm,
		module:  module,
		require: require,
		defined: make(map[string]definition),
		loaded:  make(map[string]goja.Value),
		marker:  vm.NewObject(),
	}
	if d.require == nil {
		d.require = d.moduleRequire
	}
	return d
}

func (d *Define) moduleRequire(id string) (goja.Value, error) {
	fn, ok := goja.AssertFunction(d.module.Get("require"))
	if !ok {
		return nil, fmt.Errorf("module has no require function, cannot load %s", id)
	}
	return fn(d.module, d.vm.ToValue(id))
}

// AMD returns the define.amd marker object.
func (d *Define) AMD() *goja.Object {
	return d.marker
}

// Function returns define as a JavaScript function carrying the amd marker
// and the require accessor.
func (d *Define) Function() *goja.Object {
	if d.fn != nil {
		return d.fn
	}
	d.fn = d.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		if err := d.Call(call.Arguments...); err != nil {
			throw(d.vm, err)
		}
		return goja.Undefined()
	}).(*goja.Object)
	_ = d.fn.Set("amd", d.marker)
	_ = d.fn.Set("require", d.RequireFunction())
	return d.fn
}

// RequireFunction returns Require as a JavaScript function.
func (d *Define) RequireFunction() *goja.Object {
	return d.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		v, err := d.Require(call.Argument(0).String())
		if err != nil {
			throw(d.vm, err)
		}
		return v
	}).(*goja.Object)
}

// Call declares a module from define's arguments: (id?, deps?, factory).
// Identified modules wait until required; anonymous modules run now and
// export through the defining module.
func (d *Define) Call(args ...goja.Value) error {
	var (
		id      string
		deps    []string
		hasDeps bool
		factory goja.Value
	)
	arg := func(i int) goja.Value {
		if i < len(args) {
			return args[i]
		}
		return goja.Undefined()
	}
	rest := args
	if s, ok := arg(0).Export().(string); ok {
		id = s
		rest = args[1:]
	}
	if len(rest) > 0 {
		if l, ok := d.stringList(rest[0]); ok {
			deps, hasDeps = l, true
			rest = rest[1:]
		}
	}
	if len(rest) > 0 {
		factory = rest[0]
	} else {
		factory = goja.Undefined()
	}
	if !hasDeps {
		deps = defaultDeps
	}

	if id != "" {
		d.defined[id] = definition{id: id, deps: deps, factory: factory}
		return nil
	}
	return d.run(definition{deps: deps, factory: factory})
}

// Require returns the value of the identified definition id, running its
// factory on first use. Unknown ids give undefined.
func (d *Define) Require(id string) (goja.Value, error) {
	if v, ok := d.loaded[id]; ok {
		return v, nil
	}
	if def, ok := d.defined[id]; ok {
		if err := d.run(def); err != nil {
			return nil, err
		}
		return d.loaded[id], nil
	}
	return goja.Undefined(), nil
}

func (d *Define) stringList(v goja.Value) ([]string, bool) {
	obj, ok := v.(*goja.Object)
	if !ok || obj.ClassName() != "Array" {
		return nil, false
	}
	n := int(obj.Get("length").ToInteger())
	l := make([]string, n)
	for i := 0; i < n; i++ {
		l[i] = obj.Get(fmt.Sprint(i)).String()
	}
	return l, true
}

func (d *Define) run(def definition) error {
	var (
		exports goja.Value
		mod     *goja.Object
		relID   string
	)
	if def.id != "" {
		exports = d.vm.NewObject()
		d.loaded[def.id] = exports
		mod = d.vm.NewObject()
		_ = mod.Set("id", def.id)
		_ = mod.Set("uri", d.module.Get("filename"))
		_ = mod.Set("exports", exports)
		relID = def.id
	} else {
		if d.anonymousDone {
			return errAnonymousTwice
		}
		d.anonymousDone = true
		exports = d.module.Get("exports")
		mod = d.module
		relID = d.module.Get("id").String()
	}

	values := make([]goja.Value, len(def.deps))
	for i, dep := range def.deps {
		v, err := d.load(exports, mod, dep, relID)
		if err != nil {
			return err
		}
		values[i] = v
	}

	result := def.factory
	if fn, ok := goja.AssertFunction(def.factory); ok {
		var err error
		result, err = fn(mod.Get("exports"), values...)
		if err != nil {
			return err
		}
	}
	if result != nil && !goja.IsUndefined(result) {
		_ = mod.Set("exports", result)
	}
	if def.id != "" {
		d.loaded[def.id] = mod.Get("exports")
	}
	return nil
}

// load resolves one dependency of the definition relID.
func (d *Define) load(exports goja.Value, mod *goja.Object, id, relID string) (goja.Value, error) {
	bang := strings.IndexByte(id, '!')
	if bang == -1 {
		nid := normalize(id, relID)
		switch {
		case nid == "require":
			return d.localRequire(exports, mod, relID), nil
		case nid == "exports":
			return exports, nil
		case nid == "module":
			return mod, nil
		}
		if v, ok := d.loaded[nid]; ok {
			return v, nil
		}
		if def, ok := d.defined[nid]; ok {
			if err := d.run(def); err != nil {
				return nil, err
			}
			return d.loaded[nid], nil
		}
		return d.require(id)
	}

	prefix, resource := id[:bang], id[bang+1:]
	pv, err := d.load(exports, mod, prefix, relID)
	if err != nil {
		return nil, err
	}
	if pv == nil || goja.IsUndefined(pv) || goja.IsNull(pv) {
		return nil, fmt.Errorf("loader plugin %s did not load", prefix)
	}
	plugin := pv.ToObject(d.vm)
	if norm, ok := goja.AssertFunction(plugin.Get("normalize")); ok {
		nv, err := norm(plugin, d.vm.ToValue(resource), d.normalizer(relID))
		if err != nil {
			return nil, err
		}
		resource = nv.String()
	} else {
		resource = normalize(resource, relID)
	}
	if v, ok := d.loaded[resource]; ok && v != nil && v.ToBoolean() {
		return v, nil
	}
	loadFn, ok := goja.AssertFunction(plugin.Get("load"))
	if !ok {
		return nil, fmt.Errorf("loader plugin %s has no load function", prefix)
	}
	_, err = loadFn(plugin,
		d.vm.ToValue(resource),
		d.localRequire(exports, mod, relID),
		d.loadCallback(resource),
		d.vm.NewObject())
	if err != nil {
		return nil, err
	}
	if v, ok := d.loaded[resource]; ok {
		return v, nil
	}
	return goja.Undefined(), nil
}

// localRequire builds the require handed to factories listing "require".
// The array form resolves every dependency and calls back before
// returning: the host has no event loop to defer to.
func (d *Define) localRequire(exports goja.Value, mod *goja.Object, relID string) *goja.Object {
	fn := d.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		first := call.Argument(0)
		if s, ok := first.Export().(string); ok {
			v, err := d.load(exports, mod, s, relID)
			if err != nil {
				throw(d.vm, err)
			}
			return v
		}
		ids, ok := d.stringList(first)
		if !ok {
			panic(d.vm.NewTypeError("require: expected a module id or an array of ids"))
		}
		values := make([]goja.Value, len(ids))
		for i, id := range ids {
			v, err := d.load(exports, mod, id, relID)
			if err != nil {
				throw(d.vm, err)
			}
			values[i] = v
		}
		if cb, ok := goja.AssertFunction(call.Argument(1)); ok {
			if _, err := cb(goja.Null(), values...); err != nil {
				throw(d.vm, err)
			}
		}
		return goja.Undefined()
	}).(*goja.Object)
	_ = fn.Set("toUrl", func(call goja.FunctionCall) goja.Value {
		p := call.Argument(0).String()
		if strings.HasPrefix(p, ".") {
			return d.vm.ToValue(normalize(p, d.module.Get("filename").String()))
		}
		return d.vm.ToValue(p)
	})
	return fn
}

func (d *Define) normalizer(relID string) goja.Value {
	return d.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		return d.vm.ToValue(normalize(call.Argument(0).String(), relID))
	})
}

func (d *Define) loadCallback(id string) goja.Value {
	fn := d.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		d.loaded[id] = call.Argument(0)
		return goja.Undefined()
	}).(*goja.Object)
	_ = fn.Set("fromText", func(goja.FunctionCall) goja.Value {
		throw(d.vm, errFromText)
		return nil
	})
	return fn
}

// normalize resolves a dot relative id against the id of the definition
// asking for it. Leading ".." segments that cannot be resolved are kept.
func normalize(id, base string) string {
	if !strings.HasPrefix(id, ".") || base == "" {
		return id
	}
	parts := strings.Split(base, "/")
	parts = append(parts[:len(parts)-1], strings.Split(id, "/")...)
	out := parts[:0]
	for _, p := range parts {
		switch {
		case p == ".":
		case p == ".." && len(out) > 0 && out[len(out)-1] != "..":
			out = out[:len(out)-1]
		default:
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

func throw(vm *goja.Runtime, err error) {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex)
	}
	panic(vm.NewGoError(err))
}
