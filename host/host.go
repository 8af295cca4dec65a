// Package host provides a synchronous, file based CommonJS module host on
// top of goja. Loading is depth first on the calling goroutine: compiling a
// module that requires another compiles the dependency before returning.
//
// The host exposes two hook points a plugin may wrap: the per extension
// handlers and the lower level content compiler. Every compile receives an
// explicit *Compilation whose globals are handed to the module function as
// parameters, so nothing is written to the runtime's global object.
package host

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dop251/goja"
	"github.com/spf13/afero"
)

// ErrModuleNotFound is matched by every resolution failure.
var ErrModuleNotFound = errors.New("module not found")

// ModuleNotFoundError reports an identifier the host could not resolve.
type ModuleNotFoundError struct {
	ID   string
	From string
}

func (e *ModuleNotFoundError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("cannot find module '%s'", e.ID)
	}
	return fmt.Sprintf("cannot find module '%s' from '%s'", e.ID, e.From)
}

func (e *ModuleNotFoundError) Is(target error) bool {
	return target == ErrModuleNotFound
}

// A Handler loads the module of a Compilation for one file extension.
type Handler func(c *Compilation) error

// A CompileFunc evaluates c.Source as the body of c.Module.
type CompileFunc func(c *Compilation) error

// A NativeFunc produces the exports of a native module for the module
// requiring it. Natives are not cached: each require gets a fresh value.
type NativeFunc func(l *Loader, requirer *Module) (goja.Value, error)

// Option configures a Loader.
type Option func(*Loader)

// WithFs sets the filesystem sources are read from. Defaults to the OS.
func WithFs(fs afero.Fs) Option {
	return func(l *Loader) {
		l.fs = fs
	}
}

// WithLogger sets the logger. Defaults to discarding everything.
func WithLogger(logger *log.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithProvider adds a Provider consulted for bare identifiers before
// node_modules lookup. Providers are consulted in the order added.
func WithProvider(p Provider) Option {
	return func(l *Loader) {
		l.providers = append(l.providers, p)
	}
}

// WithGlobalFolders appends directories searched for bare identifiers after
// node_modules lookup fails.
func WithGlobalFolders(dirs ...string) Option {
	return func(l *Loader) {
		l.globalFolders = append(l.globalFolders, dirs...)
	}
}

// WithRuntime uses an existing runtime instead of a fresh one.
func WithRuntime(vm *goja.Runtime) Option {
	return func(l *Loader) {
		l.vm = vm
	}
}

// WithDir sets the directory identifiers are resolved against when there is
// no requiring module. Defaults to the working directory.
func WithDir(dir string) Option {
	return func(l *Loader) {
		l.dir = dir
	}
}

type program struct {
	src string
	prg *goja.Program
}

// Loader is a CommonJS host bound to one goja runtime. A Loader is not safe
// for concurrent use, matching the runtime it drives.
type Loader struct {
	vm            *goja.Runtime
	fs            afero.Fs
	logger        *log.Logger
	dir           string
	providers     []Provider
	globalFolders []string

	cache    map[string]*Module
	virtual  map[string]Source
	programs map[string]program
	natives  map[string]NativeFunc
	exts     map[string]Handler
	extOrder []string
	compiler CompileFunc
	marks    map[string]bool
	stack    []*Compilation
	main     *Module
}

// New creates a Loader with the ".js" and ".json" handlers installed.
func New(opts ...Option) *Loader {
	l := &Loader{
		cache:    make(map[string]*Module),
		virtual:  make(map[string]Source),
		programs: make(map[string]program),
		natives:  make(map[string]NativeFunc),
		exts:     make(map[string]Handler),
		marks:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.vm == nil {
		l.vm = goja.New()
	}
	if l.fs == nil {
		l.fs = afero.NewOsFs()
	}
	if l.logger == nil {
		l.logger = log.New(io.Discard)
	}
	if l.dir == "" {
		if wd, err := os.Getwd(); err == nil {
			l.dir = wd
		}
	}
	l.compiler = l.compileSource
	l.SetExtension(".js", l.loadScript)
	l.SetExtension(".json", l.loadJSON)
	return l
}

func (l *Loader) Runtime() *goja.Runtime {
	return l.vm
}

func (l *Loader) Fs() afero.Fs {
	return l.fs
}

func (l *Loader) Logger() *log.Logger {
	return l.logger
}

// Mark records key and reports whether it was not recorded before. Plugins
// use it to install their hooks at most once per Loader.
func (l *Loader) Mark(key string) bool {
	if l.marks[key] {
		return false
	}
	l.marks[key] = true
	return true
}

// Extension returns the handler for ext, or nil.
func (l *Loader) Extension(ext string) Handler {
	return l.exts[ext]
}

// SetExtension installs h for ext. New extensions are also tried, in the
// order installed, when resolving an identifier without an extension.
func (l *Loader) SetExtension(ext string, h Handler) {
	if _, ok := l.exts[ext]; !ok {
		l.extOrder = append(l.extOrder, ext)
	}
	l.exts[ext] = h
}

// Compiler returns the content compiler.
func (l *Loader) Compiler() CompileFunc {
	return l.compiler
}

// SetCompiler replaces the content compiler used by the script handler and
// CompileString.
func (l *Loader) SetCompiler(fn CompileFunc) {
	l.compiler = fn
}

// RegisterNative makes fn available under name to every require call.
func (l *Loader) RegisterNative(name string, fn NativeFunc) {
	l.natives[name] = fn
}

// Active returns the innermost compilation in progress, or nil.
func (l *Loader) Active() *Compilation {
	if len(l.stack) == 0 {
		return nil
	}
	return l.stack[len(l.stack)-1]
}

// Cached returns the cached module for filename, or nil.
func (l *Loader) Cached(filename string) *Module {
	return l.cache[filename]
}

// Evict drops filename from the module cache so the next require evaluates
// it again. It reports whether an entry was present.
func (l *Loader) Evict(filename string) bool {
	if _, ok := l.cache[filename]; !ok {
		return false
	}
	delete(l.cache, filename)
	l.logger.Debug("evicted module", "filename", filename)
	return true
}

// MainModule returns the root module, or nil before Main is called.
func (l *Loader) MainModule() *Module {
	return l.main
}

// Main creates the root module for filename. The module is not evaluated
// until Run is called, which lets callers attach data to it first.
func (l *Loader) Main(filename string) (*Module, error) {
	if !filepath.IsAbs(filename) {
		filename = filepath.Join(l.dir, filename)
	}
	resolved, ok := l.resolvePath(filename)
	if !ok {
		return nil, &ModuleNotFoundError{ID: filename}
	}
	m := l.newModule(".", resolved, nil)
	l.main = m
	return m, nil
}

// Run evaluates m and caches it under its filename.
func (l *Loader) Run(m *Module) error {
	l.cache[m.Filename] = m
	if err := l.load(m); err != nil {
		delete(l.cache, m.Filename)
		return err
	}
	m.markLoaded()
	return nil
}

// Require loads id relative to the root module, or relative to the Loader
// directory when there is none.
func (l *Loader) Require(id string) (goja.Value, error) {
	return l.require(l.main, id)
}

// CompileString evaluates src as the module filename, a child of parent,
// straight through the content compiler. Extension handlers are bypassed
// and the result is not cached.
func (l *Loader) CompileString(parent *Module, filename, src string) (*Module, error) {
	m := l.newModule(filename, filename, parent)
	if parent != nil {
		parent.Children = append(parent.Children, m)
	}
	c := l.push(m)
	defer l.pop()
	c.Source = src
	if err := l.compiler(c); err != nil {
		return nil, err
	}
	m.markLoaded()
	return m, nil
}

func (l *Loader) require(from *Module, id string) (goja.Value, error) {
	if fn, ok := l.natives[id]; ok {
		return fn(l, from)
	}
	filename, err := l.Resolve(from, id)
	if err != nil {
		return nil, err
	}
	if m, ok := l.cache[filename]; ok {
		return m.Exports(), nil
	}
	m := l.newModule(filename, filename, from)
	l.cache[filename] = m
	if from != nil {
		from.Children = append(from.Children, m)
	}
	if err := l.load(m); err != nil {
		delete(l.cache, filename)
		return nil, err
	}
	m.markLoaded()
	return m.Exports(), nil
}

func (l *Loader) push(m *Module) *Compilation {
	c := &Compilation{
		Module:   m,
		Filename: m.Filename,
		globals:  make(map[string]goja.Value),
	}
	if outer := l.Active(); outer != nil {
		for k, v := range outer.globals {
			c.globals[k] = v
		}
	}
	l.stack = append(l.stack, c)
	return c
}

func (l *Loader) pop() {
	l.stack[len(l.stack)-1] = nil
	l.stack = l.stack[:len(l.stack)-1]
}

func (l *Loader) load(m *Module) error {
	c := l.push(m)
	defer l.pop()
	ext := filepath.Ext(m.Filename)
	if _, ok := l.virtual[m.Filename]; ok {
		ext = ".js"
	}
	h, ok := l.exts[ext]
	if !ok {
		h = l.exts[".js"]
	}
	l.logger.Debug("loading module", "filename", m.Filename, "depth", len(l.stack))
	return h(c)
}

func (l *Loader) readSource(filename string) ([]byte, error) {
	if s, ok := l.virtual[filename]; ok {
		return s.Content()
	}
	return afero.ReadFile(l.fs, filename)
}

func (l *Loader) loadScript(c *Compilation) error {
	src, err := l.readSource(c.Filename)
	if err != nil {
		return err
	}
	c.Source = string(src)
	return l.compiler(c)
}

func (l *Loader) loadJSON(c *Compilation) error {
	src, err := l.readSource(c.Filename)
	if err != nil {
		return err
	}
	parse, ok := goja.AssertFunction(l.vm.Get("JSON").ToObject(l.vm).Get("parse"))
	if !ok {
		return errors.New("JSON.parse is not a function")
	}
	v, err := parse(goja.Undefined(), l.vm.ToValue(string(src)))
	if err != nil {
		return fmt.Errorf("%s: %w", c.Filename, err)
	}
	c.Module.SetExports(v)
	return nil
}

func (l *Loader) compileSource(c *Compilation) error {
	names := c.Globals()
	prg, err := l.program(c.Filename, c.Source, names)
	if err != nil {
		return err
	}
	fnv, err := l.vm.RunProgram(prg)
	if err != nil {
		return err
	}
	fn, ok := goja.AssertFunction(fnv)
	if !ok {
		return fmt.Errorf("%s: module wrapper is not a function", c.Filename)
	}
	m := c.Module
	req := l.requireFunction(m)
	if err := m.obj.Set("require", req); err != nil {
		return err
	}
	exports := m.Exports()
	args := []goja.Value{
		exports,
		req,
		m.obj,
		l.vm.ToValue(c.Filename),
		l.vm.ToValue(m.Dir()),
	}
	for _, name := range names {
		args = append(args, c.globals[name])
	}
	_, err = fn(exports, args...)
	return err
}

func (l *Loader) program(filename, src string, names []string) (*goja.Program, error) {
	key := filename + "\x00" + strings.Join(names, ",")
	if p, ok := l.programs[key]; ok && p.src == src {
		return p.prg, nil
	}
	params := "exports, require, module, __filename, __dirname"
	if len(names) > 0 {
		params += ", " + strings.Join(names, ", ")
	}
	wrapped := "(function(" + params + ") {" + src + "\n})"
	prg, err := goja.Compile(filename, wrapped, false)
	if err != nil {
		return nil, err
	}
	l.programs[key] = program{src: src, prg: prg}
	return prg, nil
}

func (l *Loader) requireFunction(m *Module) *goja.Object {
	fn := l.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0)
		if goja.IsUndefined(id) || goja.IsNull(id) {
			panic(l.vm.NewTypeError("require: module id must be a string"))
		}
		v, err := m.callRequire(id.String())
		if err != nil {
			Throw(l.vm, err)
		}
		return v
	}).(*goja.Object)
	_ = fn.Set("resolve", func(call goja.FunctionCall) goja.Value {
		filename, err := l.Resolve(m, call.Argument(0).String())
		if err != nil {
			Throw(l.vm, err)
		}
		return l.vm.ToValue(filename)
	})
	if main := l.MainModule(); main != nil {
		_ = fn.Set("main", main.obj)
	}
	return fn
}

// Throw raises err inside the JavaScript code calling the current native
// function. Exceptions coming from JavaScript are rethrown unchanged.
func Throw(vm *goja.Runtime, err error) {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex)
	}
	panic(vm.NewGoError(err))
}

// Compilation is the context of one module compile. Hooks read and change
// it before delegating; its globals become parameters of the module
// function. A nested compilation starts with a copy of the globals of the
// compilation enclosing it.
type Compilation struct {
	Module   *Module
	Filename string
	Source   string

	globals map[string]goja.Value
}

// Global returns the named global, or nil if unset.
func (c *Compilation) Global(name string) goja.Value {
	return c.globals[name]
}

// SetGlobal sets the named global. A nil value unsets it.
func (c *Compilation) SetGlobal(name string, v goja.Value) {
	if v == nil {
		delete(c.globals, name)
		return
	}
	c.globals[name] = v
}

// Globals returns the names of the set globals in sorted order.
func (c *Compilation) Globals() []string {
	names := make([]string, 0, len(c.globals))
	for name := range c.globals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
