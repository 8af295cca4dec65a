package amdefine_test

import (
	"os"
	"strings"
	"testing"

	"github.com/daaku/go.amdefine"
	"github.com/spf13/afero"
)

// countingFs counts lookups of names containing watch.
type countingFs struct {
	afero.Fs
	watch string
	hits  int
}

func (fs *countingFs) count(name string) {
	if strings.Contains(name, fs.watch) {
		fs.hits++
	}
}

func (fs *countingFs) Stat(name string) (os.FileInfo, error) {
	fs.count(name)
	return fs.Fs.Stat(name)
}

func (fs *countingFs) Open(name string) (afero.File, error) {
	fs.count(name)
	return fs.Fs.Open(name)
}

func (fs *countingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	fs.count(name)
	return fs.Fs.OpenFile(name, flag, perm)
}

func TestRequireEmptyModule(t *testing.T) {
	t.Parallel()
	fs := &countingFs{Fs: afero.NewMemMapFs(), watch: "jquery"}
	l := newLoader(t, fs, map[string]string{
		"/app/main.js":                      "define(['jquery', 'jquery/ui'], function ($, ui) { return [typeof $, Object.keys($).length, $ === ui].join(); });",
		"/app/node_modules/jquery/index.js": "module.exports = 'real jquery';",
	})
	fs.hits = 0
	m, _ := start(t, l, "main.js", amdefine.Options{
		Paths: map[string]string{"jquery": amdefine.EmptyModule},
	})
	if err := l.Run(m); err != nil {
		t.Fatal(err)
	}
	if got := m.Exports().String(); got != "object,0,false" {
		t.Fatalf("expecting object,0,false, got %s", got)
	}
	if fs.hits != 0 {
		t.Fatalf("expecting no filesystem access, got %d", fs.hits)
	}
}

func TestRequireAliasedProjectPath(t *testing.T) {
	t.Parallel()
	l, m := runWith(t, map[string]string{
		"/app/main.js":         "define(['foo/bar'], function (bar) { return bar; });",
		"/app/libs/foo/bar.js": "module.exports = 'bar';",
	}, "main.js", amdefine.Options{
		Paths: map[string]string{"foo/": "libs/foo/"},
	})
	if got := m.Exports().String(); got != "bar" {
		t.Fatalf("expecting bar, got %s", got)
	}
	if l.Cached("/app/libs/foo/bar.js") == nil {
		t.Fatal("module was not loaded from the base path")
	}
}

func TestRequireProjectPathFromSubdirectory(t *testing.T) {
	t.Parallel()
	_, m := runWith(t, map[string]string{
		"/app/main.js":         "module.exports = require('./src/deep/x');",
		"/app/src/deep/x.js":   "define(['lib/y', 'util'], function (y, util) { return y + util; });",
		"/app/lib/y.js":        "module.exports = 'y';",
		"/app/util.js":         "module.exports = 'u';",
		"/app/src/deep/lib.js": "module.exports = 'wrong';",
	}, "main.js", amdefine.Options{})
	if got := m.Exports().String(); got != "yu" {
		t.Fatalf("expecting yu, got %s", got)
	}
}

func TestRequireFallsThroughToNodeModules(t *testing.T) {
	t.Parallel()
	_, m := runWith(t, map[string]string{
		"/app/main.js":                    "define(['left', './rel'], function (left, rel) { return left + rel; });",
		"/app/rel.js":                     "module.exports = 'R';",
		"/app/node_modules/left/index.js": "module.exports = 'L';",
	}, "main.js", amdefine.Options{})
	if got := m.Exports().String(); got != "LR" {
		t.Fatalf("expecting LR, got %s", got)
	}
}

func TestRequireDirectoryIsNotAFile(t *testing.T) {
	t.Parallel()
	// "lib" is a directory, so the bare id is not a project file and goes
	// to node_modules
	_, m := runWith(t, map[string]string{
		"/app/main.js":                   "define(['lib'], function (lib) { return lib; });",
		"/app/lib/y.js":                  "module.exports = 'y';",
		"/app/node_modules/lib/index.js": "module.exports = 'package';",
	}, "main.js", amdefine.Options{})
	if got := m.Exports().String(); got != "package" {
		t.Fatalf("expecting package, got %s", got)
	}
}

func TestRequireTypo(t *testing.T) {
	t.Parallel()
	for _, id := range []string{"nosuch", "lib/nosuch"} {
		l := newLoader(t, afero.NewMemMapFs(), map[string]string{
			"/app/main.js":  "define(['" + id + "'], function () {});",
			"/app/lib/y.js": "",
		})
		m, _ := start(t, l, "main.js", amdefine.Options{})
		err := l.Run(m)
		if err == nil || !strings.Contains(err.Error(), "cannot find module") {
			t.Fatalf("%s: expecting module not found, got %v", id, err)
		}
	}
}

func TestRequireCache(t *testing.T) {
	t.Parallel()
	files := map[string]string{
		"/app/main.js":    "define(['./counter', './counter'], function (a, b) { return a + ',' + b; });",
		"/app/state.js":   "module.exports = {n: 0};",
		"/app/counter.js": "var s = require('./state'); s.n++; module.exports = s.n;",
	}
	cases := []struct {
		disable  bool
		expected string
	}{
		{false, "1,1"},
		{true, "1,2"},
	}
	for _, c := range cases {
		_, m := runWith(t, files, "main.js", amdefine.Options{DisableCache: c.disable})
		if got := m.Exports().String(); got != c.expected {
			t.Fatalf("DisableCache=%v: expecting %s, got %s", c.disable, c.expected, got)
		}
	}
}

func TestAliasRequire(t *testing.T) {
	t.Parallel()
	files := map[string]string{
		"/app/main.js": "module.exports = require('./a');",
		"/app/a.js":    "module.exports = require('shim') + ',' + typeof require('gone');",
		"/app/real.js": "module.exports = 'real';",
	}
	paths := map[string]string{"shim": "./real", "gone": amdefine.EmptyModule}

	_, m := runWith(t, files, "main.js", amdefine.Options{Paths: paths, AliasRequire: true})
	if got := m.Exports().String(); got != "real,object" {
		t.Fatalf("expecting real,object, got %s", got)
	}

	l := newLoader(t, afero.NewMemMapFs(), files)
	m, _ = start(t, l, "main.js", amdefine.Options{Paths: paths})
	if err := l.Run(m); err == nil || !strings.Contains(err.Error(), "cannot find module 'shim'") {
		t.Fatalf("expecting plain require to ignore aliases, got %v", err)
	}
}

func TestAliasRequireSkipsProjectRoot(t *testing.T) {
	t.Parallel()
	_, m := runWith(t, map[string]string{
		"/app/main.js":   "module.exports = [require('./a'), require('./b')].join();",
		"/app/a.js":      "define(['lib/x'], function (x) { return x; });",
		"/app/b.js":      "try { require('lib/x'); } catch (e) { module.exports = e.message; }",
		"/app/libs/x.js": "module.exports = 'x';",
	}, "main.js", amdefine.Options{
		Paths:        map[string]string{"lib/": "libs/"},
		AliasRequire: true,
	})
	parts := strings.SplitN(m.Exports().String(), ",", 2)
	if parts[0] != "x" {
		t.Fatalf("expecting the dependency to resolve under the base path, got %s", parts[0])
	}
	if len(parts) != 2 || !strings.Contains(parts[1], "libs/x") {
		t.Fatalf("expecting plain require of the rewritten id to fail, got %v", parts)
	}
}
