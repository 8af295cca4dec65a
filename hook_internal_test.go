package amdefine

import (
	"testing"

	"github.com/daaku/go.amdefine/host"
	"github.com/spf13/afero"
)

func TestInstallOnce(t *testing.T) {
	t.Parallel()
	l := host.New(host.WithFs(afero.NewMemMapFs()))
	s1, err := NewScope(Options{BasePath: "/app"})
	if err != nil {
		t.Fatal(err)
	}
	s2, err := NewScope(Options{BasePath: "/other", InvasiveMode: true})
	if err != nil {
		t.Fatal(err)
	}

	Install(l, s1)
	if l.Mark(hookMarker) {
		t.Fatal("extension hook was not marked")
	}
	if !l.Mark(invasiveMarker) {
		t.Fatal("compiler hook installed without invasive mode")
	}

	l = host.New(host.WithFs(afero.NewMemMapFs()))
	Install(l, s2)
	Install(l, s1)
	if l.Mark(invasiveMarker) {
		t.Fatal("compiler hook was not marked")
	}
	if l.Mark(hookMarker) {
		t.Fatal("extension hook was not marked")
	}
}

func TestInherit(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/app/main.js", []byte("require('./a');"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, "/app/a.js", nil, 0o644); err != nil {
		t.Fatal(err)
	}
	l := host.New(host.WithFs(fs), host.WithDir("/app"))
	main, err := l.Main("main.js")
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Run(main); err != nil {
		t.Fatal(err)
	}
	a := l.Cached("/app/a.js")
	if inherit(a) != nil {
		t.Fatal("expecting no scope")
	}
	s, err := NewScope(Options{BasePath: "/app"})
	if err != nil {
		t.Fatal(err)
	}
	main.Attach(s)
	if inherit(a) != s {
		t.Fatal("expecting the parent's scope")
	}
	if ScopeOf(a) != s {
		t.Fatal("inherited scope was not attached")
	}
	if inherit(main) != s {
		t.Fatal("expecting the module's own scope")
	}
}
