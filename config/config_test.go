package config_test

import (
	"testing"

	"github.com/daaku/go.amdefine/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const sample = `
basePath = "/app"
blackList = ["vendor/**"]
disableCache = true
logLevel = "debug"

[[paths]]
prefix = "foo/"
target = "libs/foo/"

[[paths]]
prefix = "jquery"
target = "empty:"

[[paths]]
prefix = "foo/"
target = "ignored/"
`

func newViper(t *testing.T, files map[string]string) *viper.Viper {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, content := range files {
		if err := afero.WriteFile(fs, name, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	v := config.New()
	v.SetFs(fs)
	return v
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	v := newViper(t, map[string]string{"/etc/amdefine.toml": sample})
	c, err := config.Load(v, "/etc/amdefine.toml", "/")
	if err != nil {
		t.Fatal(err)
	}
	if c.BasePath != "/app" || !c.DisableCache || c.LogLevel != "debug" {
		t.Fatalf("unexpected config %+v", c)
	}
	if len(c.BlackList) != 1 || c.BlackList[0] != "vendor/**" {
		t.Fatalf("unexpected black list %v", c.BlackList)
	}
	if len(c.Paths) != 3 || c.Paths[0].Prefix != "foo/" || c.Paths[1].Target != "empty:" {
		t.Fatalf("unexpected paths %v", c.Paths)
	}
}

func TestLoadDefaultFile(t *testing.T) {
	t.Parallel()
	v := newViper(t, map[string]string{"/proj/.amdefine.toml": sample})
	c, err := config.Load(v, "", "/proj")
	if err != nil {
		t.Fatal(err)
	}
	if c.BasePath != "/app" {
		t.Fatalf("expecting /app, got %q", c.BasePath)
	}
}

func TestLoadDefaultFileMissing(t *testing.T) {
	t.Parallel()
	v := newViper(t, nil)
	c, err := config.Load(v, "", "/proj")
	if err != nil {
		t.Fatal(err)
	}
	if c.LogLevel != "warn" || c.BasePath != "" || len(c.Paths) != 0 {
		t.Fatalf("expecting defaults, got %+v", c)
	}
}

func TestLoadExplicitFileMissing(t *testing.T) {
	t.Parallel()
	v := newViper(t, nil)
	if _, err := config.Load(v, "/nope.toml", "/"); err == nil {
		t.Fatal("was expecting an error")
	}
}

func TestLoadInvalid(t *testing.T) {
	t.Parallel()
	v := newViper(t, map[string]string{"/proj/.amdefine.toml": "basePath = ["})
	if _, err := config.Load(v, "", "/proj"); err == nil {
		t.Fatal("was expecting an error")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	v := newViper(t, map[string]string{"/proj/.amdefine.yaml": `
whiteList: ["src/**"]
paths:
  - prefix: lib/
    target: vendor/lib/
`})
	c, err := config.Load(v, "", "/proj")
	if err != nil {
		t.Fatal(err)
	}
	if len(c.WhiteList) != 1 || c.WhiteList[0] != "src/**" {
		t.Fatalf("unexpected white list %v", c.WhiteList)
	}
	if len(c.Paths) != 1 || c.Paths[0].Prefix != "lib/" {
		t.Fatalf("unexpected paths %v", c.Paths)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("AMDEFINE_BASEPATH", "/from/env")
	t.Setenv("AMDEFINE_ALIASREQUIRE", "true")
	v := newViper(t, map[string]string{"/proj/.amdefine.toml": sample})
	c, err := config.Load(v, "", "/proj")
	if err != nil {
		t.Fatal(err)
	}
	if c.BasePath != "/from/env" {
		t.Fatalf("expecting /from/env, got %q", c.BasePath)
	}
	if !c.AliasRequire {
		t.Fatal("expecting aliasRequire from the environment")
	}
	if !c.DisableCache {
		t.Fatal("expecting disableCache from the file")
	}
}

func TestOptions(t *testing.T) {
	t.Parallel()
	v := newViper(t, map[string]string{"/etc/amdefine.toml": sample})
	c, err := config.Load(v, "/etc/amdefine.toml", "/")
	if err != nil {
		t.Fatal(err)
	}
	opts := c.Options()
	if len(opts.Paths) != 2 {
		t.Fatalf("expecting 2 aliases, got %v", opts.Paths)
	}
	if opts.Paths["foo/"] != "libs/foo/" {
		t.Fatalf("expecting the first foo/ alias to win, got %s", opts.Paths["foo/"])
	}
	if opts.BasePath != "/app" || !opts.DisableCache || opts.InvasiveMode {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestTOML(t *testing.T) {
	t.Parallel()
	c := config.Default()
	c.BasePath = "/app"
	c.Paths = []config.Alias{{Prefix: "foo/", Target: "libs/foo/"}}
	c.ExposeAmdefine = true
	buf, err := c.TOML()
	if err != nil {
		t.Fatal(err)
	}
	var back config.Config
	if err := toml.Unmarshal(buf, &back); err != nil {
		t.Fatal(err)
	}
	if back.BasePath != "/app" || !back.ExposeAmdefine || back.LogLevel != "warn" {
		t.Fatalf("unexpected config %+v", back)
	}
	if len(back.Paths) != 1 || back.Paths[0] != c.Paths[0] {
		t.Fatalf("unexpected paths %v", back.Paths)
	}
}
