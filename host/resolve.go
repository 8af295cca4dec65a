package host

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Resolve maps id, as required by from, to the filename the module is
// cached under. Explicit paths are resolved against from's directory; bare
// identifiers are looked up in providers, then node_modules directories
// from from's directory upward, then the global folders.
func (l *Loader) Resolve(from *Module, id string) (string, error) {
	dir := l.dir
	fromName := ""
	if from != nil {
		dir = from.Dir()
		fromName = from.Filename
	}
	notFound := &ModuleNotFoundError{ID: id, From: fromName}
	if id == "" {
		return "", notFound
	}

	if IsPath(id) {
		p := id
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		if f, ok := l.resolvePath(p); ok {
			return f, nil
		}
		return "", notFound
	}

	for _, p := range l.providers {
		s, err := p.Source(id)
		if err == nil {
			l.virtual[id] = s
			return id, nil
		}
		if !errors.Is(err, ErrModuleNotFound) {
			return "", err
		}
	}

	for _, nm := range nodeModulePaths(dir) {
		if f, ok := l.resolvePath(filepath.Join(nm, id)); ok {
			return f, nil
		}
	}
	for _, g := range l.globalFolders {
		if f, ok := l.resolvePath(filepath.Join(g, id)); ok {
			return f, nil
		}
	}
	return "", notFound
}

// IsPath reports whether id names an explicit relative or absolute path
// rather than a package.
func IsPath(id string) bool {
	return id == "." || id == ".." ||
		strings.HasPrefix(id, "./") || strings.HasPrefix(id, "../") ||
		strings.HasPrefix(id, "/") || filepath.IsAbs(id)
}

func (l *Loader) resolvePath(p string) (string, bool) {
	if f, ok := l.tryFile(p); ok {
		return f, true
	}
	if f, ok := l.tryExtensions(p); ok {
		return f, true
	}
	return l.tryDir(p)
}

func (l *Loader) tryFile(p string) (string, bool) {
	fi, err := l.fs.Stat(p)
	if err != nil || fi.IsDir() {
		return "", false
	}
	return p, true
}

func (l *Loader) tryExtensions(p string) (string, bool) {
	for _, ext := range l.extOrder {
		if f, ok := l.tryFile(p + ext); ok {
			return f, true
		}
	}
	return "", false
}

func (l *Loader) tryDir(p string) (string, bool) {
	fi, err := l.fs.Stat(p)
	if err != nil || !fi.IsDir() {
		return "", false
	}
	if main := l.packageMain(p); main != "" {
		m := filepath.Join(p, main)
		if f, ok := l.tryFile(m); ok {
			return f, true
		}
		if f, ok := l.tryExtensions(m); ok {
			return f, true
		}
		if f, ok := l.tryExtensions(filepath.Join(m, "index")); ok {
			return f, true
		}
	}
	return l.tryExtensions(filepath.Join(p, "index"))
}

func (l *Loader) packageMain(dir string) string {
	buf, err := afero.ReadFile(l.fs, filepath.Join(dir, "package.json"))
	if err != nil {
		return ""
	}
	var pkg struct {
		Main string `json:"main"`
	}
	if err := json.Unmarshal(buf, &pkg); err != nil {
		l.logger.Warn("ignoring malformed package.json", "dir", dir, "err", err)
		return ""
	}
	return pkg.Main
}

func nodeModulePaths(dir string) []string {
	var l []string
	for {
		if filepath.Base(dir) != "node_modules" {
			l = append(l, filepath.Join(dir, "node_modules"))
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return l
		}
		dir = parent
	}
}
