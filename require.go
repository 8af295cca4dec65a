package amdefine

import (
	"path/filepath"
	"strings"

	"github.com/daaku/go.amdefine/host"
	"github.com/dop251/goja"
	"github.com/spf13/afero"
)

// Require loads the dependency id on behalf of m. The id is first rewritten
// through the alias table. An id whose leading segment names a file or
// directory under the base path is loaded from there; anything else goes to
// native resolution unchanged, so typos still fail as "module not found".
func (s *Scope) Require(m *host.Module, id string) (goja.Value, error) {
	l := m.Loader()
	p := s.aliases.CheckPath(id)
	if p == EmptyModule {
		s.logger.Debug("empty module", "id", id, "module", m.Filename)
		return l.Runtime().NewObject(), nil
	}
	if p != id {
		s.logger.Debug("alias", "id", id, "path", p)
	}
	p = s.projectPath(l.Fs(), p)
	if s.disableCache {
		if filename, err := l.Resolve(m, p); err == nil {
			l.Evict(filename)
		}
	}
	return m.Require(p)
}

// projectPath turns a project root relative id into an absolute path under
// the base path when the id's leading segment exists there.
func (s *Scope) projectPath(fs afero.Fs, id string) string {
	segment, _, _ := strings.Cut(id, "/")
	if segment == "" || strings.HasPrefix(segment, ".") || host.IsPath(id) {
		return id
	}
	candidate := filepath.Join(s.basePath, segment)
	wantDir := true
	if id == segment {
		candidate += ".js"
		wantDir = false
	}
	fi, err := fs.Stat(candidate)
	if err != nil || fi.IsDir() != wantDir {
		s.logger.Debug("not a project path", "id", id, "candidate", candidate)
		return id
	}
	return filepath.Join(s.basePath, filepath.FromSlash(id))
}

// aliasedRequire is the require installed into modules when AliasRequire is
// set: plain require calls are rewritten through the alias table too.
func (s *Scope) aliasedRequire(m *host.Module) func(string) (goja.Value, error) {
	return func(id string) (goja.Value, error) {
		p := s.aliases.CheckPath(id)
		if p == EmptyModule {
			return m.Loader().Runtime().NewObject(), nil
		}
		return m.Require(p)
	}
}
