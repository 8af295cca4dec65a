package amdefine

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// relative strips the base path from a module filename; patterns only ever
// see project relative, slash separated paths.
func (s *Scope) relative(id string) string {
	rel, err := filepath.Rel(s.basePath, id)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(id)
	}
	return filepath.ToSlash(rel)
}

// IsWhitelisted reports whether id matches the white list. An empty white
// list matches everything.
func (s *Scope) IsWhitelisted(id string) (bool, error) {
	if len(s.whiteList) == 0 {
		return true, nil
	}
	return matchAny(s.whiteList, s.relative(id))
}

// IsBlacklisted reports whether id matches the black list. An empty black
// list matches nothing.
func (s *Scope) IsBlacklisted(id string) (bool, error) {
	return matchAny(s.blackList, s.relative(id))
}

// Inject reports whether the module id gets a define function: it must be
// white listed and not black listed. The black list is only consulted for
// white listed ids.
func (s *Scope) Inject(id string) (bool, error) {
	ok, err := s.IsWhitelisted(id)
	if err != nil || !ok {
		return false, err
	}
	denied, err := s.IsBlacklisted(id)
	if err != nil {
		return false, err
	}
	return !denied, nil
}

func matchAny(patterns []string, name string) (bool, error) {
	for _, pat := range patterns {
		matched, err := doublestar.Match(pat, name)
		if err != nil {
			return false, err
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

// validatePatterns returns the first malformed pattern along with
// doublestar.ErrBadPattern.
func validatePatterns(patterns []string) (string, error) {
	for _, pat := range patterns {
		if !doublestar.ValidatePattern(pat) {
			return pat, doublestar.ErrBadPattern
		}
	}
	return "", nil
}
