package host

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
	"github.com/spf13/afero"
)

var errSourceMissingName = errors.New("source does not have a name")

// A Source provides the script content of a module.
type Source interface {
	// The name the source is registered under.
	Name() string

	// The script content of the source.
	Content() ([]byte, error)

	// Identifiers required or declared as dependencies by this source.
	Require() ([]string, error)
}

// A Provider provides Sources for bare module identifiers.
type Provider interface {
	// Find a named source. Missing sources return an error wrapping
	// ErrModuleNotFound.
	Source(name string) (Source, error)
}

type literalSource struct {
	name    string
	content []byte
	require []string
}

type jsonSource struct {
	name  string
	value interface{}
}

type fileSource struct {
	name    string
	fs      afero.Fs
	path    string
	require []string
}

// A CustomProvider allows providing dynamically generated modules.
type CustomProvider struct {
	sources map[string]Source
}

// Define a source with the given content.
func NewSource(name string, content []byte) Source {
	return &literalSource{
		name:    name,
		content: content,
	}
}

func (s *literalSource) Name() string {
	return s.name
}

func (s *literalSource) Content() ([]byte, error) {
	return s.content, nil
}

func (s *literalSource) Require() ([]string, error) {
	if s.require == nil {
		var err error
		s.require, err = ParseRequire(s.name, s.content)
		if err != nil {
			return nil, err
		}
	}
	return s.require, nil
}

// Define a source as a JSON data structure. This is useful to inject
// configuration data for example.
func NewJSONSource(name string, v interface{}) Source {
	return &jsonSource{
		name:  name,
		value: v,
	}
}

func (s *jsonSource) Name() string {
	return s.name
}

func (s *jsonSource) Content() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteString("module.exports=")
	if err := json.NewEncoder(buf).Encode(s.value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *jsonSource) Require() ([]string, error) {
	return nil, nil
}

// Define a source where the content is pulled from a file.
func NewFileSource(name string, fs afero.Fs, filename string) Source {
	return &fileSource{
		name: name,
		fs:   fs,
		path: filename,
	}
}

func (s *fileSource) Name() string {
	return s.name
}

func (s *fileSource) Content() ([]byte, error) {
	return afero.ReadFile(s.fs, s.path)
}

func (s *fileSource) Require() ([]string, error) {
	if s.require == nil {
		content, err := s.Content()
		if err != nil {
			return nil, err
		}
		s.require, err = ParseRequire(s.path, content)
		if err != nil {
			return nil, err
		}
	}
	return s.require, nil
}

// Collect the script sources under a directory, named by their path
// relative to dirname without the extension.
func NewSourcesFromDir(fs afero.Fs, dirname string) (l []Source, err error) {
	err = afero.Walk(
		fs,
		dirname,
		func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || filepath.Ext(path) != ".js" {
				return nil
			}
			rel, err := filepath.Rel(dirname, path)
			if err != nil {
				return err
			}
			name := filepath.ToSlash(rel[:len(rel)-3])
			l = append(l, NewFileSource(name, fs, path))
			return nil
		})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// ParseRequire finds the identifiers a script depends on: the argument of
// every require('x') call with a literal string and the string elements of
// every define([...]) dependency array.
func ParseRequire(name string, content []byte) ([]string, error) {
	prg, err := parser.ParseFile(nil, name, string(content), 0)
	if err != nil {
		return nil, err
	}
	var l []string
	w := &requireWalker{found: func(id string) { l = append(l, id) }}
	for _, s := range prg.Body {
		w.statement(s)
	}
	return l, nil
}

// Add a Source to the provider.
func (p *CustomProvider) Add(s Source) error {
	if p.sources == nil {
		p.sources = make(map[string]Source)
	}
	if s.Name() == "" {
		return errSourceMissingName
	}
	if _, exists := p.sources[s.Name()]; exists {
		return fmt.Errorf("source %s already exists", s.Name())
	}
	p.sources[s.Name()] = s
	return nil
}

func (p *CustomProvider) Source(name string) (Source, error) {
	if s, ok := p.sources[name]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("source %s was not found: %w", name, ErrModuleNotFound)
}

// requireWalker visits the statements and expressions that can carry a
// require or define call. It does not try to be exhaustive: dependency
// lists are a hint for tooling, resolution happens at run time.
type requireWalker struct {
	found func(string)
}

func (w *requireWalker) statement(s ast.Statement) {
	switch s := s.(type) {
	case *ast.ExpressionStatement:
		w.expression(s.Expression)
	case *ast.VariableStatement:
		for _, b := range s.List {
			w.expression(b.Initializer)
		}
	case *ast.LexicalDeclaration:
		for _, b := range s.List {
			w.expression(b.Initializer)
		}
	case *ast.BlockStatement:
		for _, c := range s.List {
			w.statement(c)
		}
	case *ast.IfStatement:
		w.expression(s.Test)
		w.statement(s.Consequent)
		if s.Alternate != nil {
			w.statement(s.Alternate)
		}
	case *ast.ReturnStatement:
		w.expression(s.Argument)
	case *ast.FunctionDeclaration:
		w.function(s.Function)
	}
}

func (w *requireWalker) function(f *ast.FunctionLiteral) {
	if f == nil || f.Body == nil {
		return
	}
	for _, s := range f.Body.List {
		w.statement(s)
	}
}

func (w *requireWalker) expression(e ast.Expression) {
	switch e := e.(type) {
	case *ast.CallExpression:
		w.call(e)
	case *ast.AssignExpression:
		w.expression(e.Right)
	case *ast.BinaryExpression:
		w.expression(e.Left)
		w.expression(e.Right)
	case *ast.ConditionalExpression:
		w.expression(e.Test)
		w.expression(e.Consequent)
		w.expression(e.Alternate)
	case *ast.FunctionLiteral:
		w.function(e)
	case *ast.DotExpression:
		w.expression(e.Left)
	case *ast.SequenceExpression:
		for _, c := range e.Sequence {
			w.expression(c)
		}
	}
}

func (w *requireWalker) call(c *ast.CallExpression) {
	defer func() {
		w.expression(c.Callee)
		for _, a := range c.ArgumentList {
			w.expression(a)
		}
	}()
	id, ok := c.Callee.(*ast.Identifier)
	if !ok {
		return
	}
	switch id.Name {
	case "require":
		if len(c.ArgumentList) == 1 {
			if lit, ok := c.ArgumentList[0].(*ast.StringLiteral); ok {
				w.found(string(lit.Value))
			}
		}
	case "define":
		for _, a := range c.ArgumentList {
			deps, ok := a.(*ast.ArrayLiteral)
			if !ok {
				continue
			}
			for _, d := range deps.Value {
				if lit, ok := d.(*ast.StringLiteral); ok {
					w.found(string(lit.Value))
				}
			}
			break
		}
	}
}
