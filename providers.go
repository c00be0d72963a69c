package restruct

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/tyler-sommer/stick"
)

// StickPromptProvider renders Twig templates with stick. It does not care
// where templates come from.
type StickPromptProvider struct {
	env       *stick.Env
	templates map[string]string
	vars      map[string]stick.Value
}

// Option configures a StickPromptProvider.
type Option func(*StickPromptProvider) error

// WithFS loads every *.twig file found under dir in the supplied FS. The
// template tag is the file name without its extension.
func WithFS[F fs.FS](fsys F, dir string) Option {
	return func(p *StickPromptProvider) error {
		return fs.WalkDir(fsys, dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".twig") {
				return nil
			}
			content, readErr := fs.ReadFile(fsys, path)
			if readErr != nil {
				return fmt.Errorf("read %s: %w", path, readErr)
			}
			p.templates[strings.TrimSuffix(filepath.Base(path), ".twig")] = string(content)
			return nil
		})
	}
}

// WithTemplates injects templates from memory.
func WithTemplates(m map[string]string) Option {
	return func(p *StickPromptProvider) error {
		for k, v := range m {
			p.templates[k] = v
		}
		return nil
	}
}

// WithVar adds a variable that is available in all templates.
func WithVar(key string, value any) Option {
	return func(p *StickPromptProvider) error {
		p.vars[key] = value
		return nil
	}
}

func NewStickPromptProvider(opts ...Option) (*StickPromptProvider, error) {
	p := &StickPromptProvider{
		env:       stick.New(nil),
		templates: make(map[string]string),
		vars:      make(map[string]stick.Value),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// AddTemplate updates or inserts one template.
func (p *StickPromptProvider) AddTemplate(tag, tpl string) { p.templates[tag] = tpl }

// GetPrompt renders the template for the given tag.
func (p *StickPromptProvider) GetPrompt(tag string, version int) (string, error) {
	return p.render(tag, p.baseContext(tag, version))
}

// GetPromptWithContext renders the template with the target shape and input
// in scope as keys, key_list, schema, mode and document.
func (p *StickPromptProvider) GetPromptWithContext(tag string, version int, pc PromptContext) (string, error) {
	vars := p.baseContext(tag, version)
	vars["keys"] = pc.Keys
	vars["key_list"] = strings.Join(pc.Keys, ", ")
	vars["schema"] = pc.Schema
	vars["mode"] = pc.Mode.String()
	vars["document"] = pc.Document
	return p.render(tag, vars)
}

func (p *StickPromptProvider) baseContext(tag string, version int) map[string]stick.Value {
	vars := make(map[string]stick.Value, len(p.vars)+6)
	vars["version"] = version
	vars["tag"] = tag
	for k, v := range p.vars {
		vars[k] = v
	}
	return vars
}

func (p *StickPromptProvider) render(tag string, vars map[string]stick.Value) (string, error) {
	tpl, ok := p.templates[tag]
	if !ok {
		return "", fmt.Errorf("template %q not found", tag)
	}
	var out strings.Builder
	if err := p.env.Execute(tpl, &out, vars); err != nil {
		return "", fmt.Errorf("execute %q: %w", tag, err)
	}
	return out.String(), nil
}

// SimplePromptProvider serves fixed prompt text. A "{{.Keys}}" placeholder is
// replaced with the shape's field names by the extractor.
type SimplePromptProvider map[string]string

func (s SimplePromptProvider) GetPrompt(tag string, version int) (string, error) {
	if tpl, ok := s[tag]; ok {
		return tpl, nil
	}
	return "", fmt.Errorf("prompt %q not found", tag)
}
