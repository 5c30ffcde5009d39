package review

import (
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	errs "coffee-location-dedup/pkg/errors"
)

//go:embed templates/*.txt.tmpl
var promptsFS embed.FS

func promptFS() fs.FS {
	if sub, err := fs.Sub(promptsFS, "templates"); err == nil {
		return sub
	}
	return promptsFS
}

// promptManager loads, compiles and renders prompt templates.
// Templates are compiled once at startup; variants can be added as
// new files (e.g., pair_review@v2.txt.tmpl).
type promptManager struct {
	mu   sync.RWMutex
	tpls map[string]*template.Template
}

func newPromptManager() (*promptManager, error) {
	m := &promptManager{tpls: make(map[string]*template.Template)}

	err := fs.WalkDir(promptFS(), ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(p, ".txt.tmpl") {
			return nil
		}
		b, rerr := fs.ReadFile(promptFS(), p)
		if rerr != nil {
			return fmt.Errorf("read template %s: %w", p, rerr)
		}
		name := strings.TrimSuffix(filepath.Base(p), ".txt.tmpl")
		tpl, perr := template.New(name).Parse(string(b))
		if perr != nil {
			return fmt.Errorf("parse template %s: %w", p, perr)
		}
		m.tpls[name] = tpl
		return nil
	})
	if err != nil {
		return nil, errs.NewBiz("review.newPromptManager", "failed to load prompts", err)
	}
	return m, nil
}

// render executes a named template with data and returns the result string.
func (m *promptManager) render(name string, data any) (string, error) {
	m.mu.RLock()
	tpl, ok := m.tpls[name]
	m.mu.RUnlock()
	if !ok {
		return "", errs.NewValidation("review.render", fmt.Sprintf("prompt template not found: %s", name), nil)
	}
	var sb strings.Builder
	if err := tpl.Execute(&sb, data); err != nil {
		return "", errs.NewBiz("review.render", fmt.Sprintf("execute template %s", name), err)
	}
	return sb.String(), nil
}
