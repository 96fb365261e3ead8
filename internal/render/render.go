// Package render resolves view identifiers into rendered e-mail bodies.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
)

// DirRenderer renders html/template files from a directory. The view
// identifier "welcome" maps to <dir>/welcome<ext>; dots in the identifier
// act as path separators ("orders.shipped" -> orders/shipped).
type DirRenderer struct {
	dir string
	ext string
}

// NewDirRenderer creates a renderer rooted at dir. Ext defaults to ".html".
func NewDirRenderer(dir, ext string) *DirRenderer {
	if ext == "" {
		ext = ".html"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return &DirRenderer{dir: dir, ext: ext}
}

// Render parses and executes the view with the given variables.
func (r *DirRenderer) Render(view string, variables map[string]any) (string, error) {
	path, err := r.resolve(view)
	if err != nil {
		return "", err
	}

	tmpl, err := template.ParseFiles(path)
	if err != nil {
		return "", fmt.Errorf("parsing view %q: %w", view, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, variables); err != nil {
		return "", fmt.Errorf("rendering view %q: %w", view, err)
	}
	return buf.String(), nil
}

// Exists reports whether the view resolves to a template file.
func (r *DirRenderer) Exists(view string) bool {
	path, err := r.resolve(view)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (r *DirRenderer) resolve(view string) (string, error) {
	if view == "" {
		return "", fmt.Errorf("empty view name")
	}
	rel := strings.ReplaceAll(view, ".", string(filepath.Separator)) + r.ext
	path := filepath.Join(r.dir, rel)

	// Keep resolution inside the template root.
	absRoot, err := filepath.Abs(r.dir)
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if absPath != absRoot && !strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("view %q escapes template directory", view)
	}
	return absPath, nil
}
