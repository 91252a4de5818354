package schema

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"
)

// LoadDir registers every *.yaml / *.yml definition under dir.
// It expects one definition per file; the file name is informational only,
// the event name comes from the definition.
func (r *Registry) LoadDir(dir string) (int, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return 0, fmt.Errorf("schema path %q is not accessible: %w", dir, err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("schema path %q is not a directory", dir)
	}
	return r.LoadFS(os.DirFS(dir), ".")
}

// LoadFS registers every YAML definition found under root in fsys.
func (r *Registry) LoadFS(fsys fs.FS, root string) (int, error) {
	loaded := 0
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := path.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("failed to read schema %s: %w", p, err)
		}
		def, err := r.RegisterYAML(content)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		if base := strings.TrimSuffix(path.Base(p), ext); base != def.Event {
			slog.Warn("Schema file name does not match event name", "file", p, "event", def.Event)
		}
		loaded++
		return nil
	})
	if err != nil {
		return loaded, err
	}

	slog.Debug("Loaded event schemas", "root", root, "count", loaded)
	return loaded, nil
}
