package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrPipelineNotFound is returned when a library has no pipeline by a name.
var ErrPipelineNotFound = errors.New("pipeline not found")

var libraryExts = []string{".json", ".yaml", ".yml"}

// Library resolves pipeline names to files in one directory. The name of
// "deploy.yaml" is "deploy".
type Library struct {
	Dir string
}

// Path returns the file backing name.
func (l Library) Path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid pipeline name %q", name)
	}
	for _, ext := range libraryExts {
		p := filepath.Join(l.Dir, name+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrPipelineNotFound, name)
}

// Load parses the named pipeline and returns it with its path.
func (l Library) Load(name string) (*Document, string, error) {
	path, err := l.Path(name)
	if err != nil {
		return nil, "", err
	}
	doc, err := LoadFile(path)
	if err != nil {
		return nil, "", err
	}
	return doc, path, nil
}

// Names lists the pipelines in the library, sorted. A missing directory is
// an empty library.
func (l Library) Names() ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pipelines dir: %w", err)
	}
	seen := map[string]bool{}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, want := range libraryExts {
			if ext == want {
				name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
				if !seen[name] {
					seen[name] = true
					names = append(names, name)
				}
			}
		}
	}
	sort.Strings(names)
	return names, nil
}
