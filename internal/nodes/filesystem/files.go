package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mattjoyce/pipelab/internal/plugin"
)

var copyNode = plugin.NodeDefinition{
	ID:          "fs:copy",
	Type:        plugin.KindAction,
	Name:        "Copy file",
	Description: "Copy a file or a folder from one location to another",
	Params: map[string]plugin.ParamDefinition{
		"from":      pathParam("From"),
		"to":        pathParam("To"),
		"recursive": boolParam("Recursive", true),
	},
}

func runCopy(ctx context.Context, rc *plugin.RunContext) error {
	from, err := resolvePath(rc, "from")
	if err != nil {
		return err
	}
	to, err := resolvePath(rc, "to")
	if err != nil {
		return err
	}
	info, err := os.Stat(from)
	if err != nil {
		return fmt.Errorf("copy source: %w", err)
	}
	rc.Logf("copying %s to %s", from, to)
	if !info.IsDir() {
		return copyFile(from, to, info.Mode())
	}
	if !rc.Bool("recursive", true) {
		return fmt.Errorf("%s is a directory and recursive is false", from)
	}
	return filepath.WalkDir(from, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(from, path)
		if err != nil {
			return err
		}
		target := filepath.Join(to, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, fi.Mode())
	})
}

func copyFile(from, to string, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return err
	}
	src, err := os.Open(from)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.OpenFile(to, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("copy %s: %w", from, err)
	}
	return dst.Close()
}

var removeNode = plugin.NodeDefinition{
	ID:          "fs:remove",
	Type:        plugin.KindAction,
	Name:        "Remove file/folder",
	Description: "Remove a file or a folder",
	Params: map[string]plugin.ParamDefinition{
		"from":      pathParam("Path"),
		"recursive": boolParam("Recursive", true),
	},
}

func runRemove(_ context.Context, rc *plugin.RunContext) error {
	path, err := resolvePath(rc, "from")
	if err != nil {
		return err
	}
	rc.Logf("removing %s", path)
	if rc.Bool("recursive", true) {
		return os.RemoveAll(path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

var listNode = plugin.NodeDefinition{
	ID:          "list-files",
	Type:        plugin.KindAction,
	Name:        "List files",
	Description: "List files from a folder",
	Params: map[string]plugin.ParamDefinition{
		"folder":    pathParam("Folder"),
		"recursive": boolParam("Recursive", false),
	},
	Outputs: map[string]plugin.OutputDefinition{
		"paths": {Label: "Paths", Value: []any{}},
	},
}

func runList(_ context.Context, rc *plugin.RunContext) error {
	folder, err := resolvePath(rc, "folder")
	if err != nil {
		return err
	}
	paths := []any{}
	if rc.Bool("recursive", false) {
		err = filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path != folder {
				paths = append(paths, path)
			}
			return nil
		})
	} else {
		var entries []os.DirEntry
		entries, err = os.ReadDir(folder)
		for _, e := range entries {
			paths = append(paths, filepath.Join(folder, e.Name()))
		}
	}
	if err != nil {
		return fmt.Errorf("list %s: %w", folder, err)
	}
	rc.Logf("found %d entries in %s", len(paths), folder)
	rc.SetOutput("paths", paths)
	return nil
}

var isFileNode = plugin.NodeDefinition{
	ID:          "is-file",
	Type:        plugin.KindCondition,
	Name:        "Is file",
	Description: "True when the path is a regular file",
	Params: map[string]plugin.ParamDefinition{
		"path": {Label: "Path", Value: "", Control: plugin.Control{Type: "input", Options: map[string]any{"kind": "text"}}},
	},
}

func evaluateIsFile(_ context.Context, rc *plugin.RunContext) (bool, error) {
	path, err := resolvePath(rc, "path")
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}
