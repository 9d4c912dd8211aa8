package filesystem

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/mattjoyce/pipelab/internal/plugin"
)

var zipNode = plugin.NodeDefinition{
	ID:          "zip-node",
	Type:        plugin.KindAction,
	Name:        "Zip",
	Description: "Zip a folder into a .zip file",
	Params: map[string]plugin.ParamDefinition{
		"folder": pathParam("Folder"),
	},
	Outputs: map[string]plugin.OutputDefinition{
		"path": {Label: "Path", Value: ""},
	},
}

// runZip archives folder into output.zip in the step directory.
func runZip(ctx context.Context, rc *plugin.RunContext) error {
	folder, err := resolvePath(rc, "folder")
	if err != nil {
		return err
	}
	outDir := rc.Cwd
	if outDir == "" {
		outDir = rc.Paths.Cache
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	out := filepath.Join(outDir, "output.zip")
	if err := zipFolder(ctx, rc, folder, out); err != nil {
		os.Remove(out)
		return err
	}
	rc.SetOutput("path", out)
	return nil
}

func zipFolder(ctx context.Context, rc *plugin.RunContext, folder, out string) error {
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)
	walkErr := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(folder, path)
		if err != nil || rel == "." {
			return err
		}
		name := filepath.ToSlash(rel)
		if d.IsDir() {
			_, err := zw.Create(name + "/")
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = name
		hdr.Method = zip.Deflate
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		if _, err := io.Copy(w, src); err != nil {
			return err
		}
		rc.LogAt(plugin.LevelDebug, "adding "+name)
		return nil
	})
	if err := zw.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if err := f.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if walkErr != nil {
		return fmt.Errorf("zip %s: %w", folder, walkErr)
	}
	return nil
}

var unzipNode = plugin.NodeDefinition{
	ID:          "unzip-file-node",
	Type:        plugin.KindAction,
	Name:        "Unzip file",
	Description: "Extract a .zip file into the step directory",
	Params: map[string]plugin.ParamDefinition{
		"file": pathParam("File"),
	},
	Outputs: map[string]plugin.OutputDefinition{
		"output": {Label: "Output", Value: ""},
	},
}

func runUnzip(ctx context.Context, rc *plugin.RunContext) error {
	file, err := resolvePath(rc, "file")
	if err != nil {
		return err
	}
	dest := rc.Cwd
	if dest == "" {
		return fmt.Errorf("unzip: no step directory")
	}
	n, err := unzipFile(ctx, file, dest)
	if err != nil {
		return err
	}
	rc.Logf("extracted %d files from %s", n, file)
	rc.SetOutput("output", dest)
	return nil
}

func unzipFile(ctx context.Context, file, dest string) (int, error) {
	zr, err := zip.OpenReader(file)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	root := filepath.Clean(dest) + string(os.PathSeparator)
	count := 0
	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		target := filepath.Join(dest, filepath.FromSlash(zf.Name))
		if !strings.HasPrefix(target, root) {
			return count, fmt.Errorf("archive entry %q escapes destination", zf.Name)
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return count, err
			}
			continue
		}
		if err := extract(zf, target); err != nil {
			return count, fmt.Errorf("extract %s: %w", zf.Name, err)
		}
		count++
	}
	return count, nil
}

func extract(zf *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := zf.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	mode := zf.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
