// Package walker discovers markdown files under the workspace root.
//
// Expected layout:
//
//	<root>/
//	├── project1/
//	│   ├── status.md
//	│   ├── tasks/001-foo.md
//	│   └── plans/execution-plan.md
//	└── project2/
//	    └── ...
package walker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileInfo describes a discovered markdown file.
type FileInfo struct {
	Path        string  // Absolute path
	RelPath     string  // Relative to the workspace root, forward slashes
	Project     string  // Immediate child directory of the root
	Folder      string  // First segment under the project, "" for root files
	Filename    string  // Base name
	Mtime       float64 // Modification time, seconds with sub-second precision
	ContentHash string  // Hex-encoded SHA-256 of the file bytes
}

// ComputeHash returns the hex-encoded SHA-256 digest of content.
func ComputeHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Walk streams a FileInfo for every .md file under root. Projects are
// visited in ascending name order; dot-prefixed directories and files are
// skipped at every level. A missing root yields an empty stream.
// Per-file stat/read errors are logged and skipped.
func Walk(ctx context.Context, root string) <-chan FileInfo {
	out := make(chan FileInfo)

	go func() {
		defer close(out)

		entries, err := os.ReadDir(root)
		if err != nil {
			if !os.IsNotExist(err) {
				slog.Warn("cannot read workspace root",
					slog.String("root", root),
					slog.String("error", err.Error()))
			}
			return
		}

		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, entry := range entries {
			if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			if err := walkProject(ctx, root, entry.Name(), out); err != nil {
				return // context cancelled
			}
		}
	}()

	return out
}

// Collect drains Walk into a slice. Convenient for callers that need the
// full set, such as the sync pass.
func Collect(ctx context.Context, root string) []FileInfo {
	var files []FileInfo
	for fi := range Walk(ctx, root) {
		files = append(files, fi)
	}
	return files
}

func walkProject(ctx context.Context, root, project string, out chan<- FileInfo) error {
	projectDir := filepath.Join(root, project)

	return filepath.WalkDir(projectDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("walk error", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		if d.IsDir() {
			if path != projectDir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			slog.Warn("cannot stat file", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("cannot read file", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}

		fi := FileInfo{
			Path:        path,
			RelPath:     filepath.ToSlash(rel),
			Project:     project,
			Folder:      folderOf(filepath.ToSlash(rel)),
			Filename:    d.Name(),
			Mtime:       float64(info.ModTime().UnixNano()) / 1e9,
			ContentHash: ComputeHash(content),
		}

		select {
		case out <- fi:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// FileInfoFor builds the descriptor for a single file under root,
// reading and hashing its current content. Used after writes to index
// one path without a full walk.
func FileInfoFor(root, path string) (FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return FileInfo{}, err
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return FileInfo{}, err
	}
	relSlash := filepath.ToSlash(rel)

	return FileInfo{
		Path:        path,
		RelPath:     relSlash,
		Project:     strings.SplitN(relSlash, "/", 2)[0],
		Folder:      folderOf(relSlash),
		Filename:    filepath.Base(path),
		Mtime:       float64(info.ModTime().UnixNano()) / 1e9,
		ContentHash: ComputeHash(content),
	}, nil
}

// folderOf extracts the first path segment under the project, or "" for
// files sitting at the project root.
func folderOf(relPath string) string {
	parts := strings.Split(relPath, "/")
	if len(parts) > 2 {
		return parts[1]
	}
	return ""
}
