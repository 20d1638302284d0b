// Package index coordinates syncing the workspace filesystem into the
// store. The filesystem is always the source of truth; the store is a
// derived index that can be regenerated at any time.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vibemcp/vibemcp/internal/chunk"
	"github.com/vibemcp/vibemcp/internal/parser"
	"github.com/vibemcp/vibemcp/internal/store"
	"github.com/vibemcp/vibemcp/internal/walker"
)

// mtimeTolerance is the mtime difference below which a file is
// considered unchanged without hashing.
const mtimeTolerance = 0.001

// searchCacheSize bounds the number of cached search result sets.
const searchCacheSize = 128

// Indexer syncs the workspace with the store.
//
// Mutators (Reindex, Sync, IndexProject, IndexPath) are serialized by a
// process-wide writer mutex. Reads do not take it.
type Indexer struct {
	root   string
	store  *store.Store
	logger *slog.Logger

	writeMu sync.Mutex
	cache   *lru.Cache[string, []store.SearchResult]
}

// New creates an indexer over the workspace root backed by st.
func New(root string, st *store.Store, logger *slog.Logger) (*Indexer, error) {
	cache, err := lru.New[string, []store.SearchResult](searchCacheSize)
	if err != nil {
		return nil, err
	}
	return &Indexer{
		root:   root,
		store:  st,
		logger: logger,
		cache:  cache,
	}, nil
}

// Reindex clears the index and rebuilds it from a full walk. Returns
// the number of documents indexed.
func (ix *Indexer) Reindex(ctx context.Context) (int, error) {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	ix.logger.Info("starting full reindex", slog.String("root", ix.root))

	if err := ix.store.Clear(ctx); err != nil {
		return 0, err
	}
	ix.cache.Purge()

	// Cancel on early return so the walker goroutine never blocks on a
	// channel nobody drains.
	walkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	count := 0
	for fi := range walker.Walk(walkCtx, ix.root) {
		if err := ix.indexFile(ctx, fi); err != nil {
			return count, err
		}
		count++
	}
	if err := ctx.Err(); err != nil {
		return count, err
	}

	ix.logger.Info("reindex complete", slog.Int("documents", count))
	return count, nil
}

// Sync reconciles the index with filesystem changes. Mtime is the fast
// path; the content hash decides on a real change. Returns the counts
// of added, updated, and deleted documents.
func (ix *Indexer) Sync(ctx context.Context) (added, updated, deleted int, err error) {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	ix.logger.Debug("syncing index with filesystem")

	seen := make(map[string]struct{})

	walkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for fi := range walker.Walk(walkCtx, ix.root) {
		seen[fi.RelPath] = struct{}{}

		storedMtime, ok, err := ix.store.GetDocumentMtime(ctx, fi.RelPath)
		if err != nil {
			return added, updated, deleted, err
		}

		switch {
		case !ok:
			if err := ix.indexFile(ctx, fi); err != nil {
				return added, updated, deleted, err
			}
			added++
		case abs(fi.Mtime-storedMtime) > mtimeTolerance:
			storedHash, _, err := ix.store.GetDocumentHash(ctx, fi.RelPath)
			if err != nil {
				return added, updated, deleted, err
			}
			if storedHash != fi.ContentHash {
				if err := ix.indexFile(ctx, fi); err != nil {
					return added, updated, deleted, err
				}
				updated++
			} else {
				// Touch without re-chunking.
				if err := ix.store.UpdateDocumentMtime(ctx, fi.RelPath, fi.Mtime); err != nil {
					return added, updated, deleted, err
				}
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return added, updated, deleted, err
	}

	projects, err := ix.store.ListProjects(ctx)
	if err != nil {
		return added, updated, deleted, err
	}
	for _, project := range projects {
		indexed, err := ix.store.IndexedPaths(ctx, project.Name)
		if err != nil {
			return added, updated, deleted, err
		}
		for path := range indexed {
			if _, ok := seen[path]; !ok {
				if err := ix.store.DeleteDocument(ctx, path); err != nil {
					return added, updated, deleted, err
				}
				deleted++
			}
		}
	}

	if added+updated+deleted > 0 {
		ix.cache.Purge()
		ix.logger.Debug("sync complete",
			slog.Int("added", added),
			slog.Int("updated", updated),
			slog.Int("deleted", deleted))
	}
	return added, updated, deleted, nil
}

// IndexProject indexes every file of a single project. Returns the
// number of documents indexed.
func (ix *Indexer) IndexProject(ctx context.Context, name string) (int, error) {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	ix.logger.Info("indexing project", slog.String("project", name))

	walkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	count := 0
	for fi := range walker.Walk(walkCtx, ix.root) {
		if fi.Project != name {
			continue
		}
		if err := ix.indexFile(ctx, fi); err != nil {
			return count, err
		}
		count++
	}
	if err := ctx.Err(); err != nil {
		return count, err
	}
	return count, nil
}

// IndexPath indexes a single file given its absolute path. Used by the
// write engine after touching a file.
func (ix *Indexer) IndexPath(ctx context.Context, path string) error {
	fi, err := walker.FileInfoFor(ix.root, path)
	if err != nil {
		return fmt.Errorf("cannot stat %s: %w", path, err)
	}

	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()
	if err := ix.indexFile(ctx, fi); err != nil {
		return err
	}
	return nil
}

// indexFile runs the per-file pipeline. Caller holds the writer mutex.
// Per-file problems (escape, encoding) are logged and skipped, never
// returned; store errors propagate.
func (ix *Indexer) indexFile(ctx context.Context, fi walker.FileInfo) error {
	// Symlink-escape guard: the resolved path must stay under the
	// resolved root.
	resolvedRoot, err := filepath.EvalSymlinks(ix.root)
	if err != nil {
		ix.logger.Warn("cannot resolve workspace root", slog.String("error", err.Error()))
		return nil
	}
	resolvedPath, err := filepath.EvalSymlinks(fi.Path)
	if err != nil {
		ix.logger.Warn("cannot resolve path",
			slog.String("path", fi.RelPath),
			slog.String("error", err.Error()))
		return nil
	}
	if !strings.HasPrefix(resolvedPath, resolvedRoot+string(filepath.Separator)) {
		ix.logger.Warn("skipping file outside workspace root", slog.String("path", fi.RelPath))
		return nil
	}

	content, err := os.ReadFile(fi.Path)
	if err != nil {
		ix.logger.Warn("cannot read file",
			slog.String("path", fi.RelPath),
			slog.String("error", err.Error()))
		return nil
	}
	if !utf8.Valid(content) {
		ix.logger.Warn("skipping file with invalid UTF-8", slog.String("path", fi.RelPath))
		return nil
	}

	projectID, err := ix.store.GetOrCreateProject(ctx, fi.Project,
		filepath.Join(ix.root, fi.Project))
	if err != nil {
		return err
	}

	text := string(content)
	meta, _ := parser.Parse(text, fi.RelPath)

	docID, err := ix.store.UpsertDocument(ctx, &store.Document{
		ProjectID:   projectID,
		Path:        fi.RelPath,
		Folder:      fi.Folder,
		Filename:    fi.Filename,
		Type:        meta.Type,
		Status:      meta.Status,
		Owner:       meta.Owner,
		Tags:        meta.Tags,
		ContentHash: fi.ContentHash,
		Mtime:       fi.Mtime,
		Updated:     meta.Updated,
	})
	if err != nil {
		return err
	}

	if err := ix.store.DeleteChunksForDocument(ctx, docID); err != nil {
		return err
	}

	chunks := chunk.Split(text)
	rows := make([]store.Chunk, 0, len(chunks))
	for _, c := range chunks {
		rows = append(rows, store.Chunk{
			DocumentID:        docID,
			Heading:           c.Heading,
			HeadingLevel:      c.HeadingLevel,
			Content:           c.Content,
			ChunkOrder:        c.Order,
			CharOffset:        c.CharOffset,
			IsPriorityHeading: c.IsPriority,
		})
	}
	if err := ix.store.InsertChunks(ctx, docID, rows); err != nil {
		return err
	}

	ix.cache.Purge()
	return nil
}

// Search runs a ranked query, serving repeated queries from a small
// LRU cache that mutators invalidate.
func (ix *Indexer) Search(ctx context.Context, query, project string, limit int) ([]store.SearchResult, error) {
	key := fmt.Sprintf("%s|%s|%d", query, project, limit)
	if results, ok := ix.cache.Get(key); ok {
		return results, nil
	}

	results, err := ix.store.Search(ctx, query, project, limit)
	if err != nil {
		return nil, err
	}
	ix.cache.Add(key, results)
	return results, nil
}

// ListProjects lists indexed projects.
func (ix *Indexer) ListProjects(ctx context.Context) ([]store.Project, error) {
	return ix.store.ListProjects(ctx)
}

// GetProject fetches a single indexed project by name.
func (ix *Indexer) GetProject(ctx context.Context, name string) (*store.Project, error) {
	return ix.store.GetProject(ctx, name)
}

// ListDocuments lists documents, optionally filtered by project and folder.
func (ix *Indexer) ListDocuments(ctx context.Context, project, folder string) ([]store.Document, error) {
	return ix.store.ListDocuments(ctx, project, folder)
}

// GetDocument fetches a document by workspace-relative path.
// ListTasks lists task documents, optionally filtered by project and status.
func (ix *Indexer) ListTasks(ctx context.Context, project, status string) ([]store.TaskRow, error) {
	return ix.store.ListTasks(ctx, project, status)
}

func (ix *Indexer) GetDocument(ctx context.Context, path string) (*store.Document, error) {
	return ix.store.GetDocumentByPath(ctx, path)
}

// GetChunks fetches the chunks of a document in order.
func (ix *Indexer) GetChunks(ctx context.Context, documentID int64) ([]store.Chunk, error) {
	return ix.store.GetChunks(ctx, documentID)
}

// Root returns the workspace root the indexer walks.
func (ix *Indexer) Root() string {
	return ix.root
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
