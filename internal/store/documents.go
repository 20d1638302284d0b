package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/vibemcp/vibemcp/internal/errors"
)

// GetOrCreateProject returns the id of the named project, creating it
// if absent. An existing project has its path and updated_at refreshed.
func (s *Store) GetOrCreateProject(ctx context.Context, name, path string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var id int64
	err := s.db.QueryRowContext(ctx, "SELECT id FROM projects WHERE name = ?", name).Scan(&id)
	switch {
	case err == nil:
		_, err = s.db.ExecContext(ctx,
			"UPDATE projects SET path = ?, updated_at = datetime('now') WHERE id = ?",
			path, id)
		if err != nil {
			return 0, fmt.Errorf("cannot update project: %w", err)
		}
		return id, nil
	case err == sql.ErrNoRows:
		res, err := s.db.ExecContext(ctx,
			"INSERT INTO projects (name, path) VALUES (?, ?)", name, path)
		if err != nil {
			return 0, fmt.Errorf("cannot create project: %w", err)
		}
		return res.LastInsertId()
	default:
		return 0, fmt.Errorf("cannot look up project: %w", err)
	}
}

// GetProject fetches a project by name, or a not-found error.
func (s *Store) GetProject(ctx context.Context, name string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var p Project
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, path, created_at, updated_at FROM projects WHERE name = ?",
		name).Scan(&p.ID, &p.Name, &p.Path, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("project not found: " + name)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot fetch project: %w", err)
	}
	return &p, nil
}

// ListProjects returns all projects in name order.
func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, path, created_at, updated_at FROM projects ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("cannot list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Path, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// CountProjects returns the number of indexed projects.
func (s *Store) CountProjects(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM projects").Scan(&n); err != nil {
		return 0, fmt.Errorf("cannot count projects: %w", err)
	}
	return n, nil
}

const documentColumns = `id, project_id, path, folder, filename, type, status, owner, tags,
	content_hash, mtime, updated, indexed_at`

// GetDocumentByPath fetches a document by its workspace-relative path.
func (s *Store) GetDocumentByPath(ctx context.Context, path string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE path = ?", path)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("document not found: " + path)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot fetch document: %w", err)
	}
	return doc, nil
}

// GetDocumentHash returns the stored content hash for path. The second
// return value is false when the document is not indexed.
func (s *Store) GetDocumentHash(ctx context.Context, path string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return "", false, err
	}

	var hash string
	err := s.db.QueryRowContext(ctx,
		"SELECT content_hash FROM documents WHERE path = ?", path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cannot fetch document hash: %w", err)
	}
	return hash, true, nil
}

// GetDocumentMtime returns the stored mtime for path. The second return
// value is false when the document is not indexed.
func (s *Store) GetDocumentMtime(ctx context.Context, path string) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, false, err
	}

	var mtime float64
	err := s.db.QueryRowContext(ctx,
		"SELECT mtime FROM documents WHERE path = ?", path).Scan(&mtime)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("cannot fetch document mtime: %w", err)
	}
	return mtime, true, nil
}

// UpsertDocument inserts or updates a document by its unique path and
// returns the document id.
func (s *Store) UpsertDocument(ctx context.Context, doc *Document) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var tagsJSON any
	if len(doc.Tags) > 0 {
		b, err := json.Marshal(doc.Tags)
		if err != nil {
			return 0, fmt.Errorf("cannot encode tags: %w", err)
		}
		tagsJSON = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents
		(project_id, path, folder, filename, type, status, owner, tags, content_hash, mtime, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
		    project_id = excluded.project_id,
		    folder = excluded.folder,
		    filename = excluded.filename,
		    type = excluded.type,
		    status = excluded.status,
		    owner = excluded.owner,
		    tags = excluded.tags,
		    content_hash = excluded.content_hash,
		    mtime = excluded.mtime,
		    updated = excluded.updated,
		    indexed_at = datetime('now')`,
		doc.ProjectID, doc.Path, doc.Folder, doc.Filename,
		nullString(doc.Type), nullString(doc.Status), nullString(doc.Owner),
		tagsJSON, doc.ContentHash, doc.Mtime, nullString(doc.Updated))
	if err != nil {
		return 0, fmt.Errorf("cannot upsert document: %w", err)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT id FROM documents WHERE path = ?", doc.Path).Scan(&id); err != nil {
		return 0, fmt.Errorf("cannot fetch document id: %w", err)
	}
	return id, nil
}

// UpdateDocumentMtime refreshes only the stored mtime. Used by the sync
// fast path when content is unchanged.
func (s *Store) UpdateDocumentMtime(ctx context.Context, path string, mtime float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE documents SET mtime = ?, indexed_at = datetime('now') WHERE path = ?",
		mtime, path)
	return err
}

// DeleteDocument removes a document by path; chunks cascade.
func (s *Store) DeleteDocument(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE path = ?", path)
	return err
}

// ListDocuments lists documents ordered by path, optionally filtered by
// project name and folder. Empty filters match everything.
func (s *Store) ListDocuments(ctx context.Context, projectName, folder string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `SELECT d.id, d.project_id, d.path, d.folder, d.filename, d.type, d.status,
		d.owner, d.tags, d.content_hash, d.mtime, d.updated, d.indexed_at
		FROM documents d
		JOIN projects p ON d.project_id = p.id
		WHERE 1=1`
	var params []any
	if projectName != "" {
		query += " AND p.name = ?"
		params = append(params, projectName)
	}
	if folder != "" {
		query += " AND d.folder = ?"
		params = append(params, folder)
	}
	query += " ORDER BY d.path"

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("cannot list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// ListTasks returns all documents in tasks folders, optionally filtered
// by project and status, ordered by path.
func (s *Store) ListTasks(ctx context.Context, projectName, status string) ([]TaskRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `SELECT p.name, d.path, d.filename,
		COALESCE(d.status, ''), COALESCE(d.owner, ''), COALESCE(d.updated, '')
		FROM documents d
		JOIN projects p ON d.project_id = p.id
		WHERE d.folder = 'tasks'`
	var params []any
	if projectName != "" {
		query += " AND p.name = ?"
		params = append(params, projectName)
	}
	if status != "" {
		query += " AND d.status = ?"
		params = append(params, status)
	}
	query += " ORDER BY d.path"

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("cannot list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []TaskRow
	for rows.Next() {
		var t TaskRow
		if err := rows.Scan(&t.ProjectName, &t.Path, &t.Filename, &t.Status, &t.Owner, &t.Updated); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// IndexedPaths returns the set of indexed document paths for a project.
func (s *Store) IndexedPaths(ctx context.Context, projectName string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT d.path FROM documents d
		JOIN projects p ON d.project_id = p.id
		WHERE p.name = ?`, projectName)
	if err != nil {
		return nil, fmt.Errorf("cannot list indexed paths: %w", err)
	}
	defer rows.Close()

	paths := make(map[string]struct{})
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		paths[path] = struct{}{}
	}
	return paths, rows.Err()
}

// DeleteChunksForDocument removes all chunks (and FTS rows, via the
// triggers) for a document.
func (s *Store) DeleteChunksForDocument(ctx context.Context, documentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID)
	return err
}

// InsertChunks inserts the chunks of a document in one transaction.
func (s *Store) InsertChunks(ctx context.Context, documentID int64, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cannot begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks
		(document_id, heading, heading_level, content, chunk_order, char_offset, is_priority_heading)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("cannot prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		priority := 0
		if c.IsPriorityHeading {
			priority = 1
		}
		if _, err := stmt.ExecContext(ctx,
			documentID, nullString(c.Heading), c.HeadingLevel, c.Content,
			c.ChunkOrder, c.CharOffset, priority); err != nil {
			return fmt.Errorf("cannot insert chunk: %w", err)
		}
	}

	return tx.Commit()
}

// GetChunks returns the chunks of a document in chunk order.
func (s *Store) GetChunks(ctx context.Context, documentID int64) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, heading, heading_level, content, chunk_order, char_offset, is_priority_heading
		FROM chunks WHERE document_id = ? ORDER BY chunk_order`, documentID)
	if err != nil {
		return nil, fmt.Errorf("cannot fetch chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var heading sql.NullString
		var priority int
		if err := rows.Scan(&c.ID, &c.DocumentID, &heading, &c.HeadingLevel,
			&c.Content, &c.ChunkOrder, &c.CharOffset, &priority); err != nil {
			return nil, err
		}
		c.Heading = heading.String
		c.IsPriorityHeading = priority != 0
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var typ, status, owner, tags, updated sql.NullString
	err := row.Scan(&doc.ID, &doc.ProjectID, &doc.Path, &doc.Folder, &doc.Filename,
		&typ, &status, &owner, &tags, &doc.ContentHash, &doc.Mtime, &updated, &doc.IndexedAt)
	if err != nil {
		return nil, err
	}
	doc.Type = typ.String
	doc.Status = status.String
	doc.Owner = owner.String
	doc.Updated = updated.String
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &doc.Tags); err != nil {
			return nil, fmt.Errorf("cannot decode tags: %w", err)
		}
	}
	return &doc, nil
}

// nullString maps "" to SQL NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
