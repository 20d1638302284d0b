package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vibemcp/vibemcp/internal/errors"
)

// Snippet configuration for FTS5 search results.
const (
	snippetColumnIndex    = 0 // content is the first column in chunks_fts
	snippetHighlightStart = ">>>"
	snippetHighlightEnd   = "<<<"
	snippetEllipsis       = "..."
	snippetMaxTokens      = 64
)

// Search runs a ranked full-text query. The ranking multiplies the raw
// BM25 score with type, recency, heading, and status boosts; every
// factor is returned on the result so callers can explain the score.
// projectName filters to a single project when non-empty.
func (s *Store) Search(ctx context.Context, query, projectName string, limit int) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	snippetFunc := fmt.Sprintf("snippet(chunks_fts, %d, '%s', '%s', '%s', %d)",
		snippetColumnIndex, snippetHighlightStart, snippetHighlightEnd,
		snippetEllipsis, snippetMaxTokens)

	searchQuery := `
		SELECT
		    c.id AS chunk_id,
		    c.document_id,
		    p.name AS project_name,
		    d.path AS document_path,
		    d.folder,
		    c.heading,
		    c.content,
		    ` + snippetFunc + ` AS snippet,
		    bm25(chunks_fts) AS bm25_score,
		    CASE
		        WHEN d.path LIKE '%/status.md' OR d.path LIKE '%status.md' THEN 3.0
		        WHEN d.folder = 'tasks' THEN 2.0
		        WHEN d.folder = 'plans' THEN 1.8
		        WHEN d.folder = 'sessions' THEN 1.5
		        WHEN d.folder = 'changelog' THEN 1.2
		        WHEN d.folder = 'reports' THEN 1.0
		        WHEN d.folder = 'references' THEN 0.8
		        WHEN d.folder = 'scratch' THEN 0.5
		        ELSE 0.3
		    END AS type_boost,
		    CASE
		        WHEN julianday('now') - julianday(COALESCE(d.updated, datetime(d.mtime, 'unixepoch'))) <= 1 THEN 2.0
		        WHEN julianday('now') - julianday(COALESCE(d.updated, datetime(d.mtime, 'unixepoch'))) <= 7 THEN 1.5
		        WHEN julianday('now') - julianday(COALESCE(d.updated, datetime(d.mtime, 'unixepoch'))) <= 30 THEN 1.2
		        WHEN julianday('now') - julianday(COALESCE(d.updated, datetime(d.mtime, 'unixepoch'))) <= 90 THEN 1.0
		        ELSE 0.8
		    END AS recency_boost,
		    CASE
		        WHEN c.is_priority_heading = 1 THEN 2.5
		        WHEN c.heading LIKE '%Objective%' THEN 1.5
		        WHEN c.heading LIKE '%Acceptance%' THEN 1.5
		        ELSE 1.0
		    END AS heading_boost,
		    CASE
		        WHEN d.status = 'in-progress' THEN 2.0
		        WHEN d.status = 'blocked' THEN 1.8
		        WHEN d.status = 'pending' THEN 1.2
		        WHEN d.status = 'done' THEN 0.6
		        ELSE 1.0
		    END AS status_boost
		FROM chunks_fts
		JOIN chunks c ON chunks_fts.rowid = c.id
		JOIN documents d ON c.document_id = d.id
		JOIN projects p ON d.project_id = p.id
		WHERE chunks_fts MATCH ?`
	params := []any{query}

	if projectName != "" {
		searchQuery += " AND p.name = ?"
		params = append(params, projectName)
	}

	searchQuery += `
		ORDER BY (
		    bm25(chunks_fts) * type_boost * recency_boost * heading_boost * status_boost
		) DESC
		LIMIT ?`
	params = append(params, limit)

	rows, err := s.db.QueryContext(ctx, searchQuery, params...)
	if err != nil {
		return nil, errors.Wrap(errors.KindInputInvalid, "search query failed", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var heading sql.NullString
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.ProjectName, &r.DocumentPath,
			&r.Folder, &heading, &r.Content, &r.Snippet, &r.BM25Score,
			&r.TypeBoost, &r.RecencyBoost, &r.HeadingBoost, &r.StatusBoost); err != nil {
			return nil, err
		}
		r.Heading = heading.String
		r.FinalScore = r.BM25Score * r.TypeBoost * r.RecencyBoost * r.HeadingBoost * r.StatusBoost
		results = append(results, r)
	}
	return results, rows.Err()
}
