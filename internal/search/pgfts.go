package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using the generated tsvector column on notes.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Search ranks matching notes with ts_rank and returns ts_headline snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit, offset := normalizeLimit(q.Limit, q.Offset)

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	where := []string{"n.fts @@ " + tsQuery}
	if q.CandidateID != "" {
		args = append(args, q.CandidateID)
		where = append(where, fmt.Sprintf("n.candidate_id = $%d", len(args)))
	}
	if !q.ViewerIsAdmin {
		args = append(args, q.ViewerID)
		where = append(where, fmt.Sprintf("(NOT n.is_private OR n.author_id = $%d)", len(args)))
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM notes n WHERE `+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT n.id, n.candidate_id, n.author_id, n.author_name, n.type,
			ts_headline('english', n.content, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			n.created_at
		FROM notes n
		WHERE %s
		ORDER BY ts_rank(n.fts, %s) DESC, n.created_at DESC
		LIMIT %d OFFSET %d`, tsQuery, whereSQL, tsQuery, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.NoteID, &r.CandidateID, &r.AuthorID, &r.AuthorName, &r.Type, &r.Snippet, &r.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}
