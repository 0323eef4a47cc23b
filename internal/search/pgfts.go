package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a UNION ALL query across the guide tables and messages using
// plainto_tsquery and ts_rank, with ts_headline for snippets. Message rows are
// restricted to the viewer's entitlement.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultGuide {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'guide'::text AS type, i.id, i.title,
				ts_headline('english', i.body, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				'instruction'::text AS kind,
				ts_rank(i.fts, %s) AS rank
			FROM instructions i
			WHERE i.fts @@ %s`, tsQuery, tsQuery, tsQuery))

		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'guide'::text AS type, k.id, k.name AS title,
				ts_headline('english', k.location || ' ' || coalesce(k.notes, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				'key'::text AS kind,
				ts_rank(k.fts, %s) AS rank
			FROM key_entries k
			WHERE k.fts @@ %s`, tsQuery, tsQuery, tsQuery))

		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'guide'::text AS type, g.id, g.title,
				''::text AS snippet,
				'document'::text AS kind,
				ts_rank(g.fts, %s) AS rank
			FROM guide_documents g
			WHERE g.fts @@ %s`, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultMessage {
		viewerArg := fmt.Sprintf("$%d", argN)
		args = append(args, q.ViewerID)
		argN++
		adminArg := fmt.Sprintf("$%d", argN)
		args = append(args, q.ViewerIsAdmin)
		argN++

		entitled := fmt.Sprintf(
			"(m.is_global OR m.sender_id = %s OR m.receiver_id = %s OR (%s::boolean AND m.receiver_id IS NULL))",
			viewerArg, viewerArg, adminArg)

		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'message'::text AS type, m.id, coalesce(snd.display_name, '') AS title,
				ts_headline('english', m.content, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS kind,
				ts_rank(m.fts, %s) AS rank
			FROM messages m
			LEFT JOIN users snd ON snd.id = m.sender_id
			WHERE m.fts @@ %s AND %s`, tsQuery, tsQuery, tsQuery, entitled))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, kind
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.Kind); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable record for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]GuideRecord, []MessageRecord, error) {
	guides := make([]GuideRecord, 0)

	instrRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, body FROM instructions
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load instructions: %w", err)
	}
	defer instrRows.Close()
	for instrRows.Next() {
		g := GuideRecord{Kind: KindInstruction}
		if err := instrRows.Scan(&g.ID, &g.Title, &g.Body); err != nil {
			return nil, nil, fmt.Errorf("scan instruction: %w", err)
		}
		guides = append(guides, g)
	}
	if err := instrRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate instructions: %w", err)
	}

	keyRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, location || ' ' || coalesce(notes, '') FROM key_entries
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load key entries: %w", err)
	}
	defer keyRows.Close()
	for keyRows.Next() {
		g := GuideRecord{Kind: KindKey}
		if err := keyRows.Scan(&g.ID, &g.Title, &g.Body); err != nil {
			return nil, nil, fmt.Errorf("scan key entry: %w", err)
		}
		guides = append(guides, g)
	}
	if err := keyRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate key entries: %w", err)
	}

	docRows, err := p.db.QueryContext(ctx, `
		SELECT id, title FROM guide_documents
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load guide documents: %w", err)
	}
	defer docRows.Close()
	for docRows.Next() {
		g := GuideRecord{Kind: KindDocument}
		if err := docRows.Scan(&g.ID, &g.Title); err != nil {
			return nil, nil, fmt.Errorf("scan guide document: %w", err)
		}
		guides = append(guides, g)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate guide documents: %w", err)
	}

	msgRows, err := p.db.QueryContext(ctx, `
		SELECT m.id, m.content, coalesce(m.sender_id, ''), coalesce(m.receiver_id, ''),
			coalesce(snd.display_name, ''), m.is_global
		FROM messages m
		LEFT JOIN users snd ON snd.id = m.sender_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load messages: %w", err)
	}
	defer msgRows.Close()

	messages := make([]MessageRecord, 0)
	for msgRows.Next() {
		var m MessageRecord
		if err := msgRows.Scan(&m.ID, &m.Content, &m.SenderID, &m.ReceiverID, &m.SenderName, &m.IsGlobal); err != nil {
			return nil, nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := msgRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate messages: %w", err)
	}

	return guides, messages, nil
}
