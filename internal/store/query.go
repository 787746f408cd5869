package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.klb.dev/clipvault/internal/selection"
)

// DefaultLimit is the page size used when a query does not set one.
const DefaultLimit = 50

// Query selects one page of history.
type Query struct {
	Limit  int
	Offset int
	// Text matches indexed text content by token prefix, or keywords by
	// substring.
	Text string
	// Kind restricts results to selections whose preferred offer has this kind.
	Kind selection.Kind
}

func (q Query) filtered() bool {
	return strings.TrimSpace(q.Text) != "" || q.Kind != ""
}

// Item is a selection joined with its preferred offer.
type Item struct {
	Selection StoredSelection
	Offer     StoredOffer
}

// Page is one page of query results.
type Page struct {
	Items      []Item
	TotalCount int
	TotalPages int
}

const selectionColumns = `s.id, s.hash, s.preferred_mime_type, s.kind, s.offer_count,
	s.source, s.keywords, s.created_at, s.updated_at, s.pinned_at`

const offerColumns = `o.id, o.selection_id, o.position, o.mime_type, o.text_preview,
	o.content_hash, o.size, o.encryption_kind, o.url_host`

const orderBy = `s.pinned_at DESC, s.updated_at DESC, s.id`

// Query returns a page of selections, pinned first and then most recently
// updated first.
//
// Without filters the selection table is sorted and paged before the offer
// join so the order index does the work. With filters the filtered rows are
// joined first. Both paths return the same rows for the same input.
func (s *Store) Query(ctx context.Context, q Query) (Page, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	where, args := q.where()

	// Count and page share one snapshot so concurrent inserts cannot make
	// them disagree.
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Page{}, fmt.Errorf("query: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var total int
	countSQL := `SELECT COUNT(*) FROM selection s` + where
	if err := tx.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("query: count: %w", err)
	}

	var (
		query string
		qargs []any
	)
	if q.filtered() {
		query = filterThenJoin(where)
		qargs = append(args, q.Limit, q.Offset)
	} else {
		query = sortThenJoin()
		qargs = []any{q.Limit, q.Offset}
	}

	items, err := queryItems(ctx, tx, query, qargs...)
	if err != nil {
		return Page{}, err
	}
	return Page{
		Items:      items,
		TotalCount: total,
		TotalPages: (total + q.Limit - 1) / q.Limit,
	}, nil
}

func sortThenJoin() string {
	return `
		SELECT ` + selectionColumns + `, ` + offerColumns + `
		FROM (
			SELECT * FROM selection s
			ORDER BY ` + orderBy + `
			LIMIT ? OFFSET ?
		) s
		JOIN offer o ON o.selection_id = s.id AND o.mime_type = s.preferred_mime_type
		ORDER BY ` + orderBy
}

func filterThenJoin(where string) string {
	return `
		SELECT ` + selectionColumns + `, ` + offerColumns + `
		FROM selection s
		JOIN offer o ON o.selection_id = s.id AND o.mime_type = s.preferred_mime_type` +
		where + `
		ORDER BY ` + orderBy + `
		LIMIT ? OFFSET ?`
}

func (q Query) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if q.Kind != "" {
		conds = append(conds, `s.kind = ?`)
		args = append(args, string(q.Kind))
	}
	if text := strings.TrimSpace(q.Text); text != "" {
		conds = append(conds, `(s.id IN (SELECT selection_id FROM selection_fts WHERE selection_fts MATCH ?)
			OR s.keywords LIKE ? ESCAPE '\')`)
		args = append(args, ftsPrefixQuery(text), "%"+escapeLike(text)+"%")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ftsPrefixQuery quotes every whitespace-separated token so FTS5 syntax
// characters are taken literally, and makes each a prefix match.
// "fix auth" → `"fix"* "auth"*`
func ftsPrefixQuery(text string) string {
	words := strings.Fields(text)
	for i, w := range words {
		words[i] = `"` + strings.ReplaceAll(w, `"`, `""`) + `"*`
	}
	return strings.Join(words, " ")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSelection(row scanner, extra ...any) (StoredSelection, error) {
	var (
		st       StoredSelection
		kind     string
		source   sql.NullString
		created  int64
		updated  int64
		pinnedAt sql.NullInt64
	)
	dest := []any{
		&st.ID, &st.Hash, &st.PreferredMimeType, &kind, &st.OfferCount,
		&source, &st.Keywords, &created, &updated, &pinnedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return StoredSelection{}, err
	}
	st.Kind = selection.Kind(kind)
	st.Source = source.String
	st.CreatedAt = millis(created)
	st.UpdatedAt = millis(updated)
	st.PinnedAt = fromNullMillis(pinnedAt)
	return st, nil
}

// offerDest returns scan destinations for offerColumns and a function that
// finishes the conversion after Scan.
func offerDest(so *StoredOffer) ([]any, func()) {
	var (
		enc  string
		host sql.NullString
	)
	dest := []any{
		&so.ID, &so.SelectionID, &so.Position, &so.MimeType, &so.TextPreview,
		&so.ContentHash, &so.Size, &enc, &host,
	}
	return dest, func() {
		so.Encryption = Encryption(enc)
		so.URLHost = host.String
	}
}

func queryItems(ctx context.Context, q querier, query string, args ...any) ([]Item, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var it Item
		dest, finish := offerDest(&it.Offer)
		it.Selection, err = scanSelection(rows, dest...)
		if err != nil {
			return nil, fmt.Errorf("query: scan: %w", err)
		}
		finish()
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return items, nil
}

// Get returns a selection and all its offers in position order.
func (s *Store) Get(ctx context.Context, id string) (StoredSelection, []StoredOffer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectionColumns+` FROM selection s WHERE s.id = ?`, id)
	st, err := scanSelection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredSelection{}, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return StoredSelection{}, nil, fmt.Errorf("get %s: %w", id, err)
	}

	offers, err := s.offers(ctx, s.db, id)
	if err != nil {
		return StoredSelection{}, nil, err
	}
	return st, offers, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) offers(ctx context.Context, q querier, selectionID string) ([]StoredOffer, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+offerColumns+` FROM offer o WHERE o.selection_id = ? ORDER BY o.position`, selectionID)
	if err != nil {
		return nil, fmt.Errorf("list offers %s: %w", selectionID, err)
	}
	defer rows.Close()

	var out []StoredOffer
	for rows.Next() {
		var so StoredOffer
		dest, finish := offerDest(&so)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		finish()
		out = append(out, so)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list offers %s: %w", selectionID, err)
	}
	return out, nil
}
