package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"go.klb.dev/clipvault/internal/selection"
)

// Remove deletes a selection, its offers and its index rows, then its content
// files. It returns the ids of the removed offers.
func (s *Store) Remove(ctx context.Context, id string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("remove: begin tx: %w", err)
	}
	defer tx.Rollback()

	offers, err := s.offers(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM selection_fts WHERE selection_id = ?`, id); err != nil {
		return nil, fmt.Errorf("remove: index rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM offer WHERE selection_id = ?`, id); err != nil {
		return nil, fmt.Errorf("remove: offer rows: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM selection WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("remove: selection row: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("remove: commit: %w", err)
	}

	ids := make([]string, 0, len(offers))
	var errs []error
	for _, o := range offers {
		ids = append(ids, o.ID)
		if err := os.Remove(s.ContentPath(o.ID)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return ids, fmt.Errorf("remove: content files: %w", err)
	}
	return ids, nil
}

// RemoveAll deletes every selection and recreates an empty content directory.
func (s *Store) RemoveAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("remove all: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM selection_fts`,
		`DELETE FROM offer`,
		`DELETE FROM selection`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("remove all: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("remove all: commit: %w", err)
	}

	if err := os.RemoveAll(s.contentDir); err != nil {
		return fmt.Errorf("remove all: wipe content directory: %w", err)
	}
	if err := os.MkdirAll(s.contentDir, 0o700); err != nil {
		return fmt.Errorf("remove all: recreate content directory: %w", err)
	}
	return nil
}

// SetPinned pins or unpins a selection. Pinning an already pinned selection
// refreshes pinned_at.
func (s *Store) SetPinned(ctx context.Context, id string, pinned bool) error {
	var pinnedAt sql.NullInt64
	if pinned {
		now := s.now()
		pinnedAt = toNullMillis(&now)
	}
	return s.update(ctx, "set pinned", `UPDATE selection SET pinned_at = ? WHERE id = ?`, pinnedAt, id)
}

// SetKeywords replaces a selection's search keywords.
func (s *Store) SetKeywords(ctx context.Context, id, keywords string) error {
	return s.update(ctx, "set keywords", `UPDATE selection SET keywords = ? WHERE id = ?`, keywords, id)
}

func (s *Store) update(ctx context.Context, op, stmt string, value any, id string) error {
	res, err := s.db.ExecContext(ctx, stmt, value, id)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Keywords returns a selection's search keywords.
func (s *Store) Keywords(ctx context.Context, id string) (string, error) {
	var kw string
	err := s.db.QueryRowContext(ctx, `SELECT keywords FROM selection WHERE id = ?`, id).Scan(&kw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("keywords %s: %w", id, err)
	}
	return kw, nil
}

// Retrieve reads every offer of a selection back, in their original order,
// decrypting sealed content.
func (s *Store) Retrieve(ctx context.Context, id string) (selection.Selection, error) {
	st, offers, err := s.Get(ctx, id)
	if err != nil {
		return selection.Selection{}, err
	}

	out := selection.Selection{Source: st.Source, Offers: make([]selection.Offer, 0, len(offers))}
	for _, so := range offers {
		data, err := s.readContent(so)
		if err != nil {
			return selection.Selection{}, err
		}
		out.Offers = append(out.Offers, selection.Offer{MimeType: so.MimeType, Data: data})
	}
	return out, nil
}

func (s *Store) readContent(so StoredOffer) ([]byte, error) {
	data, err := os.ReadFile(s.ContentPath(so.ID))
	if err != nil {
		return nil, fmt.Errorf("read content %s: %w", so.ID, err)
	}
	if so.Encryption != EncryptionLocal {
		return data, nil
	}
	if s.cipher == nil {
		return nil, ErrNoCipher
	}
	plain, err := s.cipher.Decrypt(data)
	if err != nil {
		return nil, fmt.Errorf("decrypt content %s: %w", so.ID, err)
	}
	return plain, nil
}
