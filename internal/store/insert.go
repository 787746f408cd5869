package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"go.klb.dev/clipvault/internal/selection"
)

// InsertResult describes what Insert did.
type InsertResult struct {
	Selection StoredSelection
	// Bubbled is true when an identical selection already existed and only
	// its updated_at moved.
	Bubbled bool
}

type stagedFile struct {
	tmp, final string
}

// Insert persists sel in one transaction. A selection whose hash is already
// stored is bubbled up instead: only updated_at changes, strictly increasing,
// and pin state and keywords are kept.
//
// When encrypt is set and a Cipher is configured, content files are sealed.
func (s *Store) Insert(ctx context.Context, sel selection.Selection, encrypt bool) (InsertResult, error) {
	sel = sel.Dedup()
	if len(sel.Offers) == 0 {
		return InsertResult{}, ErrEmptySelection
	}
	encrypt = encrypt && s.cipher != nil

	hash := sel.Hash()
	now := s.now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return InsertResult{}, fmt.Errorf("insert: begin tx: %w", err)
	}
	defer tx.Rollback()

	var (
		existingID  string
		prevUpdated int64
	)
	err = tx.QueryRowContext(ctx, `SELECT id, updated_at FROM selection WHERE hash = ?`, hash).
		Scan(&existingID, &prevUpdated)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, `UPDATE selection SET updated_at = ? WHERE id = ?`,
			max(now, prevUpdated+1), existingID); err != nil {
			return InsertResult{}, fmt.Errorf("insert: bubble up %s: %w", existingID, err)
		}
		if err := tx.Commit(); err != nil {
			return InsertResult{}, fmt.Errorf("insert: commit: %w", err)
		}
		st, _, err := s.Get(ctx, existingID)
		if err != nil {
			return InsertResult{}, err
		}
		return InsertResult{Selection: st, Bubbled: true}, nil
	case !errors.Is(err, sql.ErrNoRows):
		return InsertResult{}, fmt.Errorf("insert: lookup hash: %w", err)
	}

	preferred := sel.Offers[selection.PreferredIndex(sel.Offers)]
	st := StoredSelection{
		ID:                uuid.NewString(),
		Hash:              hash,
		PreferredMimeType: preferred.MimeType,
		Kind:              preferred.Kind(),
		OfferCount:        len(sel.Offers),
		Source:            sel.Source,
		CreatedAt:         time.UnixMilli(now),
		UpdatedAt:         time.UnixMilli(now),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO selection (
			id, hash, preferred_mime_type, kind, offer_count,
			source, keywords, created_at, updated_at, pinned_at
		) VALUES (?, ?, ?, ?, ?, ?, '', ?, ?, NULL)`,
		st.ID, st.Hash, st.PreferredMimeType, string(st.Kind), st.OfferCount,
		toNullString(st.Source), now, now,
	)
	if err != nil {
		return InsertResult{}, fmt.Errorf("insert: selection row: %w", err)
	}

	var staged []stagedFile
	committed := false
	defer func() {
		if committed {
			return
		}
		for _, f := range staged {
			_ = os.Remove(f.tmp)
		}
	}()

	for i, o := range sel.Offers {
		kind := o.Kind()
		so := StoredOffer{
			ID:          uuid.NewString(),
			SelectionID: st.ID,
			Position:    i,
			MimeType:    o.MimeType,
			TextPreview: selection.Preview(o.MimeType, o.Data),
			ContentHash: o.Hash(),
			Size:        int64(len(o.Data)),
			Encryption:  EncryptionNone,
			URLHost:     selection.URLHost(o.MimeType, o.Data),
		}

		data := o.Data
		if encrypt {
			data, err = s.cipher.Encrypt(o.Data)
			if err != nil {
				return InsertResult{}, fmt.Errorf("insert: encrypt offer %s: %w", o.MimeType, err)
			}
			so.Encryption = EncryptionLocal
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO offer (
				id, selection_id, position, mime_type, text_preview,
				content_hash, encryption_kind, size, url_host
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			so.ID, so.SelectionID, so.Position, so.MimeType, so.TextPreview,
			so.ContentHash, string(so.Encryption), so.Size, toNullString(so.URLHost),
		)
		if err != nil {
			return InsertResult{}, fmt.Errorf("insert: offer row %s: %w", o.MimeType, err)
		}

		if kind == selection.KindText || kind == selection.KindLink {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO selection_fts (selection_id, content) VALUES (?, ?)`,
				st.ID, string(o.Data),
			); err != nil {
				return InsertResult{}, fmt.Errorf("insert: index offer %s: %w", o.MimeType, err)
			}
		}

		f, err := s.stage(so.ID, data)
		if err != nil {
			return InsertResult{}, err
		}
		staged = append(staged, f)
	}

	if err := tx.Commit(); err != nil {
		return InsertResult{}, fmt.Errorf("insert: commit: %w", err)
	}
	committed = true

	for _, f := range staged {
		if err := os.Rename(f.tmp, f.final); err != nil {
			return InsertResult{Selection: st}, fmt.Errorf("insert: finalize content: %w", err)
		}
	}
	return InsertResult{Selection: st}, nil
}

// stage writes data to a temporary file next to its final location.
func (s *Store) stage(offerID string, data []byte) (stagedFile, error) {
	final := s.ContentPath(offerID)
	tmp := filepath.Join(s.contentDir, "."+offerID+tmpSuffix)
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		_ = os.Remove(tmp)
		return stagedFile{}, fmt.Errorf("insert: write content %s: %w", offerID, err)
	}
	return stagedFile{tmp: tmp, final: final}, nil
}
