// Package sqlite provides a SQLite-backed document store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/AnTengye/contractforge/model"
	"github.com/AnTengye/contractforge/service"
	"github.com/AnTengye/contractforge/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const documentColumns = `owner_id, id, kind, request, body, status, executed_object, default_state, created_at, updated_at,
	has_signing, unsigned_body, buyer_label, publisher_label, signing_status,
	buyer_image, buyer_signer, buyer_signed_at,
	publisher_image, publisher_signer, publisher_signed_at`

// Store persists documents in a single SQLite file.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMicros(value time.Time) int64 {
	return value.UTC().UnixMicro()
}

func fromMicros(value int64) time.Time {
	return time.UnixMicro(value).UTC()
}

// Open opens the SQLite file at path and applies the embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; slot writes rely on it together with the
	// conditional UPDATE.
	sqlDB.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	slog.Info("sqlite document store initialized", "path", filepath.Clean(path))
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Create(ctx context.Context, doc *model.ContractDocument) error {
	request, err := json.Marshal(doc.Request)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	now := s.now().UTC()
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	args := []any{
		doc.OwnerID, doc.ID, doc.Kind, string(request), doc.Body, string(doc.Status), doc.ExecutedObject,
		doc.DefaultState, toMicros(createdAt), toMicros(now),
	}
	args = append(args, signingArgs(doc.Signing)...)
	_, err = tx.ExecContext(ctx, `INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if isPrimaryKeyViolation(err) {
		return fmt.Errorf("document %s: %w", doc.ID, model.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	for _, note := range doc.NegotiationNotes {
		if err := insertNote(ctx, tx, doc.Key(), note); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Get(ctx context.Context, key model.DocumentKey) (*model.ContractDocument, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE owner_id = ? AND id = ?`,
		key.OwnerID, key.DocumentID)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	notes, err := s.loadNotes(ctx,
		`SELECT document_id, author, text, created_at FROM negotiation_notes
		WHERE owner_id = ? AND document_id = ? ORDER BY seq`,
		key.OwnerID, key.DocumentID)
	if err != nil {
		return nil, err
	}
	if n := notes[doc.ID]; n != nil {
		doc.NegotiationNotes = n
	}
	return doc, nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]*model.ContractDocument, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE owner_id = ? ORDER BY created_at DESC, id`,
		ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]*model.ContractDocument, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return docs, nil
	}

	notes, err := s.loadNotes(ctx,
		`SELECT document_id, author, text, created_at FROM negotiation_notes
		WHERE owner_id = ? ORDER BY seq`,
		ownerID)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if n := notes[doc.ID]; n != nil {
			doc.NegotiationNotes = n
		}
	}
	return docs, nil
}

func (s *Store) Delete(ctx context.Context, key model.DocumentKey) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM negotiation_notes WHERE owner_id = ? AND document_id = ?`,
		key.OwnerID, key.DocumentID); err != nil {
		return fmt.Errorf("delete notes: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE owner_id = ? AND id = ?`,
		key.OwnerID, key.DocumentID)
	if err := requireRow(res, err); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) UpdateStatus(ctx context.Context, key model.DocumentKey, status model.DocumentStatus) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE owner_id = ? AND id = ?`,
		string(status), toMicros(s.now()), key.OwnerID, key.DocumentID)
	return requireRow(res, err)
}

func (s *Store) AppendNegotiationNote(ctx context.Context, key model.DocumentKey, note model.NegotiationNote) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE documents SET updated_at = ? WHERE owner_id = ? AND id = ?`,
		toMicros(s.now()), key.OwnerID, key.DocumentID)
	if err := requireRow(res, err); err != nil {
		return err
	}
	if err := insertNote(ctx, tx, key, note); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ReplaceContent(ctx context.Context, key model.DocumentKey, kind string, req model.AgreementRequest, body string, rec model.SigningRecord) error {
	request, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	args := []any{kind, string(request), body}
	args = append(args, signingArgs(&rec)...)
	args = append(args, toMicros(s.now()), key.OwnerID, key.DocumentID)
	res, err := s.sqlDB.ExecContext(ctx, `UPDATE documents SET
		kind = ?, request = ?, body = ?,
		`+signingAssignments+`,
		updated_at = ?
		WHERE owner_id = ? AND id = ? AND `+noSignatures, args...)
	return s.requireUnsigned(ctx, key, res, err)
}

func (s *Store) PutSigningRecord(ctx context.Context, key model.DocumentKey, rec model.SigningRecord) error {
	args := signingArgs(&rec)
	args = append(args, toMicros(s.now()), key.OwnerID, key.DocumentID)
	res, err := s.sqlDB.ExecContext(ctx, `UPDATE documents SET
		`+signingAssignments+`,
		updated_at = ?
		WHERE owner_id = ? AND id = ? AND `+noSignatures, args...)
	return s.requireUnsigned(ctx, key, res, err)
}

// requireUnsigned reports why a write guarded by noSignatures matched no row.
func (s *Store) requireUnsigned(ctx context.Context, key model.DocumentKey, res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := s.hasSigning(ctx, key); err != nil {
		return err
	}
	return model.ErrInvalidTransition
}

func (s *Store) FillSignatureSlot(ctx context.Context, key model.DocumentKey, role model.Role, signerName string, image []byte) error {
	prefix, err := slotPrefix(role)
	if err != nil {
		return err
	}
	now := toMicros(s.now())
	res, err := s.sqlDB.ExecContext(ctx, fmt.Sprintf(`UPDATE documents SET
		%[1]s_image = ?, %[1]s_signer = ?, %[1]s_signed_at = ?, updated_at = ?
		WHERE owner_id = ? AND id = ? AND has_signing = 1 AND %[1]s_signed_at IS NULL`, prefix),
		image, signerName, now, now, key.OwnerID, key.DocumentID)
	if err != nil {
		return fmt.Errorf("fill %s slot: %w", role, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 1 {
		return nil
	}

	hasSigning, err := s.hasSigning(ctx, key)
	if err != nil {
		return err
	}
	if !hasSigning {
		return model.ErrInvalidState
	}
	return model.ErrSlotAlreadySigned
}

func (s *Store) RefreshSigningStatus(ctx context.Context, key model.DocumentKey) (*model.SigningRecord, error) {
	res, err := s.sqlDB.ExecContext(ctx, `UPDATE documents SET
		signing_status = CASE
			WHEN buyer_signed_at IS NULL THEN ?
			WHEN publisher_signed_at IS NULL THEN ?
			ELSE ? END,
		updated_at = ?
		WHERE owner_id = ? AND id = ? AND has_signing = 1`,
		string(model.SigningAwaitingBuyer), string(model.SigningAwaitingPublisher), string(model.SigningFullySigned),
		toMicros(s.now()), key.OwnerID, key.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("refresh signing status: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		hasSigning, err := s.hasSigning(ctx, key)
		if err != nil {
			return nil, err
		}
		if !hasSigning {
			return nil, model.ErrInvalidState
		}
	}

	doc, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if doc.Signing == nil {
		return nil, model.ErrInvalidState
	}
	doc.Signing.Recompute()
	return doc.Signing, nil
}

func (s *Store) SetExecutedObject(ctx context.Context, key model.DocumentKey, object string) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE documents SET executed_object = ?, updated_at = ? WHERE owner_id = ? AND id = ?`,
		object, toMicros(s.now()), key.OwnerID, key.DocumentID)
	return requireRow(res, err)
}

// hasSigning reports whether the document carries a signing record, or
// ErrNotFound when it does not exist.
func (s *Store) hasSigning(ctx context.Context, key model.DocumentKey) (bool, error) {
	var hasSigning bool
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT has_signing FROM documents WHERE owner_id = ? AND id = ?`,
		key.OwnerID, key.DocumentID).Scan(&hasSigning)
	if errors.Is(err, sql.ErrNoRows) {
		return false, model.ErrNotFound
	}
	return hasSigning, err
}

func (s *Store) loadNotes(ctx context.Context, query string, args ...any) (map[string][]model.NegotiationNote, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	notes := make(map[string][]model.NegotiationNote)
	for rows.Next() {
		var (
			documentID string
			note       model.NegotiationNote
			createdAt  int64
		)
		if err := rows.Scan(&documentID, &note.Author, &note.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		note.CreatedAt = fromMicros(createdAt)
		notes[documentID] = append(notes[documentID], note)
	}
	return notes, rows.Err()
}

func insertNote(ctx context.Context, tx *sql.Tx, key model.DocumentKey, note model.NegotiationNote) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO negotiation_notes (owner_id, document_id, author, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		key.OwnerID, key.DocumentID, note.Author, note.Text, toMicros(note.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

// signingAssignments sets every signing column, in signingArgs order.
const signingAssignments = `has_signing = ?, unsigned_body = ?, buyer_label = ?, publisher_label = ?, signing_status = ?,
		buyer_image = ?, buyer_signer = ?, buyer_signed_at = ?,
		publisher_image = ?, publisher_signer = ?, publisher_signed_at = ?`

const noSignatures = `buyer_signed_at IS NULL AND publisher_signed_at IS NULL`

type scanner interface {
	Scan(dest ...any) error
}

type slotRow struct {
	image    []byte
	signer   sql.NullString
	signedAt sql.NullInt64
}

func (r slotRow) signature() *model.Signature {
	if !r.signedAt.Valid {
		return nil
	}
	return &model.Signature{
		Image:      r.image,
		SignerName: r.signer.String,
		SignedAt:   fromMicros(r.signedAt.Int64),
	}
}

func scanDocument(row scanner) (*model.ContractDocument, error) {
	var (
		doc                  model.ContractDocument
		request              string
		status               string
		createdAt, updatedAt int64
		hasSigning           bool
		rec                  model.SigningRecord
		signingStatus        string
		buyer, publisher     slotRow
	)
	err := row.Scan(
		&doc.OwnerID, &doc.ID, &doc.Kind, &request, &doc.Body, &status, &doc.ExecutedObject,
		&doc.DefaultState, &createdAt, &updatedAt,
		&hasSigning, &rec.UnsignedBody, &rec.Labels.Buyer, &rec.Labels.Publisher, &signingStatus,
		&buyer.image, &buyer.signer, &buyer.signedAt,
		&publisher.image, &publisher.signer, &publisher.signedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(request), &doc.Request); err != nil {
		return nil, fmt.Errorf("decode request of %s: %w", doc.ID, err)
	}

	doc.Status = model.DocumentStatus(status)
	doc.CreatedAt = fromMicros(createdAt)
	doc.UpdatedAt = fromMicros(updatedAt)
	doc.NegotiationNotes = []model.NegotiationNote{}
	if hasSigning {
		rec.Status = model.SigningStatus(signingStatus)
		rec.BuyerSignature = buyer.signature()
		rec.PublisherSignature = publisher.signature()
		doc.Signing = &rec
	}
	return &doc, nil
}

// signingArgs flattens rec into the signing columns, in documentColumns order.
func signingArgs(rec *model.SigningRecord) []any {
	if rec == nil {
		return []any{false, "", "", "", "", nil, nil, nil, nil, nil, nil}
	}
	args := []any{true, rec.UnsignedBody, rec.Labels.Buyer, rec.Labels.Publisher, string(rec.Status)}
	for _, sig := range []*model.Signature{rec.BuyerSignature, rec.PublisherSignature} {
		if sig == nil {
			args = append(args, nil, nil, nil)
			continue
		}
		args = append(args, sig.Image, sig.SignerName, toMicros(sig.SignedAt))
	}
	return args
}

func slotPrefix(role model.Role) (string, error) {
	switch role {
	case model.RoleBuyer:
		return "buyer", nil
	case model.RolePublisher:
		return "publisher", nil
	}
	return "", model.ErrInvalidRole
}

// requireRow turns a write that matched no row into ErrNotFound.
func requireRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func isPrimaryKeyViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}

var _ service.DocumentStore = (*Store)(nil)
