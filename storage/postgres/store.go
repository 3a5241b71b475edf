// Package postgres provides a PostgreSQL-backed document store.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AnTengye/contractforge/model"
	"github.com/AnTengye/contractforge/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

const documentColumns = `owner_id, id, kind, request, body, status, executed_object, default_state, created_at, updated_at,
	has_signing, unsigned_body, buyer_label, publisher_label, signing_status,
	buyer_image, buyer_signer, buyer_signed_at,
	publisher_image, publisher_signer, publisher_signed_at`

// Store persists documents in PostgreSQL.
type Store struct {
	DB *pgxpool.Pool
}

// Open connects to dsn and creates the schema if needed.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	slog.Info("postgres document store initialized", "host", cfg.ConnConfig.Host, "database", cfg.ConnConfig.Database)
	return &Store{DB: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.DB.Close()
	return nil
}

func (s *Store) Create(ctx context.Context, doc *model.ContractDocument) error {
	request, err := json.Marshal(doc.Request)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	args := []any{
		doc.OwnerID, doc.ID, doc.Kind, request, doc.Body, string(doc.Status), doc.ExecutedObject,
		doc.DefaultState, createdAt, time.Now().UTC(),
	}
	args = append(args, signingArgs(doc.Signing)...)
	_, err = tx.Exec(ctx, `INSERT INTO documents (`+documentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`, args...)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
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
	return tx.Commit(ctx)
}

func (s *Store) Get(ctx context.Context, key model.DocumentKey) (*model.ContractDocument, error) {
	doc, err := scanDocument(s.DB.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE owner_id=$1 AND id=$2`,
		key.OwnerID, key.DocumentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	notes, err := s.loadNotes(ctx,
		`SELECT document_id,author,text,created_at FROM negotiation_notes WHERE owner_id=$1 AND document_id=$2 ORDER BY seq`,
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
	rows, err := s.DB.Query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE owner_id=$1 ORDER BY created_at DESC, id`,
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
		`SELECT document_id,author,text,created_at FROM negotiation_notes WHERE owner_id=$1 ORDER BY seq`,
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
	tag, err := s.DB.Exec(ctx, `DELETE FROM documents WHERE owner_id=$1 AND id=$2`, key.OwnerID, key.DocumentID)
	return requireRow(tag, err)
}

func (s *Store) UpdateStatus(ctx context.Context, key model.DocumentKey, status model.DocumentStatus) error {
	tag, err := s.DB.Exec(ctx,
		`UPDATE documents SET status=$1, updated_at=now() WHERE owner_id=$2 AND id=$3`,
		string(status), key.OwnerID, key.DocumentID)
	return requireRow(tag, err)
}

func (s *Store) AppendNegotiationNote(ctx context.Context, key model.DocumentKey, note model.NegotiationNote) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE documents SET updated_at=now() WHERE owner_id=$1 AND id=$2`,
		key.OwnerID, key.DocumentID)
	if err := requireRow(tag, err); err != nil {
		return err
	}
	if err := insertNote(ctx, tx, key, note); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) ReplaceContent(ctx context.Context, key model.DocumentKey, kind string, req model.AgreementRequest, body string, rec model.SigningRecord) error {
	request, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	args := signingArgs(&rec)
	args = append(args, kind, request, body, key.OwnerID, key.DocumentID)
	tag, err := s.DB.Exec(ctx, `UPDATE documents SET
		`+signingAssignments+`,
		kind=$12, request=$13, body=$14, updated_at=now()
		WHERE owner_id=$15 AND id=$16 AND `+noSignatures, args...)
	return s.requireUnsigned(ctx, key, tag, err)
}

func (s *Store) PutSigningRecord(ctx context.Context, key model.DocumentKey, rec model.SigningRecord) error {
	args := signingArgs(&rec)
	args = append(args, key.OwnerID, key.DocumentID)
	tag, err := s.DB.Exec(ctx, `UPDATE documents SET
		`+signingAssignments+`,
		updated_at=now()
		WHERE owner_id=$12 AND id=$13 AND `+noSignatures, args...)
	return s.requireUnsigned(ctx, key, tag, err)
}

// requireUnsigned reports why a write guarded by noSignatures matched no row.
func (s *Store) requireUnsigned(ctx context.Context, key model.DocumentKey, tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
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
	// Rows locked by a concurrent writer are re-checked after it commits, so
	// only one submission per slot matches.
	tag, err := s.DB.Exec(ctx, fmt.Sprintf(`UPDATE documents SET
		%[1]s_image=$1, %[1]s_signer=$2, %[1]s_signed_at=now(), updated_at=now()
		WHERE owner_id=$3 AND id=$4 AND has_signing AND %[1]s_signed_at IS NULL`, prefix),
		image, signerName, key.OwnerID, key.DocumentID)
	if err != nil {
		return fmt.Errorf("fill %s slot: %w", role, err)
	}
	if tag.RowsAffected() == 1 {
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
	tag, err := s.DB.Exec(ctx, `UPDATE documents SET
		signing_status = CASE
			WHEN buyer_signed_at IS NULL THEN $1
			WHEN publisher_signed_at IS NULL THEN $2
			ELSE $3 END,
		updated_at=now()
		WHERE owner_id=$4 AND id=$5 AND has_signing`,
		string(model.SigningAwaitingBuyer), string(model.SigningAwaitingPublisher), string(model.SigningFullySigned),
		key.OwnerID, key.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("refresh signing status: %w", err)
	}
	if tag.RowsAffected() == 0 {
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
	tag, err := s.DB.Exec(ctx,
		`UPDATE documents SET executed_object=$1, updated_at=now() WHERE owner_id=$2 AND id=$3`,
		object, key.OwnerID, key.DocumentID)
	return requireRow(tag, err)
}

func (s *Store) hasSigning(ctx context.Context, key model.DocumentKey) (bool, error) {
	var hasSigning bool
	err := s.DB.QueryRow(ctx,
		`SELECT has_signing FROM documents WHERE owner_id=$1 AND id=$2`,
		key.OwnerID, key.DocumentID).Scan(&hasSigning)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, model.ErrNotFound
	}
	return hasSigning, err
}

func (s *Store) loadNotes(ctx context.Context, query string, args ...any) (map[string][]model.NegotiationNote, error) {
	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	notes := make(map[string][]model.NegotiationNote)
	for rows.Next() {
		var documentID string
		var note model.NegotiationNote
		if err := rows.Scan(&documentID, &note.Author, &note.Text, &note.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		note.CreatedAt = note.CreatedAt.UTC()
		notes[documentID] = append(notes[documentID], note)
	}
	return notes, rows.Err()
}

func insertNote(ctx context.Context, tx pgx.Tx, key model.DocumentKey, note model.NegotiationNote) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO negotiation_notes(owner_id,document_id,author,text,created_at) VALUES($1,$2,$3,$4,$5)`,
		key.OwnerID, key.DocumentID, note.Author, note.Text, note.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

// signingAssignments sets every signing column from $1..$11, in signingArgs order.
const signingAssignments = `has_signing=$1, unsigned_body=$2, buyer_label=$3, publisher_label=$4, signing_status=$5,
		buyer_image=$6, buyer_signer=$7, buyer_signed_at=$8,
		publisher_image=$9, publisher_signer=$10, publisher_signed_at=$11`

const noSignatures = `buyer_signed_at IS NULL AND publisher_signed_at IS NULL`

type slotRow struct {
	image    []byte
	signer   *string
	signedAt *time.Time
}

func (r slotRow) signature() *model.Signature {
	if r.signedAt == nil {
		return nil
	}
	sig := &model.Signature{Image: r.image, SignedAt: r.signedAt.UTC()}
	if r.signer != nil {
		sig.SignerName = *r.signer
	}
	return sig
}

func scanDocument(row pgx.Row) (*model.ContractDocument, error) {
	var (
		doc              model.ContractDocument
		request          []byte
		status           string
		hasSigning       bool
		rec              model.SigningRecord
		signingStatus    string
		buyer, publisher slotRow
	)
	err := row.Scan(
		&doc.OwnerID, &doc.ID, &doc.Kind, &request, &doc.Body, &status, &doc.ExecutedObject,
		&doc.DefaultState, &doc.CreatedAt, &doc.UpdatedAt,
		&hasSigning, &rec.UnsignedBody, &rec.Labels.Buyer, &rec.Labels.Publisher, &signingStatus,
		&buyer.image, &buyer.signer, &buyer.signedAt,
		&publisher.image, &publisher.signer, &publisher.signedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(request, &doc.Request); err != nil {
		return nil, fmt.Errorf("decode request of %s: %w", doc.ID, err)
	}

	doc.Status = model.DocumentStatus(status)
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	doc.NegotiationNotes = []model.NegotiationNote{}
	if hasSigning {
		rec.Status = model.SigningStatus(signingStatus)
		rec.BuyerSignature = buyer.signature()
		rec.PublisherSignature = publisher.signature()
		doc.Signing = &rec
	}
	return &doc, nil
}

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
		args = append(args, sig.Image, sig.SignerName, sig.SignedAt)
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

func requireRow(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

var _ service.DocumentStore = (*Store)(nil)
