package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/AnTengye/contractforge/model"
	"github.com/AnTengye/contractforge/pkg/logger"
)

// storeError passes domain errors through and marks everything else as a
// retryable store failure.
func storeError(op string, err error) error {
	if model.CodeOf(err) != model.CodeUnknown {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
}

// NewSigningRecord returns a record with both slots empty.
func NewSigningRecord(unsignedBody string, labels model.PartyLabels) model.SigningRecord {
	rec := model.SigningRecord{
		UnsignedBody: unsignedBody,
		Labels:       labels,
	}
	rec.Recompute()
	return rec
}

// SigningService moves a document's two signature slots towards fully signed.
// Each party writes only its own slot, so the two signers never coordinate.
type SigningService struct {
	store    DocumentStore
	renderer Renderer
	archive  Archive  // nil disables executed-copy archiving
	notifier Notifier // nil disables notifications
	now      func() time.Time
	pending  sync.WaitGroup
}

func NewSigningService(store DocumentStore, renderer Renderer, archive Archive, notifier Notifier) *SigningService {
	return &SigningService{
		store:    store,
		renderer: renderer,
		archive:  archive,
		notifier: notifier,
		now:      time.Now,
	}
}

// CreateSigningRecord attaches an empty signing record to an existing document.
func (s *SigningService) CreateSigningRecord(ctx context.Context, key model.DocumentKey, unsignedBody string, labels model.PartyLabels) (*model.SigningRecord, error) {
	rec := NewSigningRecord(unsignedBody, labels)
	if err := s.store.PutSigningRecord(ctx, key, rec); err != nil {
		return nil, storeError("create signing record", err)
	}
	return &rec, nil
}

// SubmitSignature fills role's slot and returns the refreshed record. A slot
// can be filled once. Failures are returned as-is for the caller to retry.
func (s *SigningService) SubmitSignature(ctx context.Context, key model.DocumentKey, role model.Role, signerName string, image []byte) (*model.SigningRecord, error) {
	if len(image) == 0 {
		return nil, model.ErrEmptySignature
	}
	signerName = strings.TrimSpace(signerName)
	if signerName == "" {
		return nil, model.ErrEmptySignerName
	}
	if role != model.RoleBuyer && role != model.RolePublisher {
		return nil, model.ErrInvalidRole
	}

	if err := s.store.FillSignatureSlot(ctx, key, role, signerName, image); err != nil {
		return nil, storeError("fill signature slot", err)
	}
	// A failure here leaves the stored status stale; reads recompute it.
	rec, err := s.store.RefreshSigningStatus(ctx, key)
	if err != nil {
		return nil, storeError("refresh signing status", err)
	}

	logger.Info(ctx, "signature submitted",
		"document_id", key.DocumentID,
		"role", role,
		"status", rec.Status,
	)

	events := []string{EventSignatureSubmitted}
	if rec.Status == model.SigningFullySigned {
		s.archiveExecuted(ctx, key)
		events = append(events, EventContractExecuted)
	}
	s.notify(ctx, key, role, rec.Status, events...)
	return rec, nil
}

// LoadSigningRecord returns the document's signing record with its status
// derived from the slots, whatever status was stored.
func (s *SigningService) LoadSigningRecord(ctx context.Context, key model.DocumentKey) (*model.SigningRecord, error) {
	doc, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, storeError("load signing record", err)
	}
	if doc.Signing == nil {
		return nil, model.ErrInvalidState
	}
	rec := doc.Signing.Clone()
	rec.Recompute()
	return rec, nil
}

// RenderSigned renders the document with the signatures collected so far.
func (s *SigningService) RenderSigned(ctx context.Context, key model.DocumentKey) (string, error) {
	doc, err := s.store.Get(ctx, key)
	if err != nil {
		return "", storeError("render signed document", err)
	}
	if doc.Signing == nil {
		return "", model.ErrInvalidState
	}
	return s.renderer.Document(doc), nil
}

// notify delivers events in order on a background goroutine, so a slow
// webhook never holds up the signer.
func (s *SigningService) notify(ctx context.Context, key model.DocumentKey, role model.Role, status model.SigningStatus, events ...string) {
	if s.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	occurredAt := s.now().UTC()

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		for _, event := range events {
			err := s.notifier.Notify(ctx, SigningEvent{
				Event:      event,
				DocumentID: key.DocumentID,
				OwnerID:    key.OwnerID,
				Role:       role,
				Status:     status,
				OccurredAt: occurredAt,
			})
			if err != nil {
				logger.Warn(ctx, "signing notification failed",
					"event", event,
					"document_id", key.DocumentID,
					"error", err,
				)
			}
		}
	}()
}

// Wait blocks until every queued notification has been attempted.
func (s *SigningService) Wait() {
	s.pending.Wait()
}

// archiveExecuted uploads the fully signed copy. Errors are logged; the
// signatures themselves are already stored.
func (s *SigningService) archiveExecuted(ctx context.Context, key model.DocumentKey) {
	if s.archive == nil {
		return
	}
	doc, err := s.store.Get(ctx, key)
	if err != nil {
		logger.Error(ctx, "failed to load executed document", "document_id", key.DocumentID, "error", err)
		return
	}

	body, err := s.renderer.Executed(doc)
	if err != nil {
		logger.Error(ctx, "refusing to archive executed contract", "document_id", key.DocumentID, "error", err)
		return
	}
	object := ExecutedObjectName(key.OwnerID, key.DocumentID)
	if err := s.archive.Upload(ctx, object, []byte(body), "text/html; charset=utf-8"); err != nil {
		logger.Error(ctx, "failed to archive executed contract", "document_id", key.DocumentID, "error", err)
		return
	}
	if err := s.store.SetExecutedObject(ctx, key, object); err != nil {
		logger.Error(ctx, "failed to record executed object", "document_id", key.DocumentID, "error", err)
		return
	}
	logger.Info(ctx, "executed contract archived", "document_id", key.DocumentID, "object", object)
}
