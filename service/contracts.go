package service

import (
	"context"
	"strings"
	"time"

	"github.com/AnTengye/contractforge/assembler"
	"github.com/AnTengye/contractforge/model"
	"github.com/AnTengye/contractforge/pkg/logger"
	"github.com/google/uuid"
)

// ContractService generates documents and drives their lifecycle.
type ContractService struct {
	store    DocumentStore
	signing  *SigningService
	renderer Renderer
	links    *LinkSigner
	archive  Archive // nil when archiving is disabled
	now      func() time.Time
}

func NewContractService(store DocumentStore, signing *SigningService, renderer Renderer, links *LinkSigner, archive Archive) *ContractService {
	return &ContractService{
		store:    store,
		signing:  signing,
		renderer: renderer,
		links:    links,
		archive:  archive,
		now:      time.Now,
	}
}

// Preview assembles req as of today without persisting anything.
func (s *ContractService) Preview(req model.AgreementRequest) (assembler.Kind, string) {
	return assembler.Resolve(req), s.renderer.Body(req, s.now().UTC(), nil)
}

// Generate assembles req, stores it for ownerID and opens it for signing.
// A document whose signing record could not be created stays a draft.
func (s *ContractService) Generate(ctx context.Context, ownerID string, req model.AgreementRequest) (*model.ContractDocument, error) {
	now := s.now().UTC().Truncate(time.Microsecond)
	kind := assembler.Resolve(req)
	doc := &model.ContractDocument{
		ID:               uuid.New().String(),
		OwnerID:          ownerID,
		Kind:             string(kind),
		Request:          req,
		Body:             s.renderer.Body(req, now, nil),
		Status:           model.StatusDraft,
		NegotiationNotes: []model.NegotiationNote{},
		DefaultState:     s.renderer.DefaultState,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	key := doc.Key()

	if err := s.store.Create(ctx, doc); err != nil {
		return nil, storeError("create document", err)
	}
	rec, err := s.signing.CreateSigningRecord(ctx, key, doc.Body, assembler.PartyLabels(kind))
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateStatus(ctx, key, model.StatusGenerated); err != nil {
		return nil, storeError("update status", err)
	}
	doc.Signing = rec
	doc.Status = model.StatusGenerated

	logger.Info(ctx, "contract generated", "document_id", doc.ID, "kind", kind)
	return doc, nil
}

// Get returns the document with its signing status derived from the slots.
func (s *ContractService) Get(ctx context.Context, key model.DocumentKey) (*model.ContractDocument, error) {
	doc, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, storeError("get document", err)
	}
	if doc.Signing != nil {
		doc.Signing.Recompute()
	}
	return doc, nil
}

// List returns ownerID's documents, newest first.
func (s *ContractService) List(ctx context.Context, ownerID string) ([]*model.ContractDocument, error) {
	docs, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, storeError("list documents", err)
	}
	for _, doc := range docs {
		if doc.Signing != nil {
			doc.Signing.Recompute()
		}
	}
	return docs, nil
}

func (s *ContractService) transition(ctx context.Context, doc *model.ContractDocument, next model.DocumentStatus) error {
	if !doc.Status.CanTransitionTo(next) {
		return model.ErrInvalidTransition
	}
	if err := s.store.UpdateStatus(ctx, doc.Key(), next); err != nil {
		return storeError("update status", err)
	}
	logger.Info(ctx, "contract status changed", "document_id", doc.ID, "from", doc.Status, "to", next)
	doc.Status = next
	return nil
}

// RequestNegotiation appends a note and marks the document as needing changes.
func (s *ContractService) RequestNegotiation(ctx context.Context, key model.DocumentKey, author, text string) (*model.ContractDocument, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, model.ErrMissingInput
	}
	doc, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !doc.Status.CanTransitionTo(model.StatusNegotiationRequested) {
		return nil, model.ErrInvalidTransition
	}

	note := model.NegotiationNote{Author: author, Text: text, CreatedAt: s.now().UTC().Truncate(time.Microsecond)}
	if err := s.store.AppendNegotiationNote(ctx, key, note); err != nil {
		return nil, storeError("append negotiation note", err)
	}
	doc.NegotiationNotes = append(doc.NegotiationNotes, note)

	if err := s.transition(ctx, doc, model.StatusNegotiationRequested); err != nil {
		return nil, err
	}
	return doc, nil
}

// Revise replaces the request of a document under negotiation, reassembles
// the body and reopens it for signing. Documents with a signature cannot be
// revised; the store enforces this in the same write that replaces the record.
func (s *ContractService) Revise(ctx context.Context, key model.DocumentKey, req model.AgreementRequest) (*model.ContractDocument, error) {
	doc, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if doc.Status != model.StatusNegotiationRequested {
		return nil, model.ErrInvalidTransition
	}
	if doc.Signing != nil && (doc.Signing.BuyerSignature != nil || doc.Signing.PublisherSignature != nil) {
		return nil, model.ErrInvalidTransition
	}

	kind := assembler.Resolve(req)
	revised := doc.Clone()
	revised.Kind, revised.Request, revised.Signing = string(kind), req, nil
	body := s.renderer.Document(revised)
	rec := NewSigningRecord(body, assembler.PartyLabels(kind))
	// A signature that lands after the check above makes this fail instead of
	// being replaced.
	if err := s.store.ReplaceContent(ctx, key, string(kind), req, body, rec); err != nil {
		return nil, storeError("replace content", err)
	}
	doc.Kind, doc.Request, doc.Body, doc.Signing = string(kind), req, body, &rec

	if err := s.transition(ctx, doc, model.StatusGenerated); err != nil {
		return nil, err
	}
	return doc, nil
}

// Finalize locks the document's lifecycle. Signing continues independently.
func (s *ContractService) Finalize(ctx context.Context, key model.DocumentKey) (*model.ContractDocument, error) {
	doc, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, doc, model.StatusFinalized); err != nil {
		return nil, err
	}
	return doc, nil
}

// Share issues a signing link for the document.
func (s *ContractService) Share(ctx context.Context, key model.DocumentKey) (*SigningLink, error) {
	doc, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if doc.Signing == nil {
		return nil, model.ErrInvalidState
	}
	link, err := s.links.Issue(key)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "signing link issued", "document_id", doc.ID, "expires_at", link.ExpiresAt)
	return link, nil
}

// ResolveLink returns the document a signing link token grants access to.
func (s *ContractService) ResolveLink(token string) (model.DocumentKey, error) {
	return s.links.Parse(token)
}

// ExecutedURL returns a download URL for the archived executed copy.
func (s *ContractService) ExecutedURL(ctx context.Context, key model.DocumentKey) (string, error) {
	doc, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if s.archive == nil || doc.ExecutedObject == "" {
		return "", model.ErrNotExecuted
	}
	return s.archive.PresignedURL(ctx, doc.ExecutedObject)
}

// Delete removes the document and, best effort, its executed copy.
func (s *ContractService) Delete(ctx context.Context, key model.DocumentKey) error {
	doc, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return storeError("delete document", err)
	}
	if s.archive != nil && doc.ExecutedObject != "" {
		if err := s.archive.Delete(ctx, doc.ExecutedObject); err != nil {
			logger.Warn(ctx, "failed to delete executed copy", "document_id", doc.ID, "error", err)
		}
	}
	logger.Info(ctx, "contract deleted", "document_id", doc.ID)
	return nil
}
