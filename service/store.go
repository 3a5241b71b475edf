package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AnTengye/contractforge/model"
)

// DocumentStore persists contract documents scoped by owner. Every write
// touches only the fields it names, so concurrent writers to different fields
// of the same document never overwrite each other.
type DocumentStore interface {
	// Create inserts doc. Returns ErrAlreadyExists when the key is taken.
	Create(ctx context.Context, doc *model.ContractDocument) error
	Get(ctx context.Context, key model.DocumentKey) (*model.ContractDocument, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*model.ContractDocument, error)
	Delete(ctx context.Context, key model.DocumentKey) error

	UpdateStatus(ctx context.Context, key model.DocumentKey, status model.DocumentStatus) error
	AppendNegotiationNote(ctx context.Context, key model.DocumentKey, note model.NegotiationNote) error
	// ReplaceContent swaps the request snapshot, its resolved kind, the body
	// and the signing record in one write.
	ReplaceContent(ctx context.Context, key model.DocumentKey, kind string, req model.AgreementRequest, body string, rec model.SigningRecord) error

	// PutSigningRecord replaces the signing sub-document.
	PutSigningRecord(ctx context.Context, key model.DocumentKey, rec model.SigningRecord) error

	// ReplaceContent and PutSigningRecord never discard a collected
	// signature: when either slot of the current record is filled they fail
	// with ErrInvalidTransition and write nothing.

	// FillSignatureSlot writes one slot if, and only if, it is empty. The
	// signed-at time comes from the store. Returns ErrSlotAlreadySigned when the
	// slot is taken and ErrInvalidState when there is no signing record.
	FillSignatureSlot(ctx context.Context, key model.DocumentKey, role model.Role, signerName string, image []byte) error
	// RefreshSigningStatus recomputes the status from slot presence, persists it
	// and returns the record.
	RefreshSigningStatus(ctx context.Context, key model.DocumentKey) (*model.SigningRecord, error)
	SetExecutedObject(ctx context.Context, key model.DocumentKey, object string) error

	Close() error
}

// MemoryStore is an in-memory DocumentStore. Documents are lost on restart.
type MemoryStore struct {
	docs         map[model.DocumentKey]*model.ContractDocument
	perOwner     map[string]int
	mu           sync.RWMutex
	maxDocuments int // Maximum documents per owner, 0 = unlimited
	now          func() time.Time
}

// NewMemoryStore creates a memory store holding at most maxDocuments documents
// per owner. Create fails with ErrQuotaExceeded beyond that; nothing is ever
// evicted.
func NewMemoryStore(maxDocuments int) *MemoryStore {
	if maxDocuments < 0 {
		maxDocuments = 0
	}
	slog.Info("memory document store initialized", "max_documents", maxDocuments)
	return &MemoryStore{
		docs:         make(map[model.DocumentKey]*model.ContractDocument),
		perOwner:     make(map[string]int),
		maxDocuments: maxDocuments,
		now:          time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, doc *model.ContractDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := doc.Key()
	if _, ok := s.docs[key]; ok {
		return model.ErrAlreadyExists
	}
	if s.maxDocuments > 0 && s.perOwner[key.OwnerID] >= s.maxDocuments {
		slog.Warn("document limit reached",
			"owner_id", key.OwnerID,
			"max_documents", s.maxDocuments,
		)
		return model.ErrQuotaExceeded
	}

	stored := doc.Clone()
	now := s.now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.docs[key] = stored
	s.perOwner[key.OwnerID]++
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key model.DocumentKey) (*model.ContractDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[key]
	if !ok {
		return nil, model.ErrNotFound
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, ownerID string) ([]*model.ContractDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*model.ContractDocument, 0)
	for key, doc := range s.docs {
		if key.OwnerID == ownerID {
			result = append(result, doc.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) Delete(_ context.Context, key model.DocumentKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[key]; !ok {
		return model.ErrNotFound
	}
	delete(s.docs, key)
	if s.perOwner[key.OwnerID]--; s.perOwner[key.OwnerID] <= 0 {
		delete(s.perOwner, key.OwnerID)
	}
	return nil
}

// update runs fn on the stored document under the write lock.
func (s *MemoryStore) update(key model.DocumentKey, fn func(doc *model.ContractDocument) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[key]
	if !ok {
		return model.ErrNotFound
	}
	if err := fn(doc); err != nil {
		return err
	}
	doc.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, key model.DocumentKey, status model.DocumentStatus) error {
	return s.update(key, func(doc *model.ContractDocument) error {
		doc.Status = status
		return nil
	})
}

func (s *MemoryStore) AppendNegotiationNote(_ context.Context, key model.DocumentKey, note model.NegotiationNote) error {
	return s.update(key, func(doc *model.ContractDocument) error {
		doc.NegotiationNotes = append(doc.NegotiationNotes, note)
		return nil
	})
}

func (s *MemoryStore) ReplaceContent(_ context.Context, key model.DocumentKey, kind string, req model.AgreementRequest, body string, rec model.SigningRecord) error {
	return s.update(key, func(doc *model.ContractDocument) error {
		if hasSignature(doc.Signing) {
			return model.ErrInvalidTransition
		}
		snapshot := (&model.ContractDocument{Request: req}).Clone()
		doc.Kind = kind
		doc.Request = snapshot.Request
		doc.Body = body
		doc.Signing = rec.Clone()
		return nil
	})
}

func (s *MemoryStore) PutSigningRecord(_ context.Context, key model.DocumentKey, rec model.SigningRecord) error {
	return s.update(key, func(doc *model.ContractDocument) error {
		if hasSignature(doc.Signing) {
			return model.ErrInvalidTransition
		}
		doc.Signing = rec.Clone()
		return nil
	})
}

func hasSignature(rec *model.SigningRecord) bool {
	return rec != nil && (rec.BuyerSignature != nil || rec.PublisherSignature != nil)
}

func (s *MemoryStore) FillSignatureSlot(_ context.Context, key model.DocumentKey, role model.Role, signerName string, image []byte) error {
	return s.update(key, func(doc *model.ContractDocument) error {
		if doc.Signing == nil {
			return model.ErrInvalidState
		}
		if doc.Signing.Slot(role) != nil {
			return model.ErrSlotAlreadySigned
		}
		doc.Signing.SetSlot(role, &model.Signature{
			Image:      append([]byte(nil), image...),
			SignerName: signerName,
			SignedAt:   s.now().UTC(),
		})
		return nil
	})
}

func (s *MemoryStore) RefreshSigningStatus(_ context.Context, key model.DocumentKey) (*model.SigningRecord, error) {
	var rec *model.SigningRecord
	err := s.update(key, func(doc *model.ContractDocument) error {
		if doc.Signing == nil {
			return model.ErrInvalidState
		}
		doc.Signing.Recompute()
		rec = doc.Signing.Clone()
		return nil
	})
	return rec, err
}

func (s *MemoryStore) SetExecutedObject(_ context.Context, key model.DocumentKey, object string) error {
	return s.update(key, func(doc *model.ContractDocument) error {
		doc.ExecutedObject = object
		return nil
	})
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Count returns the number of documents in the store
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
