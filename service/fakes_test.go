package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/AnTengye/contractforge/config"
	"github.com/AnTengye/contractforge/model"
)

var errConnectionReset = errors.New("connection reset by peer")

type fakeArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	err     error
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{objects: make(map[string][]byte)}
}

func (a *fakeArchive) Upload(_ context.Context, objectName string, body []byte, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.objects[objectName] = append([]byte(nil), body...)
	return nil
}

func (a *fakeArchive) PresignedURL(_ context.Context, objectName string) (string, error) {
	return "https://archive.test/" + objectName + "?sig=1", nil
}

func (a *fakeArchive) Delete(_ context.Context, objectName string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.objects, objectName)
	a.deleted = append(a.deleted, objectName)
	return nil
}

func (a *fakeArchive) object(name string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.objects[name]
	return b, ok
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []SigningEvent
	err    error
	// release, when set, holds every delivery until it is closed.
	release chan struct{}
}

func (n *fakeNotifier) Notify(_ context.Context, event SigningEvent) error {
	if n.release != nil {
		<-n.release
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *fakeNotifier) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, e := range n.events {
		out[i] = e.Event
	}
	return out
}

// flakyStore fails selected operations with an infrastructure error.
// beforeReplace, when set, runs just before ReplaceContent reaches the store.
type flakyStore struct {
	DocumentStore
	failPut       bool
	failFill      bool
	failRefresh   bool
	beforeReplace func(key model.DocumentKey)
}

func (s *flakyStore) ReplaceContent(ctx context.Context, key model.DocumentKey, kind string, req model.AgreementRequest, body string, rec model.SigningRecord) error {
	if s.beforeReplace != nil {
		s.beforeReplace(key)
	}
	return s.DocumentStore.ReplaceContent(ctx, key, kind, req, body, rec)
}

func (s *flakyStore) PutSigningRecord(ctx context.Context, key model.DocumentKey, rec model.SigningRecord) error {
	if s.failPut {
		return errConnectionReset
	}
	return s.DocumentStore.PutSigningRecord(ctx, key, rec)
}

func (s *flakyStore) FillSignatureSlot(ctx context.Context, key model.DocumentKey, role model.Role, signerName string, image []byte) error {
	if s.failFill {
		return errConnectionReset
	}
	return s.DocumentStore.FillSignatureSlot(ctx, key, role, signerName, image)
}

func (s *flakyStore) RefreshSigningStatus(ctx context.Context, key model.DocumentKey) (*model.SigningRecord, error) {
	if s.failRefresh {
		return nil, errConnectionReset
	}
	return s.DocumentStore.RefreshSigningStatus(ctx, key)
}

type testEnv struct {
	store     *flakyStore
	memory    *MemoryStore
	archive   *fakeArchive
	notifier  *fakeNotifier
	signing   *SigningService
	contracts *ContractService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	memory := NewMemoryStore(0)
	store := &flakyStore{DocumentStore: memory}
	archive := newFakeArchive()
	notifier := &fakeNotifier{}
	renderer := Renderer{DefaultState: "Delaware"}
	signing := NewSigningService(store, renderer, archive, notifier)
	links := NewLinkSigner(&config.SigningConfig{LinkSecret: "link-secret", PublicBaseURL: "https://forge.test/"})
	return &testEnv{
		store:     store,
		memory:    memory,
		archive:   archive,
		notifier:  notifier,
		signing:   signing,
		contracts: NewContractService(store, signing, renderer, links, archive),
	}
}

func (e *testEnv) generate(t *testing.T, ownerID string) *model.ContractDocument {
	t.Helper()
	doc, err := e.contracts.Generate(context.Background(), ownerID, model.AgreementRequest{
		ContractType: "PayPerCall",
		PayoutAmount: "45",
		Buyer:        model.PartyInfo{CompanyName: "Lone Star Health", Address: "Austin, TX 78701"},
		Publisher:    model.PartyInfo{CompanyName: "Bright Calls Media"},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	return doc
}

var pngSignature = []byte("\x89PNG\r\n\x1a\nsignature")
