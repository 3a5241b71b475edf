// Package storetest is a conformance suite for service.DocumentStore
// implementations.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AnTengye/contractforge/model"
	"github.com/AnTengye/contractforge/service"
	"github.com/google/uuid"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) service.DocumentStore

// Run exercises every DocumentStore operation against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s service.DocumentStore)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateDuplicate", testCreateDuplicate},
		{"OwnerScoping", testOwnerScoping},
		{"Delete", testDelete},
		{"FieldWrites", testFieldWrites},
		{"MissingDocument", testMissingDocument},
		{"FillSignatureSlot", testFillSignatureSlot},
		{"ReplaceKeepsSignatures", testReplaceKeepsSignatures},
		{"ConcurrentReplaceAndFill", testConcurrentReplaceAndFill},
		{"SelfHealingStatus", testSelfHealingStatus},
		{"ConcurrentDifferentRoles", testConcurrentDifferentRoles},
		{"ConcurrentSameRole", testConcurrentSameRole},
		{"ReturnedCopiesAreIsolated", testReturnedCopiesAreIsolated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

// NewDocument returns a generated document with a signing record for ownerID.
func NewDocument(ownerID string) *model.ContractDocument {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &model.ContractDocument{
		ID:      uuid.NewString(),
		OwnerID: ownerID,
		Kind:    "ppc_cpl",
		Request: model.AgreementRequest{
			ContractType: "PayPerCall",
			PayoutAmount: "45",
			Requirements: []string{"Licensed agents only"},
			Buyer:        model.PartyInfo{CompanyName: "Lone Star Health"},
		},
		Body:         "<article>unsigned</article>",
		Status:       model.StatusGenerated,
		DefaultState: "Nevada",
		Signing: &model.SigningRecord{
			UnsignedBody: "<article>unsigned</article>",
			Labels:       model.PartyLabels{Buyer: "Buyer", Publisher: "Publisher"},
			Status:       model.SigningAwaitingBuyer,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func mustCreate(t *testing.T, s service.DocumentStore, doc *model.ContractDocument) {
	t.Helper()
	if err := s.Create(context.Background(), doc); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
}

func testCreateAndGet(t *testing.T, s service.DocumentStore) {
	ctx := context.Background()
	doc := NewDocument("owner-1")
	mustCreate(t, s, doc)

	got, err := s.Get(ctx, doc.Key())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != doc.ID || got.OwnerID != doc.OwnerID || got.Kind != doc.Kind {
		t.Errorf("Expected identity %s/%s/%s, got %s/%s/%s", doc.OwnerID, doc.ID, doc.Kind, got.OwnerID, got.ID, got.Kind)
	}
	if got.Body != doc.Body {
		t.Errorf("Expected body %q, got %q", doc.Body, got.Body)
	}
	if got.Status != model.StatusGenerated {
		t.Errorf("Expected status %s, got %s", model.StatusGenerated, got.Status)
	}
	if got.DefaultState != "Nevada" {
		t.Errorf("Expected default state Nevada, got %q", got.DefaultState)
	}
	if got.Request.PayoutAmount != "45" || len(got.Request.Requirements) != 1 {
		t.Errorf("Expected request to round trip, got %+v", got.Request)
	}
	if got.Request.Buyer.CompanyName != "Lone Star Health" {
		t.Errorf("Expected buyer company to round trip, got %q", got.Request.Buyer.CompanyName)
	}
	if got.Signing == nil {
		t.Fatal("Expected signing record")
	}
	if got.Signing.UnsignedBody != doc.Signing.UnsignedBody || got.Signing.Labels != doc.Signing.Labels {
		t.Errorf("Expected signing record to round trip, got %+v", got.Signing)
	}
	if got.Signing.BuyerSignature != nil || got.Signing.PublisherSignature != nil {
		t.Error("Expected empty slots")
	}
	if !got.CreatedAt.Equal(doc.CreatedAt) {
		t.Errorf("Expected created_at %v, got %v", doc.CreatedAt, got.CreatedAt)
	}
}

func testOwnerScoping(t *testing.T, s service.DocumentStore) {
	ctx := context.Background()
	a1 := NewDocument("owner-a")
	a2 := NewDocument("owner-a")
	a2.CreatedAt = a1.CreatedAt.Add(time.Second)
	b := NewDocument("owner-b")
	mustCreate(t, s, a1)
	mustCreate(t, s, a2)
	mustCreate(t, s, b)

	list, err := s.ListByOwner(ctx, "owner-a")
	if err != nil {
		t.Fatalf("ListByOwner failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("Expected 2 documents for owner-a, got %d", len(list))
	}
	if list[0].ID != a2.ID {
		t.Errorf("Expected newest document first")
	}

	empty, err := s.ListByOwner(ctx, "owner-c")
	if err != nil {
		t.Fatalf("ListByOwner failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Expected 0 documents for owner-c, got %d", len(empty))
	}

	foreign := model.DocumentKey{OwnerID: "owner-b", DocumentID: a1.ID}
	if _, err := s.Get(ctx, foreign); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected ErrNotFound across owners, got %v", err)
	}
}

func testDelete(t *testing.T, s service.DocumentStore) {
	ctx := context.Background()
	doc := NewDocument("owner-1")
	mustCreate(t, s, doc)

	if err := s.Delete(ctx, doc.Key()); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, doc.Key()); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, doc.Key()); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected ErrNotFound deleting twice, got %v", err)
	}
}

func testFieldWrites(t *testing.T, s service.DocumentStore) {
	ctx := context.Background()
	doc := NewDocument("owner-1")
	mustCreate(t, s, doc)
	key := doc.Key()

	if err := s.UpdateStatus(ctx, key, model.StatusNegotiationRequested); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	for _, text := range []string{"lower the cap", "extend payment terms"} {
		note := model.NegotiationNote{Author: "buyer", Text: text, CreatedAt: time.Now().UTC().Truncate(time.Microsecond)}
		if err := s.AppendNegotiationNote(ctx, key, note); err != nil {
			t.Fatalf("AppendNegotiationNote failed: %v", err)
		}
	}
	revised := doc.Request
	revised.PayoutAmount = "60"
	rec := model.SigningRecord{
		UnsignedBody: "<article>revised</article>",
		Labels:       model.PartyLabels{Buyer: "Buyer", Publisher: "Publisher"},
		Status:       model.SigningAwaitingBuyer,
	}
	if err := s.ReplaceContent(ctx, key, "ppc_cpa", revised, "<article>revised</article>", rec); err != nil {
		t.Fatalf("ReplaceContent failed: %v", err)
	}
	if err := s.SetExecutedObject(ctx, key, "owner-1/doc/executed.html"); err != nil {
		t.Fatalf("SetExecutedObject failed: %v", err)
	}

	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != model.StatusNegotiationRequested {
		t.Errorf("Expected status %s, got %s", model.StatusNegotiationRequested, got.Status)
	}
	if len(got.NegotiationNotes) != 2 || got.NegotiationNotes[0].Text != "lower the cap" || got.NegotiationNotes[1].Text != "extend payment terms" {
		t.Errorf("Expected notes in append order, got %+v", got.NegotiationNotes)
	}
	if got.Body != "<article>revised</article>" {
		t.Errorf("Expected revised body, got %q", got.Body)
	}
	if got.Kind != "ppc_cpa" || got.Request.PayoutAmount != "60" {
		t.Errorf("Expected revised kind and request, got %s %+v", got.Kind, got.Request)
	}
	if got.Signing == nil || got.Signing.UnsignedBody != "<article>revised</article>" {
		t.Error("Expected ReplaceContent to replace the signing record")
	}
	if got.ExecutedObject != "owner-1/doc/executed.html" {
		t.Errorf("Expected executed object, got %q", got.ExecutedObject)
	}
}

func testMissingDocument(t *testing.T, s service.DocumentStore) {
	ctx := context.Background()
	key := model.DocumentKey{OwnerID: "nobody", DocumentID: "missing"}

	checks := map[string]error{
		"Get":                   func() error { _, err := s.Get(ctx, key); return err }(),
		"UpdateStatus":          s.UpdateStatus(ctx, key, model.StatusFinalized),
		"AppendNegotiationNote": s.AppendNegotiationNote(ctx, key, model.NegotiationNote{Text: "x"}),
		"ReplaceContent":        s.ReplaceContent(ctx, key, "llc", model.AgreementRequest{}, "x", model.SigningRecord{}),
		"PutSigningRecord":      s.PutSigningRecord(ctx, key, model.SigningRecord{}),
		"FillSignatureSlot":     s.FillSignatureSlot(ctx, key, model.RoleBuyer, "Ana", []byte{1}),
		"RefreshSigningStatus":  func() error { _, err := s.RefreshSigningStatus(ctx, key); return err }(),
		"SetExecutedObject":     s.SetExecutedObject(ctx, key, "x"),
	}
	for op, err := range checks {
		if !errors.Is(err, model.ErrNotFound) {
			t.Errorf("%s: expected ErrNotFound, got %v", op, err)
		}
	}
}

func testCreateDuplicate(t *testing.T, s service.DocumentStore) {
	doc := NewDocument("owner-1")
	mustCreate(t, s, doc)

	again := NewDocument("owner-1")
	again.ID = doc.ID
	again.Body = "<article>other</article>"
	if err := s.Create(context.Background(), again); !errors.Is(err, model.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}

	got, err := s.Get(context.Background(), doc.Key())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Body != doc.Body {
		t.Errorf("Expected the first document to be kept, got body %q", got.Body)
	}
}

func testReplaceKeepsSignatures(t *testing.T, s service.DocumentStore) {
	ctx := context.Background()
	doc := NewDocument("owner-1")
	mustCreate(t, s, doc)
	key := doc.Key()

	if err := s.FillSignatureSlot(ctx, key, model.RoleBuyer, "Dana Reyes", []byte{1}); err != nil {
		t.Fatalf("FillSignatureSlot failed: %v", err)
	}

	fresh := model.SigningRecord{UnsignedBody: "<article>revised</article>", Labels: doc.Signing.Labels}
	writes := map[string]error{
		"PutSigningRecord": s.PutSigningRecord(ctx, key, fresh),
		"ReplaceContent":   s.ReplaceContent(ctx, key, "ppc_cpa", doc.Request, "<article>revised</article>", fresh),
	}
	for op, err := range writes {
		if !errors.Is(err, model.ErrInvalidTransition) {
			t.Errorf("%s: expected ErrInvalidTransition, got %v", op, err)
		}
	}

	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Signing == nil || got.Signing.BuyerSignature == nil || got.Signing.BuyerSignature.SignerName != "Dana Reyes" {
		t.Errorf("Expected the buyer signature to survive, got %+v", got.Signing)
	}
	if got.Body != doc.Body || got.Kind != doc.Kind {
		t.Errorf("Expected content to be unchanged, got kind %s body %q", got.Kind, got.Body)
	}
}

// testConcurrentReplaceAndFill races a content replacement against a
// signature. Whatever the interleaving, an accepted signature is never lost.
func testConcurrentReplaceAndFill(t *testing.T, s service.DocumentStore) {
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		doc := NewDocument("owner-1")
		mustCreate(t, s, doc)
		key := doc.Key()
		fresh := model.SigningRecord{UnsignedBody: "<article>revised</article>", Labels: doc.Signing.Labels}

		var wg sync.WaitGroup
		var fillErr, replaceErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			fillErr = s.FillSignatureSlot(ctx, key, model.RoleBuyer, "Dana Reyes", []byte{1})
		}()
		go func() {
			defer wg.Done()
			replaceErr = s.ReplaceContent(ctx, key, "ppc_cpa", doc.Request, "<article>revised</article>", fresh)
		}()
		wg.Wait()

		if fillErr != nil {
			t.Fatalf("FillSignatureSlot failed: %v", fillErr)
		}
		if replaceErr != nil && !errors.Is(replaceErr, model.ErrInvalidTransition) {
			t.Fatalf("ReplaceContent failed: %v", replaceErr)
		}

		got, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Signing == nil || got.Signing.BuyerSignature == nil {
			t.Fatalf("Iteration %d: accepted signature was lost (replace error %v)", i, replaceErr)
		}
		if replaceErr == nil && got.Signing.UnsignedBody != "<article>revised</article>" {
			t.Errorf("Iteration %d: expected the signature on the revised record", i)
		}
	}
}

func testFillSignatureSlot(t *testing.T, s service.DocumentStore) {
	ctx := context.Background()

	bare := NewDocument("owner-1")
	bare.Signing = nil
	mustCreate(t, s, bare)
	if err := s.FillSignatureSlot(ctx, bare.Key(), model.RoleBuyer, "Ana", []byte{1}); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState without signing record, got %v", err)
	}
	if _, err := s.RefreshSigningStatus(ctx, bare.Key()); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState refreshing without signing record, got %v", err)
	}

	doc := NewDocument("owner-1")
	mustCreate(t, s, doc)
	key := doc.Key()
	before := time.Now().Add(-time.Minute)

	if err := s.FillSignatureSlot(ctx, key, model.RolePublisher, "Sam Cole", []byte{0x89, 'P', 'N', 'G'}); err != nil {
		t.Fatalf("FillSignatureSlot failed: %v", err)
	}
	err := s.FillSignatureSlot(ctx, key, model.RolePublisher, "Someone Else", []byte{2})
	if !errors.Is(err, model.ErrSlotAlreadySigned) {
		t.Errorf("Expected ErrSlotAlreadySigned, got %v", err)
	}

	rec, err := s.RefreshSigningStatus(ctx, key)
	if err != nil {
		t.Fatalf("RefreshSigningStatus failed: %v", err)
	}
	if rec.Status != model.SigningAwaitingBuyer {
		t.Errorf("Expected %s, got %s", model.SigningAwaitingBuyer, rec.Status)
	}
	sig := rec.PublisherSignature
	if sig == nil {
		t.Fatal("Expected publisher signature")
	}
	if sig.SignerName != "Sam Cole" || string(sig.Image) != "\x89PNG" {
		t.Errorf("Expected first signature to be kept, got %+v", sig)
	}
	if sig.SignedAt.Before(before) {
		t.Errorf("Expected store-assigned timestamp, got %v", sig.SignedAt)
	}

	if err := s.FillSignatureSlot(ctx, key, model.RoleBuyer, "Dana Reyes", []byte{3}); err != nil {
		t.Fatalf("FillSignatureSlot failed: %v", err)
	}
	rec, err = s.RefreshSigningStatus(ctx, key)
	if err != nil {
		t.Fatalf("RefreshSigningStatus failed: %v", err)
	}
	if rec.Status != model.SigningFullySigned {
		t.Errorf("Expected %s, got %s", model.SigningFullySigned, rec.Status)
	}

	stored, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Signing.Status != model.SigningFullySigned {
		t.Errorf("Expected refreshed status to be persisted, got %s", stored.Signing.Status)
	}
}

func testSelfHealingStatus(t *testing.T, s service.DocumentStore) {
	ctx := context.Background()
	doc := NewDocument("owner-1")
	mustCreate(t, s, doc)

	stale := model.SigningRecord{
		UnsignedBody: doc.Signing.UnsignedBody,
		Labels:       doc.Signing.Labels,
		Status:       model.SigningFullySigned,
		BuyerSignature: &model.Signature{
			Image: []byte{1}, SignerName: "Dana", SignedAt: time.Now().UTC().Truncate(time.Microsecond),
		},
	}
	if err := s.PutSigningRecord(ctx, doc.Key(), stale); err != nil {
		t.Fatalf("PutSigningRecord failed: %v", err)
	}

	rec, err := s.RefreshSigningStatus(ctx, doc.Key())
	if err != nil {
		t.Fatalf("RefreshSigningStatus failed: %v", err)
	}
	if rec.Status != model.SigningAwaitingPublisher {
		t.Errorf("Expected status derived from slots %s, got %s", model.SigningAwaitingPublisher, rec.Status)
	}
}

func testConcurrentDifferentRoles(t *testing.T, s service.DocumentStore) {
	ctx := context.Background()
	doc := NewDocument("owner-1")
	mustCreate(t, s, doc)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, role := range []model.Role{model.RoleBuyer, model.RolePublisher} {
		wg.Add(1)
		go func(i int, role model.Role) {
			defer wg.Done()
			errs[i] = s.FillSignatureSlot(ctx, doc.Key(), role, string(role)+" signer", []byte(role))
		}(i, role)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Submission %d failed: %v", i, err)
		}
	}

	rec, err := s.RefreshSigningStatus(ctx, doc.Key())
	if err != nil {
		t.Fatalf("RefreshSigningStatus failed: %v", err)
	}
	if rec.BuyerSignature == nil || rec.PublisherSignature == nil {
		t.Fatal("Expected both slots to survive concurrent submission")
	}
	if rec.Status != model.SigningFullySigned {
		t.Errorf("Expected %s, got %s", model.SigningFullySigned, rec.Status)
	}
}

func testConcurrentSameRole(t *testing.T, s service.DocumentStore) {
	ctx := context.Background()
	doc := NewDocument("owner-1")
	mustCreate(t, s, doc)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.FillSignatureSlot(ctx, doc.Key(), model.RoleBuyer, "signer", []byte{byte(i + 1)})
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, model.ErrSlotAlreadySigned):
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Errorf("Expected exactly one winning submission, got %d", won)
	}
}

func testReturnedCopiesAreIsolated(t *testing.T, s service.DocumentStore) {
	ctx := context.Background()
	doc := NewDocument("owner-1")
	mustCreate(t, s, doc)
	doc.Body = "mutated after create"

	got, err := s.Get(ctx, doc.Key())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Body == "mutated after create" {
		t.Error("Expected store to keep its own copy on create")
	}

	got.Signing.UnsignedBody = "mutated after get"
	again, err := s.Get(ctx, doc.Key())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if again.Signing.UnsignedBody == "mutated after get" {
		t.Error("Expected Get to return an isolated copy")
	}
}
