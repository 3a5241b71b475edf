package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AnTengye/contractforge/model"
)

func TestNewSigningRecord(t *testing.T) {
	rec := NewSigningRecord("<article/>", model.PartyLabels{Buyer: "Employer", Publisher: "Employee"})

	if rec.Status != model.SigningAwaitingBuyer {
		t.Errorf("Expected status %s, got %s", model.SigningAwaitingBuyer, rec.Status)
	}
	if rec.BuyerSignature != nil || rec.PublisherSignature != nil {
		t.Error("Expected both slots empty")
	}
	if rec.Labels.Buyer != "Employer" {
		t.Errorf("Expected labels to be kept, got %+v", rec.Labels)
	}
}

func TestSubmitSignatureValidation(t *testing.T) {
	env := newTestEnv(t)
	doc := env.generate(t, "owner-1")

	tests := []struct {
		name     string
		role     model.Role
		signer   string
		image    []byte
		expected error
	}{
		{"empty image", model.RoleBuyer, "Dana Reyes", nil, model.ErrEmptySignature},
		{"blank name", model.RoleBuyer, "   ", pngSignature, model.ErrEmptySignerName},
		{"unknown role", model.Role("witness"), "Dana Reyes", pngSignature, model.ErrInvalidRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.signing.SubmitSignature(context.Background(), doc.Key(), tt.role, tt.signer, tt.image)
			if !errors.Is(err, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, err)
			}
		})
	}

	rec, err := env.signing.LoadSigningRecord(context.Background(), doc.Key())
	if err != nil {
		t.Fatalf("LoadSigningRecord failed: %v", err)
	}
	if rec.BuyerSignature != nil || rec.PublisherSignature != nil {
		t.Error("Expected rejected submissions to write nothing")
	}
}

func TestSubmitSignatureOrderIndependence(t *testing.T) {
	orders := map[string][]model.Role{
		"buyer first":     {model.RoleBuyer, model.RolePublisher},
		"publisher first": {model.RolePublisher, model.RoleBuyer},
	}
	intermediate := map[model.Role]model.SigningStatus{
		model.RoleBuyer:     model.SigningAwaitingPublisher,
		model.RolePublisher: model.SigningAwaitingBuyer,
	}

	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			doc := env.generate(t, "owner-1")
			ctx := context.Background()

			rec, err := env.signing.SubmitSignature(ctx, doc.Key(), order[0], "First Signer", pngSignature)
			if err != nil {
				t.Fatalf("First submit failed: %v", err)
			}
			if rec.Status != intermediate[order[0]] {
				t.Errorf("Expected %s after %s signs, got %s", intermediate[order[0]], order[0], rec.Status)
			}

			rec, err = env.signing.SubmitSignature(ctx, doc.Key(), order[1], "Second Signer", pngSignature)
			if err != nil {
				t.Fatalf("Second submit failed: %v", err)
			}
			if rec.Status != model.SigningFullySigned {
				t.Errorf("Expected %s, got %s", model.SigningFullySigned, rec.Status)
			}
			if rec.BuyerSignature == nil || rec.PublisherSignature == nil {
				t.Fatal("Expected both slots populated")
			}
			if rec.BuyerSignature.SignedAt.IsZero() || rec.PublisherSignature.SignedAt.IsZero() {
				t.Error("Expected server-assigned timestamps")
			}
		})
	}
}

func TestSubmitSignatureRejectsResign(t *testing.T) {
	env := newTestEnv(t)
	doc := env.generate(t, "owner-1")
	ctx := context.Background()

	if _, err := env.signing.SubmitSignature(ctx, doc.Key(), model.RoleBuyer, "Dana Reyes", pngSignature); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	_, err := env.signing.SubmitSignature(ctx, doc.Key(), model.RoleBuyer, "Impostor", pngSignature)
	if !errors.Is(err, model.ErrSlotAlreadySigned) {
		t.Fatalf("Expected ErrSlotAlreadySigned, got %v", err)
	}

	rec, err := env.signing.LoadSigningRecord(ctx, doc.Key())
	if err != nil {
		t.Fatalf("LoadSigningRecord failed: %v", err)
	}
	if rec.BuyerSignature.SignerName != "Dana Reyes" {
		t.Errorf("Expected original signer to be kept, got %s", rec.BuyerSignature.SignerName)
	}
}

func TestSubmitSignatureTrimsSignerName(t *testing.T) {
	env := newTestEnv(t)
	doc := env.generate(t, "owner-1")

	rec, err := env.signing.SubmitSignature(context.Background(), doc.Key(), model.RolePublisher, "  Sam Cole ", pngSignature)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if rec.PublisherSignature.SignerName != "Sam Cole" {
		t.Errorf("Expected trimmed name, got %q", rec.PublisherSignature.SignerName)
	}
}

func TestLoadSigningRecordErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.signing.LoadSigningRecord(ctx, model.DocumentKey{OwnerID: "owner-1", DocumentID: "missing"})
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	bare := &model.ContractDocument{ID: "bare", OwnerID: "owner-1", Status: model.StatusDraft}
	if err := env.memory.Create(ctx, bare); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, err = env.signing.LoadSigningRecord(ctx, bare.Key())
	if !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState, got %v", err)
	}
	_, err = env.signing.SubmitSignature(ctx, bare.Key(), model.RoleBuyer, "Dana", pngSignature)
	if !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState on submit, got %v", err)
	}
}

func TestLoadSigningRecordSelfHeals(t *testing.T) {
	env := newTestEnv(t)
	doc := env.generate(t, "owner-1")
	ctx := context.Background()

	stale := NewSigningRecord(doc.Body, doc.Signing.Labels)
	stale.Status = model.SigningFullySigned
	if err := env.memory.PutSigningRecord(ctx, doc.Key(), stale); err != nil {
		t.Fatalf("PutSigningRecord failed: %v", err)
	}

	rec, err := env.signing.LoadSigningRecord(ctx, doc.Key())
	if err != nil {
		t.Fatalf("LoadSigningRecord failed: %v", err)
	}
	if rec.Status != model.SigningAwaitingBuyer {
		t.Errorf("Expected status derived from empty slots, got %s", rec.Status)
	}
}

func TestSubmitSignatureStoreUnavailable(t *testing.T) {
	env := newTestEnv(t)
	doc := env.generate(t, "owner-1")
	env.store.failFill = true

	_, err := env.signing.SubmitSignature(context.Background(), doc.Key(), model.RoleBuyer, "Dana", pngSignature)
	if !errors.Is(err, model.ErrStoreUnavailable) {
		t.Fatalf("Expected ErrStoreUnavailable, got %v", err)
	}
	if !errors.Is(err, errConnectionReset) {
		t.Error("Expected the cause to stay in the chain")
	}
	if model.CodeOf(err) != model.CodeStoreUnavailable {
		t.Errorf("Expected code %s, got %s", model.CodeStoreUnavailable, model.CodeOf(err))
	}
}

func TestSubmitSignatureRefreshFailureHealsOnRead(t *testing.T) {
	env := newTestEnv(t)
	doc := env.generate(t, "owner-1")
	ctx := context.Background()
	env.store.failRefresh = true

	_, err := env.signing.SubmitSignature(ctx, doc.Key(), model.RoleBuyer, "Dana", pngSignature)
	if !errors.Is(err, model.ErrStoreUnavailable) {
		t.Fatalf("Expected ErrStoreUnavailable, got %v", err)
	}

	stored, err := env.memory.Get(ctx, doc.Key())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Signing.Status != model.SigningAwaitingBuyer {
		t.Fatalf("Expected stale stored status, got %s", stored.Signing.Status)
	}

	rec, err := env.signing.LoadSigningRecord(ctx, doc.Key())
	if err != nil {
		t.Fatalf("LoadSigningRecord failed: %v", err)
	}
	if rec.Status != model.SigningAwaitingPublisher {
		t.Errorf("Expected read to derive %s, got %s", model.SigningAwaitingPublisher, rec.Status)
	}
}

func TestFullySignedArchivesAndNotifies(t *testing.T) {
	env := newTestEnv(t)
	doc := env.generate(t, "owner-1")
	ctx := context.Background()

	if _, err := env.signing.SubmitSignature(ctx, doc.Key(), model.RolePublisher, "Sam Cole", pngSignature); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	env.signing.Wait()
	object := ExecutedObjectName("owner-1", doc.ID)
	if _, ok := env.archive.object(object); ok {
		t.Fatal("Expected no archive before both parties sign")
	}

	if _, err := env.signing.SubmitSignature(ctx, doc.Key(), model.RoleBuyer, "Dana Reyes", pngSignature); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	body, ok := env.archive.object(object)
	if !ok {
		t.Fatalf("Expected executed copy at %s", object)
	}
	if strings.Count(string(body), "<img") != 2 {
		t.Error("Expected both signatures embedded in the executed copy")
	}
	if !strings.Contains(string(body), "Name: Dana Reyes") || !strings.Contains(string(body), "Name: Sam Cole") {
		t.Error("Expected signer names in the executed copy")
	}

	stored, err := env.memory.Get(ctx, doc.Key())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.ExecutedObject != object {
		t.Errorf("Expected executed object %s, got %s", object, stored.ExecutedObject)
	}

	env.signing.Wait()
	expected := []string{EventSignatureSubmitted, EventSignatureSubmitted, EventContractExecuted}
	got := env.notifier.names()
	if strings.Join(got, ",") != strings.Join(expected, ",") {
		t.Errorf("Expected events %v, got %v", expected, got)
	}
}

func TestSideEffectFailuresDoNotFailSubmit(t *testing.T) {
	env := newTestEnv(t)
	doc := env.generate(t, "owner-1")
	ctx := context.Background()
	env.notifier.err = errConnectionReset
	env.archive.err = errConnectionReset

	for _, role := range []model.Role{model.RoleBuyer, model.RolePublisher} {
		if _, err := env.signing.SubmitSignature(ctx, doc.Key(), role, "Signer", pngSignature); err != nil {
			t.Fatalf("Expected submit to succeed despite side-effect failures, got %v", err)
		}
	}

	stored, err := env.memory.Get(ctx, doc.Key())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.ExecutedObject != "" {
		t.Error("Expected no executed object when the upload failed")
	}
}

func TestSlowNotifierDoesNotBlockSubmit(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.release = make(chan struct{})
	doc := env.generate(t, "owner-1")

	done := make(chan error, 1)
	go func() {
		_, err := env.signing.SubmitSignature(context.Background(), doc.Key(), model.RoleBuyer, "Dana", pngSignature)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected submit to return while the webhook is still pending")
	}
	if n := len(env.notifier.names()); n != 0 {
		t.Errorf("Expected no delivered events yet, got %d", n)
	}

	close(env.notifier.release)
	env.signing.Wait()
	if got := env.notifier.names(); len(got) != 1 || got[0] != EventSignatureSubmitted {
		t.Errorf("Expected one submitted event after release, got %v", got)
	}
}

func TestExecutedCopyKeepsGeneratedGoverningLaw(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc, err := env.contracts.Generate(ctx, "owner-1", model.AgreementRequest{
		ContractType: "PayPerCall",
		Buyer:        model.PartyInfo{CompanyName: "Acme", Address: "12 Harbour Road, London"},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !strings.Contains(doc.Body, "State of Delaware") {
		t.Fatal("Expected the configured fallback in the generated body")
	}

	// The server is reconfigured before anyone signs.
	reconfigured := NewSigningService(env.store, Renderer{DefaultState: "Nevada"}, env.archive, nil)
	for _, role := range []model.Role{model.RoleBuyer, model.RolePublisher} {
		if _, err := reconfigured.SubmitSignature(ctx, doc.Key(), role, "Signer", pngSignature); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	body, ok := env.archive.object(ExecutedObjectName("owner-1", doc.ID))
	if !ok {
		t.Fatal("Expected an executed copy")
	}
	if !strings.Contains(string(body), "State of Delaware") || strings.Contains(string(body), "State of Nevada") {
		t.Error("Expected the executed copy to keep the governing law the parties signed")
	}
}

func TestExecutedCopyRefusedWhenTextDiverges(t *testing.T) {
	env := newTestEnv(t)
	doc := env.generate(t, "owner-1")
	ctx := context.Background()

	tampered := NewSigningRecord(doc.Body+"<p>extra clause</p>", doc.Signing.Labels)
	if err := env.memory.PutSigningRecord(ctx, doc.Key(), tampered); err != nil {
		t.Fatalf("PutSigningRecord failed: %v", err)
	}
	for _, role := range []model.Role{model.RoleBuyer, model.RolePublisher} {
		if _, err := env.signing.SubmitSignature(ctx, doc.Key(), role, "Signer", pngSignature); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	if _, ok := env.archive.object(ExecutedObjectName("owner-1", doc.ID)); ok {
		t.Error("Expected no executed copy when the render differs from the signed text")
	}
}

func TestConcurrentSubmitDifferentRoles(t *testing.T) {
	env := newTestEnv(t)
	doc := env.generate(t, "owner-1")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, role := range []model.Role{model.RoleBuyer, model.RolePublisher} {
		wg.Add(1)
		go func(role model.Role) {
			defer wg.Done()
			_, err := env.signing.SubmitSignature(context.Background(), doc.Key(), role, string(role), pngSignature)
			errs <- err
		}(role)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Submit failed: %v", err)
		}
	}

	rec, err := env.signing.LoadSigningRecord(context.Background(), doc.Key())
	if err != nil {
		t.Fatalf("LoadSigningRecord failed: %v", err)
	}
	if rec.Status != model.SigningFullySigned {
		t.Errorf("Expected %s, got %s", model.SigningFullySigned, rec.Status)
	}
}

func TestRenderSigned(t *testing.T) {
	env := newTestEnv(t)
	doc := env.generate(t, "owner-1")
	ctx := context.Background()

	unsigned, err := env.signing.RenderSigned(ctx, doc.Key())
	if err != nil {
		t.Fatalf("RenderSigned failed: %v", err)
	}
	if unsigned != doc.Body {
		t.Error("Expected unsigned render to match the stored body")
	}

	if _, err := env.signing.SubmitSignature(ctx, doc.Key(), model.RoleBuyer, "Dana", pngSignature); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	signed, err := env.signing.RenderSigned(ctx, doc.Key())
	if err != nil {
		t.Fatalf("RenderSigned failed: %v", err)
	}
	if strings.Count(signed, "<img") != 1 {
		t.Error("Expected one embedded signature")
	}
}
