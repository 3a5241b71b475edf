package model

import (
	"time"
)

// DocumentKey addresses a document inside its owner's namespace.
type DocumentKey struct {
	OwnerID    string `json:"owner_id"`
	DocumentID string `json:"document_id"`
}

// DocumentStatus is the contract lifecycle, independent of signing.
type DocumentStatus string

const (
	StatusDraft                DocumentStatus = "draft"
	StatusGenerated            DocumentStatus = "generated"
	StatusNegotiationRequested DocumentStatus = "negotiation_requested"
	StatusFinalized            DocumentStatus = "finalized"
)

var transitions = map[DocumentStatus][]DocumentStatus{
	StatusDraft:                {StatusGenerated},
	StatusGenerated:            {StatusNegotiationRequested, StatusFinalized},
	StatusNegotiationRequested: {StatusGenerated, StatusNegotiationRequested, StatusFinalized},
}

// CanTransitionTo reports whether the lifecycle allows moving to next.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// NegotiationNote is an append-only comment requesting changes.
type NegotiationNote struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ContractDocument is a generated agreement owned by one user.
type ContractDocument struct {
	ID               string            `json:"id"`
	OwnerID          string            `json:"owner_id"`
	Kind             string            `json:"kind"`
	Request          AgreementRequest  `json:"request"`
	Body             string            `json:"body"`
	Status           DocumentStatus    `json:"status"`
	NegotiationNotes []NegotiationNote `json:"negotiation_notes"`
	Signing          *SigningRecord    `json:"signing,omitempty"`
	ExecutedObject   string            `json:"executed_object,omitempty"`
	DefaultState     string            `json:"default_state,omitempty"` // governing-law fallback the body was assembled with
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Key returns the document's store key.
func (d *ContractDocument) Key() DocumentKey {
	return DocumentKey{OwnerID: d.OwnerID, DocumentID: d.ID}
}

// Clone returns a deep copy so store callers never share mutable state.
func (d *ContractDocument) Clone() *ContractDocument {
	if d == nil {
		return nil
	}
	out := *d
	out.NegotiationNotes = append([]NegotiationNote(nil), d.NegotiationNotes...)
	out.Signing = d.Signing.Clone()
	out.Request.Requirements = append([]string(nil), d.Request.Requirements...)
	out.Request.DatapassFields = append([]string(nil), d.Request.DatapassFields...)
	out.Request.Duties = append([]string(nil), d.Request.Duties...)
	out.Request.Benefits = append([]string(nil), d.Request.Benefits...)
	out.Request.Members = append([]MemberInfo(nil), d.Request.Members...)
	return &out
}
