package model

import (
	"strings"
	"time"
)

// Role identifies one of the two signature slots.
type Role string

const (
	// RoleBuyer is the buyer, employer or investor side.
	RoleBuyer Role = "buyer"
	// RolePublisher is the publisher, employee or recruiter side.
	RolePublisher Role = "publisher"
)

// ParseRole normalises a role name.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleBuyer:
		return RoleBuyer, nil
	case RolePublisher:
		return RolePublisher, nil
	}
	return "", ErrInvalidRole
}

// SigningStatus is derived from which slots hold a signature.
type SigningStatus string

const (
	SigningAwaitingBuyer     SigningStatus = "awaiting_buyer"
	SigningAwaitingPublisher SigningStatus = "awaiting_publisher"
	SigningFullySigned       SigningStatus = "fully_signed"
)

// StatusFor maps slot presence to a status. "awaiting_X" means X has not signed,
// whatever order the parties arrive in.
func StatusFor(buyerSigned, publisherSigned bool) SigningStatus {
	switch {
	case !buyerSigned:
		return SigningAwaitingBuyer
	case !publisherSigned:
		return SigningAwaitingPublisher
	default:
		return SigningFullySigned
	}
}

// Signature is one filled slot.
type Signature struct {
	Image      []byte    `json:"image"`
	SignerName string    `json:"signer_name"`
	SignedAt   time.Time `json:"signed_at"`
}

// PartyLabels names the two signing sides for display.
type PartyLabels struct {
	Buyer     string `json:"buyer"`
	Publisher string `json:"publisher"`
}

// Label returns the display label for role.
func (l PartyLabels) Label(role Role) string {
	if role == RoleBuyer {
		return l.Buyer
	}
	return l.Publisher
}

// SigningRecord tracks the two independent signature slots of a document.
type SigningRecord struct {
	UnsignedBody       string        `json:"unsigned_body"`
	Labels             PartyLabels   `json:"party_labels"`
	Status             SigningStatus `json:"status"`
	BuyerSignature     *Signature    `json:"buyer_signature,omitempty"`
	PublisherSignature *Signature    `json:"publisher_signature,omitempty"`
}

// Slot returns the signature held for role, or nil.
func (r *SigningRecord) Slot(role Role) *Signature {
	if role == RoleBuyer {
		return r.BuyerSignature
	}
	return r.PublisherSignature
}

// SetSlot stores sig in role's slot. It does not check whether the slot is
// already filled.
func (r *SigningRecord) SetSlot(role Role, sig *Signature) {
	if role == RoleBuyer {
		r.BuyerSignature = sig
	} else {
		r.PublisherSignature = sig
	}
}

// Recompute derives Status from slot presence, overwriting whatever was stored.
func (r *SigningRecord) Recompute() SigningStatus {
	r.Status = StatusFor(r.BuyerSignature != nil, r.PublisherSignature != nil)
	return r.Status
}

// Clone returns a deep copy.
func (r *SigningRecord) Clone() *SigningRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.BuyerSignature = r.BuyerSignature.clone()
	out.PublisherSignature = r.PublisherSignature.clone()
	return &out
}

func (s *Signature) clone() *Signature {
	if s == nil {
		return nil
	}
	out := *s
	out.Image = append([]byte(nil), s.Image...)
	return &out
}
