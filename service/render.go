package service

import (
	"fmt"
	"time"

	"github.com/AnTengye/contractforge/assembler"
	"github.com/AnTengye/contractforge/model"
)

// Renderer assembles document bodies. New documents take the server-wide
// governing-law fallback; stored documents keep the one they were assembled
// with. The document's creation date is its effective date.
type Renderer struct {
	DefaultState string
}

// Body assembles req as of effective, embedding any signatures in rec.
func (r Renderer) Body(req model.AgreementRequest, effective time.Time, rec *model.SigningRecord) string {
	opts := assembler.Options{
		EffectiveDate: effective,
		DefaultState:  r.DefaultState,
	}
	if rec != nil {
		opts.Signatures = assembler.Signatures{
			Buyer:     rec.BuyerSignature,
			Publisher: rec.PublisherSignature,
		}
	}
	return assembler.Assemble(req, opts)
}

// Document renders doc with the signatures currently held in its signing record.
func (r Renderer) Document(doc *model.ContractDocument) string {
	if doc.DefaultState != "" {
		r.DefaultState = doc.DefaultState
	}
	return r.Body(doc.Request, doc.CreatedAt, doc.Signing)
}

// Executed renders the signed copy of doc. It fails when the text around the
// signatures no longer matches the unsigned body the parties were shown.
func (r Renderer) Executed(doc *model.ContractDocument) (string, error) {
	if doc.Signing == nil {
		return "", model.ErrInvalidState
	}
	unsigned := doc.Clone()
	unsigned.Signing.BuyerSignature = nil
	unsigned.Signing.PublisherSignature = nil
	if r.Document(unsigned) != doc.Signing.UnsignedBody {
		return "", fmt.Errorf("document %s no longer renders to its signed text", doc.ID)
	}
	return r.Document(doc), nil
}
