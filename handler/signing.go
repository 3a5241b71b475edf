package handler

import (
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/AnTengye/contractforge/model"
	"github.com/AnTengye/contractforge/pkg/logger"
	"github.com/AnTengye/contractforge/service"
	"github.com/gin-gonic/gin"
)

// SigningHandler serves the public signing link routes. The link token is the
// only credential.
type SigningHandler struct {
	contracts *service.ContractService
	signing   *service.SigningService
}

func NewSigningHandler(contracts *service.ContractService, signing *service.SigningService) *SigningHandler {
	return &SigningHandler{
		contracts: contracts,
		signing:   signing,
	}
}

type SubmitSignatureRequest struct {
	Role       string `json:"role"`
	SignerName string `json:"signer_name"`
	// Signature is a base64 image, optionally as a data URI.
	Signature string `json:"signature"`
}

type slotView struct {
	Signed     bool       `json:"signed"`
	Label      string     `json:"label"`
	SignerName string     `json:"signer_name,omitempty"`
	SignedAt   *time.Time `json:"signed_at,omitempty"`
}

func newSlotView(label string, sig *model.Signature) slotView {
	view := slotView{Label: label}
	if sig != nil {
		signedAt := sig.SignedAt
		view.Signed = true
		view.SignerName = sig.SignerName
		view.SignedAt = &signedAt
	}
	return view
}

func signingView(documentID string, rec *model.SigningRecord) gin.H {
	return gin.H{
		"document_id": documentID,
		"status":      rec.Status,
		"buyer":       newSlotView(rec.Labels.Buyer, rec.BuyerSignature),
		"publisher":   newSlotView(rec.Labels.Publisher, rec.PublisherSignature),
	}
}

// resolve turns the :link parameter into a document key.
func (h *SigningHandler) resolve(c *gin.Context) (model.DocumentKey, bool) {
	key, err := h.contracts.ResolveLink(c.Param("link"))
	if err != nil {
		respondError(c, err)
		return key, false
	}
	c.Request = c.Request.WithContext(logger.WithOwner(c.Request.Context(), key.OwnerID))
	return key, true
}

// Status reports which slots are signed
func (h *SigningHandler) Status(c *gin.Context) {
	key, ok := h.resolve(c)
	if !ok {
		return
	}

	rec, err := h.signing.LoadSigningRecord(c.Request.Context(), key)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, signingView(key.DocumentID, rec))
}

// Document renders the contract with the signatures collected so far
func (h *SigningHandler) Document(c *gin.Context) {
	key, ok := h.resolve(c)
	if !ok {
		return
	}

	body, err := h.signing.RenderSigned(c.Request.Context(), key)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(body))
}

// Submit fills the caller's signature slot
func (h *SigningHandler) Submit(c *gin.Context) {
	key, ok := h.resolve(c)
	if !ok {
		return
	}

	var req SubmitSignatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid signature request")
		return
	}
	role, err := model.ParseRole(req.Role)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Request = c.Request.WithContext(logger.WithRole(c.Request.Context(), string(role)))

	image, err := decodeSignature(req.Signature)
	if err != nil {
		badRequest(c, "Signature must be base64 encoded")
		return
	}

	rec, err := h.signing.SubmitSignature(c.Request.Context(), key, role, req.SignerName, image)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, signingView(key.DocumentID, rec))
}

// decodeSignature accepts raw base64 or a data URI. An empty input decodes to
// an empty image, which signing rejects.
func decodeSignature(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 {
			return nil, base64.CorruptInputError(0)
		}
		s = s[i+1:]
	}
	return base64.StdEncoding.DecodeString(s)
}
