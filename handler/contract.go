package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/AnTengye/contractforge/middleware"
	"github.com/AnTengye/contractforge/model"
	"github.com/AnTengye/contractforge/service"
	"github.com/gin-gonic/gin"
)

type ContractHandler struct {
	contracts *service.ContractService
	signing   *service.SigningService
}

func NewContractHandler(contracts *service.ContractService, signing *service.SigningService) *ContractHandler {
	return &ContractHandler{
		contracts: contracts,
		signing:   signing,
	}
}

type NegotiationRequest struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

func documentKey(c *gin.Context) model.DocumentKey {
	return model.DocumentKey{OwnerID: middleware.GetOwner(c), DocumentID: c.Param("id")}
}

func bindAgreement(c *gin.Context) (model.AgreementRequest, bool) {
	var req model.AgreementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid agreement request")
		return req, false
	}
	return req, true
}

// Create assembles the agreement, stores it and opens it for signing
func (h *ContractHandler) Create(c *gin.Context) {
	req, ok := bindAgreement(c)
	if !ok {
		return
	}

	doc, err := h.contracts.Generate(c.Request.Context(), middleware.GetOwner(c), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, doc)
}

// Preview assembles the agreement without storing it
func (h *ContractHandler) Preview(c *gin.Context) {
	req, ok := bindAgreement(c)
	if !ok {
		return
	}

	kind, body := h.contracts.Preview(req)
	c.JSON(http.StatusOK, gin.H{
		"kind": kind,
		"body": body,
	})
}

// List returns all contracts of the current owner, newest first
func (h *ContractHandler) List(c *gin.Context) {
	docs, err := h.contracts.List(c.Request.Context(), middleware.GetOwner(c))
	if err != nil {
		respondError(c, err)
		return
	}

	// Bodies and signature images stay out of the list view
	result := make([]gin.H, len(docs))
	for i, doc := range docs {
		item := gin.H{
			"id":         doc.ID,
			"kind":       doc.Kind,
			"status":     doc.Status,
			"created_at": doc.CreatedAt.Format(time.RFC3339),
			"updated_at": doc.UpdatedAt.Format(time.RFC3339),
		}
		if doc.Signing != nil {
			item["signing_status"] = doc.Signing.Status
		}
		result[i] = item
	}

	c.JSON(http.StatusOK, gin.H{"contracts": result})
}

// Get returns a single contract with its signing record
func (h *ContractHandler) Get(c *gin.Context) {
	doc, err := h.contracts.Get(c.Request.Context(), documentKey(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, doc)
}

// Document renders the contract as HTML with the signatures collected so far
func (h *ContractHandler) Document(c *gin.Context) {
	body, err := h.signing.RenderSigned(c.Request.Context(), documentKey(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(body))
}

// Negotiate records a change request
func (h *ContractHandler) Negotiate(c *gin.Context) {
	var req NegotiationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid negotiation request")
		return
	}
	author := strings.TrimSpace(req.Author)
	if author == "" {
		author = middleware.GetUsername(c)
	}

	doc, err := h.contracts.RequestNegotiation(c.Request.Context(), documentKey(c), author, req.Text)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, doc)
}

// Revise replaces the agreement request of a contract under negotiation
func (h *ContractHandler) Revise(c *gin.Context) {
	req, ok := bindAgreement(c)
	if !ok {
		return
	}

	doc, err := h.contracts.Revise(c.Request.Context(), documentKey(c), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, doc)
}

// Finalize locks the contract lifecycle
func (h *ContractHandler) Finalize(c *gin.Context) {
	doc, err := h.contracts.Finalize(c.Request.Context(), documentKey(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, doc)
}

// Share issues a signing link for the counterparties
func (h *ContractHandler) Share(c *gin.Context) {
	link, err := h.contracts.Share(c.Request.Context(), documentKey(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, link)
}

// Executed returns a download URL for the archived executed copy
func (h *ContractHandler) Executed(c *gin.Context) {
	url, err := h.contracts.ExecutedURL(c.Request.Context(), documentKey(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

// Delete deletes a contract
func (h *ContractHandler) Delete(c *gin.Context) {
	if err := h.contracts.Delete(c.Request.Context(), documentKey(c)); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Contract deleted"})
}
