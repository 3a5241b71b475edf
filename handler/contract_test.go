package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AnTengye/contractforge/config"
	"github.com/AnTengye/contractforge/middleware"
	"github.com/AnTengye/contractforge/model"
	"github.com/AnTengye/contractforge/service"
	"github.com/gin-gonic/gin"
)

type testServer struct {
	router    *gin.Engine
	contracts *service.ContractService
	signing   *service.SigningService
	store     *service.MemoryStore
}

// newTestServer wires the handlers over a memory store. Protected routes take
// the owner from the X-Test-Owner header instead of a JWT.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithStore(t, service.NewMemoryStore(0))
}

func newTestServerWithStore(t *testing.T, store *service.MemoryStore) *testServer {
	t.Helper()
	renderer := service.Renderer{DefaultState: "Delaware"}
	signing := service.NewSigningService(store, renderer, nil, nil)
	links := service.NewLinkSigner(&config.SigningConfig{LinkSecret: "link-secret", PublicBaseURL: "https://forge.test"})
	contracts := service.NewContractService(store, signing, renderer, links, nil)

	contractHandler := NewContractHandler(contracts, signing)
	signingHandler := NewSigningHandler(contracts, signing)

	router := gin.New()
	router.Use(middleware.RequestID())
	api := router.Group("/api")

	sign := api.Group("/sign/:link")
	sign.GET("", signingHandler.Status)
	sign.GET("/document", signingHandler.Document)
	sign.POST("", signingHandler.Submit)

	protected := api.Group("/", func(c *gin.Context) {
		c.Set("owner", c.GetHeader("X-Test-Owner"))
		c.Set("username", "tester")
		c.Next()
	})
	protected.POST("/contracts", contractHandler.Create)
	protected.POST("/contracts/preview", contractHandler.Preview)
	protected.GET("/contracts", contractHandler.List)
	protected.GET("/contracts/:id", contractHandler.Get)
	protected.GET("/contracts/:id/document", contractHandler.Document)
	protected.POST("/contracts/:id/negotiation", contractHandler.Negotiate)
	protected.POST("/contracts/:id/revise", contractHandler.Revise)
	protected.POST("/contracts/:id/finalize", contractHandler.Finalize)
	protected.POST("/contracts/:id/share", contractHandler.Share)
	protected.GET("/contracts/:id/executed", contractHandler.Executed)
	protected.DELETE("/contracts/:id", contractHandler.Delete)

	return &testServer{router: router, contracts: contracts, signing: signing, store: store}
}

func (s *testServer) do(method, path, owner string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set("X-Test-Owner", owner)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) create(t *testing.T, owner string, req map[string]any) model.ContractDocument {
	t.Helper()
	w := s.do("POST", "/api/contracts", owner, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var doc model.ContractDocument
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	return doc
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var response map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse error response: %v", err)
	}
	if response["request_id"] == "" {
		t.Error("Expected request_id in error response")
	}
	return response["code"]
}

func TestContractHandlerCreateAndGet(t *testing.T) {
	s := newTestServer(t)

	doc := s.create(t, "acme", map[string]any{
		"contractType": "Employment",
		"jobTitle":     "Account Manager",
		"salary":       85000,
	})
	if doc.Kind != "employment" {
		t.Errorf("Expected kind employment, got %s", doc.Kind)
	}
	if doc.Status != model.StatusGenerated {
		t.Errorf("Expected status generated, got %s", doc.Status)
	}
	if !strings.Contains(doc.Body, "Account Manager") || !strings.Contains(doc.Body, "$85,000.00") {
		t.Error("Expected assembled body in response")
	}

	tests := []struct {
		name           string
		owner          string
		expectedStatus int
	}{
		{"owner", "acme", http.StatusOK},
		{"other owner", "globex", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do("GET", "/api/contracts/"+doc.ID, tt.owner, nil)
			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if tt.expectedStatus == http.StatusNotFound && errorCode(t, w) != string(model.CodeNotFound) {
				t.Errorf("Expected code %s", model.CodeNotFound)
			}
		})
	}
}

func TestContractHandlerCreateInvalidJSON(t *testing.T) {
	s := newTestServer(t)

	w := s.do("POST", "/api/contracts", "acme", "invalid json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	if code := errorCode(t, w); code != codeInvalidRequest {
		t.Errorf("Expected code %s, got %s", codeInvalidRequest, code)
	}
}

func TestContractHandlerCreateOverLimit(t *testing.T) {
	s := newTestServerWithStore(t, service.NewMemoryStore(1))
	s.create(t, "acme", map[string]any{"contractType": "PayPerCall"})

	w := s.do("POST", "/api/contracts", "acme", map[string]any{"contractType": "PayPerCall"})
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected status 409, got %d: %s", w.Code, w.Body.String())
	}
	if code := errorCode(t, w); code != string(model.CodeQuotaExceeded) {
		t.Errorf("Expected code %s, got %s", model.CodeQuotaExceeded, code)
	}

	// Other owners are unaffected.
	s.create(t, "globex", map[string]any{"contractType": "PayPerCall"})
}

func TestContractHandlerPreview(t *testing.T) {
	s := newTestServer(t)

	w := s.do("POST", "/api/contracts/preview", "acme", map[string]any{
		"contractType": "CPL",
		"vertical":     "ACA Health",
		"acaCplPayout": "45",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response["kind"] != "aca_cpl" {
		t.Errorf("Expected kind aca_cpl, got %s", response["kind"])
	}
	if !strings.Contains(response["body"], "$45.00") {
		t.Error("Expected assembled preview body")
	}
	if s.store.Count() != 0 {
		t.Errorf("Expected preview not to be stored, got %d documents", s.store.Count())
	}
}

func TestContractHandlerList(t *testing.T) {
	s := newTestServer(t)
	s.create(t, "acme", map[string]any{"contractType": "PayPerCall"})
	s.create(t, "acme", map[string]any{"contractType": "LLC"})
	s.create(t, "globex", map[string]any{"contractType": "PayPerCall"})

	w := s.do("GET", "/api/contracts", "acme", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string][]map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	contracts := response["contracts"]
	if len(contracts) != 2 {
		t.Fatalf("Expected 2 contracts for acme, got %d", len(contracts))
	}
	for _, c := range contracts {
		if _, ok := c["body"]; ok {
			t.Error("Expected list view without body")
		}
		if c["signing_status"] != string(model.SigningAwaitingBuyer) {
			t.Errorf("Expected signing status awaiting_buyer, got %v", c["signing_status"])
		}
	}
}

func TestContractHandlerLifecycle(t *testing.T) {
	s := newTestServer(t)
	doc := s.create(t, "acme", map[string]any{"contractType": "PayPerCall", "payoutAmount": "45"})
	base := "/api/contracts/" + doc.ID

	tests := []struct {
		name           string
		method         string
		path           string
		body           any
		expectedStatus int
		expectedCode   string
	}{
		{"empty note", "POST", base + "/negotiation", map[string]string{"text": " "}, http.StatusBadRequest, string(model.CodeMissingInput)},
		{"revise before negotiation", "POST", base + "/revise", map[string]any{"contractType": "PayPerCall"}, http.StatusConflict, string(model.CodeInvalidTransition)},
		{"negotiate", "POST", base + "/negotiation", map[string]string{"text": "Raise the daily cap"}, http.StatusOK, ""},
		{"revise", "POST", base + "/revise", map[string]any{"contractType": "PayPerCall", "payoutAmount": "60"}, http.StatusOK, ""},
		{"finalize", "POST", base + "/finalize", nil, http.StatusOK, ""},
		{"finalize twice", "POST", base + "/finalize", nil, http.StatusConflict, string(model.CodeInvalidTransition)},
		{"executed before signing", "GET", base + "/executed", nil, http.StatusConflict, string(model.CodeNotExecuted)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(tt.method, tt.path, "acme", tt.body)
			if w.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			if tt.expectedCode != "" {
				if code := errorCode(t, w); code != tt.expectedCode {
					t.Errorf("Expected code %s, got %s", tt.expectedCode, code)
				}
			}
		})
	}

	stored, err := s.contracts.Get(t.Context(), doc.Key())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(stored.NegotiationNotes) != 1 || stored.NegotiationNotes[0].Author != "tester" {
		t.Errorf("Expected one note authored by the caller, got %+v", stored.NegotiationNotes)
	}
	if !strings.Contains(stored.Body, "$60.00") {
		t.Error("Expected revised body")
	}
}

func TestContractHandlerDocument(t *testing.T) {
	s := newTestServer(t)
	doc := s.create(t, "acme", map[string]any{"contractType": "PayPerCall"})

	w := s.do("GET", "/api/contracts/"+doc.ID+"/document", "acme", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/html") {
		t.Errorf("Expected HTML, got %s", w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Body.String(), "IN WITNESS WHEREOF") {
		t.Error("Expected rendered document")
	}
}

func TestContractHandlerDelete(t *testing.T) {
	s := newTestServer(t)
	doc := s.create(t, "acme", map[string]any{"contractType": "PayPerCall"})

	tests := []struct {
		name           string
		owner          string
		expectedStatus int
	}{
		{"other owner", "globex", http.StatusNotFound},
		{"owner", "acme", http.StatusOK},
		{"already deleted", "acme", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do("DELETE", "/api/contracts/"+doc.ID, tt.owner, nil)
			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}
}
