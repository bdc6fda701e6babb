package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/provinciadigital41-cpu/provincia/config"
	"github.com/provinciadigital41-cpu/provincia/model"
	"github.com/provinciadigital41-cpu/provincia/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// webhookFixture wires the handler against scriptable Pipefy and D4Sign
// backends.
type webhookFixture struct {
	cfg    *config.Config
	store  *service.MemoryRunStore
	locker *service.MemoryRunLocker
	router *gin.Engine

	mu          sync.Mutex
	pipefyCalls int
	d4signCalls int
	cardMissing bool
	createFails bool
}

func newWebhookFixture(t *testing.T, mutate func(cfg *config.Config)) *webhookFixture {
	t.Helper()
	fx := &webhookFixture{}

	pipefyServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fx.mu.Lock()
		fx.pipefyCalls++
		missing := fx.cardMissing
		fx.mu.Unlock()

		var req struct {
			Query string `json:"query"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		if !strings.Contains(req.Query, "card(") {
			w.Write([]byte(`{"data":{}}`))
			return
		}
		if missing {
			w.Write([]byte(`{"data":{"card":null}}`))
			return
		}
		w.Write([]byte(`{"data":{"card":{"id":"123","title":"Novo negócio","fields":[` +
			`{"name":"Negócio","value":"Padaria Central","report_value":null,"field":{"id":"neg_cio"}},` +
			`{"name":"Email","value":"cliente@example.com","report_value":null,"field":{"id":"email_profissional"}},` +
			`{"name":"Valor","value":null,"report_value":"2.460,00","field":{"id":"valor_do_neg_cio"}}` +
			`],"assignees":[{"id":"9","name":"Vendedor Sem Cofre"}]}}}`))
	}))
	t.Cleanup(pipefyServer.Close)

	d4Server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fx.mu.Lock()
		fx.d4signCalls++
		fails := fx.createFails
		fx.mu.Unlock()

		switch {
		case strings.HasSuffix(r.URL.Path, "/makedocumentbytemplateword"):
			if fails {
				w.Write([]byte(`{"mensagem_pt":"modelo inválido","codigo":"E42"}`))
				return
			}
			fmt.Fprint(w, `{"uuid":"doc-1","url":"https://sign.example.com/doc-1"}`)
		default:
			w.Write([]byte(`{}`))
		}
	}))
	t.Cleanup(d4Server.Close)

	fx.cfg = &config.Config{
		Pipefy: config.PipefyConfig{
			APIURL:             pipefyServer.URL,
			Token:              "pipefy-token",
			LinkFieldID:        "documentos",
			DestinationPhaseID: "phase-9",
			PhasePolicy:        config.PhasePolicyAlways,
		},
		D4Sign: config.D4SignConfig{
			APIURL:             d4Server.URL,
			Token:              "d4-token",
			CryptKey:           "d4-crypt",
			DefaultSafeID:      "safe-default",
			CompanySignerEmail: "empresa@example.com",
			AbortPolicy:        config.AbortPolicyAbort,
			Documents: []config.DocumentConfig{
				{Kind: "Contrato", TemplateID: "tpl-contrato", Primary: true},
			},
		},
	}
	if mutate != nil {
		mutate(fx.cfg)
	}

	vaults, err := service.NewVaultResolver(config.VaultsConfig{}, fx.cfg.D4Sign.DefaultSafeID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	pipefySvc := service.NewPipefyService(&fx.cfg.Pipefy)
	d4Svc := service.NewD4SignService(&fx.cfg.D4Sign)
	pipeline := service.NewPipeline(fx.cfg, pipefySvc, d4Svc, vaults)

	fx.store = service.NewMemoryRunStore(100)
	fx.locker = service.NewMemoryRunLocker(5 * time.Minute)

	h := NewWebhookHandler(fx.cfg, pipefySvc, pipeline, fx.locker, fx.store, nil)
	fx.router = gin.New()
	fx.router.GET("/api/webhook/pipefy", h.Liveness)
	fx.router.POST("/api/webhook/pipefy", h.HandleTrigger)
	return fx
}

func (fx *webhookFixture) trigger(body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/webhook/pipefy", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	fx.router.ServeHTTP(w, req)
	return w
}

func TestWebhookLiveness(t *testing.T) {
	fx := newWebhookFixture(t, nil)

	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, httptest.NewRequest("GET", "/api/webhook/pipefy", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "use POST") {
		t.Errorf("Unexpected liveness body %q", w.Body.String())
	}
}

func TestWebhookFullRun(t *testing.T) {
	fx := newWebhookFixture(t, nil)

	w := fx.trigger(`{"cardId":"123"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		OK          bool   `json:"ok"`
		RunID       string `json:"run_id"`
		CardID      string `json:"card_id"`
		CardTitle   string `json:"card_title"`
		PrimaryLink string `json:"primary_link"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)

	if !resp.OK {
		t.Error("Expected ok response")
	}
	if resp.CardID != "123" {
		t.Errorf("Expected card_id 123, got %s", resp.CardID)
	}
	if resp.CardTitle != "Novo negócio" {
		t.Errorf("Expected card title, got %s", resp.CardTitle)
	}
	if resp.PrimaryLink != "https://sign.example.com/doc-1" {
		t.Errorf("Expected primary link, got %s", resp.PrimaryLink)
	}

	// The run was recorded
	run, _ := fx.store.Get(httptest.NewRequest("GET", "/", nil).Context(), resp.RunID)
	if run == nil {
		t.Fatal("Expected run to be stored")
	}
	if run.Status != model.RunSucceeded {
		t.Errorf("Expected run succeeded, got %s", run.Status)
	}
	if len(run.Jobs) != 1 || run.Jobs[0].Status != model.JobDispatched {
		t.Errorf("Expected dispatched job recorded, got %+v", run.Jobs)
	}

	// The lock is released afterwards
	if ok, _ := fx.locker.Acquire(httptest.NewRequest("GET", "/", nil).Context(), "123"); !ok {
		t.Error("Expected lock released after run")
	}
}

func TestWebhookMissingCardID(t *testing.T) {
	fx := newWebhookFixture(t, nil)

	for _, body := range []string{`{}`, `{"data":{"action":"card.move"}}`, `not json`, `{"cardId":""}`} {
		w := fx.trigger(body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Body %q: expected status 400, got %d", body, w.Code)
		}
		if !strings.Contains(w.Body.String(), "input_error") {
			t.Errorf("Body %q: expected input_error, got %s", body, w.Body.String())
		}
	}

	// No upstream call was made for any rejected body.
	fx.mu.Lock()
	defer fx.mu.Unlock()
	if fx.pipefyCalls != 0 || fx.d4signCalls != 0 {
		t.Errorf("Expected no upstream calls, got pipefy=%d d4sign=%d", fx.pipefyCalls, fx.d4signCalls)
	}
}

func TestWebhookMissingToken(t *testing.T) {
	fx := newWebhookFixture(t, func(cfg *config.Config) {
		cfg.Pipefy.Token = ""
	})

	w := fx.trigger(`{"cardId":"123"}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "config_error") {
		t.Errorf("Expected config_error, got %s", w.Body.String())
	}
}

func TestWebhookConcurrentRunConflict(t *testing.T) {
	fx := newWebhookFixture(t, nil)

	// Simulate an in-flight run holding the lock.
	fx.locker.Acquire(httptest.NewRequest("GET", "/", nil).Context(), "123")

	w := fx.trigger(`{"cardId":"123"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "conflict") {
		t.Errorf("Expected conflict error, got %s", w.Body.String())
	}
}

func TestWebhookCardNotFound(t *testing.T) {
	fx := newWebhookFixture(t, nil)
	fx.cardMissing = true

	w := fx.trigger(`{"cardId":"999"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "not_found") {
		t.Errorf("Expected not_found, got %s", w.Body.String())
	}

	// A failed run is still recorded.
	runs, _ := fx.store.List(httptest.NewRequest("GET", "/", nil).Context(), 10)
	if len(runs) != 1 || runs[0].Status != model.RunFailed {
		t.Errorf("Expected one failed run recorded, got %+v", runs)
	}
}

func TestWebhookVaultError(t *testing.T) {
	fx := newWebhookFixture(t, func(cfg *config.Config) {
		cfg.D4Sign.DefaultSafeID = ""
	})

	w := fx.trigger(`{"cardId":"123"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "vault_error") {
		t.Errorf("Expected vault_error, got %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Vendedor Sem Cofre") {
		t.Errorf("Expected salesperson named in error, got %s", w.Body.String())
	}
}

func TestWebhookProviderAbort(t *testing.T) {
	fx := newWebhookFixture(t, nil)
	fx.createFails = true

	w := fx.trigger(`{"cardId":"123"}`)
	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", w.Code)
	}

	var resp struct {
		Error    string          `json:"error"`
		Response json.RawMessage `json:"response"`
		Workflow struct {
			Jobs []model.DocumentJob `json:"jobs"`
		} `json:"workflow"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Error != "provider_error" {
		t.Errorf("Expected provider_error, got %s", resp.Error)
	}
	// The provider's raw payload is surfaced for operators.
	if !strings.Contains(string(resp.Response), "E42") {
		t.Errorf("Expected raw provider payload, got %s", resp.Response)
	}
	if len(resp.Workflow.Jobs) != 1 || resp.Workflow.Jobs[0].Status != model.JobFailedCreate {
		t.Errorf("Expected failed job in workflow, got %+v", resp.Workflow.Jobs)
	}
}

func TestExtractCardID(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"nested data.card.id", `{"data":{"card":{"id":"101"}}}`, "101"},
		{"card.id", `{"card":{"id":"202"}}`, "202"},
		{"data.id", `{"data":{"id":"303"}}`, "303"},
		{"flat cardId", `{"cardId":"404"}`, "404"},
		{"numeric id keeps integer form", `{"data":{"card":{"id":337712301}}}`, "337712301"},
		{"priority order", `{"data":{"card":{"id":"first"}},"cardId":"last"}`, "first"},
		{"missing", `{"action":"card.move"}`, ""},
		{"invalid json", `{`, ""},
		{"non-object", `[1,2,3]`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractCardID([]byte(tt.body)); got != tt.want {
				t.Errorf("ExtractCardID(%s) = %q, expected %q", tt.body, got, tt.want)
			}
		})
	}
}
