package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/provinciadigital41-cpu/provincia/config"
	"github.com/provinciadigital41-cpu/provincia/model"
)

// D4SignService is the signing-provider client. Every call carries the two
// shared credentials as query parameters per the provider contract.
type D4SignService struct {
	config     *config.D4SignConfig
	httpClient *http.Client
}

func NewD4SignService(cfg *config.D4SignConfig) *D4SignService {
	return &D4SignService{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// ProviderError is a D4Sign-level failure: either a transport error status or
// a business error embedded in an HTTP 200 payload. The raw payload is kept
// so it can be surfaced in the run summary.
type ProviderError struct {
	Operation string
	Status    int
	Detail    string
	Response  json.RawMessage
}

func (e *ProviderError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("d4sign %s failed: %s", e.Operation, e.Detail)
	}
	return fmt.Sprintf("d4sign %s failed with status %d", e.Operation, e.Status)
}

// CreatedDocument is the provider's answer to a template instantiation.
type CreatedDocument struct {
	UUID string
	Link string
}

type d4Response struct {
	UUID         string `json:"uuid"`
	UUIDDoc      string `json:"uuidDoc"`
	UUIDDocument string `json:"uuid_document"`
	URL          string `json:"url"`
	URLDocument  string `json:"url_document"`
	Message      string `json:"message"`
	MessagePT    string `json:"mensagem_pt"`
}

// detail prefers the provider's localized message.
func (r *d4Response) detail() string {
	if r.MessagePT != "" {
		return r.MessagePT
	}
	return r.Message
}

func (s *D4SignService) endpoint(path string) string {
	creds := url.Values{}
	creds.Set("tokenAPI", s.config.Token)
	creds.Set("cryptKey", s.config.CryptKey)
	return s.config.APIURL + path + "?" + creds.Encode()
}

// post issues one provider call and applies the dual success check: the HTTP
// status must be non-error AND the payload must carry no message field, since
// the provider reports business errors inside HTTP 200 responses.
func (s *D4SignService) post(ctx context.Context, operation, path string, payload any) (*d4Response, json.RawMessage, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.endpoint(path), reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	var out d4Response
	// The provider occasionally answers with non-JSON bodies on gateway
	// errors; treat those as empty payloads and rely on the status code.
	_ = json.Unmarshal(body, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || out.Message != "" || out.MessagePT != "" {
		return nil, nil, &ProviderError{
			Operation: operation,
			Status:    resp.StatusCode,
			Detail:    out.detail(),
			Response:  json.RawMessage(body),
		}
	}

	return &out, json.RawMessage(body), nil
}

// CreateFromTemplate instantiates a Word template inside the safe and returns
// the new document's uuid and public link.
func (s *D4SignService) CreateFromTemplate(ctx context.Context, vault *model.VaultResolution, templateID, name string, vars model.TemplateVars) (*CreatedDocument, error) {
	payload := map[string]any{
		"name_document": name,
		"uuid_folder":   nil,
		"templates": map[string]model.TemplateVars{
			templateID: vars,
		},
	}
	if vault.FolderID != "" {
		payload["uuid_folder"] = vault.FolderID
	}

	path := fmt.Sprintf("/documents/%s/makedocumentbytemplateword", vault.SafeID)
	out, _, err := s.post(ctx, "makedocumentbytemplateword", path, payload)
	if err != nil {
		return nil, err
	}

	doc := &CreatedDocument{}
	switch {
	case out.UUID != "":
		doc.UUID = out.UUID
	case out.UUIDDoc != "":
		doc.UUID = out.UUIDDoc
	default:
		doc.UUID = out.UUIDDocument
	}
	if out.URL != "" {
		doc.Link = out.URL
	} else {
		doc.Link = out.URLDocument
	}

	if doc.UUID == "" {
		return nil, &ProviderError{
			Operation: "makedocumentbytemplateword",
			Status:    http.StatusOK,
			Detail:    "response carries no document uuid",
		}
	}

	return doc, nil
}

// AddSigners registers the ordered signer list against the document. The
// provider expects the list JSON-encoded into a "signers" string field.
func (s *D4SignService) AddSigners(ctx context.Context, docID string, signers []model.SignerSpec) error {
	encoded, err := json.Marshal(signers)
	if err != nil {
		return fmt.Errorf("failed to marshal signers: %w", err)
	}

	path := fmt.Sprintf("/documents/%s/addsigner", docID)
	_, _, err = s.post(ctx, "addsigner", path, map[string]any{
		"signers": string(encoded),
	})
	return err
}

// SendToSign triggers the send-for-signature action on the document.
func (s *D4SignService) SendToSign(ctx context.Context, docID string) error {
	path := fmt.Sprintf("/documents/%s/sendtosigner", docID)
	_, _, err := s.post(ctx, "sendtosigner", path, nil)
	return err
}
