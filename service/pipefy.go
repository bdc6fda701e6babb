package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/provinciadigital41-cpu/provincia/config"
)

// PipefyService is the GraphQL client for the card source.
type PipefyService struct {
	config     *config.PipefyConfig
	httpClient *http.Client
}

func NewPipefyService(cfg *config.PipefyConfig) *PipefyService {
	return &PipefyService{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Card is the queried card with its field entries and assignees.
type Card struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Fields    []CardField `json:"fields"`
	Assignees []Assignee  `json:"assignees"`
}

// CardField carries both the raw and the report value; the report value is
// preferred when present.
type CardField struct {
	Name        string  `json:"name"`
	Value       *string `json:"value"`
	ReportValue *string `json:"report_value"`
	Field       struct {
		ID string `json:"id"`
	} `json:"field"`
}

type Assignee struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FieldValue returns the reported value of the field with the given id,
// falling back to the raw value. Nil when the field is absent or empty.
func (c *Card) FieldValue(fieldID string) *string {
	for i := range c.Fields {
		f := &c.Fields[i]
		if f.Field.ID != fieldID {
			continue
		}
		if f.ReportValue != nil {
			return f.ReportValue
		}
		return f.Value
	}
	return nil
}

const cardQuery = `
query($cardId: ID!) {
  card(id: $cardId) {
    id title
    fields { name value report_value field { id } }
    assignees { id name }
  }
}`

const updateFieldMutation = `
mutation($card_id: ID!, $field_id: String!, $value: String!) {
  updateCardField(input: { card_id: $card_id, field_id: $field_id, new_value: $value }) { success }
}`

const movePhaseMutation = `
mutation($card_id: ID!, $dest: ID!) {
  moveCardToPhase(input: { card_id: $card_id, destination_phase_id: $dest }) { card { id } }
}`

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlError struct {
	Message string `json:"message"`
}

// query posts one GraphQL operation and decodes data into out. GraphQL-level
// errors are returned as Go errors carrying the first message.
func (s *PipefyService) query(ctx context.Context, query string, variables map[string]any, out any) error {
	jsonData, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.APIURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.config.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphqlError  `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to parse response: %w, body: %s", err, string(body))
	}

	if len(envelope.Errors) > 0 {
		return fmt.Errorf("pipefy API error: %s", envelope.Errors[0].Message)
	}

	if out != nil && envelope.Data != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to parse data: %w", err)
		}
	}

	return nil
}

// ErrCardNotFound is reported when the query succeeds but no card comes back.
var ErrCardNotFound = fmt.Errorf("card not found")

// GetCard fetches the card's title, field entries and assignees.
func (s *PipefyService) GetCard(ctx context.Context, cardID string) (*Card, error) {
	var data struct {
		Card *Card `json:"card"`
	}
	if err := s.query(ctx, cardQuery, map[string]any{"cardId": cardID}, &data); err != nil {
		return nil, err
	}
	if data.Card == nil {
		return nil, ErrCardNotFound
	}
	return data.Card, nil
}

// UpdateCardField writes a single string field on the card.
func (s *PipefyService) UpdateCardField(ctx context.Context, cardID, fieldID, value string) error {
	return s.query(ctx, updateFieldMutation, map[string]any{
		"card_id":  cardID,
		"field_id": fieldID,
		"value":    value,
	}, nil)
}

// MoveCardToPhase transitions the card to the destination phase.
func (s *PipefyService) MoveCardToPhase(ctx context.Context, cardID, phaseID string) error {
	return s.query(ctx, movePhaseMutation, map[string]any{
		"card_id": cardID,
		"dest":    phaseID,
	}, nil)
}
