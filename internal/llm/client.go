package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Client struct {
	endpoint   string
	model      string
	httpClient *http.Client
}

type GenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type GenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Intent is the structured reading of one chat message. Exactly one of the
// optional payloads is set depending on Kind.
type Intent struct {
	Kind         string  `json:"intent"` // record_borrowed | record_lent | receive_payment | settle_up | create_recurring_rule | mark_paid | undo_paid | list_dues | list_occurrences | show_dashboard | unknown
	Counterparty string  `json:"counterparty,omitempty"`
	Amount       string  `json:"amount,omitempty"` // decimal string, empty = unspecified
	Category     string  `json:"category,omitempty"`
	Description  string  `json:"description,omitempty"`
	RuleName     string  `json:"rule_name,omitempty"`
	Recurrence   string  `json:"recurrence,omitempty"` // daily | weekly | monthly | yearly
	Day          int     `json:"day,omitempty"`
	OccurrenceID int64   `json:"occurrence_id,omitempty"`
	GenerateNext bool    `json:"generate_next,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
}

func NewClient(endpoint, model string) *Client {
	return &Client{
		endpoint: endpoint,
		model:    model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// ExtractIntent turns a natural-language message into a structured intent.
// Falls back to regex parsing when the model is unreachable or returns
// garbage.
func (c *Client) ExtractIntent(ctx context.Context, message string) (*Intent, error) {
	if c == nil {
		return parseWithRegex(message), nil
	}

	today := time.Now().Format("2006-01-02")
	prompt := fmt.Sprintf(IntentPromptTemplate, today, message)

	response, err := c.generate(ctx, prompt)
	if err != nil {
		return parseWithRegex(message), nil
	}

	jsonStr := extractJSON(response)
	if jsonStr == "" {
		return parseWithRegex(message), nil
	}

	var intent Intent
	if err := json.Unmarshal([]byte(jsonStr), &intent); err != nil {
		return parseWithRegex(message), nil
	}
	if intent.Kind == "" {
		intent.Kind = "unknown"
	}
	return &intent, nil
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	reqBody := GenerateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call Ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("Ollama error (status %d): %s", resp.StatusCode, string(body))
	}

	var genResp GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	return genResp.Response, nil
}
