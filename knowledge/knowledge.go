package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Sink is the boundary to the external knowledge base that retains resolved
// question/answer pairs for reuse. GenerateAnswer returning "" means "could
// not generate" and is not an error.
type Sink interface {
	StorePair(ctx context.Context, questionText, answerText string) error
	GenerateAnswer(ctx context.Context, promptText string) (string, error)
}

const (
	defaultStoreTimeout    = 15 * time.Second
	defaultGenerateTimeout = 60 * time.Second
)

// Client talks to the retrieval-augmented knowledge service over HTTP REST.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	storeTimeout    time.Duration
	generateTimeout time.Duration
}

// Compile-time interface check
var _ Sink = (*Client)(nil)

// NewClient creates a knowledge service client for the daemon at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        5,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout: 5 * time.Second,
				}).DialContext,
			},
		},
		storeTimeout:    defaultStoreTimeout,
		generateTimeout: defaultGenerateTimeout,
	}
}

type storePairRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type generateRequest struct {
	Question string `json:"question"`
}

type generateResponse struct {
	Answer *string `json:"answer"`
}

// StorePair persists a question/answer pair as a document in the knowledge base.
func (c *Client) StorePair(ctx context.Context, questionText, answerText string) error {
	ctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()

	payload, err := json.Marshal(storePairRequest{Question: questionText, Answer: answerText})
	if err != nil {
		return fmt.Errorf("knowledge: encode pair: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/documents", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("knowledge: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("knowledge: store pair: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("knowledge: store pair: status %d", resp.StatusCode)
	}
	return nil
}

// GenerateAnswer asks the knowledge service to generate an answer for the
// question. An empty string means the service could not produce one.
func (c *Client) GenerateAnswer(ctx context.Context, promptText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.generateTimeout)
	defer cancel()

	payload, err := json.Marshal(generateRequest{Question: promptText})
	if err != nil {
		return "", fmt.Errorf("knowledge: encode prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/answer", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("knowledge: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("knowledge: generate answer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("knowledge: generate answer: status %d", resp.StatusCode)
	}

	var body generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("knowledge: decode answer: %w", err)
	}
	if body.Answer == nil {
		return "", nil
	}
	return *body.Answer, nil
}
