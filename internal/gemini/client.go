// Package gemini is a minimal client for the generative-language REST API.
// It speaks the v1beta generateContent contract directly: API key as a query
// parameter, a contents/parts request body, and a candidates/parts response.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// NetworkError covers transport failures and non-success HTTP statuses
// without a recognizable error payload.
type NetworkError struct {
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gemini request failed: %v", e.Err)
	}
	return fmt.Sprintf("gemini request failed with status %d", e.StatusCode)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// UpstreamError carries an explicit error payload returned by the service.
type UpstreamError struct {
	Code    int
	Status  string
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("gemini upstream error %d (%s): %s", e.Code, e.Status, e.Message)
}

// MalformedResponseError means the response body was missing the expected
// candidate text field.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed gemini response: %s", e.Reason)
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

func NewClient(baseURL, model string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second}, // model calls can take a while
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
	}
}

// Send posts prompt to the generateContent endpoint authenticated by
// credential, and returns the first candidate's text trimmed of surrounding
// whitespace. No retries are performed; the caller owns retry policy.
//
// Credential presence is the caller's responsibility: the controller rejects
// sends before this client is ever invoked without a key.
func (c *Client) Send(ctx context.Context, promptText, credential string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: promptText}}}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.baseURL, c.model, url.QueryEscape(credential))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	var decoded generateResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&decoded)

	if decoded.Error != nil {
		return "", &UpstreamError{
			Code:    decoded.Error.Code,
			Status:  decoded.Error.Status,
			Message: decoded.Error.Message,
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &NetworkError{StatusCode: resp.StatusCode}
	}
	if decodeErr != nil {
		return "", &MalformedResponseError{Reason: fmt.Sprintf("invalid JSON body: %v", decodeErr)}
	}

	if len(decoded.Candidates) == 0 {
		return "", &MalformedResponseError{Reason: "no candidates"}
	}
	parts := decoded.Candidates[0].Content.Parts
	if len(parts) == 0 {
		return "", &MalformedResponseError{Reason: "candidate has no parts"}
	}
	text := strings.TrimSpace(parts[0].Text)
	if text == "" {
		return "", &MalformedResponseError{Reason: "candidate text is empty"}
	}
	return text, nil
}
