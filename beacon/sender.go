package beacon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"portfolio-beacon/models"
)

// FormSender posts the payload as JSON to a form endpoint such as a Google
// Apps Script web app. The response is drained and discarded unread.
type FormSender struct {
	client *http.Client
}

func NewFormSender(client *http.Client) *FormSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &FormSender{client: client}
}

func (s *FormSender) Send(ctx context.Context, endpoint string, payload models.TrackingPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", req.URL.Host, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}
