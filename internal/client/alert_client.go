// Package client holds outbound HTTP integrations. AlertClient pushes
// operational incidents (circuit opens, failovers, terminal account states)
// to an external webhook.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type AlertClient struct {
	url    string
	client *http.Client
}

func NewAlertClient(url string) *AlertClient {
	return &AlertClient{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Enabled reports whether a webhook URL is configured. Callers skip alert
// delivery entirely when it is not.
func (c *AlertClient) Enabled() bool { return c.url != "" }

type alertRequest struct {
	Kind      string         `json:"kind"`
	AccountID string         `json:"accountId"`
	Detail    string         `json:"detail,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	At        time.Time      `json:"at"`
}

func (c *AlertClient) SendAlert(ctx context.Context, kind, accountID, detail string, data map[string]any) error {
	if !c.Enabled() {
		return nil
	}

	reqBody, err := json.Marshal(alertRequest{
		Kind:      kind,
		AccountID: accountID,
		Detail:    detail,
		Data:      data,
		At:        time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}
	return nil
}
