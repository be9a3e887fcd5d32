package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xela07ax/spaceai-governance/internal/admin"
	"github.com/xela07ax/spaceai-governance/internal/console/handler"
	"github.com/xela07ax/spaceai-governance/internal/domain"
	"github.com/xela07ax/spaceai-governance/internal/engine"
)

// Client HTTP-клиент консоли шлюза
type Client struct {
	base string
	http *http.Client
}

func NewClient(base string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Command отправляет админ-команду; ответ плоскости возвращается и при не-2xx статусе
func (c *Client) Command(ctx context.Context, cmd admin.Command, masterKey string) (admin.CommandResult, error) {
	var res admin.CommandResult
	err := c.do(ctx, http.MethodPost, "/v1/admin/commands", cmd, map[string]string{handler.MasterKeyHeader: masterKey}, &res)
	return res, err
}

func (c *Client) Commands(ctx context.Context) ([]string, error) {
	var out struct {
		Commands []string `json:"commands"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/admin/commands", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Commands, nil
}

// Submit отправляет запрос в конвейер от имени владельца токена
func (c *Client) Submit(ctx context.Context, req domain.Request, token string) (engine.Result, error) {
	var res engine.Result
	err := c.do(ctx, http.MethodPost, "/v1/requests", req, map[string]string{"Authorization": "Bearer " + token}, &res)
	return res, err
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, headers map[string]string, out interface{}) error {
	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	// JWT middleware отвечает текстом, не JSON
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}
