// Package geocoder предоставляет клиент внешнего сервиса геокодирования адресов.
package geocoder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client инкапсулирует HTTP-взаимодействие с сервисом геокодирования.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// Coordinates описывает ответ сервиса геокодирования по одному адресу.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewClient создаёт HTTP-клиент сервиса геокодирования по указанному адресу.
func NewClient(baseURL string) *Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 2
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = 5 * time.Second
	c.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: c,
	}
}

// Geocode запрашивает координаты для адреса. Второе возвращаемое значение
// сообщает, удалось ли разрешить адрес: на 204 сервис отвечает без тела,
// и вызывающий подставляет координаты-заглушку (0, 0).
func (c *Client) Geocode(ctx context.Context, address string) (Coordinates, bool, error) {
	var coords Coordinates

	if c == nil || c.baseURL == "" {
		return coords, false, fmt.Errorf("geocoder client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	reqURL := fmt.Sprintf("%s/api/geocode?address=%s", base, url.QueryEscape(address))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return coords, false, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return coords, false, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return coords, false, nil
	}

	if resp.StatusCode != http.StatusOK {
		return coords, false, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&coords); err != nil {
		return coords, false, fmt.Errorf("decode response: %w", err)
	}

	return coords, true, nil
}
