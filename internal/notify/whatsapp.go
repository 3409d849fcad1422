package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultCountryCode = "91"

// WhatsApp posts text messages to an HTTP WhatsApp gateway.
type WhatsApp struct {
	endpoint    string
	token       string
	countryCode string
	httpClient  *http.Client
}

type whatsAppRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type whatsAppResponse struct {
	ID    string `json:"id"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func NewWhatsApp(rawURL, token string) (*WhatsApp, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse whatsapp api url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return nil, fmt.Errorf("invalid whatsapp api url scheme")
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("invalid whatsapp api url host")
	}
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("missing whatsapp api token")
	}

	return &WhatsApp{
		endpoint:    parsed.String(),
		token:       strings.TrimSpace(token),
		countryCode: defaultCountryCode,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}, nil
}

func (c *WhatsApp) Send(ctx context.Context, msg Message) error {
	to, err := c.recipient(msg.To)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(whatsAppRequest{To: to, Message: msg.Body})
	if err != nil {
		return fmt.Errorf("encode whatsapp message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read whatsapp response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var parsed whatsAppResponse
		if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil && parsed.Error.Message != "" {
			return fmt.Errorf("whatsapp send failed: %s", parsed.Error.Message)
		}
		return fmt.Errorf("whatsapp send failed with status %d", resp.StatusCode)
	}

	return nil
}

// recipient strips everything but digits and prefixes the country code to
// local ten-digit numbers.
func (c *WhatsApp) recipient(phone string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	if digits == "" {
		return "", fmt.Errorf("invalid phone number %q", phone)
	}
	if len(digits) == 10 {
		digits = c.countryCode + digits
	}
	return digits, nil
}
