package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// LibreTranslate calls one or more LibreTranslate instances in order.
type LibreTranslate struct {
	urls   []string
	client *http.Client
}

// NewLibreTranslate creates a LibreTranslate backend. A nil client uses
// http.DefaultClient; callers bound latency through the request context.
func NewLibreTranslate(urls []string, client *http.Client) *LibreTranslate {
	if client == nil {
		client = http.DefaultClient
	}
	return &LibreTranslate{urls: urls, client: client}
}

// Name implements Translator.
func (l *LibreTranslate) Name() string { return "libretranslate" }

// Translate implements Translator.
func (l *LibreTranslate) Translate(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(map[string]string{
		"q":      req.Text,
		"source": req.Source,
		"target": req.Target,
		"format": "text",
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}

	var lastErr error = ErrUnavailable
	for _, endpoint := range l.urls {
		text, err := l.call(ctx, endpoint, body)
		if err != nil {
			lastErr = fmt.Errorf("%w: %s: %v", ErrUnavailable, endpoint, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		return Result{Text: text, Source: req.Source, Target: req.Target, Confidence: 0.9}, nil
	}
	return Result{}, lastErr
}

func (l *LibreTranslate) call(ctx context.Context, endpoint string, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var out struct {
		TranslatedText string `json:"translatedText"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if strings.TrimSpace(out.TranslatedText) == "" {
		return "", fmt.Errorf("empty translation")
	}
	return out.TranslatedText, nil
}

// MyMemory calls the MyMemory public translation API.
type MyMemory struct {
	endpoint string
	client   *http.Client
}

// DefaultMyMemoryURL is the public MyMemory endpoint.
const DefaultMyMemoryURL = "https://api.mymemory.translated.net/get"

// NewMyMemory creates a MyMemory backend.
func NewMyMemory(endpoint string, client *http.Client) *MyMemory {
	if endpoint == "" {
		endpoint = DefaultMyMemoryURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &MyMemory{endpoint: endpoint, client: client}
}

// Name implements Translator.
func (m *MyMemory) Name() string { return "mymemory" }

// Translate implements Translator.
func (m *MyMemory) Translate(ctx context.Context, req Request) (Result, error) {
	q := url.Values{}
	q.Set("q", req.Text)
	q.Set("langpair", req.Source+"|"+req.Target)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, m.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := m.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out struct {
		ResponseData struct {
			TranslatedText string  `json:"translatedText"`
			Match          float64 `json:"match"`
		} `json:"responseData"`
		ResponseStatus int `json:"responseStatus"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if out.ResponseStatus != http.StatusOK || out.ResponseData.TranslatedText == "" {
		return Result{}, fmt.Errorf("%w: mymemory status %d", ErrUnavailable, out.ResponseStatus)
	}

	confidence := out.ResponseData.Match
	if confidence <= 0 || confidence > 1 {
		confidence = 0.8
	}
	return Result{Text: out.ResponseData.TranslatedText, Source: req.Source, Target: req.Target, Confidence: confidence}, nil
}
