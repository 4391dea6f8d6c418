package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/psychohistory/psychohistory/internal/domain"
	"github.com/psychohistory/psychohistory/pkg/errors"
)

// ProviderName identifies a concrete search backend.
type ProviderName string

const (
	ProviderTavily  ProviderName = "tavily"
	ProviderSerpAPI ProviderName = "serpapi"
)

// HTTPProvider implements Provider against a real web-search API (Tavily or
// SerpAPI), chosen at construction time per §4.4 "Provider selection".
type HTTPProvider struct {
	name    ProviderName
	baseURL string
	apiKey  string
	client  *http.Client
}

// HTTPConfig configures an HTTPProvider.
type HTTPConfig struct {
	Name    ProviderName
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewHTTPProvider builds a real search provider. BaseURL defaults to the
// named provider's public API root when empty.
func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.Wrap(errors.ErrValidation, "search API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		switch cfg.Name {
		case ProviderSerpAPI:
			baseURL = "https://serpapi.com/search"
		default:
			baseURL = "https://api.tavily.com/search"
		}
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &HTTPProvider{
		name:    cfg.Name,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (p *HTTPProvider) Search(ctx context.Context, query string) ([]domain.Source, error) {
	switch p.name {
	case ProviderSerpAPI:
		return p.searchSerpAPI(ctx, query)
	default:
		return p.searchTavily(ctx, query)
	}
}

func (p *HTTPProvider) searchTavily(ctx context.Context, query string) ([]domain.Source, error) {
	body, _ := json.Marshal(map[string]interface{}{
		"api_key":     p.apiKey,
		"query":       query,
		"max_results": domain.MaxSourcesPerNode,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build tavily request")
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, statusCode, err := p.do(req)
	if err != nil {
		return nil, err
	}
	if statusCode != http.StatusOK {
		return nil, statusError(p.name, statusCode)
	}

	var sources []domain.Source
	results := gjson.GetBytes(respBody, "results")
	results.ForEach(func(_, value gjson.Result) bool {
		sources = append(sources, domain.Source{
			URL:            value.Get("url").String(),
			Title:          value.Get("title").String(),
			Snippet:        value.Get("content").String(),
			RelevanceScore: value.Get("score").Float(),
		})
		return true
	})

	return sources, nil
}

func (p *HTTPProvider) searchSerpAPI(ctx context.Context, query string) ([]domain.Source, error) {
	url := fmt.Sprintf("%s?q=%s&api_key=%s", p.baseURL, query, p.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build serpapi request")
	}

	respBody, statusCode, err := p.do(req)
	if err != nil {
		return nil, err
	}
	if statusCode != http.StatusOK {
		return nil, statusError(p.name, statusCode)
	}

	var sources []domain.Source
	results := gjson.GetBytes(respBody, "organic_results")
	results.ForEach(func(_, value gjson.Result) bool {
		sources = append(sources, domain.Source{
			URL:            value.Get("link").String(),
			Title:          value.Get("title").String(),
			Snippet:        value.Get("snippet").String(),
			RelevanceScore: 1.0 - (value.Get("position").Float() / 100.0),
		})
		return true
	})

	return sources, nil
}

// statusError classifies a non-200 response: 429 is transient (retryable),
// every other 4xx/5xx is not (spec §4.4 "Non-transient provider errors (4xx
// other than 429) do not retry").
func statusError(provider ProviderName, statusCode int) error {
	err := errors.Newf("%s search returned status %d", provider, statusCode)
	if statusCode == http.StatusTooManyRequests {
		return &TransientError{Err: err, StatusCode: statusCode}
	}
	return err
}

func (p *HTTPProvider) do(req *http.Request) ([]byte, int, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, &TransientError{Err: errors.Wrap(err, "search HTTP request failed"), StatusCode: 0}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, errors.Wrap(err, "read search response body")
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, resp.StatusCode, &TransientError{Err: errors.New("search provider rate limited us"), StatusCode: resp.StatusCode}
	}

	return body, resp.StatusCode, nil
}
