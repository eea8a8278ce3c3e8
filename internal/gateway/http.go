package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("gateway api error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("gateway api error (status=%d): %s", e.StatusCode, body)
}

func (e *APIError) Unwrap() error {
	return ErrUnexpectedAPI
}

// HTTPGateway speaks a small JSON record API:
//
//	GET   {base}/records/{type}/{id}?fields=a,b -> {"record": {...}}
//	POST  {base}/records/{type}  {"values": {...}} -> {"id": "..."}
//	PATCH {base}/records/{type}/{id}  {"values": {...}}
//
// Requests share one client-side rate limiter.
type HTTPGateway struct {
	baseURL string
	http    *http.Client
	creds   *clientcredentials.Config
	limiter *rate.Limiter
}

func NewHTTPGateway(cfg Config) (*HTTPGateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &HTTPGateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.TokenURL != "" {
		g.creds = &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
	}
	if cfg.RateLimit > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}
	return g, nil
}

// Authenticate fetches a client-credentials token. Without a token url the
// session is anonymous.
func (g *HTTPGateway) Authenticate(ctx context.Context) (Session, error) {
	if g.creds == nil {
		return Session{}, nil
	}
	token, err := g.creds.Token(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("gateway token: %w", err)
	}
	return Session{Token: token.AccessToken, Expiry: token.Expiry}, nil
}

func (g *HTTPGateway) Read(ctx context.Context, session Session, resourceType, id string, fields []string) (Record, bool, error) {
	resourceType = strings.TrimSpace(resourceType)
	id = strings.TrimSpace(id)
	if resourceType == "" || id == "" {
		return nil, false, errors.New("resource type and id are required")
	}
	endpoint := g.recordURL(resourceType, id)
	if len(fields) > 0 {
		endpoint += "?" + url.Values{"fields": {strings.Join(fields, ",")}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, err
	}
	var out struct {
		Record Record `json:"record"`
	}
	status, err := g.do(req, session, &out)
	if status == http.StatusNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if out.Record == nil {
		out.Record = Record{}
	}
	return out.Record, true, nil
}

func (g *HTTPGateway) Write(ctx context.Context, session Session, resourceType, id string, values map[string]any) (string, error) {
	resourceType = strings.TrimSpace(resourceType)
	id = strings.TrimSpace(id)
	if resourceType == "" {
		return "", errors.New("resource type is required")
	}
	body, err := json.Marshal(map[string]any{"values": values})
	if err != nil {
		return "", fmt.Errorf("marshal values: %w", err)
	}
	method := http.MethodPatch
	endpoint := g.recordURL(resourceType, id)
	if id == "" {
		method = http.MethodPost
		endpoint = g.baseURL + "/records/" + url.PathEscape(resourceType)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	var out struct {
		ID string `json:"id"`
	}
	if _, err := g.do(req, session, &out); err != nil {
		return "", err
	}
	if id == "" {
		if strings.TrimSpace(out.ID) == "" {
			return "", fmt.Errorf("%w: create returned no id", ErrUnexpectedAPI)
		}
		return out.ID, nil
	}
	return id, nil
}

func (g *HTTPGateway) recordURL(resourceType, id string) string {
	return g.baseURL + "/records/" + url.PathEscape(resourceType) + "/" + url.PathEscape(id)
}

func (g *HTTPGateway) do(req *http.Request, session Session, out any) (int, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(req.Context()); err != nil {
			return 0, fmt.Errorf("gateway rate limit: %w", err)
		}
	}
	req.Header.Set("Accept", "application/json")
	if session.Token != "" {
		req.Header.Set("Authorization", "Bearer "+session.Token)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return resp.StatusCode, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil || len(bytes.TrimSpace(body)) == 0 {
			return resp.StatusCode, nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode gateway response: %w", err)
		}
		return resp.StatusCode, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return resp.StatusCode, ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		return resp.StatusCode, ErrForbidden
	default:
		return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
}
