package pushagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/NordCoder/Campusbell/internal/domain/push"
)

// HTTPSubscriptionStore talks to the notify-api push endpoints on behalf
// of one user.
type HTTPSubscriptionStore struct {
	baseURL string
	token   string
	client  *http.Client
}

var (
	_ SubscriptionStore = (*HTTPSubscriptionStore)(nil)
	_ KeySource         = (*HTTPSubscriptionStore)(nil)
)

func NewHTTPSubscriptionStore(baseURL, token string, client *http.Client) *HTTPSubscriptionStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSubscriptionStore{baseURL: strings.TrimRight(baseURL, "/"), token: token, client: client}
}

type subscriptionBody struct {
	Subscription struct {
		Endpoint string    `json:"endpoint"`
		Keys     push.Keys `json:"keys"`
	} `json:"subscription"`
}

func (s *HTTPSubscriptionStore) Save(ctx context.Context, sub push.Subscription) error {
	var body subscriptionBody
	body.Subscription.Endpoint = sub.Endpoint
	body.Subscription.Keys = sub.Keys
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.baseURL+"/v1/push/subscription", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if sub.UserAgent != "" {
		req.Header.Set("User-Agent", sub.UserAgent)
	}
	_, err = s.do(req)
	return err
}

func (s *HTTPSubscriptionStore) VAPIDPublicKey(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/push/vapid-public-key", nil)
	if err != nil {
		return "", err
	}
	raw, err := s.do(req)
	if err != nil {
		return "", err
	}
	var out struct {
		PublicKey string `json:"public_key"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode vapid key: %w", err)
	}
	if out.PublicKey == "" {
		return "", fmt.Errorf("empty vapid key")
	}
	return out.PublicKey, nil
}

func (s *HTTPSubscriptionStore) do(req *http.Request) ([]byte, error) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return raw, nil
}
