package governor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultSampleTimeout = 5 * time.Second

// RemoteSampler reads usage from the model service's /memory endpoint,
// which responds with {"used_mb": N}. Each query is bounded by Timeout.
type RemoteSampler struct {
	BaseURL string
	Client  *http.Client
	Timeout time.Duration
}

// NewRemoteSampler returns a sampler for baseURL. A non-positive timeout
// means 5s.
func NewRemoteSampler(baseURL string, client *http.Client, timeout time.Duration) *RemoteSampler {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = defaultSampleTimeout
	}
	return &RemoteSampler{BaseURL: strings.TrimRight(baseURL, "/"), Client: client, Timeout: timeout}
}

func (s *RemoteSampler) UsedMB(ctx context.Context) (int, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultSampleTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/memory", nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("memory query failed with status: %d", resp.StatusCode)
	}
	var body struct {
		UsedMB *int `json:"used_mb"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	if body.UsedMB == nil {
		return 0, fmt.Errorf("memory response missing used_mb")
	}
	return *body.UsedMB, nil
}
