package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// credentialHeaderKeys are tried in order when deriving an Authorization
// header from a credential map.
var credentialHeaderKeys = []string{"api_key", "token", "access_token", "secret_key"}

// ProbeClient issues health-check requests against a service's declared
// endpoint. Each service gets its own circuit breaker so one flapping
// third party cannot burn probe capacity for the rest.
type ProbeClient struct {
	client *http.Client
	logger zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[int]
}

func NewProbeClient(timeout time.Duration, logger zerolog.Logger) *ProbeClient {
	return &ProbeClient{
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[int]),
	}
}

func (p *ProbeClient) breaker(serviceKey string) *gobreaker.CircuitBreaker[int] {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cb, ok := p.breakers[serviceKey]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:    "health-probe-" + serviceKey,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && counts.TotalFailures*2 >= counts.Requests
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("health probe circuit breaker state change")
		},
	})
	p.breakers[serviceKey] = cb
	return cb
}

// Probe issues a GET against the health endpoint with a bearer token derived
// from the credentials and returns the HTTP status code. Transport errors
// and open breakers surface as errors.
func (p *ProbeClient) Probe(ctx context.Context, serviceKey, url string, credentials map[string]string) (int, error) {
	return p.breaker(serviceKey).Execute(func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return 0, fmt.Errorf("build health probe request: %w", err)
		}
		if token := bearerToken(credentials); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return 0, fmt.Errorf("health probe %s: %w", url, err)
		}
		defer resp.Body.Close()
		return resp.StatusCode, nil
	})
}

func bearerToken(credentials map[string]string) string {
	for _, key := range credentialHeaderKeys {
		if v := credentials[key]; v != "" {
			return v
		}
	}
	return ""
}
