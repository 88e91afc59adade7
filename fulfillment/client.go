package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx response from the fulfillment provider. Validation
// rejections (4xx) are permanent business failures; everything else is
// treated as transient.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("prodigi api error %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) IsValidation() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// ProviderClient is the boundary to the remote print-fulfillment API.
type ProviderClient interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*RemoteOrder, error)
	GetOrder(ctx context.Context, providerOrderId string) (*RemoteOrder, error)
}

type prodigiClient struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   <-chan time.Time
}

// NewProdigiClient builds the production client from the environment.
func NewProdigiClient() (ProviderClient, error) {
	apiKey := strings.TrimSpace(os.Getenv("PRODIGI_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("prodigi api key is empty")
	}
	baseURL := strings.TrimSpace(os.Getenv("PRODIGI_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.prodigi.com"
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("PRODIGI_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	rateLimitPerMin := int64(60)
	if v := strings.TrimSpace(os.Getenv("PRODIGI_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &prodigiClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   time.Tick(interval),
	}, nil
}

// orderEnvelope is the provider's response wrapper.
type orderEnvelope struct {
	Outcome string          `json:"outcome"`
	Order   remoteOrderBody `json:"order"`
}

type remoteOrderBody struct {
	ID     string `json:"id"`
	Status struct {
		Stage string `json:"stage"`
	} `json:"status"`
	Shipments []struct {
		Tracking struct {
			Number string `json:"number"`
			Url    string `json:"url"`
		} `json:"tracking"`
		EstimatedArrival string `json:"estimatedArrival"`
	} `json:"shipments"`
}

// RemoteOrder is the flattened provider-side order view.
type RemoteOrder struct {
	ID                string
	Stage             string
	TrackingNumber    *string
	TrackingUrl       *string
	EstimatedDelivery *time.Time
	Raw               json.RawMessage
}

func (c *prodigiClient) CreateOrder(ctx context.Context, req CreateOrderRequest) (*RemoteOrder, error) {
	raw, err := c.doJSON(ctx, http.MethodPost, "/v4.0/Orders", req)
	if err != nil {
		return nil, err
	}
	return parseRemoteOrder(raw)
}

func (c *prodigiClient) GetOrder(ctx context.Context, providerOrderId string) (*RemoteOrder, error) {
	raw, err := c.doJSON(ctx, http.MethodGet, "/v4.0/Orders/"+providerOrderId, nil)
	if err != nil {
		return nil, err
	}
	return parseRemoteOrder(raw)
}

func parseRemoteOrder(raw json.RawMessage) (*RemoteOrder, error) {
	var env orderEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if env.Order.ID == "" {
		return nil, fmt.Errorf("provider response missing order id: %s", string(raw))
	}

	remote := &RemoteOrder{
		ID:    env.Order.ID,
		Stage: env.Order.Status.Stage,
		Raw:   raw,
	}
	for _, s := range env.Order.Shipments {
		if s.Tracking.Number != "" && remote.TrackingNumber == nil {
			num := s.Tracking.Number
			remote.TrackingNumber = &num
		}
		if s.Tracking.Url != "" && remote.TrackingUrl == nil {
			u := s.Tracking.Url
			remote.TrackingUrl = &u
		}
		if s.EstimatedArrival != "" && remote.EstimatedDelivery == nil {
			if t, err := time.Parse(time.RFC3339, s.EstimatedArrival); err == nil {
				remote.EstimatedDelivery = &t
			}
		}
	}
	return remote, nil
}

func (c *prodigiClient) doJSON(ctx context.Context, method, path string, reqBody any) (json.RawMessage, error) {
	<-c.limiter

	var body io.Reader
	if reqBody != nil {
		encoded, err := json.Marshal(reqBody)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	return respBody, nil
}
