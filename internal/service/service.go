// Package service implements the control-plane and data-plane callers of
// spec.md §4.11: describe/create-stream, endpoint discovery with a TTL
// cache, and the chunked PUT data-plane call, all signed with SigV4.
package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"

	"github.com/alxayo/go-kvsproducer/internal/credentials"
	kvserrors "github.com/alxayo/go-kvsproducer/internal/errors"
	"github.com/alxayo/go-kvsproducer/internal/logger"
)

// userAgent identifies this library on the data-plane PUT, the same way
// the AWS SDKs stamp a fixed product token onto every request.
const userAgent = "go-kvsproducer"

// Clock lets callers (chiefly tests) control the wall-clock time used
// for SigV4 signing and endpoint-cache TTL expiry.
type Clock func() time.Time

// Caller issues authenticated control-plane calls and the data-plane PUT
// against the media-ingestion service, per spec.md §4.11.
type Caller struct {
	httpClient      *http.Client
	credentials     credentials.Provider
	signer          *signer
	controlEndpoint string
	region          string
	maxAttempts     uint
	now             Clock
	clientID        string

	endpointCache sync.Map // cacheKey -> *endpointCacheEntry
}

type endpointCacheEntry struct {
	endpoint string
	expires  time.Time
}

// Config configures a Caller.
type Config struct {
	HTTPClient *http.Client
	Credentials credentials.Provider
	// ControlEndpoint is the full base URL of the control-plane API,
	// e.g. "https://kinesisvideo.us-east-1.example.com".
	ControlEndpoint string
	Region          string
	MaxAttempts     uint // control-plane retry attempts; 0 defaults to 3
	Now             Clock

	// ClientID identifies this producer process on the data-plane PUT's
	// client-id header. Defaults to a random uuid.NewString() value when
	// unset; callers that need a stable identity across restarts (e.g.
	// for server-side session correlation) should set it explicitly.
	ClientID string
}

// New builds a Caller from cfg, filling in defaults for an unset HTTP
// client, retry budget, and clock.
func New(cfg Config) *Caller {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	return &Caller{
		httpClient:      httpClient,
		credentials:     cfg.Credentials,
		signer:          newSigner(),
		controlEndpoint: cfg.ControlEndpoint,
		region:          cfg.Region,
		maxAttempts:     maxAttempts,
		now:             now,
		clientID:        clientID,
	}
}

// StreamDescription is the result of DescribeStream.
type StreamDescription struct {
	Status       string
	ARN          string
	CreationTime time.Time
}

// DescribeStream returns RESOURCE_NOT_FOUND if the named stream does not
// exist, per spec.md §4.11.
func (c *Caller) DescribeStream(ctx context.Context, name string) (StreamDescription, error) {
	var out struct {
		StreamInfo struct {
			Status       string    `json:"status"`
			StreamARN    string    `json:"streamArn"`
			CreationTime time.Time `json:"creationTime"`
		} `json:"streamInfo"`
	}
	err := c.controlCall(ctx, "DescribeStream", map[string]any{"StreamName": name}, &out)
	if err != nil {
		return StreamDescription{}, err
	}
	return StreamDescription{
		Status:       out.StreamInfo.Status,
		ARN:          out.StreamInfo.StreamARN,
		CreationTime: out.StreamInfo.CreationTime,
	}, nil
}

// CreateStream creates a stream and returns its ARN.
func (c *Caller) CreateStream(ctx context.Context, name string, retentionHours uint32, contentType, kmsKeyID string) (string, error) {
	var out struct {
		StreamARN string `json:"streamArn"`
	}
	body := map[string]any{
		"StreamName":          name,
		"DataRetentionInHours": retentionHours,
		"MediaType":            contentType,
	}
	if kmsKeyID != "" {
		body["KmsKeyId"] = kmsKeyID
	}
	if err := c.controlCall(ctx, "CreateStream", body, &out); err != nil {
		return "", err
	}
	return out.StreamARN, nil
}

// GetDataEndpoint returns the endpoint for (name, api), serving from a
// cache valid for ttl before calling through. The cache is a sync.Map
// keyed by (name, api) — read-mostly, lock-free on the hit path, per
// spec.md §5's "read-mostly... reader-writer lock or an atomic pointer
// swap" requirement.
func (c *Caller) GetDataEndpoint(ctx context.Context, name, api string, ttl time.Duration) (string, error) {
	key := name + "\x00" + api
	if v, ok := c.endpointCache.Load(key); ok {
		entry := v.(*endpointCacheEntry)
		if c.now().Before(entry.expires) {
			return entry.endpoint, nil
		}
	}

	var out struct {
		DataEndpoint string `json:"dataEndpoint"`
	}
	err := c.controlCall(ctx, "GetDataEndpoint", map[string]any{"StreamName": name, "APIName": api}, &out)
	if err != nil {
		return "", err
	}
	c.endpointCache.Store(key, &endpointCacheEntry{endpoint: out.DataEndpoint, expires: c.now().Add(ttl)})
	return out.DataEndpoint, nil
}

// PutMedia opens the chunked data-plane PUT and returns the raw HTTP
// response; the caller (internal/upload) streams the request body and
// reads newline-delimited ACK frames from resp.Body.
func (c *Caller) PutMedia(ctx context.Context, endpoint, streamName string, startTimestamp float64, absolute, ackRequired bool, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint+"/putMedia", body)
	if err != nil {
		return nil, kvserrors.New(kvserrors.CurlInitFailed, "service.PutMedia", err)
	}
	req.Header.Set("x-amzn-stream-name", streamName)
	req.Header.Set("x-amzn-fragment-timecode-type", fragmentTimecodeType(absolute))
	req.Header.Set("x-amzn-producer-start-timestamp", fmt.Sprintf("%f", startTimestamp))
	req.Header.Set("client-id", c.clientID)
	req.Header.Set("User-Agent", userAgent)
	if ackRequired {
		req.Header.Set("x-amzn-fragment-acknowledgment-required", "1")
	}
	req.TransferEncoding = []string{"chunked"}

	if err := c.signRequest(ctx, req, unsignedPayload, "kinesisvideo"); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError("service.PutMedia", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, classifyHTTPStatus("service.PutMedia", resp.StatusCode, resp.Body)
	}
	return resp, nil
}

func fragmentTimecodeType(absolute bool) string {
	if absolute {
		return "ABSOLUTE"
	}
	return "RELATIVE"
}

// controlCall performs one signed JSON control-plane call with
// retry-go backoff on retriable failures (transport, throttling, 5xx,
// 408), per spec.md §4.11's "idempotent control-plane calls retry with
// exponential backoff... 4xx (except 408, 429) do not retry."
func (c *Caller) controlCall(ctx context.Context, target string, body any, out any) error {
	return retry.Do(
		func() error { return c.doControlCall(ctx, target, body, out) },
		retry.Context(ctx),
		retry.Attempts(c.maxAttempts),
		retry.Delay(200*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return kvserrors.IsRetriable(err) }),
	)
}

func (c *Caller) doControlCall(ctx context.Context, target string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return kvserrors.New(kvserrors.InvalidArg, "service.controlCall", err)
	}
	url := c.controlEndpoint + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return kvserrors.New(kvserrors.CurlInitFailed, "service.controlCall", err)
	}
	req.Header.Set("Content-Type", "application/x-amz-json-1.1")
	req.Header.Set("X-Amz-Target", "KinesisVideo."+target)

	sum := sha256.Sum256(payload)
	if err := c.signRequest(ctx, req, hex.EncodeToString(sum[:]), "kinesisvideo"); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError("service."+target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return kvserrors.New(kvserrors.ResourceNotFound, "service."+target, fmt.Errorf("%s: not found", target))
	}
	if resp.StatusCode >= 400 {
		return classifyHTTPStatus("service."+target, resp.StatusCode, resp.Body)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return kvserrors.New(kvserrors.InvalidAPIReturn, "service."+target, err)
	}
	return nil
}

func (c *Caller) signRequest(ctx context.Context, req *http.Request, payloadHash, awsService string) error {
	creds, err := c.credentials.GetCredentials(ctx)
	if err != nil {
		return err
	}
	sdkCreds := awssdk.Credentials{
		AccessKeyID:     creds.AccessKey,
		SecretAccessKey: creds.SecretKey,
		SessionToken:    creds.SessionToken,
	}
	if err := c.signer.sign(ctx, sdkCreds, req, payloadHash, awsService, c.region, c.now()); err != nil {
		return kvserrors.New(kvserrors.InvalidCredentials, "service.signRequest", err)
	}
	logger.Logger().Debug().Str("target", req.Header.Get("X-Amz-Target")).Msg("signed request")
	return nil
}

func classifyTransportError(op string, err error) error {
	return kvserrors.New(kvserrors.ConnectionReset, op, err)
}

func classifyHTTPStatus(op string, status int, body io.Reader) error {
	diagnostic, _ := io.ReadAll(io.LimitReader(body, 4096))
	err := fmt.Errorf("http status %d: %s", status, diagnostic)
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return kvserrors.New(kvserrors.ServiceCallNotAuthorized, op, err)
	case http.StatusTooManyRequests:
		return kvserrors.New(kvserrors.ServiceCallThrottled, op, err)
	case http.StatusRequestTimeout:
		return kvserrors.New(kvserrors.ServiceCall408, op, err)
	default:
		if status >= 500 {
			return kvserrors.New(kvserrors.ServiceCall5xx, op, err)
		}
		return kvserrors.New(kvserrors.InvalidAPIReturn, op, err)
	}
}
