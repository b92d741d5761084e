package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alxayo/go-kvsproducer/internal/credentials"
	kvserrors "github.com/alxayo/go-kvsproducer/internal/errors"
)

func testCaller(t *testing.T, handler http.HandlerFunc) (*Caller, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	creds := credentials.NewStaticProvider(credentials.Credentials{
		AccessKey: "AKIDEXAMPLE", SecretKey: "secret", Expiration: time.Now().Add(time.Hour),
	})
	c := New(Config{
		ControlEndpoint: srv.URL,
		Region:          "us-east-1",
		Credentials:     creds,
		MaxAttempts:     2,
	})
	return c, srv
}

func TestDescribeStreamSuccess(t *testing.T) {
	c, srv := testCaller(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Amz-Target") != "KinesisVideo.DescribeStream" {
			t.Fatalf("unexpected target header: %s", r.Header.Get("X-Amz-Target"))
		}
		if r.Header.Get("Authorization") == "" {
			t.Fatalf("expected a SigV4 Authorization header")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"streamInfo": map[string]any{"status": "ACTIVE", "streamArn": "arn:test:stream/demo"},
		})
	})
	defer srv.Close()

	desc, err := c.DescribeStream(context.Background(), "demo")
	if err != nil {
		t.Fatalf("DescribeStream: %v", err)
	}
	if desc.Status != "ACTIVE" || desc.ARN != "arn:test:stream/demo" {
		t.Fatalf("unexpected description: %+v", desc)
	}
}

func TestDescribeStreamNotFound(t *testing.T) {
	c, srv := testCaller(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer srv.Close()

	_, err := c.DescribeStream(context.Background(), "missing")
	if err == nil {
		t.Fatalf("expected error for missing stream")
	}
	kind, ok := kvserrors.Kind(err)
	if !ok || kind != kvserrors.ResourceNotFound {
		t.Fatalf("expected ResourceNotFound kind, got %v ok=%v", kind, ok)
	}
}

func TestControlCallRetriesOn5xxThenSucceeds(t *testing.T) {
	calls := 0
	c, srv := testCaller(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"streamArn": "arn:test:stream/demo"})
	})
	defer srv.Close()

	arn, err := c.CreateStream(context.Background(), "demo", 24, "video/h264", "")
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	if arn != "arn:test:stream/demo" {
		t.Fatalf("unexpected arn: %s", arn)
	}
	if calls != 2 {
		t.Fatalf("expected one retry (2 calls total), got %d", calls)
	}
}

func TestControlCallDoesNotRetry4xx(t *testing.T) {
	calls := 0
	c, srv := testCaller(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	})
	defer srv.Close()

	_, err := c.CreateStream(context.Background(), "demo", 24, "video/h264", "")
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected no retry for a 400, got %d calls", calls)
	}
}

func TestGetDataEndpointCachesWithinTTL(t *testing.T) {
	calls := 0
	clock := time.Unix(1_700_000_000, 0)
	c, srv := testCaller(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]any{"dataEndpoint": "https://data.example.com"})
	})
	defer srv.Close()
	c.now = func() time.Time { return clock }

	ep, err := c.GetDataEndpoint(context.Background(), "demo", "PUT_MEDIA", time.Minute)
	if err != nil {
		t.Fatalf("GetDataEndpoint: %v", err)
	}
	if ep != "https://data.example.com" {
		t.Fatalf("unexpected endpoint: %s", ep)
	}

	ep2, err := c.GetDataEndpoint(context.Background(), "demo", "PUT_MEDIA", time.Minute)
	if err != nil {
		t.Fatalf("GetDataEndpoint (cached): %v", err)
	}
	if ep2 != ep || calls != 1 {
		t.Fatalf("expected cache hit (1 call), got %d calls", calls)
	}

	clock = clock.Add(2 * time.Minute)
	if _, err := c.GetDataEndpoint(context.Background(), "demo", "PUT_MEDIA", time.Minute); err != nil {
		t.Fatalf("GetDataEndpoint (expired): %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected re-fetch after TTL expiry, got %d calls", calls)
	}
}

func TestPutMediaSignsAndStreamsBody(t *testing.T) {
	var gotStream, gotClientID, gotUserAgent string
	c, srv := testCaller(t, func(w http.ResponseWriter, r *http.Request) {
		gotStream = r.Header.Get("x-amzn-stream-name")
		gotClientID = r.Header.Get("client-id")
		gotUserAgent = r.Header.Get("User-Agent")
		if r.Header.Get("Authorization") == "" {
			t.Fatalf("expected Authorization header on data-plane PUT")
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"EventType":"BUFFERING"}` + "\n"))
	})
	defer srv.Close()

	resp, err := c.PutMedia(context.Background(), srv.URL, "demo", 1700000000.0, true, true, nil)
	if err != nil {
		t.Fatalf("PutMedia: %v", err)
	}
	defer resp.Body.Close()
	if gotStream != "demo" {
		t.Fatalf("expected stream-name header forwarded, got %q", gotStream)
	}
	if gotClientID == "" {
		t.Fatalf("expected a default client-id header to be set")
	}
	if gotUserAgent != userAgent {
		t.Fatalf("expected User-Agent %q, got %q", userAgent, gotUserAgent)
	}
}

func TestPutMediaUsesConfiguredClientID(t *testing.T) {
	var gotClientID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClientID = r.Header.Get("client-id")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"EventType":"BUFFERING"}` + "\n"))
	}))
	defer srv.Close()

	creds := credentials.NewStaticProvider(credentials.Credentials{
		AccessKey: "AKIDEXAMPLE", SecretKey: "secret", Expiration: time.Now().Add(time.Hour),
	})
	c := New(Config{
		ControlEndpoint: srv.URL,
		Region:          "us-east-1",
		Credentials:     creds,
		ClientID:        "fixed-client-id",
	})

	resp, err := c.PutMedia(context.Background(), srv.URL, "demo", 0, false, false, nil)
	if err != nil {
		t.Fatalf("PutMedia: %v", err)
	}
	defer resp.Body.Close()
	if gotClientID != "fixed-client-id" {
		t.Fatalf("expected configured client-id to be forwarded, got %q", gotClientID)
	}
}

func TestPutMediaMapsErrorStatus(t *testing.T) {
	c, srv := testCaller(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	defer srv.Close()

	_, err := c.PutMedia(context.Background(), srv.URL, "demo", 0, false, false, nil)
	if err == nil {
		t.Fatalf("expected error for 503 response")
	}
	kind, ok := kvserrors.Kind(err)
	if !ok || kind != kvserrors.ServiceCall5xx {
		t.Fatalf("expected ServiceCall5xx kind, got %v ok=%v", kind, ok)
	}
}
