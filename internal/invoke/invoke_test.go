package invoke

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		json.NewEncoder(w).Encode(FetchPayload{
			StatusCode: 200,
			Body:       `{"bucket_name":"b","orders":{}}`,
		})
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, 5*time.Second)
	payload, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if payload.Body != `{"bucket_name":"b","orders":{}}` {
		t.Errorf("body = %q", payload.Body)
	}
}

func TestHTTPFetcher_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, 5*time.Second)
	_, err := f.Fetch(context.Background())
	if !errors.Is(err, ErrBadStatus) {
		t.Fatalf("err = %v, want ErrBadStatus", err)
	}
}

func TestHTTPFetcher_EnvelopeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(FetchPayload{StatusCode: 500, Body: "internal"})
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, 5*time.Second)
	_, err := f.Fetch(context.Background())
	if !errors.Is(err, ErrBadStatus) {
		t.Fatalf("err = %v, want ErrBadStatus", err)
	}
}

func TestHTTPFetcher_MalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, 5*time.Second)
	_, err := f.Fetch(context.Background())
	if !errors.Is(err, ErrBadPayload) {
		t.Fatalf("err = %v, want ErrBadPayload", err)
	}
}

func TestHTTPProcessor_Process(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ProcessRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.OrderID != "NYORDER1" {
			t.Errorf("order_id = %s", req.OrderID)
		}
		if req.BucketName != "raw-bucket" {
			t.Errorf("bucket_name = %s", req.BucketName)
		}
		json.NewEncoder(w).Encode(map[string]any{"saved": true})
	}))
	defer srv.Close()

	p := NewHTTPProcessor(srv.URL, 5*time.Second)
	out, err := p.Process(context.Background(), ProcessRequest{
		OrderID:    "NYORDER1",
		OrderData:  map[string]any{"title": "Executive Order 1"},
		BucketName: "raw-bucket",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out["saved"] != true {
		t.Errorf("output = %v", out)
	}
}

func TestHTTPProcessor_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewHTTPProcessor(srv.URL, 5*time.Second)
	if _, err := p.Process(ctx, ProcessRequest{OrderID: "X"}); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
