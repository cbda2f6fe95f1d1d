package blobstore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brainzlab/vision/internal/domain"
)

func TestPutSendsBearerTokenAndReturnsURL(t *testing.T) {
	var gotAuth, gotMethod, gotPath, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"key":"snapshots/a.png","url":"https://blobs.test/signed/a.png"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Token: "svc-token"})
	url, err := c.Put(context.Background(), "snapshots/a.png", []byte("pngbytes"), "image/png")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if url != "https://blobs.test/signed/a.png" {
		t.Fatalf("expected the store's pre-signed URL to be returned, got %q", url)
	}
	if gotAuth != "Bearer svc-token" {
		t.Fatalf("expected Authorization header to carry the service token, got %q", gotAuth)
	}
	if gotMethod != http.MethodPut {
		t.Fatalf("expected PUT, got %s", gotMethod)
	}
	if gotPath != "/objects/snapshots/a.png" {
		t.Fatalf("expected /objects/<key> path, got %q", gotPath)
	}
	if gotContentType != "image/png" {
		t.Fatalf("expected content-type to be forwarded, got %q", gotContentType)
	}
}

func TestGetMapsNotFoundToDomainError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.Get(context.Background(), "missing.png")
	if err == nil {
		t.Fatalf("expected an error for a missing key")
	}
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind != domain.KindNotFound {
		t.Fatalf("expected a domain.KindNotFound error, got %v", err)
	}
}

func TestGetMapsServerErrorToUpstreamUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.Get(context.Background(), "broken.png")
	if err == nil {
		t.Fatalf("expected an error for a 500 response")
	}
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind != domain.KindUpstreamUnavailable {
		t.Fatalf("expected a domain.KindUpstreamUnavailable error, got %v", err)
	}
}

func TestGetReturnsBodyOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("raw-bytes"))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	data, err := c.Get(context.Background(), "ok.png")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "raw-bytes" {
		t.Fatalf("expected body bytes to round-trip, got %q", data)
	}
}

func TestDeleteToleratesAlreadyGone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	if err := c.Delete(context.Background(), "already-gone.png"); err != nil {
		t.Fatalf("expected Delete to tolerate a 404, got %v", err)
	}
}

func TestDeleteFailsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	if err := c.Delete(context.Background(), "x.png"); err == nil {
		t.Fatalf("expected Delete to propagate a 5xx as an error")
	}
}
