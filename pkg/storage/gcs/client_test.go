package gcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/angelmondragon/catalog-media/pkg/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(context.Background(),
		config.GCSConfig{AssetsBucket: "assets", UploadsBucket: "uploads"},
		config.GCPConfig{},
		nil,
		option.WithEndpoint(srv.URL+"/storage/v1/"),
		option.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_, _ = fmt.Fprint(w, `{"error":{"code":404,"message":"No such object"}}`)
}

func TestDeleteObjectSuccess(t *testing.T) {
	var gotMethod, gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.Delete(context.Background(), "blobs/ab/abc/medium/1.jpg"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Fatalf("expected DELETE, got %s", gotMethod)
	}
	if !strings.Contains(gotPath, "/b/assets/o/") {
		t.Fatalf("unexpected path %s", gotPath)
	}
}

func TestDeleteObjectNotFoundIsNotAnError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		notFound(w)
	})
	if err := client.Delete(context.Background(), "blobs/missing.jpg"); err != nil {
		t.Fatalf("delete of a missing object should succeed, got %v", err)
	}
}

func TestExistsReportsMissingObject(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		notFound(w)
	})
	ok, err := client.Exists(context.Background(), "blobs/missing.jpg")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if ok {
		t.Fatal("expected missing object")
	}
}

func TestURLUsesPublicBase(t *testing.T) {
	c := &Client{publicBase: "https://cdn.example.com/catalog"}
	if got := c.URL("blobs/ab/a b.jpg"); got != "https://cdn.example.com/catalog/blobs/ab/a%20b.jpg" {
		t.Fatalf("unexpected url %s", got)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"not found", storage.ErrObjectNotExist, false},
		{"throttled", &googleapi.Error{Code: http.StatusTooManyRequests}, true},
		{"server", fmt.Errorf("put: %w", &googleapi.Error{Code: http.StatusBadGateway}), true},
		{"forbidden", &googleapi.Error{Code: http.StatusForbidden}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"other", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestNewClientRequiresBucket(t *testing.T) {
	if _, err := NewClient(context.Background(), config.GCSConfig{}, config.GCPConfig{}, nil); err == nil {
		t.Fatal("expected missing bucket error")
	}
}
