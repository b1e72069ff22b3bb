package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"arena/internal/common/storage"
)

// fakeS3 answers the bucket calls made while opening source storage.
func fakeS3(t *testing.T, headStatus int, created *atomic.Int32) storage.MinIOConfig {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Query().Has("location"):
			w.Header().Set("Content-Type", "application/xml")
			_, _ = w.Write([]byte(`<LocationConstraint xmlns="http://s3.amazonaws.com/doc/2006-03-01/"></LocationConstraint>`))
		case r.Method == http.MethodHead:
			w.WriteHeader(headStatus)
		case r.Method == http.MethodPut && strings.Trim(r.URL.Path, "/") == "contest-sources":
			created.Add(1)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotImplemented)
		}
	}))
	t.Cleanup(srv.Close)
	return storage.MinIOConfig{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "minio",
		SecretKey: "minio-secret",
	}
}

func TestOpenSourceStorageCreatesMissingBucket(t *testing.T) {
	var created atomic.Int32
	cfg := fakeS3(t, http.StatusNotFound, &created)

	if _, err := openSourceStorage(context.Background(), cfg, "contest-sources"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if created.Load() != 1 {
		t.Fatalf("bucket created %d times, want 1", created.Load())
	}
}

func TestOpenSourceStorageKeepsExistingBucket(t *testing.T) {
	var created atomic.Int32
	cfg := fakeS3(t, http.StatusOK, &created)

	if _, err := openSourceStorage(context.Background(), cfg, "contest-sources"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if created.Load() != 0 {
		t.Fatalf("existing bucket recreated")
	}
}

func TestOpenSourceStorageFailsWhenBucketUnreachable(t *testing.T) {
	var created atomic.Int32
	cfg := fakeS3(t, http.StatusForbidden, &created)

	_, err := openSourceStorage(context.Background(), cfg, "contest-sources")
	if err == nil || !strings.Contains(err.Error(), "contest-sources") {
		t.Fatalf("err = %v, want bucket failure", err)
	}
	if created.Load() != 0 {
		t.Fatalf("bucket created despite failed lookup")
	}
}
