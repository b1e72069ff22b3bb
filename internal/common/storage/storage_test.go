package storage_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"arena/internal/common/storage"
)

func TestMemoryStorage(t *testing.T) {
	s := storage.NewMemoryStorage()
	ctx := context.Background()

	if err := s.PutObject(ctx, "src", "a/b.py", strings.NewReader("print(1)"), 8, "text/x-python"); err != nil {
		t.Fatalf("put: %v", err)
	}
	r, err := s.GetObject(ctx, "src", "a/b.py")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(r)
	_ = r.Close()
	if string(data) != "print(1)" {
		t.Fatalf("data = %q", data)
	}

	if err := s.RemoveObjects(ctx, "src", []string{"a/b.py", "missing"}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := s.GetObject(ctx, "src", "a/b.py"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("get after remove: %v", err)
	}
}

func TestNewMinIOStorageValidation(t *testing.T) {
	cases := []storage.MinIOConfig{
		{},
		{Endpoint: "localhost:9000"},
		{Endpoint: "localhost:9000", AccessKey: "ak"},
	}
	for _, cfg := range cases {
		if _, err := storage.NewMinIOStorage(cfg); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
	if _, err := storage.NewMinIOStorage(storage.MinIOConfig{Endpoint: "localhost:9000", AccessKey: "ak", SecretKey: "sk"}); err != nil {
		t.Fatalf("valid config: %v", err)
	}
}
