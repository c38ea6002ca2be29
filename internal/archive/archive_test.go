package archive

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func TestDisabled(t *testing.T) {
	var store Store = Disabled{}

	if store.Enabled() {
		t.Error("Disabled.Enabled() = true")
	}
	if store.Bucket() != "" {
		t.Errorf("Disabled.Bucket() = %q, want empty", store.Bucket())
	}
	if err := store.Put(context.Background(), "k", strings.NewReader("x"), 1, ""); !errors.Is(err, ErrDisabled) {
		t.Errorf("Disabled.Put() error = %v, want ErrDisabled", err)
	}
	if _, err := store.PresignGet(context.Background(), "k", time.Minute); !errors.Is(err, ErrDisabled) {
		t.Errorf("Disabled.PresignGet() error = %v, want ErrDisabled", err)
	}
}

func TestMinioStore_PresignGet(t *testing.T) {
	client, err := minio.New("archive.internal:9000", &minio.Options{
		Creds:  credentials.NewStaticV4("test-access", "test-secret", ""),
		Secure: false,
		Region: "us-east-1",
	})
	if err != nil {
		t.Fatalf("minio.New() error = %v", err)
	}
	store := &MinioStore{client: client, bucket: "poise-videos"}

	u, err := store.PresignGet(context.Background(), "owner-1/job-1/interview.mp4", 15*time.Minute)
	if err != nil {
		t.Fatalf("PresignGet() error = %v", err)
	}

	if !strings.Contains(u, "poise-videos") {
		t.Errorf("presigned URL %q missing bucket", u)
	}
	if !strings.Contains(u, "interview.mp4") {
		t.Errorf("presigned URL %q missing object key", u)
	}
	if !strings.Contains(u, "X-Amz-Signature=") {
		t.Errorf("presigned URL %q is not signed", u)
	}
	if !strings.Contains(u, "X-Amz-Expires=900") {
		t.Errorf("presigned URL %q missing 15m expiry", u)
	}
}
