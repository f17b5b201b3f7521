package store

import (
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/notification"
)

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix string
		key    string
		want   string
	}{
		{"", "sessions/abc123", "sessions/abc123.json"},
		{"desklogin", "sessions/abc123", "desklogin/sessions/abc123.json"},
	}
	for _, tt := range tests {
		s := &ObjectStore{cfg: ObjectStoreConfig{Prefix: tt.prefix}}
		if got := s.objectKey(tt.key); got != tt.want {
			t.Errorf("objectKey(%q) with prefix %q = %q, want %q", tt.key, tt.prefix, got, tt.want)
		}
	}
}

func TestTouchesObject(t *testing.T) {
	event := func(key string) notification.Event {
		var e notification.Event
		e.S3.Object.Key = key
		return e
	}
	records := []notification.Event{event("sessions/other.json"), event("sessions/abc123.json")}
	if !touchesObject(records, "sessions/abc123.json") {
		t.Fatalf("expected a match for the watched object")
	}
	if touchesObject(records, "sessions/abc.json") {
		t.Fatalf("a different object must not match")
	}
	if touchesObject(nil, "sessions/abc123.json") {
		t.Fatalf("no records must not match")
	}
}

func TestIsObjectNotFound(t *testing.T) {
	if isObjectNotFound(nil) {
		t.Fatalf("nil is not a not-found error")
	}
	if !isObjectNotFound(minioError("NoSuchKey", 404)) {
		t.Fatalf("NoSuchKey should be treated as absent")
	}
	if isObjectNotFound(minioError("AccessDenied", 403)) {
		t.Fatalf("AccessDenied must not be treated as absent")
	}
}

func minioError(code string, status int) error {
	return minio.ErrorResponse{Code: code, StatusCode: status}
}
