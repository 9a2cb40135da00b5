package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"docrepo/internal/blob/core"
)

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
}

func TestNewWithStaticCredentials(t *testing.T) {
	s, err := New(context.Background(), Config{Bucket: "b", AccessKeyID: "AKIA", SecretAccessKey: "secret", Endpoint: "http://localhost:9000", PathStyle: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Bucket() != "b" || s.Driver() != core.DriverS3 {
		t.Fatalf("unexpected store %+v", s)
	}
	creds, err := s.client.Options().Credentials.Retrieve(context.Background())
	if err != nil || creds.AccessKeyID != "AKIA" {
		t.Fatalf("expected static credentials, got %+v (%v)", creds, err)
	}
	if !s.client.Options().UsePathStyle {
		t.Fatalf("expected path style addressing")
	}
}

func TestMockStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMockForTests()
	if _, err := s.Head(ctx, "archives/a"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	md := map[string]string{"table": "widget", "rows": "3"}
	info, err := s.Put(ctx, "archives/a", strings.NewReader("hello"), core.PutOptions{ContentType: "application/zstd", Metadata: md})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if info.Size != 5 || info.ContentType != "application/zstd" || info.Metadata["table"] != "widget" || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "archives/a", strings.NewReader("again"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	_, rc, err := s.Get(ctx, "archives/a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "hello" {
		t.Fatalf("unexpected body %q", body)
	}
	if _, _, err := s.Get(ctx, "archives/missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, _ = s.Put(ctx, "archives/b", strings.NewReader("b"), core.PutOptions{})
	list, err := s.List(ctx, "archives/")
	if err != nil || len(list) != 2 || list[0].Key != "archives/a" {
		t.Fatalf("unexpected list %+v (%v)", list, err)
	}
	if list[0].Metadata["rows"] != "3" || list[0].ContentType != "application/zstd" || list[0].Size != 5 {
		t.Fatalf("list did not carry head metadata: %+v", list[0])
	}
	if ok, err := s.Delete(ctx, "archives/a"); !ok || err != nil {
		t.Fatalf("Delete: ok=%v err=%v", ok, err)
	}
	if ok, err := s.Delete(ctx, "archives/a"); ok || err != nil {
		t.Fatalf("second Delete: ok=%v err=%v", ok, err)
	}
}

func TestMockStoreRejectsInvalidKeys(t *testing.T) {
	ctx := context.Background()
	s := NewMockForTests()
	if _, err := s.Put(ctx, "a//b", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := s.Delete(ctx, "../x"); !errors.Is(err, core.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestDecodeAWSChunked(t *testing.T) {
	payload := []byte("line\r\nwith crlf\x00")
	framed := "5;chunk-signature=abc\r\n" + string(payload[:5]) + "\r\n" +
		"b\r\n" + string(payload[5:]) + "\r\n" +
		"0\r\nx-amz-checksum-crc32:AAAAAA==\r\n\r\n"
	got, err := decodeAWSChunked(strings.NewReader(framed))
	if err != nil {
		t.Fatalf("decodeAWSChunked: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("decoded %q want %q", got, payload)
	}
	if _, err := decodeAWSChunked(strings.NewReader("zz\r\n")); err == nil {
		t.Fatalf("expected size error")
	}
	if _, err := decodeAWSChunked(strings.NewReader("10\r\nshort")); err == nil {
		t.Fatalf("expected truncated chunk error")
	}
}
