package s3

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const metaHeaderPrefix = "X-Amz-Meta-"

// NewMockForTests returns a Store whose client talks to an in-process fake of
// the object operations Store uses: PUT (with If-None-Match), GET, HEAD,
// DELETE and ListObjectsV2, user metadata included.
func NewMockForTests() *Store {
	fake := &mockS3{objects: make(map[string]mockObject)}
	awsCfg := aws.Config{
		Region:      defaultRegion,
		Credentials: credentials.NewStaticCredentialsProvider("AKIA", "SECRET", ""),
		HTTPClient:  &http.Client{Transport: fake},
	}
	return newStore(awsCfg, "mock-bucket", func(o *s3.Options) {
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
}

type mockObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
	etag        string
	modified    time.Time
}

type mockS3 struct {
	mu      sync.Mutex
	objects map[string]mockObject
}

func (m *mockS3) RoundTrip(req *http.Request) (*http.Response, error) {
	// path style: /<bucket>/<key>
	_, key, _ := strings.Cut(strings.TrimPrefix(req.URL.Path, "/"), "/")
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case req.Method == http.MethodGet && req.URL.Query().Has("list-type"):
		return m.list(req)
	case req.Method == http.MethodHead, req.Method == http.MethodGet:
		return m.get(req, key)
	case req.Method == http.MethodPut:
		return m.put(req, key)
	case req.Method == http.MethodDelete:
		delete(m.objects, key)
		return respond(req, http.StatusNoContent, nil, nil)
	}
	return errorResponse(req, http.StatusNotImplemented, "NotImplemented")
}

func (m *mockS3) get(req *http.Request, key string) (*http.Response, error) {
	obj, ok := m.objects[key]
	if !ok {
		if req.Method == http.MethodHead {
			return respond(req, http.StatusNotFound, nil, nil)
		}
		return errorResponse(req, http.StatusNotFound, "NoSuchKey")
	}
	h := http.Header{}
	h.Set("Content-Length", strconv.Itoa(len(obj.body)))
	h.Set("ETag", `"`+obj.etag+`"`)
	h.Set("Last-Modified", obj.modified.Format(http.TimeFormat))
	if obj.contentType != "" {
		h.Set("Content-Type", obj.contentType)
	}
	for k, v := range obj.metadata {
		h.Set(metaHeaderPrefix+k, v)
	}
	if req.Method == http.MethodHead {
		return respond(req, http.StatusOK, h, nil)
	}
	return respond(req, http.StatusOK, h, obj.body)
}

func (m *mockS3) put(req *http.Request, key string) (*http.Response, error) {
	if _, exists := m.objects[key]; exists && req.Header.Get("If-None-Match") == "*" {
		return errorResponse(req, http.StatusPreconditionFailed, "PreconditionFailed")
	}
	var body []byte
	var err error
	if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
		body, err = decodeAWSChunked(req.Body)
	} else {
		body, err = io.ReadAll(req.Body)
	}
	if err != nil {
		return errorResponse(req, http.StatusBadRequest, "IncompleteBody")
	}
	metadata := make(map[string]string)
	for name := range req.Header {
		if strings.HasPrefix(name, metaHeaderPrefix) {
			metadata[strings.ToLower(strings.TrimPrefix(name, metaHeaderPrefix))] = req.Header.Get(name)
		}
	}
	sum := sha256.Sum256(body)
	obj := mockObject{
		body:        body,
		contentType: req.Header.Get("Content-Type"),
		metadata:    metadata,
		etag:        hex.EncodeToString(sum[:16]),
		modified:    time.Now().UTC().Truncate(time.Second),
	}
	m.objects[key] = obj
	h := http.Header{}
	h.Set("ETag", `"`+obj.etag+`"`)
	return respond(req, http.StatusOK, h, nil)
}

type listBucketResult struct {
	XMLName     xml.Name    `xml:"ListBucketResult"`
	Name        string      `xml:"Name"`
	Prefix      string      `xml:"Prefix"`
	KeyCount    int         `xml:"KeyCount"`
	IsTruncated bool        `xml:"IsTruncated"`
	Contents    []listEntry `xml:"Contents"`
}

type listEntry struct {
	Key          string `xml:"Key"`
	Size         int    `xml:"Size"`
	ETag         string `xml:"ETag"`
	LastModified string `xml:"LastModified"`
}

func (m *mockS3) list(req *http.Request) (*http.Response, error) {
	prefix := req.URL.Query().Get("prefix")
	result := listBucketResult{Name: "mock-bucket", Prefix: prefix}
	for _, key := range slices.Sorted(maps.Keys(m.objects)) {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		obj := m.objects[key]
		result.Contents = append(result.Contents, listEntry{
			Key:          key,
			Size:         len(obj.body),
			ETag:         `"` + obj.etag + `"`,
			LastModified: obj.modified.Format(time.RFC3339),
		})
	}
	result.KeyCount = len(result.Contents)
	body, err := xml.Marshal(result)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Content-Type", "application/xml")
	return respond(req, http.StatusOK, h, append([]byte(xml.Header), body...))
}

// decodeAWSChunked strips aws-chunked framing: "<hex size>[;ext]\r\n<data>\r\n"
// repeated until a zero-size chunk, after which only trailers remain.
func decodeAWSChunked(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(r)
	var out bytes.Buffer
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		sizeField, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		size, err := strconv.ParseInt(sizeField, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("chunk size %q: %w", line, err)
		}
		if size == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, br, size); err != nil {
			return nil, err
		}
		if _, err := br.Discard(2); err != nil {
			return nil, err
		}
	}
}

func errorResponse(req *http.Request, status int, code string) (*http.Response, error) {
	body := fmt.Sprintf("%s<Error><Code>%s</Code><Message>%s</Message></Error>", xml.Header, code, code)
	h := http.Header{}
	h.Set("Content-Type", "application/xml")
	return respond(req, status, h, []byte(body))
}

func respond(req *http.Request, status int, h http.Header, body []byte) (*http.Response, error) {
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}, nil
}
