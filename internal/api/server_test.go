package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/photolib/internal/events"
	"github.com/dharsanguruparan/photolib/internal/pipeline"
	"github.com/dharsanguruparan/photolib/internal/repository"
	"github.com/dharsanguruparan/photolib/internal/router"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (m *memObjects) Upload(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memObjects) Bucket() string { return "photos" }

type sink struct {
	mu   sync.Mutex
	envs []router.Envelope
	err  error
}

func (s *sink) Deliver(_ context.Context, env router.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.envs = append(s.envs, env)
	return nil
}

type harness struct {
	srv     *httptest.Server
	store   *repository.MemoryStore
	objects *memObjects
	meta    *sink
	status  *sink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   repository.NewMemoryStore(),
		objects: &memObjects{objects: map[string][]byte{}, types: map[string]string{}},
		meta:    &sink{},
		status:  &sink{},
	}
	review, err := pipeline.NewReviewRouter("photo-review", h.meta, h.status)
	if err != nil {
		t.Fatalf("review router: %v", err)
	}
	s := New(Options{Address: ":0", MaxFileSize: 1024}, h.store, h.objects, review, zerolog.Nop())
	h.srv = httptest.NewServer(s.Routes())
	t.Cleanup(h.srv.Close)
	return h
}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Get(h.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestUploadStoresObject(t *testing.T) {
	h := newHarness(t)
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)
	body, ctype := multipartBody(t, "holiday/cat.png", png)
	resp, err := http.Post(h.srv.URL+"/photos", ctype, body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["id"] != "cat.png" || out["bucket"] != "photos" {
		t.Fatalf("unexpected response %v", out)
	}
	if got := h.objects.types["cat.png"]; got != "image/png" {
		t.Fatalf("content type = %q", got)
	}
}

func TestUploadLimits(t *testing.T) {
	h := newHarness(t)
	body, ctype := multipartBody(t, "big.jpg", bytes.Repeat([]byte("x"), 2048))
	resp, err := http.Post(h.srv.URL+"/photos", ctype, body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("oversized upload status = %d", resp.StatusCode)
	}

	body, ctype = multipartBody(t, "empty.jpg", nil)
	resp, err = http.Post(h.srv.URL+"/photos", ctype, body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty upload status = %d", resp.StatusCode)
	}
}

func TestGetPhoto(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.store.Upsert(ctx, "trip/photo1.jpg"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	resp, err := http.Get(h.srv.URL + "/photos/trip/photo1.jpg")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["id"] != "trip/photo1.jpg" || out["status"] != "Unset" {
		t.Fatalf("unexpected record %v", out)
	}

	missing, err := http.Get(h.srv.URL + "/photos/nope.jpg")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing status = %d", missing.StatusCode)
	}
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestPublishMessages(t *testing.T) {
	h := newHarness(t)
	resp := postJSON(t, h.srv.URL+"/messages/metadata", `{"id":"photo1","field":"caption","value":"Sunset"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("metadata status = %d", resp.StatusCode)
	}
	resp = postJSON(t, h.srv.URL+"/messages/status", `{"id":"photo1","decision":"Reject","reason":"Blurry"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status status = %d", resp.StatusCode)
	}
	if len(h.meta.envs) != 1 || len(h.status.envs) != 1 {
		t.Fatalf("routing wrong: meta=%d status=%d", len(h.meta.envs), len(h.status.envs))
	}
	if h.meta.envs[0].Attributes[events.AttrMetadataType] != "Caption" {
		t.Fatalf("metadata attributes = %v", h.meta.envs[0].Attributes)
	}

	for _, body := range []string{
		`{"id":"photo1","field":"iso","value":"100"}`,
		`{"id":"photo1","field":"caption","value":"x","extra":1}`,
		`not json`,
	} {
		if resp := postJSON(t, h.srv.URL+"/messages/metadata", body); resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d", body, resp.StatusCode)
		}
	}
	if resp := postJSON(t, h.srv.URL+"/messages/status", `{"id":"photo1","decision":"Maybe"}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad decision status = %d", resp.StatusCode)
	}
}

func TestPublishDeliveryFailure(t *testing.T) {
	h := newHarness(t)
	h.status.err = errors.New("queue down")
	resp := postJSON(t, h.srv.URL+"/messages/status", `{"id":"photo1","decision":"Pass"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
