package media

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPNG = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

// fakeStore mimics the upload/destroy endpoints of the media store.
type fakeStore struct {
	t *testing.T

	mu       sync.Mutex
	assets   map[string]string // public id -> resource type
	created  int
	calls    int
	failures []int
	forms    []map[string]string
	upload   func(publicID string) (int, any)
	// stored runs outside the lock after an upload has been kept. Returning
	// false means it has dealt with the connection itself.
	stored func(call int, w http.ResponseWriter) bool
}

type storeReply struct {
	status int
	body   any
	call   int
	stored bool
}

func newFakeStore(t *testing.T) (*fakeStore, *httptest.Server) {
	store := &fakeStore{t: t, assets: map[string]string{}}
	server := httptest.NewServer(store)
	t.Cleanup(server.Close)
	return store, server
}

var destroyPath = regexp.MustCompile(`/demo/(image|video|raw)/destroy$`)

func (s *fakeStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reply := s.handle(r)
	if reply.stored && s.stored != nil && !s.stored(reply.call, w) {
		return
	}
	if reply.body == nil {
		w.WriteHeader(reply.status)
		return
	}
	writeStoreJSON(w, reply.status, reply.body)
}

func (s *fakeStore) handle(r *http.Request) storeReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		err = r.ParseMultipartForm(32 << 20)
	} else {
		err = r.ParseForm()
	}
	if !assert.NoError(s.t, err) {
		return storeReply{status: http.StatusBadRequest}
	}
	form := map[string]string{}
	for key, values := range r.Form {
		form[key] = values[0]
	}
	if r.MultipartForm != nil && len(r.MultipartForm.File["file"]) > 0 {
		form["file"] = "<binary:" + r.MultipartForm.File["file"][0].Filename + ">"
	}
	s.forms = append(s.forms, form)

	if len(s.failures) > 0 {
		status := s.failures[0]
		s.failures = s.failures[1:]
		return storeReply{status: status, body: map[string]any{"error": map[string]string{"message": "simulated failure"}}}
	}

	expected := sign(form, "secret")
	if form["signature"] != expected || form["api_key"] != "key" {
		return storeReply{status: http.StatusUnauthorized, body: map[string]any{"error": map[string]string{"message": "Invalid Signature"}}}
	}

	if strings.HasSuffix(r.URL.Path, "/demo/auto/upload") {
		name := form["public_id"]
		if name == "" {
			name = "asset" + strconv.Itoa(s.calls)
		}
		publicID := form["folder"] + "/" + name
		if _, exists := s.assets[publicID]; exists && form["overwrite"] != "true" {
			return storeReply{status: http.StatusConflict, body: map[string]any{"error": map[string]string{"message": "already exists"}}}
		}
		resourceType, ext := ResourceImage, "png"
		if strings.HasPrefix(form["file"], "data:video/") {
			resourceType, ext = ResourceVideo, "mp4"
		}
		s.assets[publicID] = resourceType
		s.created++
		reply := storeReply{status: http.StatusOK, call: s.calls, stored: true}
		if s.upload != nil {
			reply.status, reply.body = s.upload(publicID)
			return reply
		}
		reply.body = map[string]any{
			"secure_url":    "https://res.example.com/demo/" + resourceType + "/upload/v1712345678/" + publicID + "." + ext,
			"public_id":     publicID,
			"resource_type": resourceType,
			"format":        ext,
			"bytes":         68,
		}
		return reply
	}

	if match := destroyPath.FindStringSubmatch(r.URL.Path); match != nil {
		publicID := form["public_id"]
		if s.assets[publicID] != match[1] {
			return storeReply{status: http.StatusOK, body: map[string]string{"result": "not found"}}
		}
		delete(s.assets, publicID)
		return storeReply{status: http.StatusOK, body: map[string]string{"result": "ok"}}
	}
	return storeReply{status: http.StatusNotFound}
}

func (s *fakeStore) assetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.assets)
}

func (s *fakeStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func writeStoreJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestClient(t *testing.T, baseURL string, opts ...ClientOption) *Client {
	t.Helper()
	opts = append([]ClientOption{
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	}, opts...)
	client, err := NewClient(Config{
		CloudName:      "demo",
		APIKey:         "key",
		APISecret:      "secret",
		BaseURL:        baseURL,
		AllowedFormats: []string{"png", "jpg"},
		MaxUploadBytes: 1024,
		Timeout:        5 * time.Second,
		RetryAttempts:  3,
	}, opts...)
	require.NoError(t, err)
	return client
}

func TestUploadDataURI(t *testing.T) {
	store, server := newFakeStore(t)
	client := newTestClient(t, server.URL)

	ref, err := client.Upload(context.Background(), UploadRequest{
		Payload: DataURIPayload(testPNG),
		Folder:  "badge-templates",
	})
	require.NoError(t, err)
	assert.Equal(t, "badge-templates", ref.Folder)
	assert.True(t, strings.HasPrefix(ref.PublicID, "badge-templates/"))
	assert.Equal(t, ResourceImage, ref.ResourceType)

	derived, ok := ExtractPublicID(ref.SecureURL)
	require.True(t, ok)
	assert.Equal(t, derived, ref.PublicID)

	require.Len(t, store.forms, 1)
	form := store.forms[0]
	assert.Equal(t, testPNG, form["file"])
	assert.Equal(t, "png,jpg", form["allowed_formats"])
	assert.Equal(t, "q_auto,f_auto", form["transformation"])
	assert.Equal(t, "badge-templates", form["folder"])
	assert.Equal(t, "true", form["overwrite"])
	assert.Equal(t, ref.PublicID, "badge-templates/"+form["public_id"])
}

func TestUploadBinary(t *testing.T) {
	store, server := newFakeStore(t)
	client := newTestClient(t, server.URL)

	_, err := client.Upload(context.Background(), UploadRequest{
		Payload:        BinaryPayload([]byte("\x89PNG fake"), "badge.png"),
		Folder:         "uploads",
		AllowedFormats: []string{"png"},
	})
	require.NoError(t, err)
	assert.Equal(t, "<binary:badge.png>", store.forms[0]["file"])
	assert.Equal(t, "png", store.forms[0]["allowed_formats"])
}

func TestUploadFailsFastWithoutNetwork(t *testing.T) {
	store, server := newFakeStore(t)
	client := newTestClient(t, server.URL)

	tests := []struct {
		name   string
		req    UploadRequest
		expect error
	}{
		{"empty_payload", UploadRequest{Payload: DataURIPayload(""), Folder: "f"}, ErrEmptyPayload},
		{"not_a_data_uri", UploadRequest{Payload: DataURIPayload("hello"), Folder: "f"}, ErrValidation},
		{"too_large", UploadRequest{Payload: BinaryPayload(make([]byte, 2048), "big.png"), Folder: "f"}, ErrPayloadTooLarge},
		{"bad_folder", UploadRequest{Payload: DataURIPayload(testPNG), Folder: "../x"}, ErrInvalidFolder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Upload(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.expect)
		})
	}
	assert.Zero(t, store.callCount())
}

func TestUploadRetriesTransientFailures(t *testing.T) {
	store, server := newFakeStore(t)
	store.failures = []int{http.StatusServiceUnavailable, http.StatusBadGateway}
	client := newTestClient(t, server.URL)

	_, err := client.Upload(context.Background(), UploadRequest{Payload: DataURIPayload(testPNG), Folder: "f"})
	require.NoError(t, err)
	assert.Equal(t, 3, store.callCount())
}

func TestUploadGivesUpAfterRetryBudget(t *testing.T) {
	store, server := newFakeStore(t)
	store.failures = []int{500, 500, 500, 500}
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	client := newTestClient(t, server.URL, WithMetrics(metrics))

	_, err := client.Upload(context.Background(), UploadRequest{Payload: DataURIPayload(testPNG), Folder: "f"})
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusInternalServerError, upstream.StatusCode)
	assert.Equal(t, "simulated failure", upstream.Message)
	assert.Equal(t, 3, store.callCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.requests.WithLabelValues("upload", "upstream_error")))
}

func TestUploadDoesNotRetryRejections(t *testing.T) {
	store, server := newFakeStore(t)
	store.failures = []int{http.StatusBadRequest}
	client := newTestClient(t, server.URL)

	_, err := client.Upload(context.Background(), UploadRequest{Payload: DataURIPayload(testPNG), Folder: "f"})
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.False(t, upstream.Temporary())
	assert.Equal(t, 1, store.callCount())
}

func TestUploadHonorsCancellation(t *testing.T) {
	_, server := newFakeStore(t)
	client := newTestClient(t, server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Upload(ctx, UploadRequest{Payload: DataURIPayload(testPNG), Folder: "f"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUploadPrefersURLDerivedPublicID(t *testing.T) {
	store, server := newFakeStore(t)
	store.upload = func(publicID string) (int, any) {
		return http.StatusOK, map[string]any{
			"secure_url": "https://res.example.com/demo/image/upload/v7/" + publicID + ".png",
			"public_id":  "something-else",
		}
	}
	client := newTestClient(t, server.URL)

	ref, err := client.Upload(context.Background(), UploadRequest{Payload: DataURIPayload(testPNG), Folder: "f"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref.PublicID, "f/"))
	assert.NotEqual(t, "something-else", ref.PublicID)
}

func TestUploadCleansUpUnrecognizedURL(t *testing.T) {
	store, server := newFakeStore(t)
	store.upload = func(publicID string) (int, any) {
		return http.StatusOK, map[string]any{
			"secure_url": "https://cdn.example.com/" + publicID,
			"public_id":  publicID,
		}
	}
	client := newTestClient(t, server.URL)

	_, err := client.Upload(context.Background(), UploadRequest{Payload: DataURIPayload(testPNG), Folder: "f"})
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, 2, store.callCount())
	assert.Zero(t, store.assetCount(), "orphaned asset must be removed")
}

func TestUploadRetryAfterLostResponseReplacesSameAsset(t *testing.T) {
	store, server := newFakeStore(t)
	store.stored = func(call int, w http.ResponseWriter) bool {
		if call != 1 {
			return true
		}
		// the store kept the asset but the connection drops before the reply
		conn, _, err := w.(http.Hijacker).Hijack()
		if assert.NoError(t, err) {
			_ = conn.Close()
		}
		return false
	}
	client := newTestClient(t, server.URL)

	ref, err := client.Upload(context.Background(), UploadRequest{Payload: DataURIPayload(testPNG), Folder: "f"})
	require.NoError(t, err)

	assert.Equal(t, 2, store.callCount())
	assert.Equal(t, 2, store.created)
	assert.Equal(t, 1, store.assetCount())
	assert.Contains(t, store.assets, ref.PublicID)
	assert.Equal(t, store.forms[0]["public_id"], store.forms[1]["public_id"])
	assert.Equal(t, "true", store.forms[1]["overwrite"])
}

func TestUploadDeadlineCoversRetriesAndCleansUp(t *testing.T) {
	store, server := newFakeStore(t)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	store.stored = func(call int, w http.ResponseWriter) bool {
		if call == 1 {
			<-release
		}
		return true
	}

	client, err := NewClient(Config{
		CloudName:     "demo",
		APIKey:        "key",
		APISecret:     "secret",
		BaseURL:       server.URL,
		Timeout:       200 * time.Millisecond,
		RetryAttempts: 5,
	}, WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }))
	require.NoError(t, err)

	started := time.Now()
	_, err = client.Upload(context.Background(), UploadRequest{Payload: DataURIPayload(testPNG), Folder: "f"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 2*time.Second)

	// the timed out upload was stored; the client removes it by its known id
	assert.Zero(t, store.assetCount())
	assert.Equal(t, 2, store.callCount())
}

func TestDeleteByURLRemovesVideoAsset(t *testing.T) {
	store, server := newFakeStore(t)
	client := newTestClient(t, server.URL)

	ref, err := client.Upload(context.Background(), UploadRequest{
		Payload:        DataURIPayload("data:video/mp4;base64,AAAAIGZ0eXBpc29t"),
		Folder:         "teasers",
		AllowedFormats: []string{"mp4"},
	})
	require.NoError(t, err)
	assert.Equal(t, ResourceVideo, ref.ResourceType)

	outcome, err := DeleteByURL(context.Background(), client, ref.SecureURL)
	require.NoError(t, err)
	assert.True(t, outcome.Deleted)
	assert.Equal(t, ResourceVideo, outcome.ResourceType)
	assert.Zero(t, store.assetCount())
}

func TestDeleteResourceRejectsUnknownType(t *testing.T) {
	store, server := newFakeStore(t)
	client := newTestClient(t, server.URL)

	_, err := client.DeleteResource(context.Background(), "document", "f/a")
	assert.ErrorIs(t, err, ErrInvalidResourceType)
	assert.Zero(t, store.callCount())
}

func TestDeleteIsIdempotent(t *testing.T) {
	_, server := newFakeStore(t)
	client := newTestClient(t, server.URL)

	ref, err := client.Upload(context.Background(), UploadRequest{Payload: DataURIPayload(testPNG), Folder: "f"})
	require.NoError(t, err)

	first, err := client.Delete(context.Background(), ref.PublicID)
	require.NoError(t, err)
	assert.True(t, first.Deleted)

	second, err := client.Delete(context.Background(), ref.PublicID)
	require.NoError(t, err)
	assert.False(t, second.Deleted)
}

func TestDeleteRejectsEmptyPublicID(t *testing.T) {
	store, server := newFakeStore(t)
	client := newTestClient(t, server.URL)

	_, err := client.Delete(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyPublicID)
	assert.Zero(t, store.callCount())
}

func TestDeleteSurfacesUpstreamFailure(t *testing.T) {
	store, server := newFakeStore(t)
	store.failures = []int{http.StatusUnauthorized}
	client := newTestClient(t, server.URL)

	_, err := client.Delete(context.Background(), "f/a")
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusUnauthorized, upstream.StatusCode)
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(Config{CloudName: "demo"})
	assert.Error(t, err)
}
