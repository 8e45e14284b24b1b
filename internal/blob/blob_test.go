package blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/legiscrape/internal/model"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "records", "ma/193rd/H 1/bill_1.json", []byte(`{"a":1}`), "application/json"))
	require.NoError(t, s.Put(ctx, "records", "ma/193rd/H 2/bill_2.json", []byte(`{"a":2}`), "application/json"))
	require.NoError(t, s.Put(ctx, "records", "ny/2024/S 1/bill_3.json", []byte(`{"a":3}`), "application/json"))

	data, err := s.Get(ctx, "records", "ma/193rd/H 1/bill_1.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))

	keys, err := s.List(ctx, "records", "ma/")
	require.NoError(t, err)
	assert.Equal(t, []string{"ma/193rd/H 1/bill_1.json", "ma/193rd/H 2/bill_2.json"}, keys)

	_, err = s.Get(ctx, "records", "missing.json")
	assert.ErrorIs(t, err, ErrNotFound)

	// overwrite replaces
	require.NoError(t, s.Put(ctx, "records", "ma/193rd/H 1/bill_1.json", []byte(`{"a":9}`), "application/json"))
	data, err = s.Get(ctx, "records", "ma/193rd/H 1/bill_1.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":9}`, string(data))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s)
	assert.Equal(t, "application/json", s.ContentType("records", "ma/193rd/H 2/bill_2.json"))
}

func TestFSStore(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestFSStore_RejectsTraversal(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	assert.Error(t, s.Put(ctx, "records", "../escape.json", nil, ""))
	assert.Error(t, s.Put(ctx, "records", "/abs.json", nil, ""))
	assert.Error(t, s.Put(ctx, "../records", "a.json", nil, ""))
	assert.Error(t, s.Put(ctx, "records", " ", nil, ""))
}

func TestFSStore_ListEmptyBucket(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	keys, err := s.List(context.Background(), "nothing", "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, model.BlobConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, s.Driver())

	s, err = Open(ctx, model.BlobConfig{Driver: "fs", Root: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, DriverFilesystem, s.Driver())

	_, err = Open(ctx, model.BlobConfig{Driver: "ftp"})
	assert.Error(t, err)
}

// fakeS3 is a path-style object server
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[path] = string(body)
		w.Header().Set("ETag", `"etag"`)
	case http.MethodGet:
		body, ok := f.objects[path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		_, _ = io.WriteString(w, body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3Store_PutGet(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{}}
	server := httptest.NewServer(fake)
	defer server.Close()

	s, err := NewS3Store(context.Background(), model.BlobConfig{
		Region:          "us-east-1",
		Endpoint:        server.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)
	assert.Equal(t, DriverS3, s.Driver())

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "records", "ma/bill_1.json", []byte(`{"a":1}`), "application/json"))
	assert.Equal(t, `{"a":1}`, fake.objects["records/ma/bill_1.json"])

	data, err := s.Get(ctx, "records", "ma/bill_1.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	_, err = s.Get(ctx, "records", "ma/missing.json")
	assert.ErrorIs(t, err, ErrNotFound)
}
