package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/svdb"
	"github.com/wolfeidau/svdb/backend"
	"github.com/wolfeidau/svdb/store"
)

type testServer struct {
	*httptest.Server
	mem    *backend.Memory
	engine *store.Engine
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	mem := backend.NewMemory()
	engine := store.New(mem, store.WithLogger(logger))

	cfg.Logger = logger
	s, err := New(engine, cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return &testServer{Server: ts, mem: mem, engine: engine}
}

func (ts *testServer) do(t *testing.T, method, path string, body []byte, headers ...string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, ts.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestNewRequiresEngine(t *testing.T) {
	_, err := New(nil, Config{})
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestRequestIDIsPropagated(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := ts.do(t, http.MethodGet, "/health", nil, "X-Request-ID", "req-123")
	require.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))
}

func TestStoreAndRetrieve(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := ts.do(t, http.MethodPost, "/objects", []byte("Hello, SVDB!"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	stored := decode[StoreResponse](t, resp)
	require.Equal(t, svdb.HashBytes([]byte("Hello, SVDB!")), stored.Hash)
	require.Equal(t, "blake3", stored.Algorithm)
	require.Equal(t, 12, stored.Size)
	require.False(t, stored.Chunked)
	require.Equal(t, "/objects/"+string(stored.Hash), resp.Header.Get("Location"))

	resp = ts.do(t, http.MethodGet, "/objects/"+string(stored.Hash), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
	require.Equal(t, "hit", resp.Header.Get("X-Cache"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, []byte("Hello, SVDB!"), body)
}

func TestStoreChunkedWithAlgorithm(t *testing.T) {
	ts := newTestServer(t, Config{})
	data := bytes.Repeat([]byte{0x01}, 5000)

	resp := ts.do(t, http.MethodPost, "/objects?algorithm=keccak256&chunk_size=1024", data)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	stored := decode[StoreResponse](t, resp)
	require.True(t, stored.Chunked)
	require.Equal(t, "keccak256", stored.Algorithm)

	// chunked writes do not populate the cache
	resp = ts.do(t, http.MethodGet, "/objects/"+string(stored.Hash), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "miss", resp.Header.Get("X-Cache"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, data, body)

	resp = ts.do(t, http.MethodGet, "/objects/"+string(stored.Hash)+"/stat", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decode[store.ObjectInfo](t, resp)
	require.Equal(t, store.KindChunked, info.Kind)
	require.EqualValues(t, 5000, info.Size)
	require.Len(t, info.Metadata.Chunks, 5)
	require.Equal(t, svdb.Keccak256, info.Metadata.Algorithm)
}

func TestRetrieveHead(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := ts.do(t, http.MethodPost, "/objects", []byte("head me"))
	stored := decode[StoreResponse](t, resp)

	resp = ts.do(t, http.MethodHead, "/objects/"+string(stored.Hash), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 7, resp.ContentLength)
}

func TestStoreErrors(t *testing.T) {
	ts := newTestServer(t, Config{MaxBodySize: 16})

	tests := []struct {
		name   string
		path   string
		body   []byte
		status int
	}{
		{"unknown algorithm", "/objects?algorithm=md5", []byte("x"), http.StatusBadRequest},
		{"bad chunk size", "/objects?chunk_size=big", []byte("x"), http.StatusBadRequest},
		{"negative chunk size", "/objects?chunk_size=-1", []byte("x"), http.StatusBadRequest},
		{"body too large", "/objects", bytes.Repeat([]byte("x"), 17), http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.status, resp.StatusCode)
			body := decode[map[string]string](t, resp)
			require.NotEmpty(t, body["error"])
		})
	}
	require.Zero(t, ts.mem.Len())
}

func TestRetrieveNotFound(t *testing.T) {
	ts := newTestServer(t, Config{})
	missing := string(svdb.HashBytes([]byte("missing")))

	for _, path := range []string{"/objects/" + missing, "/objects/" + missing + "/stat", "/objects/" + missing + "/verify"} {
		resp := ts.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestRetrieveMissingChunkIsConflict(t *testing.T) {
	ts := newTestServer(t, Config{})
	ctx := context.Background()

	d, err := ts.engine.StoreWithOptions(ctx, bytes.Repeat([]byte{0x02}, 4096), svdb.Blake3, 1024)
	require.NoError(t, err)
	require.NoError(t, ts.mem.Delete(ctx, svdb.ChunkKey(d, 1)))

	resp := ts.do(t, http.MethodGet, "/objects/"+string(d), nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/objects/"+string(d)+"/verify", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[store.VerifyResult](t, resp)
	require.False(t, res.Valid)
	require.Equal(t, []int{1}, res.MissingChunks)
}

func TestVerify(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := ts.do(t, http.MethodPost, "/objects?algorithm=blake2b", []byte("verify me"))
	stored := decode[StoreResponse](t, resp)
	require.Len(t, stored.Hash, 128)

	resp = ts.do(t, http.MethodGet, "/objects/"+string(stored.Hash)+"/verify", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[store.VerifyResult](t, resp)
	require.True(t, res.Valid)
	require.Equal(t, "blake2b", res.Algorithm)
}

func TestList(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := ts.do(t, http.MethodGet, "/objects", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	empty := decode[ListResponse](t, resp)
	require.NotNil(t, empty.Objects)
	require.Zero(t, empty.Count)

	for _, s := range []string{"a", "b", "c"} {
		resp = ts.do(t, http.MethodPost, "/objects", []byte(s))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp = ts.do(t, http.MethodGet, "/objects", nil)
	list := decode[ListResponse](t, resp)
	require.Equal(t, 3, list.Count)
	require.True(t, slices.IsSorted(list.Objects))
}

func TestHash(t *testing.T) {
	ts := newTestServer(t, Config{})

	for _, alg := range svdb.Algorithms() {
		resp := ts.do(t, http.MethodPost, "/hash?algorithm="+alg.String(), []byte("hash only"))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got := decode[HashResponse](t, resp)
		require.Equal(t, svdb.Sum(alg, []byte("hash only")), got.Hash)
		require.Equal(t, alg.String(), got.Algorithm)
	}
	require.Zero(t, ts.mem.Len(), "hashing must not store")

	resp := ts.do(t, http.MethodPost, "/hash?algorithm=sha1", []byte("x"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthEndToEnd(t *testing.T) {
	ts := newTestServer(t, Config{AuthToken: "secret"})

	resp := ts.do(t, http.MethodPost, "/objects", []byte("x"))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/objects", []byte("x"), "X-API-Key", "secret")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/objects", nil, "Authorization", "Bearer secret")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{&svdb.NotFoundError{Digest: "x"}, http.StatusNotFound},
		{&svdb.InvalidAlgorithmError{Token: "md5"}, http.StatusBadRequest},
		{&badRequestError{msg: "bad"}, http.StatusBadRequest},
		{&svdb.MissingChunkError{Digest: "x", Index: 3}, http.StatusConflict},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{svdb.DBError("reading object", io.ErrUnexpectedEOF), http.StatusInternalServerError},
		{svdb.SerializationError(io.ErrUnexpectedEOF), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			require.Equal(t, tt.status, statusFor(tt.err))
		})
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	err := svdb.DBError("reading object", io.ErrUnexpectedEOF)
	require.Equal(t, "internal error", errorMessage(err))
	require.Equal(t, "request body too large", errorMessage(&http.MaxBytesError{Limit: 1}))
}
