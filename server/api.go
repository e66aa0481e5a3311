package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/wolfeidau/svdb"
	"github.com/wolfeidau/svdb/telemetry"
)

// StoreResponse is returned by POST /objects.
type StoreResponse struct {
	Hash      svdb.Digest `json:"hash"`
	Algorithm string      `json:"algorithm"`
	Size      int         `json:"size"`
	Chunked   bool        `json:"chunked"`
}

// HashResponse is returned by POST /hash.
type HashResponse struct {
	Hash      svdb.Digest `json:"hash"`
	Algorithm string      `json:"algorithm"`
}

// ListResponse is returned by GET /objects.
type ListResponse struct {
	Objects []svdb.Digest `json:"objects"`
	Count   int           `json:"count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// badRequestError reports an invalid request parameter.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "store")

	alg, err := algorithmParam(r)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	telemetry.SetAlgorithm(r, alg.String())

	chunkSize, err := chunkSizeParam(r)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	data, err := s.readBody(w, r)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	d, err := s.engine.StoreWithOptions(r.Context(), data, alg, chunkSize)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	w.Header().Set("Location", "/objects/"+string(d))
	writeJSON(w, http.StatusCreated, StoreResponse{
		Hash:      d,
		Algorithm: alg.String(),
		Size:      len(data),
		Chunked:   chunkSize > 0 && len(data) > chunkSize,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "list")

	digests, err := s.engine.List(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if digests == nil {
		digests = []svdb.Digest{}
	}

	writeJSON(w, http.StatusOK, ListResponse{Objects: digests, Count: len(digests)})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "retrieve")
	d := svdb.Digest(r.PathValue("digest"))

	data, err := s.engine.Retrieve(r.Context(), d)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("ETag", `"`+string(d)+`"`)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("X-Cache", string(telemetry.CacheResultFromContext(r.Context())))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(data)
}

func (s *Server) handleStat(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "stat")
	d := svdb.Digest(r.PathValue("digest"))

	info, err := s.engine.Stat(r.Context(), d)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if info.Metadata != nil {
		telemetry.SetAlgorithm(r, info.Metadata.Algorithm.String())
	}

	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "verify")
	d := svdb.Digest(r.PathValue("digest"))

	res, err := s.engine.Verify(r.Context(), d)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	telemetry.SetAlgorithm(r, res.Algorithm)

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHash(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "hash")

	alg, err := algorithmParam(r)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	telemetry.SetAlgorithm(r, alg.String())

	h := svdb.NewHasher(alg)
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodySize)
	if _, err := io.Copy(h, body); err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, HashResponse{Hash: h.Sum(), Algorithm: alg.String()})
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodySize)
	return io.ReadAll(body)
}

// algorithmParam reads the optional algorithm query parameter.
func algorithmParam(r *http.Request) (svdb.Algorithm, error) {
	token := r.URL.Query().Get("algorithm")
	if token == "" {
		return svdb.DefaultAlgorithm, nil
	}
	return svdb.ParseAlgorithm(token)
}

// chunkSizeParam reads the optional chunk_size query parameter. Zero means
// store as a simple object.
func chunkSizeParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("chunk_size")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &badRequestError{msg: "chunk_size must be a non-negative integer"}
	}
	return n, nil
}

// writeEngineError maps an error to a status code and writes it as JSON.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, errorMessage(err))
}

func statusFor(err error) int {
	var (
		maxBytes   *http.MaxBytesError
		badRequest *badRequestError
	)
	switch {
	case errors.Is(err, svdb.ErrHashNotFound):
		return http.StatusNotFound
	case errors.Is(err, svdb.ErrInvalidAlgorithm), errors.As(err, &badRequest):
		return http.StatusBadRequest
	case errors.Is(err, svdb.ErrChunking):
		return http.StatusConflict
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage hides the detail of internal failures from clients.
func errorMessage(err error) string {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return "request body too large"
	case statusFor(err) >= http.StatusInternalServerError:
		return "internal error"
	default:
		return err.Error()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
