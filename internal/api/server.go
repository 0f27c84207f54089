// Package api exposes the sampling core over HTTP for diagnostics and
// integration testing: distributions in, token ids out. The serving engine
// proper calls the sampler in-process.
package api

import (
	"errors"
	"io"
	"net/http"
	"sort"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/Notborntodie/mlc-llm/internal/config"
	"github.com/Notborntodie/mlc-llm/internal/logger"
	"github.com/Notborntodie/mlc-llm/internal/rng"
	"github.com/Notborntodie/mlc-llm/internal/sampler"
)

// Server handles the sampling endpoints.
type Server struct {
	log      logger.Logger
	defaults config.SamplingDefaults

	// The sampler reuses a host buffer across calls, so batch calls are
	// serialized.
	mu sync.Mutex
	s  sampler.Sampler
}

func NewServer(s sampler.Sampler, defaults config.SamplingDefaults, log logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{s: s, defaults: defaults, log: log}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/sample", s.handleSample)
	e.POST("/v1/verify", s.handleVerify)
	e.GET("/healthz", s.handleHealth)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSample(c *echo.Context) error {
	req, err := decodeJSON[SampleRequest](c.Request().Body)
	if err != nil {
		return writeError(c, newInvalidRequest("body: "+err.Error()))
	}

	probs, err := toHostMatrix(req.Probs)
	if err != nil {
		return writeError(c, err)
	}
	if len(req.Requests) != probs.R {
		return writeError(c, newInvalidRequest("requests: count does not match probs rows"))
	}

	requests := make([]sampler.Request, len(req.Requests))
	for i, p := range req.Requests {
		requests[i] = s.resolveRequest(p.ID, p.Temperature, p.TopP)
	}
	seed := s.defaults.Seed
	if req.Seed != nil {
		seed = *req.Seed
	}

	s.mu.Lock()
	res, err := s.s.SampleBatch(probs, requests, rng.Split(seed, probs.R), sampler.Options{
		WantProbs: req.WantProbs,
		WantDists: req.WantDists,
	})
	s.mu.Unlock()
	if err != nil {
		return writeError(c, err)
	}

	return writeJSON(c, http.StatusOK, SampleResponse{
		ID:     "batch-" + uuid.NewString(),
		Tokens: res.Tokens,
		Probs:  res.Probs,
		Dists:  res.Dists,
	})
}

func (s *Server) handleVerify(c *echo.Context) error {
	req, err := decodeJSON[VerifyRequest](c.Request().Body)
	if err != nil {
		return writeError(c, newInvalidRequest("body: "+err.Error()))
	}

	probs, err := toHostMatrix(req.Probs)
	if err != nil {
		return writeError(c, err)
	}
	if len(req.Sequences) == 0 {
		return writeError(c, newInvalidRequest("sequences: empty"))
	}

	seqs := make([]sampler.DraftSequence, len(req.Sequences))
	for i, d := range req.Sequences {
		if err := validateSequence(d, probs.R, probs.C); err != nil {
			return writeError(c, err)
		}
		seqs[i] = sampler.DraftSequence{
			Req:        s.resolveRequest(d.ID, d.Temperature, d.TopP),
			Start:      d.Start,
			End:        d.End,
			Tokens:     d.Tokens,
			TokenProbs: d.TokenProbs,
			Dists:      d.Dists,
		}
	}
	if err := validateDisjointSpans(req.Sequences); err != nil {
		return writeError(c, err)
	}
	seed := s.defaults.Seed
	if req.Seed != nil {
		seed = *req.Seed
	}

	s.mu.Lock()
	accepted, err := s.s.VerifyDraftTokens(probs, seqs, rng.Split(seed, len(seqs)))
	s.mu.Unlock()
	if err != nil {
		return writeError(c, err)
	}

	return writeJSON(c, http.StatusOK, VerifyResponse{
		ID:       "verify-" + uuid.NewString(),
		Accepted: accepted,
	})
}

// resolveRequest fills missing per-request fields from the server defaults
// and mints an id when the caller supplied none.
func (s *Server) resolveRequest(id string, temperature, topP *float64) sampler.Request {
	req := sampler.Request{
		ID:          id,
		Temperature: s.defaults.Temperature,
		TopP:        s.defaults.TopP,
	}
	if req.ID == "" {
		req.ID = "req-" + uuid.NewString()
	}
	if temperature != nil {
		req.Temperature = *temperature
	}
	if topP != nil {
		req.TopP = *topP
	}
	return req
}

// validateSequence rejects malformed spans before they reach the core,
// where they would panic as contract violations.
func validateSequence(d DraftSequenceDTO, rows, vocab int) error {
	if d.Start < 0 || d.End < d.Start || d.End > rows {
		return newInvalidRequest("sequences: span outside probs batch")
	}
	n := d.End - d.Start
	if len(d.Tokens) != n || len(d.TokenProbs) != n || len(d.Dists) != n {
		return newInvalidRequest("sequences: tokens, token_probs and dists must each cover the span")
	}
	for k, dist := range d.Dists {
		if len(dist) != vocab {
			return newInvalidRequest("sequences: dists entries must have vocab length")
		}
		if d.Tokens[k] < 0 || int(d.Tokens[k]) >= vocab {
			return newInvalidRequest("sequences: token id out of vocab range")
		}
	}
	return nil
}

// validateDisjointSpans rejects sequences whose row spans overlap. The
// verifier rewrites rows in place during rejection without locking, which is
// only safe when every row belongs to at most one sequence.
func validateDisjointSpans(seqs []DraftSequenceDTO) error {
	spans := make([][2]int, len(seqs))
	for i, d := range seqs {
		spans[i] = [2]int{d.Start, d.End}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i][0] < spans[j][0] })
	for i := 1; i < len(spans); i++ {
		if spans[i-1][1] > spans[i][0] {
			return newInvalidRequest("sequences: row spans must not overlap")
		}
	}
	return nil
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

func writeJSON(c *echo.Context, code int, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Blob(code, echo.MIMEApplicationJSON, b)
}

func writeError(c *echo.Context, err error) error {
	code := http.StatusInternalServerError
	typ := "internal_error"
	if errors.Is(err, ErrInvalidRequest) {
		code = http.StatusBadRequest
		typ = "invalid_request_error"
	}
	return writeJSON(c, code, errorResponse{Error: errorBody{
		Type:    typ,
		Message: err.Error(),
	}})
}
