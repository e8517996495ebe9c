package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"goa.design/clue/log"
	goahttp "goa.design/goa/v3/http"

	"github.com/loomwork/loom/engine"
	"github.com/loomwork/loom/graph"
	"github.com/loomwork/loom/run"
)

// errRateLimited is returned when run submission exceeds the token bucket.
var errRateLimited = errors.New("run submissions are rate limited, retry later")

// invalidRequestError marks malformed or schema-violating request bodies.
type invalidRequestError struct {
	message string
}

// Error implements error.
func (e *invalidRequestError) Error() string {
	return e.message
}

// MountPoint holds information about a mounted endpoint.
type MountPoint struct {
	// Method is the name of the service method served by the route.
	Method string
	// Verb is the HTTP verb of the route.
	Verb string
	// Pattern is the HTTP path pattern of the route.
	Pattern string
}

// Mount registers all service endpoints on mux and returns the mounted
// routes so callers can log them.
func Mount(mux goahttp.Muxer, svc *Service) []MountPoint {
	mux.Handle("POST", "/graphs", svc.handleCreateGraph)
	mux.Handle("GET", "/graphs", svc.handleListGraphs)
	mux.Handle("POST", "/runs", svc.handleCreateRun)
	mux.Handle("GET", "/runs", svc.handleListRuns)
	mux.Handle("GET", "/runs/{run_id}", svc.handleGetRun(mux))
	mux.Handle("GET", "/tools", svc.handleListTools)
	return []MountPoint{
		{Method: "CreateGraph", Verb: "POST", Pattern: "/graphs"},
		{Method: "ListGraphs", Verb: "GET", Pattern: "/graphs"},
		{Method: "CreateRun", Verb: "POST", Pattern: "/runs"},
		{Method: "ListRuns", Verb: "GET", Pattern: "/runs"},
		{Method: "GetRun", Verb: "GET", Pattern: "/runs/{run_id}"},
		{Method: "ListTools", Verb: "GET", Pattern: "/tools"},
	}
}

func (s *Service) handleCreateGraph(w http.ResponseWriter, r *http.Request) {
	ctx := acceptContext(r)
	var req CreateGraphRequest
	if err := decodeAndValidate(r, s.graphSchema, &req); err != nil {
		encodeError(ctx, w, err)
		return
	}
	res, err := s.CreateGraph(ctx, &req)
	if err != nil {
		encodeError(ctx, w, err)
		return
	}
	encodeResponse(ctx, w, http.StatusCreated, res)
}

func (s *Service) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	ctx := acceptContext(r)
	if s.limiter != nil && !s.limiter.Allow() {
		encodeError(ctx, w, errRateLimited)
		return
	}
	var req CreateRunRequest
	if err := decodeAndValidate(r, s.runSchema, &req); err != nil {
		encodeError(ctx, w, err)
		return
	}
	res, err := s.CreateRun(ctx, &req)
	if err != nil {
		encodeError(ctx, w, err)
		return
	}
	encodeResponse(ctx, w, http.StatusOK, res)
}

func (s *Service) handleGetRun(mux goahttp.Muxer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := acceptContext(r)
		res, err := s.GetRun(ctx, mux.Vars(r)["run_id"])
		if err != nil {
			encodeError(ctx, w, err)
			return
		}
		encodeResponse(ctx, w, http.StatusOK, res)
	}
}

func (s *Service) handleListGraphs(w http.ResponseWriter, r *http.Request) {
	ctx := acceptContext(r)
	res, err := s.ListGraphs(ctx)
	if err != nil {
		encodeError(ctx, w, err)
		return
	}
	encodeResponse(ctx, w, http.StatusOK, res)
}

func (s *Service) handleListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := acceptContext(r)
	res, err := s.ListRuns(ctx)
	if err != nil {
		encodeError(ctx, w, err)
		return
	}
	encodeResponse(ctx, w, http.StatusOK, res)
}

func (s *Service) handleListTools(w http.ResponseWriter, r *http.Request) {
	ctx := acceptContext(r)
	res, err := s.ListTools(ctx)
	if err != nil {
		encodeError(ctx, w, err)
		return
	}
	encodeResponse(ctx, w, http.StatusOK, res)
}

// acceptContext seeds the request context with the Accept header so the goa
// response encoder can negotiate the content type.
func acceptContext(r *http.Request) context.Context {
	return context.WithValue(r.Context(), goahttp.AcceptTypeKey, r.Header.Get("Accept"))
}

// decodeAndValidate reads the request body, validates it against schema,
// and decodes it into v. Schema violations and malformed JSON come back as
// *invalidRequestError.
func decodeAndValidate(r *http.Request, schema *jsonschema.Schema, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return &invalidRequestError{message: fmt.Sprintf("read request body: %v", err)}
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return &invalidRequestError{message: fmt.Sprintf("malformed JSON: %v", err)}
	}
	if err := schema.Validate(doc); err != nil {
		return &invalidRequestError{message: err.Error()}
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err := goahttp.RequestDecoder(r).Decode(v); err != nil {
		return &invalidRequestError{message: fmt.Sprintf("decode request body: %v", err)}
	}
	return nil
}

func encodeResponse(ctx context.Context, w http.ResponseWriter, status int, body any) {
	enc := goahttp.ResponseEncoder(ctx, w)
	w.WriteHeader(status)
	if err := enc.Encode(body); err != nil {
		log.Errorf(ctx, err, "encode response")
	}
}

// encodeError maps service errors onto HTTP statuses: schema and graph
// validation → 400, unknown references → 404, failed runs → 422 with the
// run id, rate limiting → 429, everything else → 500.
func encodeError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		status = http.StatusInternalServerError
		body   = ErrorBody{Error: err.Error()}

		invalid *invalidRequestError
		verr    *graph.ValidationError
		runErr  *engine.RunError
	)
	switch {
	case errors.As(err, &invalid), errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.Is(err, graph.ErrNotFound), errors.Is(err, run.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &runErr):
		status = http.StatusUnprocessableEntity
		body = ErrorBody{Error: runErr.Err.Error(), RunID: runErr.RunID}
	case errors.Is(err, errRateLimited):
		status = http.StatusTooManyRequests
	}
	if status == http.StatusInternalServerError {
		log.Errorf(ctx, err, "request failed")
	}
	enc := goahttp.ResponseEncoder(ctx, w)
	w.WriteHeader(status)
	if encErr := enc.Encode(body); encErr != nil {
		log.Errorf(ctx, encErr, "encode error response")
	}
}
