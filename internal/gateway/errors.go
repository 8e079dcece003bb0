package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/lynassistant/lyn/internal/schema"
)

// errorBody is the JSON envelope of every failed request.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// classify maps an engine error to an HTTP status and a stable kind.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, schema.ErrToolNotFound):
		return http.StatusNotFound, "tool_not_found"
	case errors.Is(err, schema.ErrToolCallParseFailed):
		return http.StatusUnprocessableEntity, "tool_call_parse_failed"
	case errors.Is(err, schema.ErrToolExecutionFailed):
		return http.StatusUnprocessableEntity, "tool_execution_failed"
	case errors.Is(err, schema.ErrOffProtocolCall):
		return http.StatusUnprocessableEntity, "off_protocol_call"
	case errors.Is(err, schema.ErrDiscoveryEmbeddingFailed):
		return http.StatusBadGateway, "discovery_embedding_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, schema.ErrBackend):
		return http.StatusBadGateway, "backend_error"
	}
	return http.StatusInternalServerError, "internal"
}

var errBadRequest = errors.New("bad request")

type badRequest struct{ msg string }

func (e badRequest) Error() string        { return e.msg }
func (e badRequest) Is(target error) bool { return target == errBadRequest }
