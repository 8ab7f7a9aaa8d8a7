package backend

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/jabvlabs/roommate/internal/domain"
)

// Error codes with dedicated client-side handling.
const (
	// codeUndefinedTable is Postgres' undefined_table; codeSchemaCacheMiss is
	// the REST layer's equivalent. Both mean the relation is not deployed.
	codeUndefinedTable  = "42P01"
	codeSchemaCacheMiss = "PGRST205"

	// codeFunctionMissing means the RPC function is not deployed; callers
	// fall back to a direct table query.
	codeFunctionMissing = "PGRST202"
)

// APIError is a non-2xx backend response.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`

	// ErrorDescription covers the auth API's error shape.
	ErrorDescription string `json:"error_description,omitempty"`
	Msg              string `json:"msg,omitempty"`
}

func (e *APIError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Msg != "":
		return e.Msg
	case e.ErrorDescription != "":
		return e.ErrorDescription
	default:
		return http.StatusText(e.Status)
	}
}

// Unwrap maps missing-relation responses onto domain.ErrRelationMissing so
// callers can errors.Is without knowing wire codes.
func (e *APIError) Unwrap() error {
	if e.Code == codeUndefinedTable || e.Code == codeSchemaCacheMiss {
		return domain.ErrRelationMissing
	}
	return nil
}

// IsMissingFunction reports whether err is the backend telling us an RPC
// function is not deployed.
func IsMissingFunction(err error) bool {
	apiErr, ok := err.(*APIError)
	if !ok {
		return false
	}
	return apiErr.Code == codeFunctionMissing ||
		(apiErr.Status == http.StatusNotFound && strings.Contains(apiErr.Message, "function"))
}

func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil || len(data) == 0 {
		return apiErr
	}
	// Best effort; an unparseable body leaves only the status.
	_ = json.Unmarshal(data, apiErr)
	return apiErr
}
