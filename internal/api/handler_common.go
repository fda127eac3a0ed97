package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/nexus-vanguard/vanguard/internal/service"
)

func decodeBodyOrWriteError(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := DecodeBody(r, v); err != nil {
		writeDecodeBodyError(w, r, err)
		return false
	}
	return true
}

func parseBoolQueryOrWriteInvalid(w http.ResponseWriter, r *http.Request, key string) (*bool, bool) {
	v, err := ParseBoolQuery(r, key)
	if err != nil {
		writeInvalidArgument(w, r, err.Error())
		return nil, false
	}
	return v, true
}

func parseLimitOrWriteInvalid(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	n, err := ParseIntQuery(r, "limit", def)
	if err == nil && n < 0 {
		err = errors.New("limit: must be a non-negative integer")
	}
	if err != nil {
		writeInvalidArgument(w, r, err.Error())
		return 0, false
	}
	return n, true
}

func readRawBodyOrWriteInvalid(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Body == nil {
		writeInvalidArgument(w, r, "request body is required")
		return nil, false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writePayloadTooLarge(w, maxErr.Limit)
			return nil, false
		}
		writeInvalidArgument(w, r, "failed to read body")
		return nil, false
	}
	return body, true
}

// Data-plane variants report through the domain taxonomy so the error
// carries the endpoint it was rejected for.

func parseIntQueryOrWriteInvalid(w http.ResponseWriter, r *http.Request, endpoint, key string, def int) (int, bool) {
	n, err := ParseIntQuery(r, key, def)
	if err != nil {
		writeServiceError(w, r, service.NewDomainError(service.CodeInvalidParam, endpoint, err.Error()))
		return 0, false
	}
	return n, true
}

func parseSeedOrWriteInvalid(w http.ResponseWriter, r *http.Request, endpoint string) (uint64, bool) {
	seed, err := ParseUint64Query(r, "seed", 0)
	if err != nil {
		writeServiceError(w, r, service.NewDomainError(service.CodeInvalidParam, endpoint, err.Error()))
		return 0, false
	}
	return seed, true
}

func parseForceFreshOrWriteInvalid(w http.ResponseWriter, r *http.Request, endpoint string) (bool, bool) {
	v, err := ParseBoolQuery(r, "force_fresh")
	if err != nil {
		writeServiceError(w, r, service.NewDomainError(service.CodeInvalidParam, endpoint, err.Error()))
		return false, false
	}
	return v != nil && *v, true
}
