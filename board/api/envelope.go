package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/andrebq/lockboard/board"
	"github.com/rs/zerolog/hlog"
)

const (
	MaxBodyBytes = 256 << 10
)

type (
	errorBody struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}

	envelope struct {
		OK                 bool        `json:"ok"`
		Admin              *bool       `json:"admin,omitempty"`
		ExpiresAt          *time.Time  `json:"expiresAt,omitempty"`
		Post               interface{} `json:"post,omitempty"`
		ViewToken          string      `json:"viewToken,omitempty"`
		ViewTokenExpiresAt *time.Time  `json:"viewTokenExpiresAt,omitempty"`
		Error              *errorBody  `json:"error,omitempty"`
	}
)

func statusOf(k board.Kind) int {
	switch k {
	case board.KindValidation:
		return http.StatusBadRequest
	case board.KindAuthentication:
		return http.StatusUnauthorized
	case board.KindNotFound:
		return http.StatusNotFound
	case board.KindDependency:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// publicMessage never echoes internal detail. Validation messages only
// describe the request the client sent.
func publicMessage(k board.Kind, err error) string {
	switch k {
	case board.KindValidation:
		var verr board.ValidationError
		if errors.As(err, &verr) {
			return verr.Error()
		}
		return "invalid request"
	case board.KindAuthentication:
		return "invalid credentials"
	case board.KindNotFound:
		return "post not found"
	case board.KindDependency:
		return "storage unavailable, try again later"
	}
	return "internal error"
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	buf, err := json.Marshal(body)
	if err != nil {
		buf = []byte(`{"ok":false,"error":{"kind":"internal","message":"internal error"}}`)
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(buf)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write(buf)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := board.KindOf(err)
	log := hlog.FromRequest(r)
	switch kind {
	case board.KindDependency, board.KindInternal:
		log.Error().Err(err).Str("kind", kind.String()).Msg("Request failed")
	default:
		log.Debug().Str("kind", kind.String()).Msg("Request rejected")
	}
	writeJSON(w, statusOf(kind), envelope{
		Error: &errorBody{Kind: kind.String(), Message: publicMessage(kind, err)},
	})
}

// readJSON decodes the request body into out. An empty body is accepted
// only when allowEmpty is set.
func readJSON(w http.ResponseWriter, r *http.Request, out interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	err := dec.Decode(out)
	if errors.Is(err, io.EOF) {
		if allowEmpty {
			return nil
		}
		return board.ValidationError{Field: "body", Reason: "must not be empty"}
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return board.ValidationError{Field: "body", Reason: fmt.Sprintf("larger than %v bytes", MaxBodyBytes)}
	} else if err != nil {
		return board.ValidationError{Field: "body", Reason: "malformed json"}
	}
	return nil
}
