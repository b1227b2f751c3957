package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"agridetect/internal/auth"
	"agridetect/internal/detection"
	"agridetect/internal/files"
	"agridetect/internal/inference"
	"agridetect/internal/store"
	"agridetect/internal/utils"
)

type errorBody struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// writeJSON encodes v before touching the response, so a value that cannot
// be encoded becomes a 500 instead of an empty body under a success status.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errorBody{Error: "internal server error", Code: status})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
	return err
}

// respond writes v and logs values that failed to encode.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	if err := writeJSON(w, status, v); err != nil {
		s.logger.Error("encode response",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.Int("status", status),
			zap.Error(err))
	}
}

// classify maps domain errors to a client-facing CustomError.
func classify(err error) *utils.CustomError {
	var ce *utils.CustomError
	if errors.As(err, &ce) {
		return ce
	}
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr), errors.Is(err, files.ErrImageTooLarge):
		return &utils.CustomError{Code: http.StatusRequestEntityTooLarge, Message: "image exceeds size limit", Err: err}
	case errors.Is(err, files.ErrUnsupportedType):
		return &utils.CustomError{Code: http.StatusUnsupportedMediaType, Message: "unsupported image type; use JPEG, PNG or WebP", Err: err}
	case errors.Is(err, files.ErrEmptyImage), errors.Is(err, files.ErrBadDataURL),
		errors.Is(err, detection.ErrInvalidCoordinates), errors.Is(err, auth.ErrValidation),
		errors.Is(err, detection.ErrUnsupportedLanguage):
		return &utils.CustomError{Code: http.StatusBadRequest, Message: err.Error(), Err: err}
	case errors.Is(err, auth.ErrInvalidCredentials):
		return &utils.CustomError{Code: http.StatusUnauthorized, Message: "incorrect email or password", Err: err}
	case errors.Is(err, auth.ErrInvalidToken):
		return &utils.CustomError{Code: http.StatusUnauthorized, Message: "invalid or expired token", Err: err}
	case errors.Is(err, auth.ErrEmailTaken):
		return &utils.CustomError{Code: http.StatusConflict, Message: "email already registered", Err: err}
	case errors.Is(err, store.ErrDuplicate):
		return &utils.CustomError{Code: http.StatusConflict, Message: "already exists", Err: err}
	case errors.Is(err, detection.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return &utils.CustomError{Code: http.StatusNotFound, Message: "not found", Err: err}
	case errors.Is(err, inference.ErrInferenceFailed), errors.Is(err, inference.ErrMalformedResponse):
		return &utils.CustomError{Code: http.StatusBadGateway, Message: "AI inference failed", Err: err}
	}
	return &utils.CustomError{Code: http.StatusInternalServerError, Message: "internal server error", Err: err}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ce := classify(err)
	fields := []zap.Field{
		zap.String("path", r.URL.Path),
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.Error(err),
	}
	if ce.Client() {
		s.logger.Debug("request rejected", fields...)
	} else {
		s.logger.Error("request failed", fields...)
	}
	s.respond(w, r, ce.Code, errorBody{Error: ce.Message, Code: ce.Code})
}

func badRequest(msg string) error { return utils.New(http.StatusBadRequest, msg) }
