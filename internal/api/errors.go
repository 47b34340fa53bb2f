package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vidprofile/vidprofile/internal/blobstore"
	"github.com/vidprofile/vidprofile/internal/catalog"
	"github.com/vidprofile/vidprofile/internal/ledger"
	"github.com/vidprofile/vidprofile/internal/metadata"
	"github.com/vidprofile/vidprofile/internal/processing"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// Checked in order. Pipeline kinds come first so a fetch failure caused by a
// missing object is reported as a fetch failure.
var errorMappings = []errorMapping{
	{processing.ErrInvalidRange, http.StatusUnprocessableEntity, "INVALID_RANGE"},
	{processing.ErrFetchFailed, http.StatusBadGateway, "FETCH_FAILED"},
	{processing.ErrExtractFailed, http.StatusBadGateway, "EXTRACT_FAILED"},
	{processing.ErrPublishFailed, http.StatusBadGateway, "PUBLISH_FAILED"},
	{metadata.ErrMetadataUnavailable, http.StatusBadGateway, "METADATA_UNAVAILABLE"},
	{ledger.ErrIndexOutOfRange, http.StatusNotFound, "INDEX_OUT_OF_RANGE"},
	{catalog.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{blobstore.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{catalog.ErrConflict, http.StatusConflict, "CONFLICT"},
	{catalog.ErrValidation, http.StatusBadRequest, "VALIDATION_ERROR"},
	{ledger.ErrInvalidRange, http.StatusBadRequest, "VALIDATION_ERROR"},
	{ledger.ErrInvalidEntry, http.StatusBadRequest, "VALIDATION_ERROR"},
	{metadata.ErrInvalidURL, http.StatusBadRequest, "VALIDATION_ERROR"},
	{blobstore.ErrInvalidKey, http.StatusBadRequest, "VALIDATION_ERROR"},
	{context.Canceled, http.StatusServiceUnavailable, "CANCELLED"},
	{context.DeadlineExceeded, http.StatusServiceUnavailable, "CANCELLED"},
}

// statusFor maps a service error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// writeServiceError renders err. Unexpected errors are logged and their
// detail is not sent to the client.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		msg = "internal server error"
	}
	WriteError(w, status, msg, code)
}
