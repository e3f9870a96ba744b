package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"ledger/internal/core"
	"ledger/internal/log"
)

// handleScanReceipt extracts suggested transaction fields from an uploaded
// receipt image. Nothing is written to the ledger.
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	if s.receipts == nil {
		ErrorResponse(http.StatusServiceUnavailable, "receipt scanning is not configured").Write(w)
		return
	}

	image, mimeType, err := s.readReceiptUpload(w, r)
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			ErrorResponse(http.StatusRequestEntityTooLarge,
				fmt.Sprintf("receipt exceeds %d bytes", s.receiptMaxBytes)).Write(w)
		case errors.Is(err, core.ErrValidation):
			writeError(w, r, err)
		default:
			BadRequestError(err.Error()).Write(w)
		}
		return
	}

	fields, err := s.receipts.Extract(r.Context(), image, mimeType)
	if err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Receipt extraction failed",
			log.FieldOperation, log.OpExtract,
			log.FieldOwnerID, OwnerFromContext(r.Context()),
			log.FieldError, err)
		ErrorResponse(http.StatusBadGateway, "failed to scan receipt").Write(w)
		return
	}
	NewJSONResponse().Body(toReceiptResponse(fields)).Write(w)
}

func (s *Server) readReceiptUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	// Multipart framing overhead on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, s.receiptMaxBytes+64<<10)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("missing multipart field %q: %w", "file", err)
	}
	defer file.Close()

	image, err := io.ReadAll(io.LimitReader(file, s.receiptMaxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	if int64(len(image)) > s.receiptMaxBytes {
		return nil, "", &http.MaxBytesError{Limit: s.receiptMaxBytes}
	}
	if len(image) == 0 {
		return nil, "", fmt.Errorf("%w: receipt file is empty", core.ErrValidation)
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(image)
	}
	if i := strings.Index(mimeType, ";"); i != -1 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, "", fmt.Errorf("%w: unsupported receipt type %q", core.ErrValidation, mimeType)
	}
	return image, mimeType, nil
}
