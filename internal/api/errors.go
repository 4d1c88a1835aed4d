package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"stayledger/internal/domain"
)

type errorResponse struct {
	Error  string   `json:"error"`
	Code   string   `json:"code"`
	Reason string   `json:"reason,omitempty"`
	Dates  []string `json:"dates,omitempty"`
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindGateway:
		return http.StatusBadGateway
	case domain.KindGatewayAmbiguous:
		return http.StatusGatewayTimeout
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as the JSON error envelope. Internal errors are
// logged and their details withheld from the client.
func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	resp := errorResponse{Code: string(kind)}

	var de *domain.Error
	if errors.As(err, &de) {
		resp.Error = de.Message
		resp.Reason = de.Reason
		resp.Dates = de.Dates
	}
	if kind == domain.KindInternal {
		s.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		resp.Error = "internal error"
		resp.Reason, resp.Dates = "", nil
	}
	writeJSON(w, statusFor(kind), resp)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}
