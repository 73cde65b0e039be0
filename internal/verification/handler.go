package verification

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/stromtracker/meterbot/internal/errors"
)

// HTTPHandler exposes the handshake to the web application backend.
type HTTPHandler struct {
	service *Service
	log     *slog.Logger
}

// NewHTTPHandler constructs the handshake HTTP surface.
func NewHTTPHandler(service *Service, log *slog.Logger) *HTTPHandler {
	if log == nil {
		log = slog.Default()
	}

	return &HTTPHandler{service: service, log: log}
}

type initiateRequest struct {
	UserID int64 `json:"user_id"`
	ChatID int64 `json:"chat_id"`
}

type verifyRequest struct {
	UserID int64  `json:"user_id"`
	Code   string `json:"code"`
}

// Initiate handles POST /api/verification/initiate.
func (h *HTTPHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 || req.ChatID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id and chat_id required"})
		return
	}

	if err := h.service.Initiate(r.Context(), req.UserID, req.ChatID); err != nil {
		h.log.Error("verification initiate failed",
			slog.Int64("user_id", req.UserID), slog.Any("error", err))

		status := http.StatusInternalServerError
		msg := "verification could not be initiated"

		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Code == apperrors.CodeValidation {
			status = http.StatusUnprocessableEntity
			msg = appErr.UserMessage
		}

		writeJSON(w, status, map[string]string{"error": msg})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Verify handles POST /api/verification/verify.
func (h *HTTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id and code required"})
		return
	}

	verified, err := h.service.Verify(r.Context(), req.UserID, req.Code)
	if err != nil {
		h.log.Error("verification verify failed",
			slog.Int64("user_id", req.UserID), slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "verification failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"verified": verified})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
