package utils

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/zhouzirui/chat-relay/backend/internal/apperror"
)

// ErrorBody is the fixed error envelope returned by every endpoint.
type ErrorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message, details string) {
	RespondJSON(w, status, ErrorBody{Error: message, Details: details})
}

// RespondAppError maps err onto its status code and writes the envelope.
// Validation and authentication failures carry their own message; everything
// else reports summary with err as details.
func RespondAppError(w http.ResponseWriter, err error, summary string) {
	status := apperror.HTTPStatus(err)

	var appErr *apperror.Error
	if errors.As(err, &appErr) && (appErr.Kind == apperror.KindValidation || appErr.Kind == apperror.KindAuthentication) {
		RespondError(w, status, appErr.Message, "")
		return
	}

	if apperror.KindOf(err) == apperror.KindUnknown {
		zap.L().Error(summary, zap.Error(err))
	}
	RespondError(w, status, summary, err.Error())
}
