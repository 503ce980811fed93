package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Sasha125a/sphere-dev-network/internal/domain"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

var statusByCode = map[string]int{
	domain.CodeNotFound:              http.StatusNotFound,
	domain.CodePathViolation:         http.StatusBadRequest,
	domain.CodeCapacityExceeded:      http.StatusConflict,
	domain.CodeInsufficientResources: http.StatusServiceUnavailable,
	domain.CodeDeploymentFailed:      http.StatusInternalServerError,
	domain.CodeDuplicateDomain:       http.StatusConflict,
	domain.CodeUnknownServer:         http.StatusBadRequest,
	domain.CodeInvalidInput:          http.StatusBadRequest,
	domain.CodeProjectExists:         http.StatusConflict,
	domain.CodeAlreadyDeployed:       http.StatusConflict,
	domain.CodeStorageFailure:        http.StatusInternalServerError,
	domain.CodeInternal:              http.StatusInternalServerError,
}

// writeServiceError maps a service error onto its status and stable code.
// Internal errors never leak their message.
func writeServiceError(w http.ResponseWriter, err error) {
	code := domain.Code(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	payload := map[string]string{"error": err.Error(), "code": code}
	if code == domain.CodeInternal {
		payload["error"] = "internal error"
	}
	var depErr *domain.DeploymentError
	if errors.As(err, &depErr) {
		payload["stage"] = depErr.Stage
	}
	writeJSON(w, status, payload)
}
