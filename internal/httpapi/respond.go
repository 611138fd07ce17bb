package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
	"github.com/vladislavdragonenkov/stockorders/internal/service/txrunner"
)

const maxBodyBytes = 1 << 20

// errorResponse — тело ответа с ошибкой.
type errorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

type shortageDetails struct {
	ProductID int64 `json:"product_id"`
	Available int   `json:"available"`
	Requested int   `json:"requested"`
	Shortfall int   `json:"shortfall"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// statusFor сопоставляет доменную ошибку HTTP-статусу.
func statusFor(err error) int {
	var exhausted *txrunner.ExhaustedError
	switch {
	case errors.As(err, &exhausted):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrEntityInUse),
		domain.IsIdempotencyConflict(err):
		return http.StatusConflict
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger *log.Entry, err error) {
	code := statusFor(err)
	body := errorResponse{Error: err.Error()}

	var shortage *domain.InsufficientStockError
	if errors.As(err, &shortage) {
		body.Details = shortageDetails{
			ProductID: shortage.ProductID,
			Available: shortage.Available,
			Requested: shortage.Requested,
			Shortfall: shortage.Shortfall(),
		}
	}
	if code >= http.StatusInternalServerError {
		logger.WithError(err).Error("request failed")
		body.Error = http.StatusText(code)
	}
	writeJSON(w, code, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		badRequest(w, "invalid json: "+err.Error())
		return false
	}
	return true
}
