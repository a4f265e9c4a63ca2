/**
 * @description
 * This file contains the HTTP handlers for the settlement-service API: PIN validation,
 * second-factor validation, and settlement of confirmed gateway payments.
 *
 * @dependencies
 * - github.com/shopspring/decimal: Amount validation.
 * - go.uber.org/zap: Structured logging.
 * - pkg/tokencache: Settled-transaction markers.
 */

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/transfa/settlement-service/internal/app"
	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/internal/logging"
	"github.com/transfa/settlement-service/pkg/tokencache"
	"go.uber.org/zap"
)

const (
	settledMarkerPrefix = "settled:"
	replayHeader        = "X-Settlement-Replayed"
	maxRequestBodyBytes = 64 << 10
)

// CredentialChecker is the part of the credential gate exposed over HTTP.
type CredentialChecker interface {
	ValidatePin(ctx context.Context, username, pin string) domain.PinValidationResult
	ValidateSecondFactor(ctx context.Context, username, code string, channel domain.SecondFactorChannel) bool
}

// Handler holds the dependencies for the HTTP handlers.
type Handler struct {
	credentials CredentialChecker
	settler     app.Settler
	settled     tokencache.Cache
	settledTTL  time.Duration
	logger      *zap.Logger
}

// NewHandler creates a new Handler. A nil cache disables settlement replay protection.
func NewHandler(credentials CredentialChecker, settler app.Settler, settled tokencache.Cache, settledTTL time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		credentials: credentials,
		settler:     settler,
		settled:     settled,
		settledTTL:  settledTTL,
		logger:      logging.Component(logger, "api"),
	}
}

type secondFactorResponse struct {
	Valid      bool `json:"valid"`
	WellFormed bool `json:"well_formed"`
}

func (h *Handler) handleValidatePin(w http.ResponseWriter, r *http.Request) {
	var req domain.PinValidationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !h.callerMayActFor(w, r, req.Username) {
		return
	}

	result := h.credentials.ValidatePin(r.Context(), strings.TrimSpace(req.Username), req.Pin)
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleValidateSecondFactor(w http.ResponseWriter, r *http.Request) {
	var req domain.SecondFactorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	channel, ok := domain.ParseSecondFactorChannel(req.Channel)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "channel must be one of SMS, EMAIL, TOKEN")
		return
	}
	if !h.callerMayActFor(w, r, req.Username) {
		return
	}

	valid := h.credentials.ValidateSecondFactor(r.Context(), strings.TrimSpace(req.Username), req.Code, channel)
	respondWithJSON(w, http.StatusOK, secondFactorResponse{
		Valid:      valid,
		WellFormed: channel == domain.ChannelToken || app.SecondFactorShapeValid(req.Code),
	})
}

func (h *Handler) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req domain.SettlementRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.TransactionReference = strings.TrimSpace(req.TransactionReference)
	req.AccountNumber = strings.TrimSpace(req.AccountNumber)
	req.PaymentGateway = strings.TrimSpace(req.PaymentGateway)

	switch {
	case req.TransactionReference == "":
		respondWithError(w, http.StatusBadRequest, "transaction_reference is required")
		return
	case req.AccountNumber == "":
		respondWithError(w, http.StatusBadRequest, "account_number is required")
		return
	case req.PaymentGateway == "":
		respondWithError(w, http.StatusBadRequest, "payment_gateway is required")
		return
	case !req.Amount.IsPositive():
		respondWithError(w, http.StatusBadRequest, "amount must be greater than zero")
		return
	}

	logger := h.logger.With(zap.String("request_id", GetRequestID(r.Context())), zap.String("transaction_ref", req.TransactionReference))
	markerKey := settledMarkerPrefix + req.TransactionReference

	if h.settled != nil {
		cached, found, err := h.settled.Get(r.Context(), markerKey)
		if err != nil {
			logger.Warn("settled marker lookup failed", zap.Error(err))
		} else if found {
			var outcome domain.DebitOutcome
			if err := json.Unmarshal([]byte(cached), &outcome); err == nil {
				logger.Info("settlement replayed from marker")
				w.Header().Set(replayHeader, "true")
				respondWithJSON(w, http.StatusOK, outcome)
				return
			}
			logger.Warn("discarding unreadable settled marker")
		}
	}

	outcome := h.settler.ProcessSettlementRequest(r.Context(), req)

	if h.settled != nil && outcome.Succeeded() && h.settledTTL > 0 {
		if raw, err := json.Marshal(outcome); err == nil {
			if err := h.settled.Set(r.Context(), markerKey, string(raw), h.settledTTL); err != nil {
				logger.Warn("failed to store settled marker", zap.Error(err))
			}
		}
	}

	respondWithJSON(w, http.StatusOK, outcome)
}

// callerMayActFor rejects bearer-token callers acting on another user's credentials.
func (h *Handler) callerMayActFor(w http.ResponseWriter, r *http.Request, username string) bool {
	subject, ok := GetSubject(r.Context())
	if !ok {
		return true
	}
	if !strings.EqualFold(subject, strings.TrimSpace(username)) {
		h.logger.Warn("caller attempted to validate another user's credentials", zap.String("subject", subject), zap.String("username", username))
		respondWithError(w, http.StatusForbidden, "Forbidden")
		return false
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
