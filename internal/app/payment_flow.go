package app

import (
	"context"
	"strings"
	"time"

	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/internal/logging"
	"go.uber.org/zap"
)

// Response codes returned to payment callers when authorization fails.
const (
	CodeInvalidPin         = "01"
	CodeSecondFactorFailed = "05"
	CodeGatewayUnconfirmed = "99"
	gatewayGroupingSuccess = "SUCCESSFUL"
)

// PaymentAuthorization is what the caller presents to move money.
type PaymentAuthorization struct {
	Username     string
	Pin          string
	SecondFactor string
	Channel      domain.SecondFactorChannel
}

// GatewayResult is the gateway's verdict on a payment.
type GatewayResult struct {
	ResponseCode     string
	ResponseGrouping string
	Message          string
}

// GatewayPayment pairs the settlement details with the call that performs the
// payment at the gateway.
type GatewayPayment struct {
	Settlement domain.SettlementRequest
	Pay        func(ctx context.Context) (GatewayResult, error)
}

// Authorizer is the part of CredentialGate a payment flow needs.
type Authorizer interface {
	ValidatePin(ctx context.Context, username, pin string) domain.PinValidationResult
	ValidateWithEnforcement(ctx context.Context, username, pin, secondFactor string, channel domain.SecondFactorChannel) bool
}

// Settler is the part of SettlementOrchestrator a payment flow needs.
type Settler interface {
	ProcessSettlementRequest(ctx context.Context, req domain.SettlementRequest) domain.DebitOutcome
}

// PaymentFlow authorizes a payment, runs it at the gateway and settles it.
type PaymentFlow struct {
	auth    Authorizer
	settler Settler
	logger  *zap.Logger
	now     func() time.Time
}

func NewPaymentFlow(auth Authorizer, settler Settler, logger *zap.Logger) *PaymentFlow {
	return &PaymentFlow{
		auth:    auth,
		settler: settler,
		logger:  logging.Component(logger, "payment_flow"),
		now:     time.Now,
	}
}

// GatewayConfirmed reports whether a gateway reply means the payment went through.
func GatewayConfirmed(code, grouping string) bool {
	code = strings.TrimSpace(code)
	return code == "00" || code == "90000" || strings.EqualFold(strings.TrimSpace(grouping), gatewayGroupingSuccess)
}

// AuthorizeAndSettle runs one payment end to end. A settlement failure after a confirmed
// payment leaves the payment in place and reports PaymentConfirmedSettlementPending.
func (f *PaymentFlow) AuthorizeAndSettle(ctx context.Context, auth PaymentAuthorization, payment GatewayPayment) domain.SettlementReport {
	logger := f.logger.With(
		zap.String("username", auth.Username),
		zap.String("transaction_ref", payment.Settlement.TransactionReference),
		zap.String("gateway", payment.Settlement.PaymentGateway),
	)

	pinResult := f.auth.ValidatePin(ctx, auth.Username, auth.Pin)
	if !pinResult.Valid {
		code := domain.OutcomeCodeSystemError
		if pinResult.ErrorKind == domain.PinErrorInvalidPin {
			code = CodeInvalidPin
		}
		logger.Info("payment rejected", zap.String("reason", string(pinResult.ErrorKind)))
		return f.report(domain.StateAuthorizationRejected, code, pinResult.Message, nil)
	}

	if !f.auth.ValidateWithEnforcement(ctx, auth.Username, auth.Pin, auth.SecondFactor, auth.Channel) {
		message := "Invalid or expired OTP"
		if channel, ok := domain.ParseSecondFactorChannel(string(auth.Channel)); ok && channel == domain.ChannelToken {
			message = "Invalid or expired TOKEN"
		}
		logger.Info("payment rejected", zap.String("reason", "second_factor"))
		return f.report(domain.StateAuthorizationRejected, CodeSecondFactorFailed, message, nil)
	}

	if payment.Pay == nil {
		logger.Error("payment has no gateway call")
		return f.report(domain.StatePaymentFailed, domain.OutcomeCodeSystemError, "Payment could not be processed", nil)
	}
	result, err := payment.Pay(ctx)
	if err != nil {
		logger.Error("gateway payment failed", zap.Error(err))
		return f.report(domain.StatePaymentFailed, domain.OutcomeCodeSystemError, "Payment could not be processed", nil)
	}
	if !GatewayConfirmed(result.ResponseCode, result.ResponseGrouping) {
		logger.Warn("gateway did not confirm payment", zap.String("gateway_code", result.ResponseCode), zap.String("grouping", result.ResponseGrouping))
		code := strings.TrimSpace(result.ResponseCode)
		if code == "" {
			code = CodeGatewayUnconfirmed
		}
		return f.report(domain.StatePaymentFailed, code, result.Message, nil)
	}

	outcome := f.settler.ProcessSettlementRequest(ctx, payment.Settlement)
	if !outcome.Succeeded() {
		logger.Warn("payment confirmed but settlement pending", zap.String("settlement_code", outcome.ResponseCode), zap.String("settlement_message", outcome.ResponseMessage))
		return f.report(domain.StatePaymentConfirmedSettlementPending, result.ResponseCode, result.Message, &outcome)
	}
	return f.report(domain.StateSettled, result.ResponseCode, result.Message, &outcome)
}

func (f *PaymentFlow) report(state domain.SettlementState, code, message string, outcome *domain.DebitOutcome) domain.SettlementReport {
	return domain.SettlementReport{
		State:        state,
		ResponseCode: code,
		Message:      message,
		Outcome:      outcome,
		CompletedAt:  f.now().UTC(),
	}
}
