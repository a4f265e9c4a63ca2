/**
 * @description
 * This file contains the SettlementOrchestrator, which moves the value of a confirmed
 * gateway payment from the customer's account to the institution's settlement account.
 *
 * Key features:
 * - Builds the debit instruction from the caller's payment and the settlement config.
 * - Seals it into an encrypted envelope and posts it to the funds-transfer backend.
 * - Opens the encrypted reply and interprets it as a DebitOutcome.
 * - Every failure, including a panic, comes back as an outcome with code "99".
 * - Publishes a settlement event after every attempt.
 *
 * @dependencies
 * - github.com/google/uuid: Event ids.
 * - github.com/shopspring/decimal: Amounts and commissions.
 * - go.uber.org/zap: Structured logging.
 * - pkg/envelope, pkg/fundsclient, pkg/rabbitmq: Envelope codec, backend client, events.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/internal/logging"
	"github.com/transfa/settlement-service/pkg/envelope"
	"github.com/transfa/settlement-service/pkg/fundsclient"
	"github.com/transfa/settlement-service/pkg/rabbitmq"
	"go.uber.org/zap"
)

const (
	msgEmptyCipher    = "Empty encrypted response from settlement API"
	msgUnreadable     = "Unable to process settlement response"
	msgSystemError    = "Settlement processing failed due to system error"
	eventPublishLimit = 5 * time.Second
)

// SettlementConfig holds the institution-side fields of every debit instruction.
type SettlementConfig struct {
	SecretKey           string
	CreditAccount       string
	CommissionCode      string
	Commissions         map[string]decimal.Decimal
	T24TransactionType  string
	T24DistributionName string
}

// SettlementOrchestrator runs the encrypt, post, decrypt round-trip for one settlement.
type SettlementOrchestrator struct {
	cfg           SettlementConfig
	codec         *envelope.Codec
	funds         *fundsclient.Client
	references    ReferenceGenerator
	eventProducer rabbitmq.Publisher
	logger        *zap.Logger
	now           func() time.Time
}

// NewSettlementOrchestrator wires an orchestrator. A nil reference generator selects
// ULID references and a nil producer disables events.
func NewSettlementOrchestrator(cfg SettlementConfig, funds *fundsclient.Client, references ReferenceGenerator, producer rabbitmq.Publisher, logger *zap.Logger) *SettlementOrchestrator {
	if references == nil {
		references = NewULIDReferences()
	}
	logger = logging.Component(logger, "settlement")
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{Logger: logger}
	}
	return &SettlementOrchestrator{
		cfg:           cfg,
		codec:         envelope.NewCodec(cfg.SecretKey),
		funds:         funds,
		references:    references,
		eventProducer: producer,
		logger:        logger,
		now:           time.Now,
	}
}

// ProcessSettlementRequest settles a whole gateway payment. An empty narration becomes
// "{gateway} payment".
func (o *SettlementOrchestrator) ProcessSettlementRequest(ctx context.Context, req domain.SettlementRequest) domain.DebitOutcome {
	narration := strings.TrimSpace(req.Narration)
	if narration == "" {
		narration = fmt.Sprintf("%s payment", req.PaymentGateway)
	}
	return o.ProcessSettlement(ctx, req.TransactionReference, req.AccountNumber, req.Amount, narration, req.PaymentGateway)
}

// ProcessSettlement debits accountNumber by amount in favour of the settlement account.
// It always returns an outcome; callers never see an error or a panic.
func (o *SettlementOrchestrator) ProcessSettlement(ctx context.Context, transactionRef, accountNumber string, amount decimal.Decimal, narration, gatewayLabel string) (outcome domain.DebitOutcome) {
	var settlementRef string
	logger := o.logger.With(zap.String("transaction_ref", transactionRef), zap.String("gateway", gatewayLabel))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("settlement panicked", zap.Any("panic", r))
			outcome = domain.FailedOutcome(domain.OutcomeCodeSystemError, msgSystemError)
		}
		o.publishEvent(ctx, logger, transactionRef, settlementRef, gatewayLabel, amount, outcome)
	}()

	settlementRef = o.references.Next(o.now())
	logger = logger.With(zap.String("settlement_ref", settlementRef))

	instruction := domain.DebitInstruction{
		TransactionRef:      settlementRef,
		Amount:              amount,
		DebitAccount:        accountNumber,
		CreditAccount:       o.cfg.CreditAccount,
		Narration:           fmt.Sprintf("%s Settlement - %s", gatewayLabel, narration),
		Commissions:         o.cfg.Commissions,
		CommissionCode:      o.cfg.CommissionCode,
		SessionID:           transactionRef,
		T24TransactionType:  o.cfg.T24TransactionType,
		T24DistributionName: o.cfg.T24DistributionName,
	}

	logger.Info("settlement started",
		zap.String("debit_account", logging.MaskAccount(accountNumber)),
		zap.String("credit_account", logging.MaskAccount(o.cfg.CreditAccount)),
		zap.String("amount", amount.String()),
	)

	outcome = o.settle(ctx, logger, instruction)
	if outcome.Succeeded() {
		logger.Info("settlement succeeded", zap.String("response_code", outcome.ResponseCode))
	} else {
		logger.Warn("settlement failed", zap.String("response_code", outcome.ResponseCode), zap.String("response_message", outcome.ResponseMessage))
	}
	return outcome
}

func (o *SettlementOrchestrator) settle(ctx context.Context, logger *zap.Logger, instruction domain.DebitInstruction) domain.DebitOutcome {
	if o.funds == nil {
		logger.Error("settlement endpoint is not configured")
		return domain.FailedOutcome(domain.OutcomeCodeSystemError, msgSystemError)
	}

	sealed, err := o.codec.EncryptValue(instruction)
	if err != nil {
		logger.Error("failed to seal debit instruction", zap.Error(err))
		return domain.FailedOutcome(domain.OutcomeCodeSystemError, msgSystemError)
	}

	resp, err := o.funds.PostEnvelope(ctx, sealed)
	if err != nil {
		if errors.Is(err, fundsclient.ErrNotConfigured) {
			logger.Error("settlement endpoint is not configured")
		} else {
			logger.Error("settlement request failed", zap.Error(err))
		}
		return domain.FailedOutcome(domain.OutcomeCodeSystemError, msgSystemError)
	}

	if !resp.Success() {
		logger.Warn("settlement endpoint returned error status", zap.Int("status", resp.StatusCode))
		return errorStatusOutcome(resp)
	}

	cipher := fundsclient.ExtractCipher(resp.Body)
	if cipher == "" {
		logger.Error("settlement endpoint returned an empty body")
		return domain.FailedOutcome(domain.OutcomeCodeSystemError, msgEmptyCipher)
	}

	plain, err := o.codec.Decrypt(cipher)
	if err != nil {
		logger.Error("failed to open settlement response", zap.Error(err))
		return domain.FailedOutcome(domain.OutcomeCodeSystemError, msgUnreadable)
	}

	outcome, err := parseOutcome(plain)
	if err != nil {
		logger.Error("failed to parse settlement response", zap.Error(err))
		return domain.FailedOutcome(domain.OutcomeCodeSystemError, msgUnreadable)
	}
	return outcome
}

// errorStatusOutcome reads a non-2xx reply. A JSON object body is taken as the outcome;
// anything else is summarized from the status.
func errorStatusOutcome(resp *fundsclient.Response) domain.DebitOutcome {
	status := strconv.Itoa(resp.StatusCode)
	body := strings.TrimSpace(resp.Body)
	if strings.HasPrefix(body, "{") {
		if outcome, err := parseOutcome(json.RawMessage(body)); err == nil {
			if outcome.ResponseCode == "" {
				outcome.ResponseCode = status
			}
			if outcome.ResponseMessage == "" {
				outcome.ResponseMessage = "HTTP " + status
			}
			return outcome
		}
	}
	message := body
	if message == "" {
		message = "HTTP " + status
	}
	return domain.FailedOutcome(status, message)
}

// wireOutcome accepts codes and data the backend sometimes sends as numbers or objects.
type wireOutcome struct {
	ResponseStatus  bool            `json:"responseStatus"`
	ResponseCode    json.RawMessage `json:"responseCode"`
	ResponseMessage json.RawMessage `json:"responseMessage"`
	ResponseData    json.RawMessage `json:"responseData"`
}

func parseOutcome(raw json.RawMessage) (domain.DebitOutcome, error) {
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "{") {
		return domain.DebitOutcome{}, errors.New("settlement response is not a JSON object")
	}
	var wire wireOutcome
	if err := json.Unmarshal([]byte(trimmed), &wire); err != nil {
		return domain.DebitOutcome{}, err
	}
	return domain.DebitOutcome{
		ResponseStatus:  wire.ResponseStatus,
		ResponseCode:    rawText(wire.ResponseCode),
		ResponseMessage: rawText(wire.ResponseMessage),
		ResponseData:    rawText(wire.ResponseData),
	}, nil
}

func rawText(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal([]byte(trimmed), &s); err == nil {
		return s
	}
	return trimmed
}

func (o *SettlementOrchestrator) publishEvent(ctx context.Context, logger *zap.Logger, transactionRef, settlementRef, gateway string, amount decimal.Decimal, outcome domain.DebitOutcome) {
	event := domain.SettlementEvent{
		EventID:        uuid.NewString(),
		TransactionRef: transactionRef,
		SettlementRef:  settlementRef,
		Gateway:        gateway,
		Amount:         amount,
		Succeeded:      outcome.Succeeded(),
		ResponseCode:   outcome.ResponseCode,
		Message:        outcome.ResponseMessage,
		Timestamp:      o.now().UTC(),
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("settlement event publish panicked", zap.Any("panic", r))
		}
	}()

	// The caller's context may already be cancelled; the event must still go out.
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventPublishLimit)
	defer cancel()
	if err := o.eventProducer.PublishSettlementEvent(publishCtx, event); err != nil {
		logger.Warn("failed to publish settlement event", zap.Error(err))
	}
}
