/**
 * @description
 * Domain models for settlement: the debit instruction sent to the funds-transfer
 * backend, its reply, and the report produced when a confirmed gateway payment is
 * settled.
 *
 * @notes
 * - Field names on DebitInstruction and DebitOutcome follow the backend's wire format.
 * - Amounts use shopspring/decimal and are written as JSON numbers.
 */

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// The funds-transfer backend reads amounts as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// Generic failure code used whenever the backend reply cannot be interpreted.
const OutcomeCodeSystemError = "99"

// DebitInstruction moves funds from a customer account to the settlement account.
type DebitInstruction struct {
	TransactionRef      string                     `json:"TransactionRef"`
	Amount              decimal.Decimal            `json:"Amount"`
	DebitAccount        string                     `json:"DebitAccount"`
	CreditAccount       string                     `json:"CreditAccount"`
	Narration           string                     `json:"Narration"`
	Commissions         map[string]decimal.Decimal `json:"Commissions,omitempty"`
	CommissionCode      string                     `json:"CommissionCode"`
	SessionID           string                     `json:"SessionId"`
	T24TransactionType  string                     `json:"T24TransactionType"`
	T24DistributionName string                     `json:"T24DistributionName"`
}

// DebitOutcome is the interpreted reply of the funds-transfer backend.
type DebitOutcome struct {
	ResponseStatus  bool   `json:"responseStatus"`
	ResponseCode    string `json:"responseCode"`
	ResponseMessage string `json:"responseMessage"`
	ResponseData    string `json:"responseData"`
}

// Succeeded reports whether the backend applied the debit.
func (o DebitOutcome) Succeeded() bool { return o.ResponseStatus }

// FailedOutcome builds a non-successful outcome.
func FailedOutcome(code, message string) DebitOutcome {
	return DebitOutcome{ResponseStatus: false, ResponseCode: code, ResponseMessage: message}
}

// SettlementRequest is the DTO used by payment flows that settle a whole gateway payment.
type SettlementRequest struct {
	TransactionReference string          `json:"transaction_reference"`
	Amount               decimal.Decimal `json:"amount"`
	AccountNumber        string          `json:"account_number"`
	Channel              string          `json:"channel,omitempty"`
	PaymentGateway       string          `json:"payment_gateway"`
	Narration            string          `json:"narration,omitempty"`
}

// SettlementState is the terminal state of an authorize-pay-settle run.
type SettlementState string

const (
	StateAuthorizationRejected SettlementState = "AuthorizationRejected"
	StatePaymentFailed         SettlementState = "PaymentFailed"
	StateSettled               SettlementState = "Settled"
	// The gateway took the payment but the debit to the settlement account did not
	// go through. The payment is not reversed.
	StatePaymentConfirmedSettlementPending SettlementState = "PaymentConfirmedSettlementPending"
)

// SettlementReport summarizes one authorize-pay-settle run.
type SettlementReport struct {
	State        SettlementState `json:"state"`
	ResponseCode string          `json:"response_code"`
	Message      string          `json:"message"`
	Outcome      *DebitOutcome   `json:"settlement,omitempty"`
	CompletedAt  time.Time       `json:"completed_at"`
}

// SettlementEvent is published after every settlement attempt.
type SettlementEvent struct {
	EventID        string          `json:"event_id"`
	TransactionRef string          `json:"transaction_ref"`
	SettlementRef  string          `json:"settlement_ref"`
	Gateway        string          `json:"gateway"`
	Amount         decimal.Decimal `json:"amount"`
	Succeeded      bool            `json:"succeeded"`
	ResponseCode   string          `json:"response_code"`
	Message        string          `json:"message"`
	Timestamp      time.Time       `json:"timestamp"`
}
