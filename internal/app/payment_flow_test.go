package app

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/transfa/settlement-service/internal/domain"
)

type settlerStub struct {
	outcome domain.DebitOutcome
	calls   int
	last    domain.SettlementRequest
}

func (s *settlerStub) ProcessSettlementRequest(ctx context.Context, req domain.SettlementRequest) domain.DebitOutcome {
	s.calls++
	s.last = req
	return s.outcome
}

func confirmedPayment(code, grouping string, err error) GatewayPayment {
	return GatewayPayment{
		Settlement: domain.SettlementRequest{
			TransactionReference: "RRR-1001",
			Amount:               decimal.NewFromInt(12000),
			AccountNumber:        "0123456789",
			PaymentGateway:       "Remita",
		},
		Pay: func(ctx context.Context) (GatewayResult, error) {
			return GatewayResult{ResponseCode: code, ResponseGrouping: grouping, Message: "gateway says " + code}, err
		},
	}
}

func TestGatewayConfirmed(t *testing.T) {
	tests := []struct {
		code, grouping string
		want           bool
	}{
		{"00", "", true},
		{"90000", "", true},
		{"Z6", "SUCCESSFUL", true},
		{"Z6", "successful", true},
		{"01", "FAILED", false},
		{"", "", false},
	}
	for _, tt := range tests {
		if got := GatewayConfirmed(tt.code, tt.grouping); got != tt.want {
			t.Fatalf("GatewayConfirmed(%q, %q) = %v, want %v", tt.code, tt.grouping, got, tt.want)
		}
	}
}

func TestAuthorizeAndSettle(t *testing.T) {
	codes := map[domain.SecondFactorChannel]string{domain.ChannelToken: HashSecondFactor("884411")}
	settled := domain.DebitOutcome{ResponseStatus: true, ResponseCode: "00", ResponseMessage: "Successful"}
	declined := domain.FailedOutcome("51", "Insufficient funds")

	tests := []struct {
		name           string
		enforced       bool
		storeErr       error
		auth           PaymentAuthorization
		payment        GatewayPayment
		settlement     domain.DebitOutcome
		wantState      domain.SettlementState
		wantCode       string
		wantMessage    string
		wantSettlement bool
	}{
		{
			name:           "settled",
			auth:           PaymentAuthorization{Username: testUsername, Pin: testPIN},
			payment:        confirmedPayment("00", "", nil),
			settlement:     settled,
			wantState:      domain.StateSettled,
			wantCode:       "00",
			wantSettlement: true,
		},
		{
			name:        "invalid pin",
			auth:        PaymentAuthorization{Username: testUsername, Pin: "0000"},
			payment:     confirmedPayment("00", "", nil),
			wantState:   domain.StateAuthorizationRejected,
			wantCode:    CodeInvalidPin,
			wantMessage: "Invalid PIN",
		},
		{
			name:      "store outage",
			storeErr:  errors.New("pool exhausted"),
			auth:      PaymentAuthorization{Username: testUsername, Pin: testPIN},
			payment:   confirmedPayment("00", "", nil),
			wantState: domain.StateAuthorizationRejected,
			wantCode:  domain.OutcomeCodeSystemError,
		},
		{
			name:        "enforced token missing",
			enforced:    true,
			auth:        PaymentAuthorization{Username: testUsername, Pin: testPIN, Channel: domain.ChannelToken},
			payment:     confirmedPayment("00", "", nil),
			wantState:   domain.StateAuthorizationRejected,
			wantCode:    CodeSecondFactorFailed,
			wantMessage: "Invalid or expired TOKEN",
		},
		{
			name:        "enforced otp wrong",
			enforced:    true,
			auth:        PaymentAuthorization{Username: testUsername, Pin: testPIN, SecondFactor: "123456", Channel: domain.ChannelSMS},
			payment:     confirmedPayment("00", "", nil),
			wantState:   domain.StateAuthorizationRejected,
			wantCode:    CodeSecondFactorFailed,
			wantMessage: "Invalid or expired OTP",
		},
		{
			name:           "enforced token valid",
			enforced:       true,
			auth:           PaymentAuthorization{Username: testUsername, Pin: testPIN, SecondFactor: "884411", Channel: domain.ChannelToken},
			payment:        confirmedPayment("90000", "", nil),
			settlement:     settled,
			wantState:      domain.StateSettled,
			wantCode:       "90000",
			wantSettlement: true,
		},
		{
			name:        "gateway declined",
			auth:        PaymentAuthorization{Username: testUsername, Pin: testPIN},
			payment:     confirmedPayment("20021", "FAILED", nil),
			wantState:   domain.StatePaymentFailed,
			wantCode:    "20021",
			wantMessage: "gateway says 20021",
		},
		{
			name:      "gateway call failed",
			auth:      PaymentAuthorization{Username: testUsername, Pin: testPIN},
			payment:   confirmedPayment("", "", errors.New("tls handshake timeout")),
			wantState: domain.StatePaymentFailed,
			wantCode:  domain.OutcomeCodeSystemError,
		},
		{
			name:           "settlement failure keeps the payment",
			auth:           PaymentAuthorization{Username: testUsername, Pin: testPIN},
			payment:        confirmedPayment("Z0", "SUCCESSFUL", nil),
			settlement:     declined,
			wantState:      domain.StatePaymentConfirmedSettlementPending,
			wantCode:       "Z0",
			wantMessage:    "gateway says Z0",
			wantSettlement: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &credentialStoreStub{credential: activeCredential(tt.enforced), codes: codes, findErr: tt.storeErr}
			settler := &settlerStub{outcome: tt.settlement}
			flow := NewPaymentFlow(NewCredentialGate(store, "", nil), settler, nil)

			report := flow.AuthorizeAndSettle(context.Background(), tt.auth, tt.payment)
			if report.State != tt.wantState {
				t.Fatalf("expected state %s, got %s", tt.wantState, report.State)
			}
			if report.ResponseCode != tt.wantCode {
				t.Fatalf("expected code %q, got %q", tt.wantCode, report.ResponseCode)
			}
			if tt.wantMessage != "" && report.Message != tt.wantMessage {
				t.Fatalf("expected message %q, got %q", tt.wantMessage, report.Message)
			}
			if report.CompletedAt.IsZero() {
				t.Fatalf("expected completion time")
			}
			if (settler.calls == 1) != tt.wantSettlement {
				t.Fatalf("expected settlement attempted=%v, got %d calls", tt.wantSettlement, settler.calls)
			}
			if tt.wantSettlement {
				if report.Outcome == nil || report.Outcome.ResponseCode != tt.settlement.ResponseCode {
					t.Fatalf("expected settlement outcome in report, got %+v", report.Outcome)
				}
				if settler.last.TransactionReference != "RRR-1001" {
					t.Fatalf("unexpected settlement request %+v", settler.last)
				}
			} else if report.Outcome != nil {
				t.Fatalf("expected no settlement outcome, got %+v", report.Outcome)
			}
		})
	}
}
