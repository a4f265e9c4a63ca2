package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/pkg/tokencache"
)

const (
	testInternalKey = "internal-secret"
	testJWTSecret   = "jwt-signing-secret"
)

type credentialCheckerStub struct {
	result       domain.PinValidationResult
	secondFactor bool
	lastUsername string
	lastChannel  domain.SecondFactorChannel
	calls        int
}

func (s *credentialCheckerStub) ValidatePin(ctx context.Context, username, pin string) domain.PinValidationResult {
	s.calls++
	s.lastUsername = username
	return s.result
}

func (s *credentialCheckerStub) ValidateSecondFactor(ctx context.Context, username, code string, channel domain.SecondFactorChannel) bool {
	s.calls++
	s.lastUsername = username
	s.lastChannel = channel
	return s.secondFactor
}

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

func newTestRouter(checker *credentialCheckerStub, settler *settlerStub, cache tokencache.Cache) http.Handler {
	h := NewHandler(checker, settler, cache, time.Hour, nil)
	return NewRouter(h, RouterConfig{InternalAPIKey: testInternalKey, JWTSecret: testJWTSecret, AllowedOrigins: []string{"*"}})
}

func signedToken(t *testing.T, subject string, expiresIn time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(expiresIn).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func doRequest(router http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	router := newTestRouter(&credentialCheckerStub{}, &settlerStub{}, nil)
	for _, path := range []string{"/health", "/settlements/health"} {
		rec := doRequest(router, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Fatalf("%s: expected a request id", path)
		}
	}
}

func TestValidatePin_Auth(t *testing.T) {
	body := `{"username":"ada.obi","pin":"1234"}`

	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
		wantCalled bool
	}{
		{name: "no credentials", wantStatus: http.StatusUnauthorized},
		{name: "wrong internal key", headers: map[string]string{"X-Internal-API-Key": "nope"}, wantStatus: http.StatusUnauthorized},
		{name: "internal key", headers: map[string]string{"X-Internal-API-Key": testInternalKey}, wantStatus: http.StatusOK, wantCalled: true},
		{name: "own token", headers: map[string]string{"Authorization": "Bearer " + signedToken(t, "ada.obi", time.Hour)}, wantStatus: http.StatusOK, wantCalled: true},
		{name: "someone else's token", headers: map[string]string{"Authorization": "Bearer " + signedToken(t, "mallory", time.Hour)}, wantStatus: http.StatusForbidden},
		{name: "expired token", headers: map[string]string{"Authorization": "Bearer " + signedToken(t, "ada.obi", -time.Minute)}, wantStatus: http.StatusUnauthorized},
		{name: "malformed header", headers: map[string]string{"Authorization": "Token abc"}, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &credentialCheckerStub{result: domain.PinValidationResult{Valid: true, ErrorKind: domain.PinErrorNone}}
			rec := doRequest(newTestRouter(checker, &settlerStub{}, nil), http.MethodPost, "/settlements/pin/validate", body, tt.headers)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if (checker.calls > 0) != tt.wantCalled {
				t.Fatalf("expected gate called=%v, got %d calls", tt.wantCalled, checker.calls)
			}
		})
	}
}

func TestValidatePin_ReturnsResult(t *testing.T) {
	checker := &credentialCheckerStub{result: domain.PinValidationResult{Valid: false, ErrorKind: domain.PinErrorInvalidPin, Message: "Invalid PIN"}}
	router := newTestRouter(checker, &settlerStub{}, nil)

	rec := doRequest(router, http.MethodPost, "/settlements/pin/validate", `{"username":" ada.obi ","pin":"0000"}`, map[string]string{"X-Internal-API-Key": testInternalKey})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var result domain.PinValidationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Valid || result.ErrorKind != domain.PinErrorInvalidPin || result.Message != "Invalid PIN" {
		t.Fatalf("unexpected result %+v", result)
	}
	if checker.lastUsername != "ada.obi" {
		t.Fatalf("expected trimmed username, got %q", checker.lastUsername)
	}

	rec = doRequest(router, http.MethodPost, "/settlements/pin/validate", `{"username":`, map[string]string{"X-Internal-API-Key": testInternalKey})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestValidateSecondFactor(t *testing.T) {
	headers := map[string]string{"X-Internal-API-Key": testInternalKey}

	tests := []struct {
		name          string
		body          string
		valid         bool
		wantStatus    int
		wantChannel   domain.SecondFactorChannel
		wantWellShape bool
	}{
		{name: "sms code", body: `{"username":"ada.obi","code":"123456","channel":"sms"}`, valid: true, wantStatus: http.StatusOK, wantChannel: domain.ChannelSMS, wantWellShape: true},
		{name: "short email code", body: `{"username":"ada.obi","code":"1234","channel":"EMAIL"}`, wantStatus: http.StatusOK, wantChannel: domain.ChannelEmail},
		{name: "token", body: `{"username":"ada.obi","code":"TK-1","channel":"TOKEN"}`, valid: true, wantStatus: http.StatusOK, wantChannel: domain.ChannelToken, wantWellShape: true},
		{name: "unknown channel", body: `{"username":"ada.obi","code":"123456","channel":"PUSH"}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &credentialCheckerStub{secondFactor: tt.valid}
			rec := doRequest(newTestRouter(checker, &settlerStub{}, nil), http.MethodPost, "/settlements/2fa/validate", tt.body, headers)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp secondFactorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Valid != tt.valid || resp.WellFormed != tt.wantWellShape {
				t.Fatalf("unexpected response %+v", resp)
			}
			if checker.lastChannel != tt.wantChannel {
				t.Fatalf("expected channel %s, got %s", tt.wantChannel, checker.lastChannel)
			}
		})
	}
}

func TestSettle_Validation(t *testing.T) {
	headers := map[string]string{"X-Internal-API-Key": testInternalKey}
	tests := []struct {
		name string
		body string
	}{
		{name: "missing reference", body: `{"account_number":"0123456789","amount":100,"payment_gateway":"Remita"}`},
		{name: "missing account", body: `{"transaction_reference":"R1","amount":100,"payment_gateway":"Remita"}`},
		{name: "missing gateway", body: `{"transaction_reference":"R1","account_number":"0123456789","amount":100}`},
		{name: "zero amount", body: `{"transaction_reference":"R1","account_number":"0123456789","amount":0,"payment_gateway":"Remita"}`},
		{name: "negative amount", body: `{"transaction_reference":"R1","account_number":"0123456789","amount":"-5","payment_gateway":"Remita"}`},
		{name: "not json", body: `amount=5`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settler := &settlerStub{}
			rec := doRequest(newTestRouter(&credentialCheckerStub{}, settler, nil), http.MethodPost, "/settlements/", tt.body, headers)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if settler.calls != 0 {
				t.Fatalf("expected no settlement attempt")
			}
		})
	}
}

func TestSettle_RequiresInternalKey(t *testing.T) {
	settler := &settlerStub{}
	token := signedToken(t, "ada.obi", time.Hour)
	rec := doRequest(newTestRouter(&credentialCheckerStub{}, settler, nil), http.MethodPost, "/settlements/",
		`{"transaction_reference":"R1","account_number":"0123456789","amount":100,"payment_gateway":"Remita"}`,
		map[string]string{"Authorization": "Bearer " + token})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bearer caller, got %d", rec.Code)
	}
	if settler.calls != 0 {
		t.Fatalf("expected no settlement attempt")
	}
}

func TestSettle_ReplaysSuccessfulSettlement(t *testing.T) {
	headers := map[string]string{"X-Internal-API-Key": testInternalKey}
	body := `{"transaction_reference":"RRR-42","account_number":"0123456789","amount":"2500.50","payment_gateway":"Remita","narration":"Land use charge"}`
	settler := &settlerStub{outcome: domain.DebitOutcome{ResponseStatus: true, ResponseCode: "00", ResponseMessage: "Successful"}}
	router := newTestRouter(&credentialCheckerStub{}, settler, tokencache.NewMemoryCache())

	first := doRequest(router, http.MethodPost, "/settlements/", body, headers)
	if first.Code != http.StatusOK || first.Header().Get("X-Settlement-Replayed") != "" {
		t.Fatalf("unexpected first response %d %v", first.Code, first.Header())
	}
	if settler.last.Amount.String() != "2500.5" || settler.last.Narration != "Land use charge" {
		t.Fatalf("unexpected settlement request %+v", settler.last)
	}

	second := doRequest(router, http.MethodPost, "/settlements/", body, headers)
	if second.Code != http.StatusOK || second.Header().Get("X-Settlement-Replayed") != "true" {
		t.Fatalf("expected replayed response, got %d %v", second.Code, second.Header())
	}
	if settler.calls != 1 {
		t.Fatalf("expected one settlement attempt, got %d", settler.calls)
	}

	var outcome domain.DebitOutcome
	if err := json.Unmarshal(second.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !outcome.Succeeded() || outcome.ResponseCode != "00" {
		t.Fatalf("unexpected replayed outcome %+v", outcome)
	}
}

func TestSettle_FailedSettlementIsRetried(t *testing.T) {
	headers := map[string]string{"X-Internal-API-Key": testInternalKey}
	body := `{"transaction_reference":"RRR-43","account_number":"0123456789","amount":10,"payment_gateway":"Remita"}`
	settler := &settlerStub{outcome: domain.FailedOutcome("99", "Settlement processing failed due to system error")}
	router := newTestRouter(&credentialCheckerStub{}, settler, tokencache.NewMemoryCache())

	for i := 0; i < 2; i++ {
		rec := doRequest(router, http.MethodPost, "/settlements/", body, headers)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 with failure outcome, got %d", rec.Code)
		}
		var outcome domain.DebitOutcome
		if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if outcome.Succeeded() || outcome.ResponseCode != "99" {
			t.Fatalf("unexpected outcome %+v", outcome)
		}
	}
	if settler.calls != 2 {
		t.Fatalf("expected failed settlements not to be cached, got %d calls", settler.calls)
	}
}
