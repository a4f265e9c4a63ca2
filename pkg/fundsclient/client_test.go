package fundsclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPostEnvelope_SendsPlainTextWithUsernameHeader(t *testing.T) {
	var gotBody, gotContentType, gotAccept, gotUsername, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		gotContentType = r.Header.Get("Content-Type")
		gotAccept = r.Header.Get("Accept")
		gotUsername = r.Header.Get("X-USERNAME")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":"abc"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "omni-settlement", time.Second)
	resp, err := client.PostEnvelope(context.Background(), "ZW52ZWxvcGU=")
	if err != nil {
		t.Fatalf("PostEnvelope returned error: %v", err)
	}
	if !resp.Success() || resp.Body != `{"data":"abc"}` {
		t.Fatalf("unexpected response %+v", resp)
	}
	if gotBody != "ZW52ZWxvcGU=" {
		t.Fatalf("expected envelope body, got %q", gotBody)
	}
	if gotContentType != "text/plain; charset=utf-8" {
		t.Fatalf("expected text/plain content type, got %q", gotContentType)
	}
	if gotAccept != "text/plain, application/json" {
		t.Fatalf("unexpected accept header %q", gotAccept)
	}
	if gotUsername != "omni-settlement" {
		t.Fatalf("expected X-USERNAME header, got %q", gotUsername)
	}
	if gotAuth != "" {
		t.Fatalf("expected no Authorization header, got %q", gotAuth)
	}
}

func TestPostEnvelope_ErrorStatusIsNotATransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-USERNAME") != "" {
			t.Errorf("expected no X-USERNAME header when username is blank")
		}
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream down")
	}))
	defer server.Close()

	resp, err := NewClient(server.URL, "  ", time.Second).PostEnvelope(context.Background(), "x")
	if err != nil {
		t.Fatalf("PostEnvelope returned error: %v", err)
	}
	if resp.Success() || resp.StatusCode != http.StatusBadGateway || resp.Body != "upstream down" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestPostEnvelope_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	if _, err := NewClient(server.URL, "", 20*time.Millisecond).PostEnvelope(context.Background(), "x"); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestPostEnvelope_NotConfigured(t *testing.T) {
	_, err := NewClient("", "", 0).PostEnvelope(context.Background(), "x")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestExtractCipher(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "lowercase data", body: `{"data":"c2VhbGVk"}`, want: "c2VhbGVk"},
		{name: "pascal case data", body: `{"Data":"c2VhbGVk"}`, want: "c2VhbGVk"},
		{name: "lowercase wins", body: `{"Data":"upper","data":"lower"}`, want: "lower"},
		{name: "bare json string", body: `"c2VhbGVk"`, want: "c2VhbGVk"},
		{name: "raw text", body: "  c2VhbGVk\n", want: "c2VhbGVk"},
		{name: "non-string data falls back to body", body: `{"data":5}`, want: `{"data":5}`},
		{name: "empty", body: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractCipher(tt.body); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
