package email

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

var testMessage = Message{
	To:              "creator@example.com",
	Subject:         "Your 3 Video Ideas - 6/1/2025",
	HTML:            "<p>hi</p>",
	Text:            "hi",
	ListUnsubscribe: "https://example.com/api/settings/unsubscribe?token=t",
}

func TestMailjetSend(t *testing.T) {
	var got mailjetRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			t.Errorf("basic auth = %q %q %v", user, pass, ok)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"Messages":[{"Status":"success","To":[{"Email":"creator@example.com","MessageID":576460752303423488}]}]}`))
	}))
	defer srv.Close()

	m := NewMailjetProvider("key", "secret", "ideas@example.com", "CreatorMind", testLogger())
	m.api.endpoint = srv.URL

	id, err := m.Send(context.Background(), testMessage)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if id != "576460752303423488" {
		t.Errorf("Send() id = %q", id)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("messages = %d", len(got.Messages))
	}
	mm := got.Messages[0]
	if mm.From.Email != "ideas@example.com" || mm.To[0].Email != "creator@example.com" || mm.TextPart != "hi" {
		t.Errorf("request message = %+v", mm)
	}
	if mm.Headers["List-Unsubscribe"] != "<https://example.com/api/settings/unsubscribe?token=t>" {
		t.Errorf("List-Unsubscribe = %q", mm.Headers["List-Unsubscribe"])
	}
}

func TestMailjetSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Messages":[{"Status":"error","Errors":[{"ErrorMessage":"invalid recipient"}]}]}`))
	}))
	defer srv.Close()

	m := NewMailjetProvider("key", "secret", "ideas@example.com", "", testLogger())
	m.api.endpoint = srv.URL
	_, err := m.Send(context.Background(), testMessage)
	if err == nil || !strings.Contains(err.Error(), "invalid recipient") {
		t.Errorf("Send() error = %v, want invalid recipient", err)
	}
}

func TestHTTPProvidersRetryPolicy(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
	}{
		{"bad request is final", http.StatusBadRequest, 1},
		{"unauthorized is final", http.StatusUnauthorized, 1},
		{"rate limited is retried", http.StatusTooManyRequests, 3},
		{"server error is retried", http.StatusInternalServerError, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			b := NewBrevoProvider("key", "ideas@example.com", "", testLogger())
			b.api.endpoint = srv.URL
			b.api.delay = time.Millisecond
			if _, err := b.Send(context.Background(), testMessage); err == nil {
				t.Fatal("Send() error = nil, want error")
			}
			if n := calls.Load(); n != tt.wantCalls {
				t.Errorf("calls = %d, want %d", n, tt.wantCalls)
			}
		})
	}
}

func TestBrevoSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "key" {
			t.Errorf("api-key = %q", r.Header.Get("api-key"))
		}
		var req brevoSendRequest
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Text != "hi" || req.Headers["List-Unsubscribe-Post"] != "List-Unsubscribe=One-Click" {
			t.Errorf("request = %+v", req)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"messageId":"<abc@smtp-relay.mailin.fr>"}`))
	}))
	defer srv.Close()

	b := NewBrevoProvider("key", "ideas@example.com", "CreatorMind", testLogger())
	b.api.endpoint = srv.URL
	id, err := b.Send(context.Background(), testMessage)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if id != "<abc@smtp-relay.mailin.fr>" {
		t.Errorf("Send() id = %q", id)
	}
}

func TestSanitizeEmailHeader(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"user@example.com", "user@example.com"},
		{"user@example.com\r\nBcc: evil@example.com", "user@example.comBcc: evil@example.com"},
		{"Subject\twith tab", "Subjectwith tab"},
		{"Ideas für dich", "Ideas für dich"},
	}
	for _, tt := range tests {
		if got := sanitizeEmailHeader(tt.in); got != tt.want {
			t.Errorf("sanitizeEmailHeader(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildMIME(t *testing.T) {
	msg := testMessage
	msg.Subject = "Hello\r\nBcc: evil@example.com"
	raw, err := buildMIME(msg)
	if err != nil {
		t.Fatalf("buildMIME() error = %v", err)
	}
	for _, want := range []string{
		"Subject: HelloBcc: evil@example.com\r\n",
		"List-Unsubscribe: <https://example.com/api/settings/unsubscribe?token=t>\r\n",
		"Content-Type: multipart/alternative; boundary=",
		"text/plain; charset=utf-8",
		"text/html; charset=utf-8",
		"<p>hi</p>",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("MIME missing %q", want)
		}
	}
	if strings.Contains(raw, "\r\nBcc:") {
		t.Error("header injection not prevented")
	}
}
