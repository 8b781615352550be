package email

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"creatormind/pkg/digest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordingProvider struct {
	err  error
	sent []Message
}

func (r *recordingProvider) Send(ctx context.Context, msg Message) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.sent = append(r.sent, msg)
	return "msg-1", nil
}

func testProfile() *digest.Profile {
	return &digest.Profile{
		Email:     "creator@example.com",
		Name:      "Sam",
		Token:     "tok123",
		Frequency: digest.Weekly,
		Day:       "sunday",
		Time:      "09:00",
		Timezone:  "America/New_York",
		IdeaCount: 3,
		Enabled:   true,
	}
}

func testIdeas() *digest.IdeaSet {
	return &digest.IdeaSet{
		UserID: "u1",
		Ideas: []digest.Idea{
			{Title: "Ten knife skills", Hook: "Cut faster tonight.", Format: "tutorial", Rationale: "Tutorials do well.", Tags: []string{"cooking"}},
			{Title: "Kitchen <tools> ranked", Format: "listicle"},
			{Title: "A day at the market"},
		},
	}
}

func TestDigestBody(t *testing.T) {
	s := New(&recordingProvider{}, testLogger(), "https://example.com/", 0)
	local := time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)
	body := s.formatDigestBody(testProfile(), testIdeas(), local)

	for _, want := range []string{
		"Hi Sam, here are your video ideas",
		"Sunday, June 1, 2025 &bull; 3 ideas",
		"<h2>1. Ten knife skills</h2>",
		`<p class="hook">Cut faster tonight.</p>`,
		`<span class="format">tutorial</span>`,
		"#cooking",
		"Kitchen &lt;tools&gt; ranked",
		"on Sundays at 09:00 (America/New_York)",
		`href="https://example.com/api/settings/preferences?token=tok123"`,
		`href="https://example.com/api/settings/unsubscribe?token=tok123"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
	if strings.Contains(body, "<tools>") {
		t.Error("idea titles must be escaped")
	}
	if n := strings.Count(body, `<div class="idea">`); n != 3 {
		t.Errorf("idea blocks = %d, want 3", n)
	}
}

func TestDigestBodyWithoutTokenHasNoLinks(t *testing.T) {
	s := New(&recordingProvider{}, testLogger(), "https://example.com", 0)
	p := testProfile()
	p.Token = ""
	p.Name = ""
	body := s.formatDigestBody(p, testIdeas(), time.Now())
	if strings.Contains(body, "token=") {
		t.Error("body without token should not contain manage links")
	}
	if !strings.Contains(body, "<h1>Your video ideas</h1>") {
		t.Error("body without name should use the plain heading")
	}
}

func TestPlainText(t *testing.T) {
	s := New(&recordingProvider{}, testLogger(), "https://example.com", 0)
	body := s.formatDigestBody(testProfile(), testIdeas(), time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC))

	text, err := PlainText(body)
	if err != nil {
		t.Fatalf("PlainText() error = %v", err)
	}
	for _, want := range []string{
		"Hi Sam, here are your video ideas",
		"1. Ten knife skills\nCut faster tonight.",
		"Kitchen <tools> ranked",
		"Unsubscribe: <https://example.com/api/settings/unsubscribe?token=tok123>",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("text missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "<style") || strings.Contains(text, "font-family") {
		t.Error("text part should not contain CSS")
	}
}

func TestSendDigest(t *testing.T) {
	provider := &recordingProvider{}
	s := New(provider, testLogger(), "https://example.com", 0)
	// 2025-06-02 02:00 UTC is still June 1 in New York.
	s.now = func() time.Time { return time.Date(2025, time.June, 2, 2, 0, 0, 0, time.UTC) }

	res := s.SendDigest(context.Background(), testProfile(), testIdeas())
	if !res.Accepted || res.Err != nil || res.MessageID != "msg-1" {
		t.Fatalf("SendDigest() = %+v", res)
	}
	if len(provider.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(provider.sent))
	}
	msg := provider.sent[0]
	if msg.Subject != "Your 3 Video Ideas - 6/1/2025" {
		t.Errorf("Subject = %q, want local date", msg.Subject)
	}
	if msg.To != "creator@example.com" || msg.Text == "" || msg.HTML == "" {
		t.Errorf("message = %+v", msg)
	}
	if msg.ListUnsubscribe != "https://example.com/api/settings/unsubscribe?token=tok123" {
		t.Errorf("ListUnsubscribe = %q", msg.ListUnsubscribe)
	}
}

func TestSendDigestFailures(t *testing.T) {
	tests := []struct {
		name     string
		provider *recordingProvider
		set      *digest.IdeaSet
	}{
		{"provider error", &recordingProvider{err: errors.New("boom")}, testIdeas()},
		{"nil set", &recordingProvider{}, nil},
		{"no ideas", &recordingProvider{}, &digest.IdeaSet{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.provider, testLogger(), "https://example.com", 0)
			res := s.SendDigest(context.Background(), testProfile(), tt.set)
			if res.Accepted || res.Err == nil {
				t.Errorf("SendDigest() = %+v, want rejected with error", res)
			}
		})
	}
}

func TestSendDigestHonorsCanceledContextWhenPaced(t *testing.T) {
	s := New(&recordingProvider{}, testLogger(), "https://example.com", 1)
	ctx := context.Background()
	if res := s.SendDigest(ctx, testProfile(), testIdeas()); !res.Accepted {
		t.Fatalf("first SendDigest() = %+v", res)
	}
	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if res := s.SendDigest(canceled, testProfile(), testIdeas()); res.Accepted {
		t.Error("SendDigest() with canceled context should not be accepted")
	}
}

func TestEscapeHTML(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`<script>alert("x")</script>`, "&lt;script&gt;alert(&quot;x&quot;)&lt;/script&gt;"},
		{"Tom & Jerry's", "Tom &amp; Jerry&#39;s"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := escapeHTML(tt.in); got != tt.want {
			t.Errorf("escapeHTML(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
