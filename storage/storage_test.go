package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"creatormind/pkg/digest"
)

func newLocalStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(nil, "", dir, []byte("test-salt"), logger), dir
}

func TestTokenFromEmailNormalizes(t *testing.T) {
	s, _ := newLocalStore(t)
	a := s.TokenFromEmail("Creator@Example.com ")
	b := s.TokenFromEmail("creator@example.com")
	if a != b {
		t.Errorf("TokenFromEmail() not normalized: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("TokenFromEmail() length = %d, want 64", len(a))
	}

	other := New(nil, "", t.TempDir(), []byte("other-salt"), s.logger)
	if other.TokenFromEmail("creator@example.com") == a {
		t.Error("TokenFromEmail() should depend on the salt")
	}
}

func TestProfileKey(t *testing.T) {
	valid := strings.Repeat("ab", 32)
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"valid", valid, "profile-" + valid + ".json"},
		{"too short", "abc", ""},
		{"uppercase", strings.Repeat("AB", 32), ""},
		{"path traversal", "../" + valid[3:], ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ProfileKey(tt.token); got != tt.want {
				t.Errorf("ProfileKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, dir := newLocalStore(t)
	ctx := context.Background()

	p := &digest.Profile{
		Email:     "creator@example.com",
		Enabled:   true,
		Frequency: digest.Biweekly,
		Day:       "Friday",
		Time:      "18:30",
		Timezone:  "Europe/Lisbon",
		IdeaCount: 7,
		Preferences: digest.Preferences{
			FocusAreas: []string{"tutorials"},
		},
	}
	if err := s.Save(ctx, p); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if p.Token == "" || p.UserID == "" || p.CreatedAt.IsZero() {
		t.Fatalf("Save() did not fill identity fields: %+v", p)
	}
	if _, err := os.Stat(filepath.Join(dir, ProfileKey(p.Token))); err != nil {
		t.Fatalf("profile file missing: %v", err)
	}

	got, err := s.LoadByEmail(ctx, "creator@example.com")
	if err != nil {
		t.Fatalf("LoadByEmail() error = %v", err)
	}
	if got.UserID != p.UserID || got.Frequency != digest.Biweekly || got.IdeaCount != 7 {
		t.Errorf("LoadByEmail() = %+v", got)
	}
	if got.Day != "friday" {
		t.Errorf("Day = %q, want lowercase friday", got.Day)
	}
	if got.Preferences.AvoidTopics == nil {
		t.Error("Load() should default nil preference lists to empty")
	}

	byToken, err := s.LoadByToken(ctx, p.Token)
	if err != nil || byToken.Email != p.Email {
		t.Errorf("LoadByToken() = %+v, %v", byToken, err)
	}
}

func TestLoadMissing(t *testing.T) {
	s, _ := newLocalStore(t)
	ctx := context.Background()

	if _, err := s.LoadByEmail(ctx, "nobody@example.com"); !IsNotFound(err) {
		t.Errorf("LoadByEmail(missing) error = %v, want not found", err)
	}
	if _, err := s.LoadByToken(ctx, "not-a-token"); !IsNotFound(err) {
		t.Errorf("LoadByToken(bad format) error = %v, want not found", err)
	}
}

func TestListEnabledSkipsDisabledAndCorrupt(t *testing.T) {
	s, dir := newLocalStore(t)
	ctx := context.Background()

	for _, p := range []*digest.Profile{
		{Email: "on@example.com", Enabled: true},
		{Email: "off@example.com", Enabled: false},
	} {
		if err := s.Save(ctx, p); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "profile-corrupt.json"), []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600); err != nil {
		t.Fatal(err)
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("List() returned %d profiles, want 2", len(all))
	}

	enabled, err := s.ListEnabled(ctx)
	if err != nil {
		t.Fatalf("ListEnabled() error = %v", err)
	}
	if len(enabled) != 1 || enabled[0].Email != "on@example.com" {
		t.Errorf("ListEnabled() = %+v", enabled)
	}
}

func TestListFailsWhenDirectoryMissing(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s := New(nil, "", filepath.Join(t.TempDir(), "missing"), []byte("salt"), logger)
	if _, err := s.ListEnabled(context.Background()); err == nil {
		t.Error("ListEnabled() error = nil, want error for unreadable directory")
	}
}

func TestDelete(t *testing.T) {
	s, _ := newLocalStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, &digest.Profile{Email: "gone@example.com"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Delete(ctx, "gone@example.com"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.LoadByEmail(ctx, "gone@example.com"); !IsNotFound(err) {
		t.Errorf("LoadByEmail() after delete error = %v, want not found", err)
	}
	if err := s.Delete(ctx, "gone@example.com"); err != nil {
		t.Errorf("Delete(missing) error = %v, want nil", err)
	}
}
