package digest

import (
	"strings"
	"testing"
	"time"
)

func TestFrequencyMinDays(t *testing.T) {
	tests := []struct {
		f    Frequency
		want int
	}{
		{Weekly, 7},
		{Biweekly, 14},
		{Monthly, 30},
		{"", 7},
		{"daily", 7},
	}
	for _, tt := range tests {
		if got := tt.f.MinDays(); got != tt.want {
			t.Errorf("Frequency(%q).MinDays() = %d, want %d", tt.f, got, tt.want)
		}
	}
}

func TestStatusSuccessful(t *testing.T) {
	for _, s := range []Status{StatusSent, StatusDelivered} {
		if !s.Successful() {
			t.Errorf("%s should count as successful", s)
		}
	}
	for _, s := range []Status{StatusOpened, StatusClicked, StatusBounced, StatusFailed, "queued"} {
		if s.Successful() {
			t.Errorf("%s should not count as successful", s)
		}
	}
	if Status("queued").Valid() {
		t.Error("unknown status reported valid")
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:05", 545, false},
		{" 23:59 ", 1439, false},
		{"9:5", 545, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"noon", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseClock(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseClock(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestProfileValidate(t *testing.T) {
	valid := func() *Profile {
		p := &Profile{Email: "creator@example.com", Enabled: true}
		p.ApplyDefaults()
		return p
	}

	tests := []struct {
		name    string
		mutate  func(*Profile)
		wantErr string
	}{
		{"defaults", func(*Profile) {}, ""},
		{"bad email", func(p *Profile) { p.Email = "not-an-email" }, "email"},
		{"bad frequency", func(p *Profile) { p.Frequency = "daily" }, "frequency"},
		{"bad day", func(p *Profile) { p.Day = "funday" }, "day"},
		{"bad time", func(p *Profile) { p.Time = "9am" }, "time"},
		{"bad timezone", func(p *Profile) { p.Timezone = "Mars/Olympus" }, "timezone"},
		{"too few ideas", func(p *Profile) { p.IdeaCount = 2 }, "ideacount"},
		{"too many ideas", func(p *Profile) { p.IdeaCount = 11 }, "ideacount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(p)
			err := p.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	p := &Profile{Email: "a@example.com", Day: "Monday"}
	p.ApplyDefaults()
	if p.Frequency != Weekly || p.Day != "monday" || p.Time != DefaultTime || p.Timezone != DefaultTimezone || p.IdeaCount != DefaultIdeaCount {
		t.Errorf("ApplyDefaults() = %+v", p)
	}
	if p.Preferences.FocusAreas == nil || p.Preferences.AvoidTopics == nil || p.Preferences.PreferredFormats == nil {
		t.Error("preference lists should be empty, not nil")
	}
}

func TestProfileID(t *testing.T) {
	if got := (&Profile{UserID: "u-1", Email: "A@x.com"}).ID(); got != "u-1" {
		t.Errorf("ID() = %q, want u-1", got)
	}
	if got := (&Profile{Email: " Creator@Example.com "}).ID(); got != "creator@example.com" {
		t.Errorf("ID() = %q, want normalized email", got)
	}
}

func TestDeliveredSubject(t *testing.T) {
	day := time.Date(2025, time.March, 7, 23, 30, 0, 0, time.UTC)
	if got, want := DeliveredSubject(5, day), "Your 5 Video Ideas - 3/7/2025"; got != want {
		t.Errorf("DeliveredSubject() = %q, want %q", got, want)
	}
}
