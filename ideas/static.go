package ideas

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"creatormind/pkg/digest"
)

// Static returns placeholder ideas for local development.
type Static struct {
	logger *slog.Logger
}

// NewStatic creates a generator that never calls a remote model.
func NewStatic(logger *slog.Logger) *Static {
	return &Static{logger: logger}
}

var staticFormats = []string{"tutorial", "listicle", "behind the scenes", "reaction", "case study"}

// Generate returns count deterministic ideas.
func (s *Static) Generate(ctx context.Context, userID string, count int, prefs digest.Preferences) (*digest.IdeaSet, error) {
	topic := "your niche"
	if len(prefs.FocusAreas) > 0 {
		topic = prefs.FocusAreas[0]
	}

	ideas := make([]digest.Idea, 0, count)
	for i := range count {
		format := staticFormats[i%len(staticFormats)]
		if len(prefs.PreferredFormats) > 0 {
			format = prefs.PreferredFormats[i%len(prefs.PreferredFormats)]
		}
		ideas = append(ideas, digest.Idea{
			Title:     fmt.Sprintf("Idea %d: a %s about %s", i+1, format, topic),
			Hook:      "Open with the question your audience asks most.",
			Format:    format,
			Rationale: "Placeholder idea generated without a model.",
		})
	}

	s.logger.Info("MOCK IDEAS", "user_id", userID, "count", count)
	return &digest.IdeaSet{UserID: userID, GeneratedAt: time.Now().UTC(), Ideas: ideas}, nil
}
