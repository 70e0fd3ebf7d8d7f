package chat

import (
	"context"
	"strings"

	"github.com/nugget/vidchat/internal/quality"
	"github.com/nugget/vidchat/internal/retrieval"
)

// Context is the grounding material the pipeline would use to answer a
// question, without generating anything.
type Context struct {
	VideoID     string          `json:"video_id"`
	Title       string          `json:"title"`
	Excerpt     string          `json:"excerpt"`
	Hits        []retrieval.Hit `json:"hits"`
	ContextMeta quality.Meta    `json:"context_meta"`
}

// Context loads videoID for userID and returns the excerpt, ranked
// segment hits, and context meta for question. maxChars overrides the
// configured excerpt bound when positive.
func (p *Pipeline) Context(ctx context.Context, videoID, userID, question string, maxChars int) (*Context, error) {
	video, err := p.videos.LoadVideo(ctx, videoID, userID)
	if err != nil {
		return nil, err
	}
	if maxChars <= 0 {
		maxChars = p.cfg.ExcerptChars
	}

	out := &Context{
		VideoID:     video.ID,
		Title:       video.Title,
		Hits:        retrieval.Select(video.Segments, question, retrieval.MaxHits),
		ContextMeta: assess(video),
	}
	if len(video.Segments) > 0 {
		out.Excerpt = retrieval.Retrieve(video.Segments, question, maxChars)
	} else {
		out.Excerpt = retrieval.Truncate(strings.TrimSpace(video.TranscriptText), maxChars)
	}
	if out.Hits == nil {
		out.Hits = []retrieval.Hit{}
	}
	return out, nil
}
