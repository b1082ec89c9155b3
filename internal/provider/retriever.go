package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/sells-group/dispatch-cli/internal/model"
	"github.com/sells-group/dispatch-cli/internal/pack"
)

// PackRetriever answers retrieval queries from the loaded lexicon pack. It is
// deliberately local: the knowledge base is distributed as data, so lookups
// never leave the process.
type PackRetriever struct {
	pack *pack.Pack
}

// NewPackRetriever wraps a compiled pack.
func NewPackRetriever(p *pack.Pack) *PackRetriever {
	return &PackRetriever{pack: p}
}

func (r *PackRetriever) Retrieve(ctx context.Context, transcript string) (*model.RetrievalContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	incidents := r.pack.MatchKeywords(transcript)
	locations := r.pack.MatchLocations(transcript)

	if len(incidents) == 0 && len(locations) == 0 {
		return &model.RetrievalContext{HitScore: 0}, nil
	}

	var b strings.Builder
	if len(incidents) > 0 {
		names := make([]string, len(incidents))
		for i, inc := range incidents {
			names[i] = string(inc)
		}
		fmt.Fprintf(&b, "Lexicon evidence suggests incident types: %s.\n", strings.Join(names, ", "))
	}
	if len(locations) > 0 {
		fmt.Fprintf(&b, "Known locations mentioned: %s.\n", strings.Join(locations, ", "))
	}
	fmt.Fprintf(&b, "Pack: %s.", r.pack.Name)

	// Keyword evidence carries more weight than a place-name match alone.
	score := 0.0
	if len(incidents) > 0 {
		score += 0.6
		if len(incidents) == 1 {
			// A single unambiguous incident match is a stronger signal.
			score += 0.2
		}
	}
	if len(locations) > 0 {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}

	return &model.RetrievalContext{
		Context:  b.String(),
		HitScore: score,
	}, nil
}
