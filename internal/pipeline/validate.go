package pipeline

import (
	"strings"

	"github.com/sells-group/dispatch-cli/internal/model"
)

// maxPlausibleVictims bounds the victim count a single call can plausibly
// report. Larger values are treated as extraction noise.
const maxPlausibleVictims = 500

// validateExtraction checks the Infer output against the closed schema. The
// enum sets are fixed; an out-of-set category is a violation even when it
// looks reasonable, because downstream routing only understands the closed
// taxonomy.
func validateExtraction(e *model.Extraction, inferErr error) *model.ValidationVerdict {
	v := &model.ValidationVerdict{}

	if inferErr != nil {
		v.Problems = append(v.Problems, inferErr.Error())
	}
	if e == nil {
		v.Problems = append(v.Problems, "no extraction produced")
		return v
	}

	if !model.ValidIncidentType(string(e.IncidentType)) {
		v.Problems = append(v.Problems, "incident_type not in taxonomy: "+string(e.IncidentType))
	}
	if !model.ValidUrgencyLevel(string(e.Urgency)) {
		v.Problems = append(v.Problems, "urgency not in taxonomy: "+string(e.Urgency))
	}
	if strings.TrimSpace(e.Location) == "" {
		v.Problems = append(v.Problems, "location missing")
	}
	if e.VictimCount != nil {
		if *e.VictimCount < 0 {
			v.Problems = append(v.Problems, "victim_count negative")
		} else if *e.VictimCount > maxPlausibleVictims {
			v.Problems = append(v.Problems, "victim_count implausibly large")
		}
	}

	v.Passed = len(v.Problems) == 0
	return v
}
