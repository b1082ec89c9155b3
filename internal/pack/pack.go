// Package pack loads lexicon packs: data files carrying incident keywords,
// known locations and plausibility bounds for one deployment region. Pack
// content is compiled once at load time into immutable lookup tables and is
// never evaluated as code.
package pack

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/dispatch-cli/internal/model"
)

// file is the on-disk YAML shape.
type file struct {
	Name      string              `yaml:"name"`
	Language  string              `yaml:"language"`
	Keywords  map[string][]string `yaml:"keywords"`  // incident type -> trigger words
	Locations []string            `yaml:"locations"` // known place names
	Bounds    struct {
		MaxVictims int `yaml:"max_victims"`
	} `yaml:"bounds"`
}

// Pack is the compiled, immutable form.
type Pack struct {
	Name     string
	Language string

	keywordIndex  map[string]model.IncidentType // lowercased keyword -> type
	locationIndex map[string]struct{}           // lowercased place name
	maxVictims    int
}

// Load reads and compiles a pack file.
func Load(path string) (*Pack, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pack: read %s", path)
	}

	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, eris.Wrapf(err, "pack: parse %s", path)
	}
	if f.Name == "" {
		return nil, eris.Errorf("pack: %s missing name", path)
	}

	p := &Pack{
		Name:          f.Name,
		Language:      f.Language,
		keywordIndex:  make(map[string]model.IncidentType),
		locationIndex: make(map[string]struct{}),
		maxVictims:    f.Bounds.MaxVictims,
	}
	if p.maxVictims <= 0 {
		p.maxVictims = 500
	}

	for incident, words := range f.Keywords {
		if !model.ValidIncidentType(incident) {
			return nil, eris.Errorf("pack: %s references unknown incident type %q", path, incident)
		}
		for _, w := range words {
			p.keywordIndex[strings.ToLower(strings.TrimSpace(w))] = model.IncidentType(incident)
		}
	}
	for _, loc := range f.Locations {
		p.locationIndex[strings.ToLower(strings.TrimSpace(loc))] = struct{}{}
	}
	return p, nil
}

// MaxVictims is the plausibility ceiling on casualty counts.
func (p *Pack) MaxVictims() int { return p.maxVictims }

// MatchKeywords returns the incident types whose trigger words appear in text.
func (p *Pack) MatchKeywords(text string) []model.IncidentType {
	lower := strings.ToLower(text)
	seen := make(map[model.IncidentType]struct{})
	var out []model.IncidentType
	for kw, inc := range p.keywordIndex {
		if strings.Contains(lower, kw) {
			if _, ok := seen[inc]; !ok {
				seen[inc] = struct{}{}
				out = append(out, inc)
			}
		}
	}
	return out
}

// MatchLocations returns the known place names mentioned in text.
func (p *Pack) MatchLocations(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for loc := range p.locationIndex {
		if strings.Contains(lower, loc) {
			out = append(out, loc)
		}
	}
	return out
}

// KnownLocation reports whether loc matches an entry in the pack.
func (p *Pack) KnownLocation(loc string) bool {
	_, ok := p.locationIndex[strings.ToLower(strings.TrimSpace(loc))]
	return ok
}
