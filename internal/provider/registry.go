package provider

import (
	"sort"
	"sync"

	"github.com/rotisserie/eris"
)

// Registry holds the closed set of capability variants, keyed by the name the
// configuration selects them with (e.g. asr.provider = "http"). Variants are
// registered and selected once at startup; the executor then resolves the
// active variant per use.
type Registry struct {
	mu           sync.RWMutex
	transcribers map[string]Transcriber
	extractors   map[string]Extractor
	retrievers   map[string]Retriever
	dispatchers  map[string]Dispatcher

	activeTranscriber string
	activeExtractor   string
	activeRetriever   string
	activeDispatcher  string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		transcribers: make(map[string]Transcriber),
		extractors:   make(map[string]Extractor),
		retrievers:   make(map[string]Retriever),
		dispatchers:  make(map[string]Dispatcher),
	}
}

// RegisterTranscriber adds an ASR variant.
func (r *Registry) RegisterTranscriber(name string, t Transcriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcribers[name] = t
}

// RegisterExtractor adds an extraction variant.
func (r *Registry) RegisterExtractor(name string, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[name] = e
}

// RegisterRetriever adds a retrieval variant.
func (r *Registry) RegisterRetriever(name string, rt Retriever) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retrievers[name] = rt
}

// RegisterDispatcher adds a downstream-push variant.
func (r *Registry) RegisterDispatcher(name string, d Dispatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatchers[name] = d
}

// Use selects the active variant per capability. It fails fast on an unknown
// name so misconfiguration surfaces at startup, not on the first job.
func (r *Registry) Use(transcriber, retriever, extractor, dispatcher string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.transcribers[transcriber]; !ok {
		return eris.Errorf("provider: unknown transcriber %q (have %v)", transcriber, keys(r.transcribers))
	}
	if _, ok := r.retrievers[retriever]; !ok {
		return eris.Errorf("provider: unknown retriever %q (have %v)", retriever, keys(r.retrievers))
	}
	if _, ok := r.extractors[extractor]; !ok {
		return eris.Errorf("provider: unknown extractor %q (have %v)", extractor, keys(r.extractors))
	}
	if _, ok := r.dispatchers[dispatcher]; !ok {
		return eris.Errorf("provider: unknown dispatcher %q (have %v)", dispatcher, keys(r.dispatchers))
	}

	r.activeTranscriber = transcriber
	r.activeRetriever = retriever
	r.activeExtractor = extractor
	r.activeDispatcher = dispatcher
	return nil
}

// Transcriber returns the active ASR variant.
func (r *Registry) Transcriber() (Transcriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transcribers[r.activeTranscriber]
	if !ok {
		return nil, eris.Errorf("provider: no active transcriber (have %v)", keys(r.transcribers))
	}
	return t, nil
}

// Extractor returns the active extraction variant.
func (r *Registry) Extractor() (Extractor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[r.activeExtractor]
	if !ok {
		return nil, eris.Errorf("provider: no active extractor (have %v)", keys(r.extractors))
	}
	return e, nil
}

// Retriever returns the active retrieval variant.
func (r *Registry) Retriever() (Retriever, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.retrievers[r.activeRetriever]
	if !ok {
		return nil, eris.Errorf("provider: no active retriever (have %v)", keys(r.retrievers))
	}
	return rt, nil
}

// Dispatcher returns the active downstream-push variant.
func (r *Registry) Dispatcher() (Dispatcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dispatchers[r.activeDispatcher]
	if !ok {
		return nil, eris.Errorf("provider: no active dispatcher (have %v)", keys(r.dispatchers))
	}
	return d, nil
}

func keys[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
