package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dispatch-cli/internal/model"
	"github.com/sells-group/dispatch-cli/internal/pack"
	"github.com/sells-group/dispatch-cli/pkg/inference"
)

func loadTestPack(t *testing.T) *pack.Pack {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: test
language: en
keywords:
  fire_building:
    - "building on fire"
    - "house is burning"
  drowning:
    - "fell into the water"
locations:
  - "main street"
  - "harbor pier"
bounds:
  max_victims: 500
`), 0o644))
	p, err := pack.Load(path)
	require.NoError(t, err)
	return p
}

func TestPackRetriever_StrongSingleMatch(t *testing.T) {
	r := NewPackRetriever(loadTestPack(t))

	got, err := r.Retrieve(context.Background(), "the building on fire is near main street")
	require.NoError(t, err)

	// One incident family (0.6 + 0.2 single-match) plus a location (0.2).
	assert.InDelta(t, 1.0, got.HitScore, 0.001)
	assert.Contains(t, got.Context, "fire_building")
	assert.Contains(t, got.Context, "main street")
	assert.Contains(t, got.Context, "Pack: test")
}

func TestPackRetriever_KeywordOnly(t *testing.T) {
	r := NewPackRetriever(loadTestPack(t))

	got, err := r.Retrieve(context.Background(), "someone fell into the water")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, got.HitScore, 0.001)
}

func TestPackRetriever_LocationOnly(t *testing.T) {
	r := NewPackRetriever(loadTestPack(t))

	got, err := r.Retrieve(context.Background(), "something happened at harbor pier")
	require.NoError(t, err)
	assert.InDelta(t, 0.2, got.HitScore, 0.001)
}

func TestPackRetriever_MissScoresZero(t *testing.T) {
	r := NewPackRetriever(loadTestPack(t))

	got, err := r.Retrieve(context.Background(), "nothing recognizable here")
	require.NoError(t, err)
	assert.Zero(t, got.HitScore)
	assert.Empty(t, got.Context)
}

func TestPackExtractor(t *testing.T) {
	e := NewPackExtractor(loadTestPack(t))

	got, err := e.Extract(context.Background(), "the house is burning on main street", "", PromptStandard)
	require.NoError(t, err)
	assert.Equal(t, model.IncidentFireBuilding, got.IncidentType)
	assert.Equal(t, model.UrgencyHigh, got.Urgency)
	assert.Equal(t, "main street", got.Location)

	got, err = e.Extract(context.Background(), "no keywords at all", "", PromptStandard)
	require.NoError(t, err)
	assert.Equal(t, model.IncidentUnknown, got.IncidentType)
	assert.Equal(t, model.UrgencyUnknown, got.Urgency)
	assert.Equal(t, "unknown", got.Location)
}

func TestConvertExtraction_NormalizesCase(t *testing.T) {
	got, err := convertExtraction(&inference.IncidentExtraction{
		IncidentType: " Fire_Building ",
		Urgency:      "HIGH",
		Location:     " main street 12 ",
	})
	require.NoError(t, err)
	assert.Equal(t, model.IncidentFireBuilding, got.IncidentType)
	assert.Equal(t, model.UrgencyHigh, got.Urgency)
	assert.Equal(t, "main street 12", got.Location)
}

func TestConvertExtraction_RejectsOutOfSet(t *testing.T) {
	_, err := convertExtraction(&inference.IncidentExtraction{
		IncidentType: "alien_invasion",
		Urgency:      "high",
		Location:     "downtown",
	})
	require.ErrorIs(t, err, ErrSchemaViolation)

	_, err = convertExtraction(&inference.IncidentExtraction{
		IncidentType: "fire_building",
		Urgency:      "apocalyptic",
		Location:     "downtown",
	})
	require.ErrorIs(t, err, ErrSchemaViolation)
}

func TestMockTranscriber_UsesTextPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "call.audio")
	require.NoError(t, os.WriteFile(path, []byte("There is a FIRE on   Main Street"), 0o644))

	tr := NewMockTranscriber(0.9)
	got, err := tr.Transcribe(context.Background(), path, "en")
	require.NoError(t, err)

	assert.Equal(t, "There is a FIRE on   Main Street", got.Text)
	assert.Equal(t, "there is a fire on main street", got.Normalized)
	assert.InDelta(t, 0.9, got.Confidence, 0.001)
	assert.Equal(t, "en", got.Language)
}

func TestMockTranscriber_BinaryPayloadFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "call.audio")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xfe, 0x00, 0x80}, 0o644))

	tr := NewMockTranscriber(0.5)
	got, err := tr.Transcribe(context.Background(), path, "")
	require.NoError(t, err)
	assert.Equal(t, "inaudible call audio", got.Text)
}

func TestMockTranscriber_MissingFile(t *testing.T) {
	tr := NewMockTranscriber(0.5)
	_, err := tr.Transcribe(context.Background(), "/nonexistent/call.audio", "")
	require.Error(t, err)
}

func TestRegistry_UseValidatesNames(t *testing.T) {
	r := NewRegistry()
	r.RegisterTranscriber("mock", NewMockTranscriber(1))
	r.RegisterRetriever("pack", NewPackRetriever(loadTestPack(t)))
	r.RegisterExtractor("pack", NewPackExtractor(loadTestPack(t)))
	r.RegisterDispatcher("log", LogDispatcher{})

	err := r.Use("mock", "pack", "nope", "log")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown extractor "nope"`)

	require.NoError(t, r.Use("mock", "pack", "pack", "log"))

	tr, err := r.Transcriber()
	require.NoError(t, err)
	assert.NotNil(t, tr)
	d, err := r.Dispatcher()
	require.NoError(t, err)
	assert.NotNil(t, d)
}

func TestRegistry_NoActiveVariant(t *testing.T) {
	r := NewRegistry()
	_, err := r.Transcriber()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no active transcriber")
}

func TestLogDispatcher_AlwaysSucceeds(t *testing.T) {
	d := LogDispatcher{}
	err := d.Push(context.Background(), &model.Decision{
		Action: model.ActionAutoDispatch,
		Target: "fire_brigade",
	}, &model.OperationalState{}, "corr-1")
	require.NoError(t, err)
}
