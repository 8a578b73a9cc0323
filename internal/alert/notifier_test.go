package alert

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAlertCues(t *testing.T) {
	decision := Decision{Label: "dog", HitCount: 2, Alert: true, Reason: ReasonFired}

	a := NewAlert(decision, DefaultSettings(), at(500))
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "dog", a.Label)
	assert.Equal(t, 2, a.HitCount)
	require.NotNil(t, a.Flash)
	assert.Equal(t, int64(1400), a.Flash.DurationMS)
	assert.Equal(t, 0.9, a.Flash.Intensity)
	assert.Equal(t, []int{200, 100, 200}, a.Vibration)
	require.NotNil(t, a.Beep)
	assert.Equal(t, 880, a.Beep.FrequencyHz)
	assert.Equal(t, int64(200), a.Beep.DurationMS)

	quiet := DefaultSettings()
	quiet.Flash = false
	quiet.Vibration = false
	quiet.Beep = false
	b := NewAlert(decision, quiet, at(500))
	assert.Nil(t, b.Flash)
	assert.Nil(t, b.Vibration)
	assert.Nil(t, b.Beep)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestBellNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewBellNotifier(&buf)

	require.NoError(t, n.Notify(context.Background(), Alert{Beep: &BeepCue{}}))
	require.NoError(t, n.Notify(context.Background(), Alert{}))
	assert.Equal(t, "\a", buf.String())
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	n := NewLogNotifier(logger)
	require.NoError(t, n.Notify(context.Background(), Alert{ID: "a1", Label: "dog", Confidence: 0.8}))

	assert.Contains(t, buf.String(), `"label":"dog"`)
	assert.Contains(t, buf.String(), `"alert_id":"a1"`)
}

type recordingNotifier struct {
	alerts []Alert
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, a Alert) error {
	r.alerts = append(r.alerts, a)
	return r.err
}

func TestMultiNotifierCallsEveryone(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("boom")}
	ok := &recordingNotifier{}

	err := MultiNotifier{failing, ok}.Notify(context.Background(), Alert{Label: "dog"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Len(t, failing.alerts, 1)
	assert.Len(t, ok.alerts, 1)

	assert.NoError(t, MultiNotifier{}.Notify(context.Background(), Alert{}))
}
