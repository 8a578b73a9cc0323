package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricardorosenberg/tikun/internal/api"
	"github.com/ricardorosenberg/tikun/internal/audio"
)

func newTestTrainer(source *fakeSource, client *fakeAPI) *Trainer {
	return NewTrainer(TrainerConfig{
		SampleRate:    16000,
		WindowSeconds: 0.96,
		UploadTimeout: time.Second,
	}, "doorbell", source, client, testMetrics(), discardLogger())
}

func fullClip() [][]float32 {
	return [][]float32{
		chunk(4096, 0.2), chunk(4096, 0.2), chunk(4096, 0.2), chunk(4096, 0.2),
	}
}

func TestTrainerRecordAndSubmit(t *testing.T) {
	source := &fakeSource{preload: fullClip()}
	client := &fakeAPI{}
	tr := newTestTrainer(source, client)

	assert.Equal(t, StatusTrainReady, tr.Info().Status)

	clip, err := tr.Record(context.Background())
	require.NoError(t, err)
	assert.Len(t, clip, audio.WAVHeaderSize+15360*2)
	assert.Equal(t, 1, source.stopCount(), "the microphone is released after one clip")

	info := tr.Info()
	assert.Equal(t, StateIdle, info.State)
	assert.Equal(t, StatusTrainReview, info.Status)
	assert.True(t, info.HasClip)

	sample, err := tr.Submit(context.Background(), api.LabelPositive)
	require.NoError(t, err)
	assert.Equal(t, "doorbell", sample.SoundID)

	info = tr.Info()
	assert.Equal(t, StatusTrainSaved, info.Status)
	assert.False(t, info.HasClip)
	assert.Len(t, info.Samples, 1)
	assert.Equal(t, []string{"positive/doorbell"}, client.uploads)

	_, err = tr.Submit(context.Background(), api.LabelPositive)
	assert.ErrorIs(t, err, ErrNoClip)
}

func TestTrainerSubmitInvalidLabel(t *testing.T) {
	source := &fakeSource{preload: fullClip()}
	client := &fakeAPI{}
	tr := newTestTrainer(source, client)

	_, err := tr.Record(context.Background())
	require.NoError(t, err)

	_, err = tr.Submit(context.Background(), "maybe")
	assert.ErrorIs(t, err, api.ErrInvalidLabel)
	assert.True(t, tr.Info().HasClip, "a rejected label keeps the clip")
	assert.Empty(t, client.uploads)
}

func TestTrainerUploadFailureKeepsClip(t *testing.T) {
	source := &fakeSource{preload: fullClip()}
	client := &fakeAPI{uploadErr: &api.APIError{StatusCode: 500}}
	tr := newTestTrainer(source, client)

	_, err := tr.Record(context.Background())
	require.NoError(t, err)

	_, err = tr.Submit(context.Background(), api.LabelNegative)
	require.Error(t, err)

	info := tr.Info()
	assert.True(t, info.HasClip)
	assert.Equal(t, StatusConnection, info.Status)
}

func TestTrainerSourceEndsEarly(t *testing.T) {
	source := &fakeSource{preload: [][]float32{chunk(4096, 0.2)}, drain: true}
	tr := newTestTrainer(source, &fakeAPI{})

	_, err := tr.Record(context.Background())
	require.Error(t, err)

	info := tr.Info()
	assert.False(t, info.HasClip)
	assert.Equal(t, StatusTrainReady, info.Status)
	assert.Equal(t, StateIdle, info.State)
}

func TestTrainerDiscard(t *testing.T) {
	source := &fakeSource{preload: fullClip()}
	tr := newTestTrainer(source, &fakeAPI{})

	_, err := tr.Record(context.Background())
	require.NoError(t, err)
	require.NotNil(t, tr.Clip())

	tr.Discard()
	assert.Nil(t, tr.Clip())
	assert.Equal(t, StatusTrainReady, tr.Info().Status)

	_, err = tr.Submit(context.Background(), api.LabelSimilar)
	assert.ErrorIs(t, err, ErrNoClip)
}

func TestTrainerOpenRebuildsOnce(t *testing.T) {
	client := &fakeAPI{}
	tr := newTestTrainer(&fakeSource{}, client)

	tr.Open()
	require.NoError(t, tr.Wait(context.Background()))

	client.mu.Lock()
	rebuilds := client.rebuilds
	client.mu.Unlock()
	assert.Equal(t, 1, rebuilds)

	info := tr.Info()
	require.NotNil(t, info.Rebuild)
	assert.Equal(t, 3, info.Rebuild.Samples)
}

func TestTrainerSubmitClip(t *testing.T) {
	client := &fakeAPI{}
	tr := newTestTrainer(&fakeSource{}, client)

	clip := audio.EncodeClip(make([]float32, 15360), 16000)
	_, err := tr.SubmitClip(context.Background(), clip, api.LabelPositive)
	require.NoError(t, err)
	assert.Equal(t, []string{"positive/doorbell"}, client.uploads)

	_, err = tr.SubmitClip(context.Background(), []byte("not a wav"), api.LabelPositive)
	assert.Error(t, err)
}

func TestTrainerStopWhenIdle(t *testing.T) {
	tr := newTestTrainer(&fakeSource{}, &fakeAPI{})
	assert.ErrorIs(t, tr.Stop(), ErrNotRunning)
	assert.Equal(t, KindTrainer, tr.Summary().Kind)
}
