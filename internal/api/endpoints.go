package api

import (
	"context"
	"net/http"
	"net/url"
)

// Infer uploads one encoded window and returns the prediction
func (c *Client) Infer(ctx context.Context, clip []byte) (*Prediction, error) {
	req, err := multipartRequest("infer", "/api/infer", "chunk.wav", clip, nil)
	if err != nil {
		return nil, err
	}

	var prediction Prediction
	if err := c.do(ctx, req, &prediction); err != nil {
		return nil, err
	}
	return &prediction, nil
}

// UploadSample uploads a labeled training clip for soundID
func (c *Client) UploadSample(ctx context.Context, clip []byte, label, soundID string) (*TrainingSample, error) {
	if err := ValidateLabel(label); err != nil {
		return nil, err
	}

	fields := map[string]string{"label": label}
	if soundID != "" {
		fields["sound_id"] = soundID
	}

	req, err := multipartRequest("train_sample", "/api/train/sample", "clip.wav", clip, fields)
	if err != nil {
		return nil, err
	}
	// a retried upload would store the sample twice
	req.once = true

	var sample TrainingSample
	if err := c.do(ctx, req, &sample); err != nil {
		return nil, err
	}
	return &sample, nil
}

// Rebuild asks the API to refit the user's classifier from stored samples
func (c *Client) Rebuild(ctx context.Context) (*RebuildResult, error) {
	var result RebuildResult
	err := c.do(ctx, request{operation: "rebuild", method: http.MethodPost, path: "/api/train/rebuild"}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ListDetections returns the user's most recent detections, newest first
func (c *Client) ListDetections(ctx context.Context) ([]Detection, error) {
	var detections []Detection
	err := c.do(ctx, request{operation: "list_detections", method: http.MethodGet, path: "/api/detections"}, &detections)
	if err != nil {
		return nil, err
	}
	return detections, nil
}

// ListSounds returns the user's sound definitions
func (c *Client) ListSounds(ctx context.Context) ([]Sound, error) {
	var list soundList
	err := c.do(ctx, request{operation: "list_sounds", method: http.MethodGet, path: "/api/sounds"}, &list)
	if err != nil {
		return nil, err
	}
	return list.Sounds, nil
}

// CreateSound defines a new sound
func (c *Client) CreateSound(ctx context.Context, sound SoundCreate) (*Sound, error) {
	req, err := jsonRequest("create_sound", http.MethodPost, "/api/sounds", sound)
	if err != nil {
		return nil, err
	}

	var created Sound
	if err := c.do(ctx, req, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateSound applies a partial update to a sound
func (c *Client) UpdateSound(ctx context.Context, id string, update SoundUpdate) (*Sound, error) {
	req, err := jsonRequest("update_sound", http.MethodPatch, "/api/sounds/"+url.PathEscape(id), update)
	if err != nil {
		return nil, err
	}

	var updated Sound
	if err := c.do(ctx, req, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteSound removes a sound definition
func (c *Client) DeleteSound(ctx context.Context, id string) error {
	return c.do(ctx, request{
		operation: "delete_sound",
		method:    http.MethodDelete,
		path:      "/api/sounds/" + url.PathEscape(id),
	}, nil)
}

// Health checks API reachability
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var health Health
	err := c.do(ctx, request{operation: "health", method: http.MethodGet, path: "/health"}, &health)
	if err != nil {
		return nil, err
	}
	return &health, nil
}
