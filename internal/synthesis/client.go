package synthesis

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrEmptyText = errors.New("synthesis: empty text")

// AudioStore keeps synthesized audio addressable by reference until the
// telephony provider fetches it for playback.
type AudioStore interface {
	Put(ctx context.Context, ref string, audio []byte) error
}

// Client drives an ElevenLabs-style text-to-speech endpoint and stores the
// result, returning an opaque audio reference for the injection queue.
type Client struct {
	endpoint string
	apiKey   string
	voiceID  string
	store    AudioStore
	client   *http.Client
}

func NewClient(endpoint, apiKey, defaultVoiceID string, timeout time.Duration, store AudioStore) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		voiceID:  defaultVoiceID,
		store:    store,
		client:   &http.Client{Timeout: timeout},
	}
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize produces speech for text and returns a stable audio reference.
// The reference is content-addressed so a retried segment reuses the same
// stored audio instead of creating a second copy.
func (c *Client) Synthesize(ctx context.Context, text, voiceID string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	if voiceID == "" {
		voiceID = c.voiceID
	}

	body, err := json.Marshal(ttsRequest{
		Text:    text,
		ModelID: "eleven_turbo_v2_5",
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=ulaw_8000", c.endpoint, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("synthesis: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("synthesis: endpoint returned %d: %s", resp.StatusCode, msg)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("synthesis: read audio: %w", err)
	}
	if len(audio) == 0 {
		return "", errors.New("synthesis: endpoint returned no audio")
	}

	sum := sha256.Sum256([]byte(voiceID + "|" + text))
	ref := "tts:" + hex.EncodeToString(sum[:16])
	if err := c.store.Put(ctx, ref, audio); err != nil {
		return "", fmt.Errorf("synthesis: store audio: %w", err)
	}
	return ref, nil
}
