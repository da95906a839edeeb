package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/teslashibe/go-vista/internal/httpc"
)

const (
	openAITTSURL   = "https://api.openai.com/v1/audio/speech"
	providerOpenAI = "openai"
)

// OpenAI model options
const (
	ModelTTS1   = "tts-1"    // Standard quality, faster
	ModelTTS1HD = "tts-1-hd" // Higher quality, slower
)

// VoiceShimmer is the default remote voice.
const VoiceShimmer = "shimmer"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// OpenAI synthesizes MP3 remotely and plays it through the player command.
type OpenAI struct {
	config  *Config
	client  *http.Client
	logger  *slog.Logger
	baseURL string
	player  string
}

// NewOpenAI creates a remote engine. It needs an API key and a player
// binary; without either it returns ErrUnavailable-wrapped errors.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.Voice = VoiceShimmer
	cfg.Apply(opts...)
	cfg.clamp()

	if cfg.APIKey == "" {
		return nil, WrapError(providerOpenAI, ErrNoAPIKey)
	}
	if len(cfg.Player) == 0 {
		return nil, WrapError(providerOpenAI, fmt.Errorf("%w: no player", ErrUnavailable))
	}
	player, err := exec.LookPath(cfg.Player[0])
	if err != nil {
		return nil, WrapError(providerOpenAI, fmt.Errorf("%w: %s not found", ErrUnavailable, cfg.Player[0]))
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAITTSURL
	}
	return &OpenAI{
		config:  cfg,
		client:  httpc.NewClient(cfg.Timeout),
		logger:  cfg.Logger.With("component", "speech.openai"),
		baseURL: baseURL,
		player:  player,
	}, nil
}

type synthesisRequest struct {
	Model          string  `json:"model"`
	Voice          string  `json:"voice"`
	Input          string  `json:"input"`
	Speed          float64 `json:"speed"`
	ResponseFormat string  `json:"response_format"`
}

// Synthesize returns MP3 audio for text.
func (o *OpenAI) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(synthesisRequest{
		Model:          o.config.Model,
		Voice:          o.config.Voice,
		Input:          text,
		Speed:          float64(o.config.Rate) / 160,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return nil, WrapError(providerOpenAI, fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(providerOpenAI, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+o.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, WrapError(providerOpenAI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg)), Provider: providerOpenAI}
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerOpenAI, fmt.Errorf("read response: %w", err))
	}
	return audio, nil
}

// Speak synthesizes text and plays it.
func (o *OpenAI) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	audio, err := o.Synthesize(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	cmd := exec.CommandContext(ctx, o.player, o.config.Player[1:]...)
	cmd.Stdin = bytes.NewReader(audio)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return WrapError(providerOpenAI, fmt.Errorf("%w: player: %v", ErrUnavailable, err))
	}
	o.logger.Debug("spoke", "chars", len(text), "bytes", len(audio))
	return nil
}

// Health reports whether an API key is configured.
func (o *OpenAI) Health(ctx context.Context) error {
	if o.config.APIKey == "" {
		return WrapError(providerOpenAI, ErrNoAPIKey)
	}
	return nil
}

// Close releases idle connections.
func (o *OpenAI) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

var _ Engine = (*OpenAI)(nil)
