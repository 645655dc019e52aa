package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
)

type OpenAIClient struct {
	client          *openai.Client
	transcribeModel string
	speechModel     string
	voice           string
}

func NewOpenAI(apiKey, baseURL, transcribeModel, speechModel, voice string) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIClient{
		client:          openai.NewClientWithConfig(config),
		transcribeModel: transcribeModel,
		speechModel:     speechModel,
		voice:           voice,
	}
}

func (c *OpenAIClient) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if filename == "" {
		filename = "audio.webm"
	}
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.transcribeModel,
		FilePath: filename,
		Reader:   bytes.NewReader(audio),
		Language: "en",
	})
	if err != nil {
		return "", fmt.Errorf("failed to transcribe audio: %w", err)
	}
	transcript := strings.TrimSpace(resp.Text)
	if transcript == "" {
		return "", ErrNoSpeech
	}
	return transcript, nil
}

func (c *OpenAIClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.speechModel),
		Input:          text,
		Voice:          openai.SpeechVoice(c.voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize speech: %w", err)
	}
	defer func(r io.ReadCloser) {
		err := r.Close()
		if err != nil {
		}
	}(resp)
	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read synthesized audio: %w", err)
	}
	return audio, nil
}
