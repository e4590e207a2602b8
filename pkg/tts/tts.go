// Package tts turns answer sentences into PCM speech.
//
// Every engine (OpenAI, Amazon Polly, Google Cloud Text-to-Speech) returns
// 16-bit little-endian mono PCM at its native rate; AudioResult.Samples
// converts it to the pipeline's output rate. Engines picks an engine by
// name per request, or tries the preferred order with fallback.
//
// Example usage:
//
//	provider, _ := tts.NewOpenAI(tts.WithAPIKey(os.Getenv("OPENAI_API_KEY")))
//	defer provider.Close()
//
//	result, _ := provider.Synthesize(ctx, "Hello world", "")
//	samples, _ := result.Samples(tts.OutputRate)
package tts

import (
	"context"
	"time"
)

// OutputRate is the sample rate of the audio put on the wire.
const OutputRate = 24000

// Provider defines the TTS provider interface.
type Provider interface {
	// Synthesize converts text to audio. An empty voice selects the
	// provider's configured default.
	Synthesize(ctx context.Context, text, voice string) (*AudioResult, error)

	// Close releases any resources held by the provider.
	Close() error
}

// AudioResult is a complete synthesis result.
type AudioResult struct {
	// Audio is raw PCM16 little-endian mono.
	Audio []byte

	// SampleRate of Audio in Hz.
	SampleRate int

	// Duration is the playback duration.
	Duration time.Duration

	CharCount int
	LatencyMs int64
}

// Samples decodes the audio and resamples it to rate.
func (r *AudioResult) Samples(rate int) ([]int16, error) {
	pcm, err := DecodePCM16(r.Audio)
	if err != nil {
		return nil, err
	}
	return Resample(pcm, r.SampleRate, rate), nil
}

func newResult(audio []byte, rate int, text string, start time.Time) *AudioResult {
	return &AudioResult{
		Audio:      audio,
		SampleRate: rate,
		Duration:   time.Duration(len(audio)/2) * time.Second / time.Duration(rate),
		CharCount:  len(text),
		LatencyMs:  time.Since(start).Milliseconds(),
	}
}
