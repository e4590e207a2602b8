package brain

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/teslashibe/go-hyperion/pkg/command"
	"github.com/teslashibe/go-hyperion/pkg/envelope"
	"github.com/teslashibe/go-hyperion/pkg/imagegen"
	"github.com/teslashibe/go-hyperion/pkg/inference"
	"github.com/teslashibe/go-hyperion/pkg/protocol"
	"github.com/teslashibe/go-hyperion/pkg/tts"
)

const (
	synthTimeout  = 60 * time.Second
	visionTimeout = 30 * time.Second

	// ImageAck is sent as soon as an image request is taken.
	ImageAck = "Processing...\n"

	captionPrompt = "Describe this camera frame in one short sentence."
)

var errNoImages = errors.New("brain: image generation unavailable")

// draw runs an image request on the side pool. The request was counted in
// the keep-alive set by whoever queued it.
func (b *Brain) draw(e envelope.Envelope) {
	b.submit(e, func(ctx context.Context) { b.generate(ctx, e) })
}

func (b *Brain) generate(ctx context.Context, e envelope.Envelope) {
	args := command.DrawArgsFrom(e.CommandArgs)
	num := e.NumAnswer

	b.put(e.WithText(ImageAck))
	num++

	batch := max(1, args.Batch)
	imgs, err := b.generateImages(ctx, imagegen.Request{
		Prompt:        args.Sentence,
		Batch:         batch,
		Width:         args.Width,
		Height:        args.Height,
		Steps:         args.Steps,
		GuidanceScale: args.GuidanceScale,
	})
	if err != nil {
		b.logger.Error("image generation failed", "id", e.ID, "error", err)
		out := e.WithText(err.Error())
		out.Priority = num
		out.NumAnswer = num
		b.put(out)
		return
	}

	if args.Mosaic && batch > 1 {
		b.putImage(e, imagegen.Mosaic(imgs, len(imgs), 1), "", num)
		return
	}
	for i, img := range imgs {
		b.putImage(e, img, fmt.Sprintf("Image #%d", i+1), num)
		num++
	}
}

func (b *Brain) generateImages(ctx context.Context, req imagegen.Request) ([]image.Image, error) {
	if b.cfg.Images == nil {
		return nil, errNoImages
	}
	return b.cfg.Images.Generate(ctx, req)
}

func (b *Brain) putImage(e envelope.Envelope, img image.Image, text string, num int) {
	jpeg, err := imagegen.EncodeJPEG(img)
	if err != nil {
		b.logger.Error("image encoding failed", "id", e.ID, "error", err)
		return
	}
	out := e.WithText(text)
	out.ImageAnswer = jpeg
	out.Priority = num
	out.NumAnswer = num
	b.put(out)
}

// synthesize voices the answer and delivers it. Pushed envelopes go to the
// user's sessions instead of a sink.
func (b *Brain) synthesize(e envelope.Envelope) {
	if e.Termination {
		b.put(e)
		return
	}
	if !e.Silent && b.cfg.Speech != nil && strings.TrimSpace(e.TextAnswer) != "" {
		ctx, cancel := context.WithTimeout(b.ctx, synthTimeout)
		res, err := b.cfg.Speech.Synthesize(ctx, e.SpeechEngine, e.TextAnswer, e.Voice)
		cancel()
		if err != nil {
			b.logger.Error("synthesizer muted", "id", e.ID, "engine", e.SpeechEngine, "error", err)
		} else if samples, err := res.Samples(tts.OutputRate); err != nil {
			b.logger.Error("synthesized audio unreadable", "id", e.ID, "error", err)
		} else {
			e.SetAudio(samples)
		}
	}

	if e.Push {
		n := b.push(e.User, protocol.Encode(frameOf(e)))
		b.logger.Info("reminder pushed", "user", e.User, "sessions", n)
		return
	}
	b.put(e)
}

// caption describes a camera frame and keeps it as video context.
func (b *Brain) caption(frame []byte) {
	ctx, cancel := context.WithTimeout(b.ctx, visionTimeout)
	defer cancel()
	resp, err := b.cfg.Vision.Vision(ctx, &inference.VisionRequest{Image: frame, Prompt: captionPrompt})
	if err != nil {
		b.logger.Warn("captioning failed", "error", err)
		return
	}
	caption := strings.TrimSpace(resp.Content)
	if caption == "" {
		return
	}
	b.mu.Lock()
	b.video = videoCaption{caption: caption, at: time.Now()}
	b.mu.Unlock()
	b.logger.Debug("video context", "caption", caption)
}

type videoCaption struct {
	caption string
	at      time.Time
}

// videoContext returns the latest caption when it is still fresh.
func (b *Brain) videoContext() (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.video.caption == "" || time.Since(b.video.at) >= b.cfg.ContextTTL {
		return "", false
	}
	return b.video.caption, true
}
