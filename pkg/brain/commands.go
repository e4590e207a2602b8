package brain

import (
	"context"
	"time"

	"github.com/teslashibe/go-hyperion/pkg/command"
	"github.com/teslashibe/go-hyperion/pkg/envelope"
	"github.com/teslashibe/go-hyperion/pkg/transcribe"
)

const transcribeTimeout = 60 * time.Second

// Control tags put on the wire as silent answers.
const (
	TagCommand  = "<CMD>"
	TagError    = "<ERR>"
	TagSleeping = "<SLEEPING>"
	TagWake     = "<WAKE>"
	TagMemWipe  = "<MEMWIPE>"

	InvalidArguments = "Invalid arguments"
)

// listen turns the request audio into text. Audio that is not
// understood leaves the text request empty, which the chat stage answers
// with a placeholder.
func (b *Brain) listen(e envelope.Envelope) {
	if b.cfg.Transcriber == nil {
		b.logger.Warn("speech request without transcriber", "id", e.ID)
		b.transcriber.Dispatch(e)
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, transcribeTimeout)
	res, err := b.cfg.Transcriber.Transcribe(ctx, e.AudioRequest, transcribe.InputRate)
	cancel()

	switch {
	case err != nil:
		b.logger.Error("transcription failed", "id", e.ID, "error", err)
	case !res.Understood(b.cfg.ConfidenceThreshold):
		b.logger.Info("speech not understood", "id", e.ID, "confidence", res.Confidence)
	default:
		e.TextRequest = res.Text
		e.RequestLang = res.Language
		b.logger.Info("transcribed", "id", e.ID, "user", e.User, "text", res.Text, "lang", res.Language)
	}
	b.transcriber.Dispatch(e)
}

// detect handles the user's own commands before chat. Anything that is not
// a command goes on to the chat stage unless the assistant sleeps.
func (b *Brain) detect(e envelope.Envelope) {
	d, found := b.detector.Detect(e.TextRequest)
	asleep := b.asleep.Load()
	if !found {
		if asleep {
			b.put(e.Terminate(b.now()))
			return
		}
		b.commands.Dispatch(e)
		return
	}

	b.logger.Info("user command", "id", e.ID, "action", d.Action, "asleep", asleep)
	term := e.Terminate(b.now())

	switch {
	case d.Action == command.ActionWake:
		b.asleep.Store(false)
		b.put(e.Control(TagWake, e.Priority))
		b.put(term)

	case asleep:
		b.put(term)

	case d.Action == command.ActionSleep:
		b.asleep.Store(true)
		b.put(e.Control(TagSleeping, e.Priority))
		b.put(term)

	case d.Action == command.ActionWipe:
		b.wipe(e.Preprompt)
		b.put(e.Control(TagMemWipe, e.Priority))
		b.put(term)

	case d.Action == command.ActionQuiet:
		b.interrupt(e.SessionID)
		term.Priority = 0
		b.put(term)

	case d.Action == command.ActionDraw:
		args, err := command.ParseDraw(d.Args)
		if err != nil {
			b.logger.Warn("invalid draw command", "id", e.ID, "error", err)
			b.put(e.Control(TagError, 0))
			b.put(e.Control(InvalidArguments, e.Priority))
			term.Priority = 2
			b.put(term)
			return
		}
		e.CommandArgs = args.Map()
		b.keepAlive.Add(e.ID)
		b.keepAlive.AddTermination(e.ID, term)
		b.imageIntake.Put(e)
	}
}
