package brain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/teslashibe/go-hyperion/pkg/command"
	"github.com/teslashibe/go-hyperion/pkg/envelope"
	"github.com/teslashibe/go-hyperion/pkg/inference"
	"github.com/teslashibe/go-hyperion/pkg/knowledge"
)

const sideTimeout = 5 * time.Minute

// interpret scans answer text for embedded commands. Terminations are held
// back while side work for the same conversation is pending.
func (b *Brain) interpret(e envelope.Envelope) {
	if !e.HasText {
		if e.Termination {
			b.flushCommand(e.ID)
			if b.keepAlive.AddTermination(e.ID, e) {
				b.logger.Debug("termination held for pending work", "id", e.ID)
				return
			}
		}
		b.interpreter.Dispatch(e)
		return
	}

	step := b.interp.Feed(e.ID, e.TextAnswer, time.Now())
	switch step.Outcome {
	case command.Buffered:
		if _, ok := b.held[e.ID]; !ok {
			b.held[e.ID] = e
		}
	case command.Forward:
		delete(b.held, e.ID)
		b.forward(e.WithText(step.Text))
	case command.Matched:
		delete(b.held, e.ID)
		b.logger.Info("command found", "id", e.ID, "command", step.Match.Name(), "raw", step.Match.Raw)
		e = e.WithText(step.Text)
		b.interpreter.Dispatch(e.Control(TagCommand, 0))
		b.runCommand(e, step.Match)
	}
}

// forward sends answer text downstream, skipping blank leftovers of a
// removed command.
func (b *Brain) forward(e envelope.Envelope) {
	if e.HasText && strings.TrimSpace(e.TextAnswer) == "" {
		return
	}
	b.interpreter.Dispatch(e)
}

func (b *Brain) invalid(e envelope.Envelope) {
	b.interpreter.Dispatch(e.Control(TagError, 0))
	b.interpreter.Dispatch(e.Control(InvalidArguments, e.Priority))
}

func (b *Brain) runCommand(e envelope.Envelope, m command.Match) {
	switch m.Name() {
	case command.Draw:
		args, err := command.ParseDraw(m.Raw)
		if err != nil {
			b.logger.Warn("invalid draw command", "id", e.ID, "error", err)
			b.invalid(e)
			return
		}
		draw := e.Copy()
		draw.CommandArgs = args.Map()
		b.keepAlive.Add(e.ID)
		b.imageIntake.Put(draw)
		b.forward(e.WithText(m.Replace(e.TextAnswer, args.Sentence)))

	case command.Query:
		args, err := command.ParseQuery(m.Raw)
		if err != nil {
			b.logger.Warn("invalid query command", "id", e.ID, "error", err)
			b.invalid(e)
			return
		}
		out := e.WithText(m.Replace(e.TextAnswer, args.Query))
		if len(e.Indexes) == 0 || b.cfg.Knowledge == nil {
			b.forward(out)
			return
		}
		b.side(out, func(ctx context.Context) { b.query(ctx, out, args.Query) })

	case command.Schedule:
		args, err := command.ParseSchedule(m.Raw)
		if err == nil {
			err = b.schedule(e, args)
		}
		if err != nil {
			b.logger.Warn("invalid schedule command", "id", e.ID, "error", err)
			b.invalid(e)
			return
		}
		b.forward(e.WithText(m.Replace(e.TextAnswer, args.Sentence)))

	case command.Quiet:
		b.interrupt(e.SessionID)
		b.forward(e.WithText(m.Replace(e.TextAnswer, "")))

	case command.Wipe:
		b.wipe(e.Preprompt)
		b.forward(e.WithText(m.Replace(e.TextAnswer, "")))
	}
}

// side counts a pending job for e's conversation and runs it on the side
// pool.
func (b *Brain) side(e envelope.Envelope, job func(ctx context.Context)) {
	b.keepAlive.Add(e.ID)
	b.submit(e, job)
}

// submit runs job on the side pool for work already counted in the
// keep-alive set, releasing it when job returns.
func (b *Brain) submit(e envelope.Envelope, job func(ctx context.Context)) {
	err := b.sidePool.Submit(b.ctx, func() {
		defer b.release(e.ID)
		ctx, cancel := context.WithTimeout(b.ctx, sideTimeout)
		defer cancel()
		job(ctx)
	})
	if err != nil {
		b.logger.Error("side task not submitted", "id", e.ID, "error", err)
		b.release(e.ID)
	}
}

// release drops one pending job for id. The termination goes through the
// synthesizer so it queues behind answers still being synthesized.
func (b *Brain) release(id string) {
	if term, ok := b.keepAlive.Remove(id); ok {
		b.synth.Intake().Put(term)
	}
}

func (b *Brain) query(ctx context.Context, e envelope.Envelope, query string) {
	passages, err := knowledge.QueryAll(ctx, b.cfg.Knowledge, e.Indexes, query)
	if err != nil && len(passages) == 0 {
		b.logger.Error("knowledge query failed", "id", e.ID, "error", err)
		b.synth.Intake().Put(e.Control(TagError, 0))
		b.synth.Intake().Put(e.Control(err.Error(), e.NumAnswer))
		return
	}
	if err != nil {
		b.logger.Warn("knowledge query partially failed", "id", e.ID, "error", err)
	}

	found := knowledge.Format(passages)
	out := e.WithText(e.TextAnswer + "\n" + found)
	out.Priority = e.NumAnswer
	b.synth.Intake().Put(out)
	b.addKnowledgeContext(e, found)
}

// addKnowledgeContext records query results in the persona's history so
// the next turns can use them.
func (b *Brain) addKnowledgeContext(e envelope.Envelope, found string) {
	if b.cfg.NoMemory || found == "" {
		return
	}
	h, err := b.cfg.Histories.For(b.cfg.Personas.Resolve(e.Preprompt))
	if err != nil {
		b.logger.Warn("knowledge context not saved", "error", err)
		return
	}
	if err := h.Append(inference.NewSystemMessage(found)); err != nil {
		b.logger.Warn("knowledge context not saved", "error", err)
	}
}

var errNoSentence = errors.New("brain: reminder without sentence")

// schedule arms a reminder that is pushed to the user's sessions when due.
func (b *Brain) schedule(e envelope.Envelope, args command.ScheduleArgs) error {
	if strings.TrimSpace(args.Sentence) == "" {
		return errNoSentence
	}
	reminder := e.WithText(args.Sentence)
	reminder.Push = true
	reminder.Silent = false
	fire := func() {
		r := reminder.Copy()
		r.Timestamp = b.now()
		b.logger.Info("reminder due", "user", r.User, "text", r.TextAnswer)
		b.synth.Intake().Put(r)
	}

	var (
		id  string
		err error
	)
	if args.Cron != "" {
		id, err = b.cfg.Scheduler.Every(args.Cron, fire)
	} else {
		id, err = b.cfg.Scheduler.At(time.Now().Add(args.Delay()), fire)
	}
	if err != nil {
		return err
	}
	b.logger.Info("reminder scheduled", "id", id, "user", e.User, "cron", args.Cron, "in", args.Delay())
	return nil
}

// flushCommand releases a partial command held for id as ordinary text.
func (b *Brain) flushCommand(id string) {
	text, ok := b.interp.Flush(id)
	if !ok {
		return
	}
	e, held := b.held[id]
	delete(b.held, id)
	if held {
		b.forward(e.WithText(text))
	}
}

// expireCommands runs when the interpreter is idle and releases partial
// commands older than the buffering window.
func (b *Brain) expireCommands() {
	for _, stale := range b.interp.Expire(time.Now()) {
		b.logger.Warn("flushing stale command buffer", "id", stale.ID, "text", stale.Text)
		e, ok := b.held[stale.ID]
		delete(b.held, stale.ID)
		if ok {
			b.forward(e.WithText(stale.Text))
		}
	}
}
