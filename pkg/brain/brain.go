// Package brain wires the conversation stages into one streaming pipeline.
//
// A request enters either as speech (transcriber) or as text (user-command
// detector), flows through chat completion and the answer interpreter, and
// ends in the synthesizer, which fills the conversation's identified sink.
// Image generation, knowledge queries and the vision captioner run beside
// the main line. HandleChat and HandleSpeech return a Stream of encoded
// frames read from that sink.
package brain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-hyperion/pkg/clock"
	"github.com/teslashibe/go-hyperion/pkg/command"
	"github.com/teslashibe/go-hyperion/pkg/envelope"
	"github.com/teslashibe/go-hyperion/pkg/imagegen"
	"github.com/teslashibe/go-hyperion/pkg/inference"
	"github.com/teslashibe/go-hyperion/pkg/knowledge"
	"github.com/teslashibe/go-hyperion/pkg/memory"
	"github.com/teslashibe/go-hyperion/pkg/persona"
	"github.com/teslashibe/go-hyperion/pkg/pipeline"
	"github.com/teslashibe/go-hyperion/pkg/protocol"
	"github.com/teslashibe/go-hyperion/pkg/scheduler"
	"github.com/teslashibe/go-hyperion/pkg/transcribe"
	"github.com/teslashibe/go-hyperion/pkg/tts"
	"github.com/teslashibe/go-hyperion/pkg/webfetch"
)

// Defaults for a Brain.
const (
	DefaultWorkers    = 4
	DefaultContextTTL = 20 * time.Second
)

var (
	ErrNoChat       = errors.New("brain: chat provider required")
	ErrNoPersonas   = errors.New("brain: persona manager required")
	ErrUnknownModel = errors.New("brain: unknown model")
	ErrEmptyRequest = errors.New("brain: empty request")
)

// Notifier reaches the user's open sessions outside of a request stream.
// *session.Hub implements it.
type Notifier interface {
	Interrupt(sid string, ts float64) error
	Push(user string, frame []byte) int
}

// Config holds the collaborators of a Brain. Chat and Personas are
// required; every other backend is optional and its feature degrades when
// missing.
type Config struct {
	Name string

	Chat        inference.Provider
	Vision      inference.Provider // defaults to Chat
	Transcriber transcribe.Transcriber
	Speech      *tts.Engines
	Images      imagegen.Generator
	Knowledge   knowledge.Index
	Fetcher     *webfetch.Fetcher

	Personas  *persona.Manager
	Histories *memory.Histories
	Sentences persona.Sentences
	Catalog   *command.Catalog

	Clock     *clock.Clock
	Scheduler *scheduler.Scheduler
	Notifier  Notifier

	// Model is the default chat model; Models lists the accepted ones.
	Model  string
	Models []string

	NoMemory            bool
	MaxContextTokens    int
	ConfidenceThreshold float64
	Workers             int
	ContextTTL          time.Duration

	Logger *slog.Logger
}

// Brain is the running pipeline.
type Brain struct {
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	sinks     *pipeline.Registry[envelope.Envelope]
	keepAlive *pipeline.KeepAlive[envelope.Envelope]
	chatPool  *pipeline.Pool
	sidePool  *pipeline.Pool

	transcriber *pipeline.Stage[envelope.Envelope]
	commands    *pipeline.Stage[envelope.Envelope]
	chat        *pipeline.Stage[envelope.Envelope]
	interpreter *pipeline.Stage[envelope.Envelope]
	images      *pipeline.Stage[envelope.Envelope]
	synth       *pipeline.Stage[envelope.Envelope]
	vision      *pipeline.Stage[[]byte]

	speechIntake *pipeline.Queue[envelope.Envelope]
	chatIntake   *pipeline.Queue[envelope.Envelope]
	imageIntake  *pipeline.Queue[envelope.Envelope]
	frameIntake  *pipeline.Queue[[]byte]

	detector *command.Detector
	interp   *command.Interpreter
	// held is the envelope whose text the interpreter is buffering, per
	// conversation. Owned by the interpreter stage goroutine.
	held map[string]envelope.Envelope

	ownScheduler bool

	frozen atomic.Bool
	asleep atomic.Bool

	mu       sync.RWMutex
	model    string
	notifier Notifier
	video    videoCaption

	started atomic.Bool
}

// New builds a brain. Stages do not run until Start.
func New(cfg Config) (*Brain, error) {
	if cfg.Chat == nil {
		return nil, ErrNoChat
	}
	if cfg.Personas == nil {
		return nil, ErrNoPersonas
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Vision == nil {
		cfg.Vision = cfg.Chat
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.ContextTTL <= 0 {
		cfg.ContextTTL = DefaultContextTTL
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = transcribe.DefaultThreshold
	}
	if cfg.Histories == nil {
		cfg.Histories = memory.NewHistories("")
	}
	if len(cfg.Sentences.Deaf) == 0 && len(cfg.Sentences.Error) == 0 {
		cfg.Sentences = persona.DefaultSentences
	}
	if cfg.Catalog == nil {
		c, err := command.DefaultCatalog()
		if err != nil {
			return nil, err
		}
		cfg.Catalog = c
	}

	logger := cfg.Logger.With("component", "brain")
	b := &Brain{
		cfg:       cfg,
		logger:    logger,
		sinks:     pipeline.NewRegistry(envelope.Less),
		keepAlive: pipeline.NewKeepAlive[envelope.Envelope](),
		detector:  command.NewDetector(cfg.Catalog),
		interp:    command.NewInterpreter(cfg.Catalog, command.DefaultWindow),
		held:      make(map[string]envelope.Envelope),
		model:     cfg.Model,
		notifier:  cfg.Notifier,
	}
	if cfg.Scheduler == nil {
		b.cfg.Scheduler = scheduler.New(cfg.Logger)
		b.ownScheduler = true
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())

	stage := func(name string) *pipeline.Stage[envelope.Envelope] {
		s := pipeline.NewStage(name, envelope.Less, cfg.Logger)
		s.UseRegistry(b.sinks)
		return s
	}
	b.transcriber = stage("transcriber")
	b.commands = stage("commands")
	b.chat = stage("chat")
	b.interpreter = stage("interpreter")
	b.images = stage("images")
	b.synth = stage("synthesizer")
	b.vision = pipeline.NewStage[[]byte]("vision", nil, cfg.Logger)

	b.speechIntake = b.transcriber.CreateIntake(0)
	b.transcriber.Pipe(b.commands).Pipe(b.chat).Pipe(b.interpreter).Pipe(b.synth)
	b.chatIntake = b.commands.Intake()
	b.imageIntake = b.images.CreateIntake(0)
	b.frameIntake = b.vision.CreateIntake(1)

	b.interpreter.OnIdle(b.expireCommands)
	return b, nil
}

// Start launches every stage and the worker pools.
func (b *Brain) Start() error {
	if !b.started.CompareAndSwap(false, true) {
		return pipeline.ErrAlreadyRunning
	}
	b.chatPool = pipeline.NewPool(b.cfg.Workers, b.logger)
	b.sidePool = pipeline.NewPool(b.cfg.Workers, b.logger)

	loops := []struct {
		stage  *pipeline.Stage[envelope.Envelope]
		handle func(envelope.Envelope)
	}{
		{b.transcriber, b.listen},
		{b.commands, b.detect},
		{b.chat, b.answer},
		{b.interpreter, b.interpret},
		{b.images, b.draw},
		{b.synth, b.synthesize},
	}
	for _, l := range loops {
		if err := l.stage.Loop(l.handle); err != nil {
			return fmt.Errorf("brain: start %s: %w", l.stage.Name(), err)
		}
	}
	if err := b.vision.Loop(b.caption); err != nil {
		return fmt.Errorf("brain: start vision: %w", err)
	}
	b.logger.Info("brain started", "name", b.cfg.Name, "model", b.Model(), "workers", b.cfg.Workers)
	return nil
}

// Stop halts the stages and waits for them and in-flight work to finish.
func (b *Brain) Stop() {
	if !b.started.Load() {
		return
	}
	runners := []interface {
		Stop()
		Join()
	}{b.transcriber, b.commands, b.chat, b.interpreter, b.images, b.synth, b.vision}
	for _, r := range runners {
		r.Stop()
	}
	for _, r := range runners {
		r.Join()
	}
	b.cancel()
	b.chatPool.Close()
	b.sidePool.Close()
	if b.ownScheduler {
		b.cfg.Scheduler.Stop()
	}
	b.logger.Info("brain stopped")
}

// Name is the assistant's name.
func (b *Brain) Name() string { return b.cfg.Name }

// SetNotifier installs the session notifier after construction.
func (b *Brain) SetNotifier(n Notifier) {
	b.mu.Lock()
	b.notifier = n
	b.mu.Unlock()
}

// Model returns the default chat model.
func (b *Brain) Model() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.model
}

// Models returns the accepted chat models.
func (b *Brain) Models() []string {
	return slices.Clone(b.cfg.Models)
}

// SetModel changes the default chat model.
func (b *Brain) SetModel(model string) error {
	if len(b.cfg.Models) > 0 && !slices.Contains(b.cfg.Models, model) {
		return fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	b.mu.Lock()
	b.model = model
	b.mu.Unlock()
	return nil
}

// Prompts lists the available personas.
func (b *Brain) Prompts() []string { return b.cfg.Personas.List() }

// Prompt returns the default persona.
func (b *Brain) Prompt() string { return b.cfg.Personas.Current() }

// SetPrompt changes the default persona.
func (b *Brain) SetPrompt(prompt string) error { return b.cfg.Personas.Set(prompt) }

// Freeze stops streaming and chat completion until Unfreeze.
func (b *Brain) Freeze() {
	b.frozen.Store(true)
	b.logger.Info("brain frozen")
}

// Unfreeze resumes normal operation.
func (b *Brain) Unfreeze() {
	b.frozen.Store(false)
	b.logger.Info("brain unfrozen")
}

// Frozen reports whether the brain is frozen.
func (b *Brain) Frozen() bool { return b.frozen.Load() }

// Asleep reports whether a user put the assistant to sleep.
func (b *Brain) Asleep() bool { return b.asleep.Load() }

// Request is one user turn as received by a transport.
type Request struct {
	SessionID string
	User      string
	Message   string
	Speech    []int16

	Preprompt string
	Model     string
	Engine    string
	Voice     string
	Indexes   []string
	Silent    bool
}

func (b *Brain) newEnvelope(req Request) envelope.Envelope {
	e := envelope.New(uuid.New().String(), req.User, b.now())
	e.SessionID = req.SessionID
	e.Preprompt = req.Preprompt
	e.Model = req.Model
	e.SpeechEngine = req.Engine
	e.Voice = req.Voice
	e.Indexes = slices.Clone(req.Indexes)
	e.Silent = req.Silent
	return e
}

// HandleChat queues a text request and returns its answer stream. The
// stream ends when ctx is done.
func (b *Brain) HandleChat(ctx context.Context, req Request) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := b.newEnvelope(req)
	e.TextRequest = req.Message
	s := b.open(ctx, e.ID)
	b.logger.Debug("chat request", "id", e.ID, "user", e.User)
	b.chatIntake.Put(e)
	return s, nil
}

// HandleSpeech queues a spoken request (16 kHz PCM) and returns its answer
// stream.
func (b *Brain) HandleSpeech(ctx context.Context, req Request) (*Stream, error) {
	if len(req.Speech) == 0 {
		return nil, ErrEmptyRequest
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := b.newEnvelope(req)
	e.AudioRequest = slices.Clone(req.Speech)
	s := b.open(ctx, e.ID)
	b.logger.Debug("speech request", "id", e.ID, "user", e.User, "samples", len(req.Speech))
	b.speechIntake.Put(e)
	return s, nil
}

// HandleFrame offers a JPEG frame to the vision captioner. Frames arriving
// while one is pending are dropped.
func (b *Brain) HandleFrame(jpeg []byte) bool {
	if !b.frameIntake.Offer(slices.Clone(jpeg), 0) {
		b.logger.Debug("video frame dropped")
		return false
	}
	return true
}

// open creates the sink for id. It is released when ctx is done.
func (b *Brain) open(ctx context.Context, id string) *Stream {
	s := &Stream{brain: b, id: id, ctx: ctx, sink: b.sinks.Create(id)}
	s.release = context.AfterFunc(ctx, s.drop)
	return s
}

// Stream yields the encoded frames answering one request.
type Stream struct {
	brain   *Brain
	id      string
	ctx     context.Context
	sink    *pipeline.Sink[envelope.Envelope]
	once    sync.Once
	release func() bool
}

// ID is the conversation identifier.
func (s *Stream) ID() string { return s.id }

// Next blocks until the next frame is available. It returns false once the
// answer is complete, the brain froze, or either ctx or the request
// context is done.
func (s *Stream) Next(ctx context.Context) ([]byte, bool) {
	for {
		if s.brain.Frozen() || ctx.Err() != nil || s.ctx.Err() != nil {
			s.Close()
			return nil, false
		}
		e, ok := s.sink.Drain()
		if !ok {
			continue
		}
		if e.IsBareTermination() {
			s.Close()
			return nil, false
		}
		if !e.HasAudio {
			s.brain.logger.Debug("frame without audio", "id", s.id)
		}
		return protocol.Encode(frameOf(e)), true
	}
}

// Close releases the stream's sink. Later answers for it are dropped.
func (s *Stream) Close() {
	s.release()
	s.drop()
}

func (s *Stream) drop() {
	s.once.Do(func() { s.brain.sinks.Delete(s.id) })
}

func frameOf(e envelope.Envelope) protocol.Frame {
	return protocol.Frame{
		Timestamp: e.Timestamp,
		Index:     uint8(e.NumAnswer),
		Speaker:   e.User,
		Request:   e.TextRequest,
		Answer:    e.TextAnswer,
		PCM:       e.AudioAnswer,
		Image:     e.ImageAnswer,
	}
}

func (b *Brain) now() float64 {
	if b.cfg.Clock != nil {
		return b.cfg.Clock.Now()
	}
	return clock.Seconds(time.Now())
}

// put delivers e to its conversation's sink.
func (b *Brain) put(e envelope.Envelope) {
	if !b.sinks.Put(e.ID, e) {
		b.logger.Debug("no sink for answer", "id", e.ID, "kind", e.Kind())
	}
}

func (b *Brain) interrupt(sid string) {
	b.mu.RLock()
	n := b.notifier
	b.mu.RUnlock()
	if n == nil || sid == "" {
		return
	}
	if err := n.Interrupt(sid, b.now()); err != nil {
		b.logger.Warn("interrupt not delivered", "sid", sid, "error", err)
	}
}

func (b *Brain) push(user string, frame []byte) int {
	b.mu.RLock()
	n := b.notifier
	b.mu.RUnlock()
	if n == nil {
		return 0
	}
	return n.Push(user, frame)
}

func (b *Brain) wipe(preprompt string) {
	prompt := b.cfg.Personas.Resolve(preprompt)
	if err := b.cfg.Histories.Wipe(prompt); err != nil {
		b.logger.Error("memory wipe failed", "prompt", prompt, "error", err)
		return
	}
	b.logger.Info("memory wiped", "prompt", prompt)
}
