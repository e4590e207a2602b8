package command

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/spf13/pflag"
)

// ErrInvalidArguments is wrapped by every argument parsing failure.
var ErrInvalidArguments = errors.New("command: invalid arguments")

// DrawArgs parameterizes image generation. Zero values mean "backend default".
type DrawArgs struct {
	Batch         int
	Width         int
	Height        int
	Steps         int
	GuidanceScale float64
	Mosaic        bool
	Sentence      string
}

// QueryArgs is a knowledge base query.
type QueryArgs struct {
	Query string
}

// ScheduleArgs delays a reminder by a relative offset, or repeats it on a
// cron expression.
type ScheduleArgs struct {
	Weeks    float64
	Days     float64
	Hours    float64
	Minutes  float64
	Seconds  float64
	Cron     string
	Sentence string
}

// Delay returns the relative offset.
func (a ScheduleArgs) Delay() time.Duration {
	secs := a.Seconds + 60*a.Minutes + 3600*a.Hours + 86400*a.Days + 604800*a.Weeks
	return time.Duration(secs * float64(time.Second))
}

// ParseDraw parses a draw command line, with or without its verb.
func ParseDraw(line string) (DrawArgs, error) {
	var a DrawArgs
	fs := newFlagSet(Draw)
	fs.IntVarP(&a.Batch, "batch", "b", 0, "number of images")
	fs.IntVarP(&a.Width, "width", "W", 0, "image width")
	fs.IntVarP(&a.Height, "height", "H", 0, "image height")
	fs.IntVarP(&a.Steps, "steps", "s", 0, "inference steps")
	fs.Float64VarP(&a.GuidanceScale, "guidance-scale", "g", 0, "guidance scale")
	fs.BoolVarP(&a.Mosaic, "mosaic", "m", false, "tile the batch into one image")

	sentence, err := parse(fs, line, "/draw")
	if err != nil {
		return DrawArgs{}, err
	}
	if a.Batch < 0 || a.Width < 0 || a.Height < 0 || a.Steps < 0 || a.GuidanceScale < 0 {
		return DrawArgs{}, fmt.Errorf("%w: negative value", ErrInvalidArguments)
	}
	a.Sentence = sentence
	return a, nil
}

// ParseQuery parses a query command line.
func ParseQuery(line string) (QueryArgs, error) {
	query, err := parse(newFlagSet(Query), line, "/query")
	if err != nil {
		return QueryArgs{}, err
	}
	return QueryArgs{Query: query}, nil
}

// ParseSchedule parses a schedule command line.
func ParseSchedule(line string) (ScheduleArgs, error) {
	var a ScheduleArgs
	fs := newFlagSet(Schedule)
	fs.Float64VarP(&a.Weeks, "weeks", "w", 0, "weeks from now")
	fs.Float64VarP(&a.Days, "days", "d", 0, "days from now")
	fs.Float64VarP(&a.Hours, "hours", "H", 0, "hours from now")
	fs.Float64VarP(&a.Minutes, "minutes", "m", 0, "minutes from now")
	fs.Float64VarP(&a.Seconds, "seconds", "s", 0, "seconds from now")
	fs.StringVarP(&a.Cron, "cron", "c", "", "repeat on a cron expression")

	sentence, err := parse(fs, line, "/schedule")
	if err != nil {
		return ScheduleArgs{}, err
	}
	if a.Delay() < 0 {
		return ScheduleArgs{}, fmt.Errorf("%w: negative delay", ErrInvalidArguments)
	}
	a.Sentence = sentence
	return a, nil
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SetInterspersed(true)
	return fs
}

// parse splits line shell-style, drops the verb, parses flags and returns
// the single positional argument. The last quoted segment is always the
// positional, even when it starts with a dash.
func parse(fs *pflag.FlagSet, line, verb string) (string, error) {
	rest, sentence, quoted := cutSentence(line)
	tokens, err := shlex.Split(rest)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	args := tokens[:0]
	for _, t := range tokens {
		if t != verb {
			args = append(args, t)
		}
	}
	if quoted {
		args = append(args, "--", sentence)
	}
	if err := fs.Parse(args); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if fs.NArg() != 1 {
		return "", fmt.Errorf("%w: expected one quoted sentence, got %d", ErrInvalidArguments, fs.NArg())
	}
	return fs.Arg(0), nil
}

// cutSentence removes the last double-quoted segment from line.
func cutSentence(line string) (rest, sentence string, ok bool) {
	end := strings.LastIndex(line, `"`)
	if end <= 0 {
		return line, "", false
	}
	start := strings.LastIndex(line[:end], `"`)
	if start < 0 {
		return line, "", false
	}
	return line[:start] + " " + line[end+1:], line[start+1 : end], true
}

// Map flattens draw arguments into an envelope's command bag.
func (a DrawArgs) Map() map[string]any {
	return map[string]any{
		"batch":               a.Batch,
		"width":               a.Width,
		"height":              a.Height,
		"num_inference_steps": a.Steps,
		"guidance_scale":      a.GuidanceScale,
		"mosaic":              a.Mosaic,
		"sentence":            a.Sentence,
	}
}

// DrawArgsFrom rebuilds draw arguments from a command bag.
func DrawArgsFrom(m map[string]any) DrawArgs {
	var a DrawArgs
	a.Batch, _ = m["batch"].(int)
	a.Width, _ = m["width"].(int)
	a.Height, _ = m["height"].(int)
	a.Steps, _ = m["num_inference_steps"].(int)
	a.GuidanceScale, _ = m["guidance_scale"].(float64)
	a.Mosaic, _ = m["mosaic"].(bool)
	a.Sentence, _ = m["sentence"].(string)
	return a
}
