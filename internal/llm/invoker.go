// Package llm runs translation, summarization and embedding requests against a ranked
// list of candidate models, falling back down the list when a model is too small for the
// input, rate limited, or failing.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

// Task names one kind of model request.
type Task string

const (
	TaskTranslate Task = "translate"
	TaskSummarize Task = "summarize"
	TaskEmbed     Task = "embed"
)

const (
	// DefaultCooldown is how long to wait before retrying a rate limited model.
	DefaultCooldown = 60 * time.Second
	// DefaultCallTimeout bounds a single model call.
	DefaultCallTimeout = 5 * time.Minute
	// refusalScanRunes limits the refusal check to the start of a response.
	refusalScanRunes = 300
)

// Candidate is one model a task may run on.
type Candidate struct {
	Model string `koanf:"model"`
	// ContextTokens is the model's total token window.
	ContextTokens int `koanf:"context_tokens"`
	// MaxOutputTokens is reserved out of the window for the response.
	MaxOutputTokens int `koanf:"max_output_tokens"`
}

// Fits reports whether an input of inputTokens leaves room for the response.
func (c Candidate) Fits(inputTokens int) bool {
	return inputTokens <= c.ContextTokens-c.MaxOutputTokens
}

// TaskConfig is the ranked candidate list and request settings of one task.
type TaskConfig struct {
	Candidates  []Candidate `koanf:"candidates"`
	Temperature float32     `koanf:"temperature"`
	// MaxInputChars truncates the input before prompting. Zero means no limit.
	MaxInputChars int `koanf:"max_input_chars"`
}

// Tasks holds the configuration of every task.
type Tasks struct {
	Translate TaskConfig `koanf:"translate"`
	Summarize TaskConfig `koanf:"summarize"`
	Embed     TaskConfig `koanf:"embed"`
}

// CompletionRequest is one text-generation call.
type CompletionRequest struct {
	Model           string
	System          string
	Prompt          string
	MaxOutputTokens int
	Temperature     float32
}

// Generator is a text-generation backend. Rate limiting must be reported as a
// *StatusError with code 429.
type Generator interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// Embedding is a vector together with the model that produced it.
type Embedding struct {
	Model  string
	Vector []float32
}

// Invoker executes tasks with model fallback. It keeps no state between calls.
type Invoker struct {
	gen         Generator
	tasks       Tasks
	cooldown    time.Duration
	callTimeout time.Duration
	logger      *slog.Logger
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithCooldown sets the wait before retrying a rate limited model.
func WithCooldown(d time.Duration) Option {
	return func(i *Invoker) { i.cooldown = d }
}

// WithCallTimeout sets the timeout of a single model call. Zero disables it.
func WithCallTimeout(d time.Duration) Option {
	return func(i *Invoker) { i.callTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Invoker) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// NewInvoker creates an Invoker for the given backend and task configuration.
func NewInvoker(gen Generator, tasks Tasks, opts ...Option) *Invoker {
	i := &Invoker{
		gen:         gen,
		tasks:       tasks,
		cooldown:    DefaultCooldown,
		callTimeout: DefaultCallTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// EstimateTokens approximates the token count of s as a quarter of its characters.
func EstimateTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}

// Translate translates text to English. Empty input yields empty output without a call.
func (i *Invoker) Translate(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	cfg := i.tasks.Translate
	prompt := TranslateUserPrompt + truncate(text, cfg.MaxInputChars)
	inputTokens := EstimateTokens(TranslateSystemPrompt) + EstimateTokens(prompt)

	out, _, err := run(ctx, i, TaskTranslate, cfg.Candidates, inputTokens, func(ctx context.Context, c Candidate) (string, error) {
		return i.complete(ctx, CompletionRequest{
			Model:           c.Model,
			System:          TranslateSystemPrompt,
			Prompt:          prompt,
			MaxOutputTokens: c.MaxOutputTokens,
			Temperature:     cfg.Temperature,
		})
	})
	if err != nil {
		return "", fmt.Errorf("failed to translate text: %w", err)
	}
	return out, nil
}

// Summarize produces an English summary of text. It never fails: when every candidate is
// exhausted it returns SummaryFallback.
func (i *Invoker) Summarize(ctx context.Context, text string) string {
	cfg := i.tasks.Summarize
	prompt := fmt.Sprintf(SummaryPrompt, truncate(text, cfg.MaxInputChars))

	out, _, err := run(ctx, i, TaskSummarize, cfg.Candidates, EstimateTokens(prompt), func(ctx context.Context, c Candidate) (string, error) {
		out, err := i.complete(ctx, CompletionRequest{
			Model:           c.Model,
			Prompt:          prompt,
			MaxOutputTokens: c.MaxOutputTokens,
			Temperature:     cfg.Temperature,
		})
		// Translations may legitimately start with these phrases, summaries may not.
		if err == nil && isRefusal(out) {
			return "", ErrRefusal
		}
		return out, err
	})
	if err != nil {
		i.logger.Warn("Summary unavailable; using fallback text.", "error", err)
		return SummaryFallback
	}
	return out
}

// Embed returns the embedding of text from the first candidate that succeeds.
func (i *Invoker) Embed(ctx context.Context, text string) (Embedding, error) {
	cfg := i.tasks.Embed
	input := truncate(text, cfg.MaxInputChars)

	vec, c, err := run(ctx, i, TaskEmbed, cfg.Candidates, EstimateTokens(input), func(ctx context.Context, c Candidate) ([]float32, error) {
		vec, err := i.gen.Embed(ctx, c.Model, input)
		if err != nil {
			return nil, err
		}
		if len(vec) == 0 {
			return nil, ErrEmptyOutput
		}
		return vec, nil
	})
	if err != nil {
		return Embedding{}, fmt.Errorf("failed to embed text: %w", err)
	}
	return Embedding{Model: c.Model, Vector: vec}, nil
}

func (i *Invoker) complete(ctx context.Context, req CompletionRequest) (string, error) {
	raw, err := i.gen.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	out := cleanOutput(raw)
	if out == "" {
		return "", ErrEmptyOutput
	}
	return out, nil
}

// run walks the candidates in rank order and returns the first successful result along
// with the candidate that produced it.
func run[T any](ctx context.Context, i *Invoker, task Task, candidates []Candidate, inputTokens int, call func(context.Context, Candidate) (T, error)) (T, Candidate, error) {
	var zero T
	logCtx := i.logger.With("task", string(task), "inputTokens", inputTokens)

	var errs []error
	for _, c := range candidates {
		if !c.Fits(inputTokens) {
			logCtx.Warn("Input too large for model; skipping.", "model", c.Model, "contextTokens", c.ContextTokens, "maxOutputTokens", c.MaxOutputTokens)
			errs = append(errs, fmt.Errorf("%s: input of ~%d tokens exceeds budget", c.Model, inputTokens))
			continue
		}

		out, err := attempt(ctx, i.callTimeout, c, call)
		if err != nil && IsRateLimited(err) {
			logCtx.Warn("Model rate limited; waiting before retrying.", "model", c.Model, "cooldown", i.cooldown.String())
			if werr := sleep(ctx, i.cooldown); werr != nil {
				return zero, c, werr
			}
			out, err = attempt(ctx, i.callTimeout, c, call)
		}
		if err == nil {
			logCtx.Info("Model call succeeded.", "model", c.Model)
			return out, c, nil
		}
		if ctx.Err() != nil {
			return zero, c, ctx.Err()
		}

		logCtx.Error("Model call failed; trying next candidate.", "model", c.Model, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", c.Model, err))
	}
	if len(errs) == 0 {
		errs = append(errs, errors.New("no candidate models configured"))
	}
	return zero, Candidate{}, fmt.Errorf("%w for task %s: %w", ErrAllCandidatesFailed, task, errors.Join(errs...))
}

func attempt[T any](ctx context.Context, timeout time.Duration, c Candidate, call func(context.Context, Candidate) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return call(ctx, c)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// cleanOutput trims the response and strips a surrounding markdown fence.
func cleanOutput(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```markdown")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func isRefusal(s string) bool {
	head := []rune(s)
	if len(head) > refusalScanRunes {
		head = head[:refusalScanRunes]
	}
	lower := strings.ToLower(string(head))
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// truncate cuts s to at most limit characters. A non-positive limit disables it.
func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
