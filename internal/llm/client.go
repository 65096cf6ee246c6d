// Package llm mediates every model call: route resolution, bounded retry
// with exponential backoff, per-endpoint concurrency caps, the response
// cache, and structured-output parsing with full observability on failure.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"golang.org/x/sync/semaphore"

	"github.com/taleteller/taleteller/internal/config"
	"github.com/taleteller/taleteller/internal/hashing"
)

// ErrEmptyResponse indicates the model returned no usable content.
var ErrEmptyResponse = errors.New("empty model response")

// Request is one logical completion request. InputHash is log-only context
// for correlating a failure back to the unit of work that issued the call.
type Request struct {
	System    string
	User      string
	CacheKey  string
	InputHash string
}

// Result carries the raw response text plus telemetry for the controller's
// run statistics.
type Result struct {
	Text             string
	CacheHit         bool
	PromptTokens     int
	CompletionTokens int
}

// wireFormat selects the response_format sent with a chat call.
type wireFormat int

const (
	formatPlain wireFormat = iota
	formatJSONObject
	formatJSONSchema
	formatJSONSchemaStrict
)

// Client is a chat client bound to one resolved route.
type Client struct {
	route  Route
	api    openai.Client
	cache  *Cache
	sem    *semaphore.Weighted
	logger *slog.Logger
	obs    config.ObservabilityCfg
}

// NewClient builds a client for a route. The SDK's own retry is disabled so
// total attempts stay bounded at retries+1.
func NewClient(route Route, cache *Cache, obs config.ObservabilityCfg, logger *slog.Logger) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(route.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: route.Timeout}),
		option.WithMaxRetries(0),
	}
	if route.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(route.BaseURL))
	}
	return &Client{
		route:  route,
		api:    openai.NewClient(opts...),
		cache:  cache,
		sem:    semaphore.NewWeighted(int64(route.MaxConcurrency)),
		logger: logger.With("route", route.Name, "provider", route.Provider, "endpoint", route.Endpoint, "model", route.Model),
		obs:    obs,
	}
}

// Route returns the resolved route the client is bound to.
func (c *Client) Route() Route {
	return c.route
}

// ModelIdentifier returns the provider/endpoint/model triple for cache keys.
func (c *Client) ModelIdentifier() string {
	return c.route.ModelIdentifier()
}

// Complete runs a plain-text completion, consulting the cache first.
func (c *Client) Complete(ctx context.Context, req Request) (Result, error) {
	logger := c.callLogger(req)
	if text, ok := c.cacheGet(ctx, req.CacheKey); ok {
		return Result{Text: text, CacheHit: true, PromptTokens: tokenEstimate(req.System + req.User), CompletionTokens: tokenEstimate(text)}, nil
	}

	var res Result
	err := c.withRetry(ctx, logger, func(attempt int) error {
		out, err := c.callChat(ctx, req, formatPlain, nil)
		if err != nil {
			return err
		}
		res = out
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	c.cacheSet(ctx, req.CacheKey, res.Text)
	return res, nil
}

// CompleteJSON runs a JSON-object completion and decodes the payload into
// out. A cached payload that fails to parse is deleted and refetched live.
func (c *Client) CompleteJSON(ctx context.Context, req Request, out any) (Result, error) {
	logger := c.callLogger(req)
	if text, ok := c.cacheGet(ctx, req.CacheKey); ok {
		err := ParseLoose(text, out)
		if err == nil {
			return Result{Text: text, CacheHit: true, PromptTokens: tokenEstimate(req.System + req.User), CompletionTokens: tokenEstimate(text)}, nil
		}
		c.logParseFailure(ctx, logger, "cache", 0, text, err, req.CacheKey)
	}

	var res Result
	err := c.withRetry(ctx, logger, func(attempt int) error {
		live, err := c.callChat(ctx, req, formatJSONObject, nil)
		if err != nil {
			return err
		}
		if err := ParseLoose(live.Text, out); err != nil {
			c.logParseFailure(ctx, logger, "live", attempt, live.Text, err, req.CacheKey)
			return err
		}
		res = live
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	c.cacheSet(ctx, req.CacheKey, res.Text)
	return res, nil
}

// CompleteStructured runs a schema-constrained completion. The wire format
// falls back json_schema strict, then json_schema, then json_object, then
// plain; the payload is always validated locally against the schema before
// it is accepted.
func (c *Client) CompleteStructured(ctx context.Context, req Request, schema *Schema, out any) (Result, error) {
	logger := c.callLogger(req)
	if text, ok := c.cacheGet(ctx, req.CacheKey); ok {
		err := c.decodeStructured(text, schema, out)
		if err == nil {
			return Result{Text: text, CacheHit: true, PromptTokens: tokenEstimate(req.System + req.User), CompletionTokens: tokenEstimate(text)}, nil
		}
		c.logParseFailure(ctx, logger, "cache", 0, text, err, req.CacheKey)
	}

	formats := []wireFormat{formatJSONSchemaStrict, formatJSONSchema, formatJSONObject, formatPlain}

	var res Result
	err := c.withRetry(ctx, logger, func(attempt int) error {
		live, err := c.callChatWithFallback(ctx, logger, req, formats, schema)
		if err != nil {
			return err
		}
		if err := c.decodeStructured(live.Text, schema, out); err != nil {
			c.logParseFailure(ctx, logger, "live", attempt, live.Text, err, req.CacheKey)
			return err
		}
		res = live
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	c.cacheSet(ctx, req.CacheKey, res.Text)
	return res, nil
}

// callChatWithFallback tries each wire format in order; a provider that
// rejects a format downgrades to the next. The last format's error is
// returned as the attempt's error.
func (c *Client) callChatWithFallback(ctx context.Context, logger *slog.Logger, req Request, formats []wireFormat, schema *Schema) (Result, error) {
	var lastErr error
	for i, format := range formats {
		res, err := c.callChat(ctx, req, format, schema)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if i < len(formats)-1 {
			logger.Warn("structured format rejected, downgrading",
				"format", formatName(format), "next", formatName(formats[i+1]), "error", err.Error())
		}
	}
	return Result{}, lastErr
}

// callChat performs one chat completion attempt under the semaphore.
func (c *Client) callChat(ctx context.Context, req Request, format wireFormat, schema *Schema) (Result, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer c.sem.Release(1)

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.route.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		Temperature: openai.Float(c.route.Temperature),
	}
	switch format {
	case formatJSONObject:
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	case formatJSONSchema, formatJSONSchemaStrict:
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   schema.Name,
					Strict: openai.Bool(format == formatJSONSchemaStrict),
					Schema: schema.Definition(),
				},
			},
		}
	}

	completion, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return Result{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Result{}, ErrEmptyResponse
	}
	text := completion.Choices[0].Message.Content
	if text == "" {
		return Result{}, ErrEmptyResponse
	}

	res := Result{
		Text:             text,
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
	}
	if res.PromptTokens == 0 {
		res.PromptTokens = tokenEstimate(req.System + req.User)
	}
	if res.CompletionTokens == 0 {
		res.CompletionTokens = tokenEstimate(text)
	}
	return res, nil
}

// withRetry bounds attempts at retries+1 with min(0.5*2^n, 4s) backoff.
func (c *Client) withRetry(ctx context.Context, logger *slog.Logger, fn func(attempt int) error) error {
	attempt := 0
	return retry.Do(
		func() error {
			attempt++
			return fn(attempt)
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.route.Retries+1)),
		retry.DelayType(backoffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			if c.obs.LogRetryAttempts {
				logger.Warn("retrying model call", "attempt", n+1, "error", err.Error())
			}
		}),
	)
}

func formatName(f wireFormat) string {
	switch f {
	case formatJSONSchemaStrict:
		return "json_schema_strict"
	case formatJSONSchema:
		return "json_schema"
	case formatJSONObject:
		return "json_object"
	default:
		return "plain"
	}
}

func backoffDelay(n uint, _ error, _ *retry.Config) time.Duration {
	d := time.Duration(float64(500*time.Millisecond) * math.Pow(2, float64(n)))
	if d > 4*time.Second {
		d = 4 * time.Second
	}
	return d
}

func (c *Client) decodeStructured(text string, schema *Schema, out any) error {
	var doc any
	if err := ParseLoose(text, &doc); err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return err
	}
	normalized, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("normalizing payload: %w", err)
	}
	return json.Unmarshal(normalized, out)
}

func (c *Client) cacheGet(ctx context.Context, key string) (string, bool) {
	if c.cache == nil || key == "" {
		return "", false
	}
	value, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed", "error", err.Error())
		return "", false
	}
	return value, ok
}

func (c *Client) cacheSet(ctx context.Context, key, value string) {
	if c.cache == nil || key == "" {
		return
	}
	if err := c.cache.Set(ctx, key, value); err != nil {
		c.logger.Warn("cache write failed", "error", err.Error())
	}
}

func (c *Client) callLogger(req Request) *slog.Logger {
	return c.logger.With(
		"request_id", uuid.NewString(),
		"cache_key_prefix", hashing.Short(req.CacheKey),
		"input_hash_prefix", hashing.Short(req.InputHash),
	)
}

// logParseFailure emits the structured record every JSON parse or schema
// validation failure produces, plus the truncated payload when configured.
// A corrupt cached payload is deleted so it is never served twice.
func (c *Client) logParseFailure(ctx context.Context, logger *slog.Logger, source string, attempt int, raw string, parseErr error, cacheKey string) {
	attrs := []any{
		"source", source,
		"attempt", attempt,
		"error", parseErr.Error(),
		"raw_len", len(raw),
		"raw_hash", hashing.Short(hashing.SHA256Text(raw)),
	}
	if c.obs.LogJSONErrorPayload {
		attrs = append(attrs, "payload", truncatePayload(raw, c.obs.JSONErrorPayloadMaxChars))
	}
	logger.Error("model payload failed to parse", attrs...)

	if source == "cache" && c.cache != nil && cacheKey != "" {
		if err := c.cache.Delete(ctx, cacheKey); err != nil {
			logger.Warn("deleting corrupt cache entry failed", "error", err.Error())
		}
	}
}

// truncatePayload keeps the head and tail of a long payload with an
// omitted-count marker between them. Rune-based so multibyte text never
// splits mid-character.
func truncatePayload(raw string, maxChars int) string {
	if maxChars <= 0 {
		return raw
	}
	runes := []rune(raw)
	if len(runes) <= maxChars {
		return raw
	}
	head := maxChars / 2
	tail := maxChars - head
	omitted := len(runes) - head - tail
	return string(runes[:head]) + fmt.Sprintf("\n...[%d chars omitted]...\n", omitted) + string(runes[len(runes)-tail:])
}

func tokenEstimate(s string) int {
	return len([]rune(s))
}
