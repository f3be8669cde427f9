package llm

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/NoneadChina/dialoguecore/pkg/llm/errkind"
	"github.com/NoneadChina/dialoguecore/pkg/retry"
)

// nonStreamTimeout and streamTimeout are the per-call caps from spec.md
// §5 ("min of remaining budget and a per-call cap, default 60s for
// non-stream, 300s for stream").
const (
	nonStreamTimeout = 60 * time.Second
	streamTimeout    = 300 * time.Second
)

// classifyWaitErr distinguishes a rate-limiter wait aborted by the
// caller's own cancellation from one that ran out its context deadline:
// Limiter.Wait returns ctx.Err() verbatim, so the two are otherwise
// indistinguishable once wrapped.
func classifyWaitErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errkind.New(errkind.Deadline, "deadline exceeded waiting for rate limiter", err)
	}
	return errkind.New(errkind.Cancelled, "cancelled waiting for rate limiter", err)
}

// ListModels returns the provider's model catalogue, using the TTL cache
// when fresh. Providers that don't support listing (none of the four
// tags currently) would return a static catalogue here instead.
func (c *client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	if err := c.checkAuth(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.cache != nil && time.Since(c.cache.fetched) < c.ttl {
		models := c.cache.models
		c.mu.Unlock()
		return models, nil
	}
	c.mu.Unlock()

	models, err := c.fetchModels(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache = &modelCache{models: models, fetched: time.Now()}
	c.mu.Unlock()
	return models, nil
}

// RefreshModels invalidates the cache; the next ListModels call re-fetches.
func (c *client) RefreshModels() {
	c.mu.Lock()
	c.cache = nil
	c.mu.Unlock()
}

// fetchModels requests the wire's primary model-listing endpoint; if
// the wire also implements modelListFallback and the primary attempt
// fails, it retries once against the fallback endpoint before giving up
// (spec.md SUPPLEMENTED FEATURES #3: Chat2Chat's _get_ollama_models
// tries /api/tags then falls back to /v1/models).
func (c *client) fetchModels(ctx context.Context) ([]ModelInfo, error) {
	var result []ModelInfo
	op := func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return classifyWaitErr(err)
		}

		models, err := c.requestModelList(ctx, c.wire.listModelsURL(c.baseURL), c.wire.parseModelList)
		if err != nil {
			if fb, ok := c.wire.(modelListFallback); ok {
				if fallbackModels, fbErr := c.requestModelList(ctx, fb.fallbackListModelsURL(c.baseURL), fb.parseFallbackModelList); fbErr == nil {
					models, err = fallbackModels, nil
				}
			}
		}
		if err != nil {
			return err
		}
		result = models
		return nil
	}

	if err := retry.Do(ctx, op, c.retryCfg, retry.DefaultClassifier); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *client) requestModelList(ctx context.Context, url string, parse func([]byte) ([]ModelInfo, error)) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.wire.setHeaders(req, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errkind.New(errkind.TransientNetwork, "network error listing models", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errkind.New(errkind.TransientNetwork, "network error reading model list", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errkind.FromStatus(resp.StatusCode, string(body))
	}

	return parse(body)
}

// ChatComplete runs a non-streaming completion and returns the response
// text.
func (c *client) ChatComplete(ctx context.Context, messages []Message, model string, temperature float64) (string, error) {
	if err := c.checkAuth(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, nonStreamTimeout)
	defer cancel()

	var result string
	op := func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return classifyWaitErr(err)
		}

		body, err := c.wire.buildRequestBody(model, messages, temperature, false)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.wire.chatURL(c.baseURL), bytes.NewReader(body))
		if err != nil {
			return err
		}
		c.wire.setHeaders(req, c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return errkind.New(errkind.TransientNetwork, "network error during completion", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return errkind.New(errkind.TransientNetwork, "network error reading completion", err)
		}

		if resp.StatusCode != http.StatusOK {
			return classifyCompletionStatus(resp.StatusCode, string(respBody), model)
		}

		text, err := c.wire.parseNonStreamBody(respBody)
		if err != nil {
			return err
		}
		result = text
		return nil
	}

	if err := retry.Do(ctx, op, c.retryCfg, retry.DefaultClassifier); err != nil {
		return "", err
	}
	return result, nil
}

func classifyCompletionStatus(statusCode int, body string, model string) error {
	if statusCode == http.StatusNotFound {
		return errkind.New(errkind.ModelUnavailable, fmt.Sprintf("model %q not found", model), nil)
	}
	return errkind.FromStatus(statusCode, body)
}

// ChatCompleteStream runs a streaming completion. Cancellation aborts the
// in-flight HTTP read at the next chunk; any already-buffered text is
// dropped rather than surfaced as a delta (spec.md §4.G).
func (c *client) ChatCompleteStream(ctx context.Context, messages []Message, model string, temperature float64, yieldFullResponse bool) (<-chan StreamDelta, <-chan error) {
	deltas := make(chan StreamDelta, 8)
	errs := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer close(errs)

		if err := c.checkAuth(); err != nil {
			errs <- err
			return
		}

		ctx, cancel := context.WithTimeout(ctx, streamTimeout)
		defer cancel()

		if err := c.limiter.Wait(ctx); err != nil {
			errs <- classifyWaitErr(err)
			return
		}

		body, err := c.wire.buildRequestBody(model, messages, temperature, true)
		if err != nil {
			errs <- err
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.wire.chatURL(c.baseURL), bytes.NewReader(body))
		if err != nil {
			errs <- err
			return
		}
		c.wire.setHeaders(req, c.apiKey)
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			errs <- errkind.New(errkind.TransientNetwork, "network error opening stream", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			errs <- classifyCompletionStatus(resp.StatusCode, string(respBody), model)
			return
		}

		var acc strings.Builder
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			raw := scanner.Text()
			line := stripSSEPrefix(raw)

			delta, done, err := c.wire.parseStreamLine(line, &acc)
			if err != nil {
				errs <- err
				return
			}

			if done {
				select {
				case deltas <- StreamDelta{Done: true}:
				case <-ctx.Done():
				}
				return
			}

			if delta == "" {
				continue
			}

			text := delta
			if yieldFullResponse {
				text = acc.String()
			}

			select {
			case deltas <- StreamDelta{Text: text}:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			select {
			case <-ctx.Done():
			default:
				errs <- errkind.New(errkind.TransientNetwork, "stream read error", err)
			}
		}
	}()

	return deltas, errs
}

func stripSSEPrefix(line string) string {
	if strings.HasPrefix(line, "data: ") {
		return strings.TrimPrefix(line, "data: ")
	}
	if strings.HasPrefix(line, "data:") {
		return strings.TrimPrefix(line, "data:")
	}
	return line
}
