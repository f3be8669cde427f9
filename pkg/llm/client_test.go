package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NoneadChina/dialoguecore/pkg/llm/errkind"
	"github.com/NoneadChina/dialoguecore/pkg/ratelimit"
)

func unlimited() *ratelimit.Limiter {
	return ratelimit.New(1000, time.Hour)
}

// S1 — chat round trip against a local-style mock, non-streaming.
func TestChatCompleteLocalRoundTrip(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/api/chat", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"message":{"content":"hi there"},"done":true}`)
	}))
	defer srv.Close()

	c, err := CreateClient(TagLocal, Options{BaseURL: srv.URL}, unlimited())
	require.NoError(t, err)

	got, err := c.ChatComplete(context.Background(), []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "say hi"},
	}, "llama3", 0.0)
	require.NoError(t, err)
	assert.Equal(t, "hi there", got)
	assert.Equal(t, 1, calls, "expected exactly one request, no retries")
}

// S2 — streaming delta assembly, both yield_full_response modes.
func TestChatCompleteStreamDeltaAssembly(t *testing.T) {
	body := "" +
		`{"message":{"content":"Hel"},"done":false}` + "\n" +
		`{"message":{"content":"lo"},"done":false}` + "\n" +
		`{"message":{"content":" world"},"done":false}` + "\n" +
		`{"done":true}` + "\n"

	newServer := func() *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, body)
		}))
	}

	t.Run("incremental", func(t *testing.T) {
		srv := newServer()
		defer srv.Close()
		c, err := CreateClient(TagLocal, Options{BaseURL: srv.URL}, unlimited())
		require.NoError(t, err)

		deltas, errs := c.ChatCompleteStream(context.Background(), []Message{{Role: "user", Content: "hi"}}, "llama3", 0.0, false)
		var got []string
		for d := range deltas {
			if d.Done {
				break
			}
			got = append(got, d.Text)
		}
		require.NoError(t, drainErr(errs))
		assert.Equal(t, []string{"Hel", "lo", " world"}, got)
	})

	t.Run("full_response", func(t *testing.T) {
		srv := newServer()
		defer srv.Close()
		c, err := CreateClient(TagLocal, Options{BaseURL: srv.URL}, unlimited())
		require.NoError(t, err)

		deltas, errs := c.ChatCompleteStream(context.Background(), []Message{{Role: "user", Content: "hi"}}, "llama3", 0.0, true)
		var got []string
		for d := range deltas {
			if d.Done {
				break
			}
			got = append(got, d.Text)
		}
		require.NoError(t, drainErr(errs))
		assert.Equal(t, []string{"Hel", "Hello", "Hello world"}, got)
	})
}

func drainErr(errs <-chan error) error {
	for e := range errs {
		return e
	}
	return nil
}

// S5 — 429 with recovery for a commercial-style mock.
func TestChatCompleteRetriesRateLimitThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":"rate limited"}`)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c, err := CreateClient(TagCommercialA, Options{APIKey: "sk-test", BaseURL: srv.URL}, unlimited())
	require.NoError(t, err)

	start := time.Now()
	got, err := c.ChatComplete(context.Background(), []Message{{Role: "user", Content: "hi"}}, "gpt", 0.0)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, attempts)
	assert.GreaterOrEqual(t, time.Since(start), 1*time.Second)
}

// S6 — auth missing short-circuits before any network call.
func TestChatCompleteAuthMissingNoNetworkCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c, err := CreateClient(TagCommercialA, Options{BaseURL: srv.URL}, unlimited())
	require.NoError(t, err)

	_, err = c.ListModels(context.Background())
	require.Error(t, err)
	assert.Equal(t, errkind.AuthMissing, errkind.Classify(err))
	assert.False(t, called, "expected no network call when auth is missing")
}

func TestCreateClientUnknownTag(t *testing.T) {
	_, err := CreateClient(Tag("bogus"), Options{}, unlimited())
	require.Error(t, err)
}

func TestCreateClientLocalRequiresBaseURL(t *testing.T) {
	_, err := CreateClient(TagLocal, Options{}, unlimited())
	require.Error(t, err)
}

func TestCreateClientLocalCloudDefaultsBaseURL(t *testing.T) {
	c, err := CreateClient(TagLocalCloud, Options{APIKey: "key"}, unlimited())
	require.NoError(t, err)
	impl := c.(*client)
	assert.Equal(t, "https://ollama.com", impl.baseURL)
}

func TestListModelsUsesCacheWithinTTL(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"models":[{"name":"llama3"}]}`)
	}))
	defer srv.Close()

	c, err := CreateClient(TagLocal, Options{BaseURL: srv.URL}, unlimited())
	require.NoError(t, err)

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ModelInfo{{ID: "llama3"}}, models)

	_, err = c.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "expected second call to hit the cache")

	c.RefreshModels()
	_, err = c.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "expected RefreshModels to force a re-fetch")
}

// SUPPLEMENTED FEATURES #3 — /api/tags failing falls back to /v1/models.
func TestListModelsFallsBackToV1Models(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.WriteHeader(http.StatusNotFound)
		case "/v1/models":
			fmt.Fprint(w, `{"data":[{"id":"llama3"}]}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c, err := CreateClient(TagLocal, Options{BaseURL: srv.URL}, unlimited())
	require.NoError(t, err)

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ModelInfo{{ID: "llama3"}}, models)
}

// Maintainer review: a rate-limiter wait that runs out the caller's
// context deadline must classify as errkind.Deadline, not
// errkind.Cancelled — the two are otherwise indistinguishable since
// Limiter.Wait returns ctx.Err() verbatim.
func TestChatCompleteRateLimiterDeadlineClassifiesAsDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("expected no network call: the rate limiter should never grant a slot")
	}))
	defer srv.Close()

	limiter := ratelimit.New(1, time.Hour)
	require.True(t, limiter.TryAcquire(), "saturate the only slot before the client ever calls Wait")

	c, err := CreateClient(TagLocal, Options{BaseURL: srv.URL}, limiter)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = c.ChatComplete(ctx, []Message{{Role: "user", Content: "hi"}}, "llama3", 0.0)
	require.Error(t, err)
	assert.Equal(t, errkind.Deadline, errkind.Classify(err))
}

func TestChatCompleteModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"no such model"}`)
	}))
	defer srv.Close()

	c, err := CreateClient(TagCommercialA, Options{APIKey: "sk-test", BaseURL: srv.URL}, unlimited())
	require.NoError(t, err)

	_, err = c.ChatComplete(context.Background(), []Message{{Role: "user", Content: "hi"}}, "ghost-model", 0.0)
	require.Error(t, err)
	assert.Equal(t, errkind.ModelUnavailable, errkind.Classify(err))
}
