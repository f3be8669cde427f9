package llm

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/NoneadChina/dialoguecore/pkg/llm/errkind"
)

// localWire implements wireProvider for the local and local-cloud tags:
// Ollama-style /api/tags and /api/chat, newline-delimited JSON framing,
// each chunk's message.content carrying only the newly generated text.
type localWire struct{}

func (localWire) supportsModelListing() bool { return true }

func (localWire) listModelsURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/api/tags"
}

type localTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (localWire) parseModelList(body []byte) ([]ModelInfo, error) {
	var parsed localTagsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errkind.New(errkind.FormatError, "malformed /api/tags response", err)
	}
	out := make([]ModelInfo, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		out = append(out, ModelInfo{ID: m.Name})
	}
	return out, nil
}

// fallbackListModelsURL and parseFallbackModelList give the local wire a
// second model-listing endpoint to try when /api/tags fails (original_source's
// _get_ollama_models dual-endpoint fallback, SPEC_FULL.md SUPPLEMENTED
// FEATURES #3): some Ollama deployments only expose the OpenAI-compatible
// /v1/models surface.
func (localWire) fallbackListModelsURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/v1/models"
}

func (localWire) parseFallbackModelList(body []byte) ([]ModelInfo, error) {
	return commercialWire{}.parseModelList(body)
}

func (localWire) chatURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/api/chat"
}

func (localWire) setHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

type localChatOptions struct {
	Temperature float64 `json:"temperature"`
}

type localChatRequest struct {
	Model    string           `json:"model"`
	Messages []Message        `json:"messages"`
	Stream   bool             `json:"stream"`
	Options  localChatOptions `json:"options"`
}

func (localWire) buildRequestBody(model string, messages []Message, temperature float64, stream bool) ([]byte, error) {
	return json.Marshal(localChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
		Options:  localChatOptions{Temperature: temperature},
	})
}

type localChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

func (localWire) parseNonStreamBody(body []byte) (string, error) {
	var parsed localChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", errkind.New(errkind.FormatError, "malformed /api/chat response", err)
	}
	if parsed.Message.Content == "" {
		return "", errkind.New(errkind.FormatError, "empty /api/chat response", nil)
	}
	return parsed.Message.Content, nil
}

// parseStreamLine decodes one NDJSON object. message.content is already
// the new-suffix delta (Ollama's /api/chat stream yields each chunk's
// content directly, confirmed by original_source/Chat2Chat/chat_between_ais.py's
// _handle_ollama_stream_request, which does "yield content" per chunk
// with no diffing against prior chunks), so it is appended to acc
// as-is for yield_full_response callers and returned unchanged as the
// delta.
func (localWire) parseStreamLine(line string, acc *strings.Builder) (string, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false, nil
	}
	var parsed localChatResponse
	if err := json.Unmarshal([]byte(line), &parsed); err != nil {
		return "", false, errkind.New(errkind.FormatError, "malformed NDJSON chunk", err)
	}
	if parsed.Done {
		return "", true, nil
	}

	delta := parsed.Message.Content
	acc.WriteString(delta)
	return delta, false, nil
}
