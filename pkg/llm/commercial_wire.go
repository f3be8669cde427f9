package llm

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/NoneadChina/dialoguecore/pkg/llm/errkind"
)

// commercialWire implements wireProvider for commercial-a and
// commercial-b: OpenAI-style /v1/models and /v1/chat/completions, SSE
// framing terminated by "data: [DONE]", incremental delta content.
type commercialWire struct{}

func (commercialWire) supportsModelListing() bool { return true }

func (commercialWire) listModelsURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/v1/models"
}

type commercialModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (commercialWire) parseModelList(body []byte) ([]ModelInfo, error) {
	var parsed commercialModelsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errkind.New(errkind.FormatError, "malformed /v1/models response", err)
	}
	out := make([]ModelInfo, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		out = append(out, ModelInfo{ID: m.ID})
	}
	return out, nil
}

func (commercialWire) chatURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/v1/chat/completions"
}

func (commercialWire) setHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
}

func (commercialWire) buildRequestBody(model string, messages []Message, temperature float64, stream bool) ([]byte, error) {
	return json.Marshal(ChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: &temperature,
		Stream:      stream,
	})
}

func (commercialWire) parseNonStreamBody(body []byte) (string, error) {
	var parsed ChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", errkind.New(errkind.FormatError, "malformed /v1/chat/completions response", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", errkind.New(errkind.FormatError, "empty /v1/chat/completions response", nil)
	}
	return parsed.Choices[0].Message.Content, nil
}

type sseDelta struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// parseStreamLine handles one already-unwrapped "data: " payload. The
// caller (ChatCompleteStream in client_ops.go) strips the "data: " prefix;
// a blank keep-alive line returns an empty delta, which the caller skips.
// delta.content is
// incremental already, so it is both the returned delta and what gets
// appended to acc for yield_full_response=true callers.
func (commercialWire) parseStreamLine(line string, acc *strings.Builder) (string, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false, nil
	}
	if line == "[DONE]" {
		return "", true, nil
	}
	var parsed sseDelta
	if err := json.Unmarshal([]byte(line), &parsed); err != nil {
		return "", false, errkind.New(errkind.FormatError, "malformed SSE chunk", err)
	}
	if len(parsed.Choices) == 0 {
		return "", false, nil
	}
	delta := parsed.Choices[0].Delta.Content
	acc.WriteString(delta)
	return delta, false, nil
}
