// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// TablePrompt carries everything the create-analyses stage needs to build a
// per-table prompt: article title/abstract, table metadata,
// caption, footer, and the raw table markup.
type TablePrompt struct {
	ArticleTitle    string
	ArticleAbstract string
	TableCaption    string
	TableFooter     string
	TableMetadata   map[string]any
	RawTableContent string
}

// Client extracts structured analyses from one table prompt.
type Client interface {
	ExtractAnalyses(ctx context.Context, prompt TablePrompt) []Analysis
}

// AnthropicClient drives the Anthropic Messages API, grounded on the
// request/response wiring used for article metadata extraction in the
// pack's manifold example.
type AnthropicClient struct {
	sdk   anthropic.Client
	model anthropic.Model
}

// NewAnthropicClient builds a client reading its API key from the named
// environment variable (config's llm.api_key_env).
func NewAnthropicClient(model, apiKeyEnv string) *AnthropicClient {
	key := os.Getenv(apiKeyEnv)
	return &AnthropicClient{
		sdk:   anthropic.NewClient(option.WithAPIKey(key)),
		model: anthropic.Model(model),
	}
}

const systemPrompt = `You extract neuroimaging activation coordinate tables into structured JSON.
Respond ONLY with JSON of the form:
{"analyses": [{"name": "...", "description": "...", "points": [{"coordinates": [x,y,z], "space": "MNI"|"TAL", "values": [{"value": 1.23, "kind": "z-statistic"}]}]}]}`

func (c *AnthropicClient) ExtractAnalyses(ctx context.Context, prompt TablePrompt) []Analysis {
	userMessage := fmt.Sprintf(
		"Article: %s\n\nAbstract: %s\n\nTable caption: %s\nTable footer: %s\nTable metadata: %v\n\nTable content:\n%s",
		prompt.ArticleTitle, prompt.ArticleAbstract, prompt.TableCaption, prompt.TableFooter,
		prompt.TableMetadata, prompt.RawTableContent)

	msg, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage)),
		},
	})
	if err != nil {
		return nil
	}

	var text string
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += tb.Text
		}
	}
	return ParseResponse([]byte(text))
}
