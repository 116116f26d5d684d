// Package genai provides reply generation for lead conversations using the
// OpenAI API.
//
// The flow engine treats the generator as a black box returning a reply
// string; downstream classification keys on the canned marker phrases the
// system prompt instructs the model to emit verbatim.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// defaultSystemPrompt steers the assistant persona and fixes the marker
// phrases the escalation classifier scans for. The phrases must appear
// verbatim when the corresponding situation occurs.
const defaultSystemPrompt = `You are the secretary of a medical-tourism clinic network, helping
patients arrange treatment abroad. Be warm, concise and encouraging; steer the
conversation toward the patient describing their health problem, sharing exam
results, and leaving a phone number.

Use these exact phrases when the situation calls for them, and only then:
- When the question needs a human specialist, include: "I am passing your request to our specialist".
- When the user asks you to stop messaging them, include: "I will wait until you want to continue our conversation".
- When the user asks to start over, include: "let's start our conversation over".
- In a group chat, when details get personal, include: "let's continue our conversation in a private chat".`

// ClientInterface defines the reply-generation contract consumed by the flow
// engine. Implementations must be safe for concurrent use.
type ClientInterface interface {
	// GenerateReply produces a conversational reply to userText. history is
	// an advisory digest of recent turns and may be empty; group marks
	// multi-party context so the model keeps answers short and impersonal.
	GenerateReply(ctx context.Context, userText, displayName, history string, group bool) (string, error)
	// GenerateCommandReply produces a reply for an unrecognized slash command.
	GenerateCommandReply(ctx context.Context, command, displayName string) (string, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey       string
	Model        string
	SystemPrompt string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithModel overrides the chat model.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// WithSystemPrompt overrides the default system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *Opts) {
		o.SystemPrompt = prompt
	}
}

// Client wraps the OpenAI chat completion API for generating lead replies.
type Client struct {
	client       openai.Client
	model        string
	systemPrompt string
}

// NewClient initializes a new GenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	model := cfg.Model
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	slog.Debug("GenAI client created", "model", model)
	return &Client{
		client:       openai.NewClient(option.WithAPIKey(apiKey)),
		model:        model,
		systemPrompt: systemPrompt,
	}, nil
}

// GenerateReply produces a conversational reply to userText.
func (c *Client) GenerateReply(ctx context.Context, userText, displayName, history string, group bool) (string, error) {
	slog.Debug("GenAI GenerateReply invoked", "display_name", displayName, "group", group, "text_length", len(userText))

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(c.systemPrompt),
	}
	if group {
		messages = append(messages, openai.SystemMessage(
			"This message was sent in a group chat. Keep the reply short and invite the user to continue privately when details get personal."))
	}
	if displayName != "" {
		messages = append(messages, openai.SystemMessage(fmt.Sprintf("The user's name is %s.", displayName)))
	}
	if history != "" {
		messages = append(messages, openai.SystemMessage("Recent conversation digest:\n"+history))
	}
	messages = append(messages, openai.UserMessage(userText))

	return c.complete(ctx, messages)
}

// GenerateCommandReply produces a reply for an unrecognized command.
func (c *Client) GenerateCommandReply(ctx context.Context, command, displayName string) (string, error) {
	slog.Debug("GenAI GenerateCommandReply invoked", "command", command)
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(c.systemPrompt),
		openai.UserMessage(fmt.Sprintf("User %s sent the unrecognized command %q. Briefly explain what you can help with.", displayName, command)),
	}
	return c.complete(ctx, messages)
}

// complete runs a single chat completion and returns the first choice.
func (c *Client) complete(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		slog.Error("GenAI completion failed", "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("GenAI completion succeeded", "reply_length", len(reply))
	return reply, nil
}
