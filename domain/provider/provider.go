// Package provider provides unified AI provider abstractions for embedding
// generation and text generation. Providers may support one or both
// capabilities; selecting a provider fixes the embedding dimension for the
// lifetime of the handle.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnsupportedOperation indicates the provider doesn't support the
// requested operation.
var ErrUnsupportedOperation = errors.New("operation not supported by this provider")

// Message represents a chat message.
type Message struct {
	role    string
	content string
}

// NewMessage creates a new Message.
func NewMessage(role, content string) Message {
	return Message{role: role, content: content}
}

// Role returns the message role (e.g., "system", "user").
func (m Message) Role() string { return m.role }

// Content returns the message content.
func (m Message) Content() string { return m.content }

// SystemMessage creates a system message.
func SystemMessage(content string) Message { return NewMessage("system", content) }

// UserMessage creates a user message.
func UserMessage(content string) Message { return NewMessage("user", content) }

// ChatCompletionRequest represents a request for text generation.
type ChatCompletionRequest struct {
	messages    []Message
	maxTokens   int
	temperature float64
}

// NewChatCompletionRequest creates a new ChatCompletionRequest.
func NewChatCompletionRequest(messages []Message) ChatCompletionRequest {
	msgs := make([]Message, len(messages))
	copy(msgs, messages)
	return ChatCompletionRequest{messages: msgs}
}

// WithMaxTokens returns a new request with the specified max tokens.
func (r ChatCompletionRequest) WithMaxTokens(n int) ChatCompletionRequest {
	r.maxTokens = n
	return r
}

// WithTemperature returns a new request with the specified temperature.
func (r ChatCompletionRequest) WithTemperature(t float64) ChatCompletionRequest {
	r.temperature = t
	return r
}

// Messages returns the messages.
func (r ChatCompletionRequest) Messages() []Message {
	msgs := make([]Message, len(r.messages))
	copy(msgs, r.messages)
	return msgs
}

// MaxTokens returns the max tokens setting.
func (r ChatCompletionRequest) MaxTokens() int { return r.maxTokens }

// Temperature returns the temperature setting.
func (r ChatCompletionRequest) Temperature() float64 { return r.temperature }

// ChatCompletionResponse represents a text generation response.
type ChatCompletionResponse struct {
	content      string
	finishReason string
}

// NewChatCompletionResponse creates a new ChatCompletionResponse.
func NewChatCompletionResponse(content, finishReason string) ChatCompletionResponse {
	return ChatCompletionResponse{content: content, finishReason: finishReason}
}

// Content returns the generated content.
func (r ChatCompletionResponse) Content() string { return r.content }

// FinishReason returns why generation stopped.
func (r ChatCompletionResponse) FinishReason() string { return r.finishReason }

// EmbeddingRequest represents a request for embeddings.
type EmbeddingRequest struct {
	texts []string
}

// NewEmbeddingRequest creates a new EmbeddingRequest.
func NewEmbeddingRequest(texts []string) EmbeddingRequest {
	t := make([]string, len(texts))
	copy(t, texts)
	return EmbeddingRequest{texts: t}
}

// Texts returns the texts to embed.
func (r EmbeddingRequest) Texts() []string {
	t := make([]string, len(r.texts))
	copy(t, r.texts)
	return t
}

// EmbeddingResponse represents an embedding response. The vectors are
// aligned 1:1 with the request texts, in order.
type EmbeddingResponse struct {
	embeddings [][]float64
}

// NewEmbeddingResponse creates a new EmbeddingResponse.
func NewEmbeddingResponse(embeddings [][]float64) EmbeddingResponse {
	embs := make([][]float64, len(embeddings))
	for i, e := range embeddings {
		embs[i] = make([]float64, len(e))
		copy(embs[i], e)
	}
	return EmbeddingResponse{embeddings: embs}
}

// Embeddings returns the embedding vectors.
func (r EmbeddingResponse) Embeddings() [][]float64 {
	embs := make([][]float64, len(r.embeddings))
	for i, e := range r.embeddings {
		embs[i] = make([]float64, len(e))
		copy(embs[i], e)
	}
	return embs
}

// TextGenerator generates text completions.
type TextGenerator interface {
	ChatCompletion(ctx context.Context, req ChatCompletionRequest) (ChatCompletionResponse, error)
}

// Embedder generates embeddings for text. Implementations must return
// exactly one vector per input text, preserving order. Per-item failures
// fail the whole call rather than dropping rows.
type Embedder interface {
	Embed(ctx context.Context, req EmbeddingRequest) (EmbeddingResponse, error)

	// Dimension returns the embedding vector length, fixed for the
	// lifetime of the handle.
	Dimension() int

	// Close releases any resources held by the embedder.
	Close() error
}

// ConfigurationError indicates bad or missing provider setup, such as an
// unknown provider name or a missing credential. It is raised before any
// network or model work starts.
type ConfigurationError struct {
	message string
}

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string { return e.message }

// ProviderError wraps an embedding backend failure after retries or
// fallback exhaustion.
type ProviderError struct {
	operation  string
	statusCode int
	message    string
	cause      error
}

// NewProviderError creates a new ProviderError.
func NewProviderError(operation string, statusCode int, message string, cause error) *ProviderError {
	return &ProviderError{
		operation:  operation,
		statusCode: statusCode,
		message:    message,
		cause:      cause,
	}
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

// Unwrap returns the underlying cause.
func (e *ProviderError) Unwrap() error { return e.cause }

// Operation returns the operation that failed.
func (e *ProviderError) Operation() string { return e.operation }

// StatusCode returns the HTTP status code if available.
func (e *ProviderError) StatusCode() int { return e.statusCode }
