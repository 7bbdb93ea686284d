// Package messaging defines the outbound chat channel contract and the
// message shapes the orchestrator produces.
package messaging

import (
	"context"
	"io"
)

// CardAction is one tappable affordance on a card. Data is a postback
// query string (see model.Postback).
type CardAction struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Card is a structured message with optional actions.
type Card struct {
	Title   string       `json:"title,omitempty"`
	Text    string       `json:"text"`
	Actions []CardAction `json:"actions,omitempty"`
}

// Message is one outbound message: plain text, or a card.
type Message struct {
	Text string `json:"text,omitempty"`
	Card *Card  `json:"card,omitempty"`
}

// NewText builds a plain text message.
func NewText(text string) Message {
	return Message{Text: text}
}

// NewCard builds a card message.
func NewCard(card Card) Message {
	return Message{Card: &card}
}

// Channel delivers messages to a chat. Reply consumes a one-shot reply
// token; Push addresses a chat directly and is used for asynchronous
// notifications such as bulk-import summaries.
type Channel interface {
	Reply(ctx context.Context, replyToken string, msgs []Message) error
	Push(ctx context.Context, chatID string, msgs []Message) error

	// GetContent streams the binary content of an uploaded file message.
	// The caller closes the reader.
	GetContent(ctx context.Context, messageID string) (io.ReadCloser, error)
}
