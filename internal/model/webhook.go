package model

// InboundEventType is the kind of webhook event delivered by the messaging
// channel.
type InboundEventType string

const (
	InboundMessage  InboundEventType = "message"
	InboundPostback InboundEventType = "postback"
	InboundFollow   InboundEventType = "follow"
	InboundJoin     InboundEventType = "join"
)

// SourceType scopes a conversation to an individual, group, or room chat.
type SourceType string

const (
	SourceUser  SourceType = "user"
	SourceGroup SourceType = "group"
	SourceRoom  SourceType = "room"
)

// Source identifies who sent an event and in which chat.
type Source struct {
	Type   SourceType `json:"type"`
	UserID string     `json:"userId"`
	ChatID string     `json:"chatId"`
}

// MessageContent is the payload of a message event.
type MessageContent struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // text, file
	Text     string `json:"text,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

// PostbackContent is the payload of a postback event.
type PostbackContent struct {
	Data string `json:"data"`
}

// InboundEvent is one event from a webhook delivery. A single delivery may
// carry several events; they are dispatched concurrently.
type InboundEvent struct {
	Type       InboundEventType `json:"type"`
	ReplyToken string           `json:"replyToken,omitempty"`
	Source     Source           `json:"source"`
	Message    *MessageContent  `json:"message,omitempty"`
	Postback   *PostbackContent `json:"postback,omitempty"`
}

// WebhookPayload is the body of one webhook POST.
type WebhookPayload struct {
	Events []InboundEvent `json:"events"`
}
