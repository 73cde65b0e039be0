// Package telegram contains the inbound webhook handling and the outbound
// message gateway for the users' personal bots.
package telegram

// Update is the provider's webhook payload. Only the fields the core
// consumes are mapped; everything else is ignored.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is one inbound chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

// Chat identifies the conversation the message arrived in.
type Chat struct {
	ID int64 `json:"id"`
}

// apiEnvelope is the provider's response wrapper for API calls.
type apiEnvelope struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}
