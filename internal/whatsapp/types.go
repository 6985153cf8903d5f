package whatsapp

import (
	"encoding/json"
	"fmt"
)

const messagingProduct = "whatsapp"

type outboundMessage struct {
	MessagingProduct string     `json:"messaging_product"`
	To               string     `json:"to"`
	Type             string     `json:"type"`
	Text             *textBody  `json:"text,omitempty"`
	Image            *imageBody `json:"image,omitempty"`
}

type textBody struct {
	Body string `json:"body"`
}

type imageBody struct {
	Link    string `json:"link"`
	Caption string `json:"caption,omitempty"`
}

// apiError is the error object returned by the Graph API.
type apiError struct {
	Error *struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		FbTraceID string `json:"fbtrace_id"`
	} `json:"error,omitempty"`
}

// Failure kinds of a SendError.
const (
	KindEncode    = "encode"
	KindTransport = "transport"
	KindStatus    = "status"
)

// SendError describes a failed send.
type SendError struct {
	Kind    string
	Status  int
	Code    int
	Message string
	Err     error
}

func newStatusError(status int, body []byte) *SendError {
	e := &SendError{Kind: KindStatus, Status: status, Message: string(body)}
	var parsed apiError
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		e.Code = parsed.Error.Code
		e.Message = parsed.Error.Message
	}
	return e
}

func (e *SendError) Error() string {
	switch e.Kind {
	case KindStatus:
		if e.Code != 0 {
			return fmt.Sprintf("whatsapp api status %d (code %d): %s", e.Status, e.Code, e.Message)
		}
		return fmt.Sprintf("whatsapp api status %d: %s", e.Status, e.Message)
	default:
		return fmt.Sprintf("whatsapp %s: %v", e.Kind, e.Err)
	}
}

func (e *SendError) Unwrap() error {
	return e.Err
}
