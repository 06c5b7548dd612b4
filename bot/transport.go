package bot

import (
	"context"
	"io"
)

// Button is one inline keyboard button. Data is the callback payload sent
// back when the button is pressed.
type Button struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Transport is the chat front-end port. The websocket adapter implements
// it; tests use an in-memory fake.
type Transport interface {
	// SendMessage delivers text with an optional inline keyboard and
	// returns the message id for later edits.
	SendMessage(ctx context.Context, ownerID, text string, buttons [][]Button) (int64, error)
	// EditMessage rewrites a previously sent message in place.
	EditMessage(ctx context.Context, ownerID string, messageID int64, text string, buttons [][]Button) error
	// SendDocument delivers a file to the user.
	SendDocument(ctx context.Context, ownerID, filename string, r io.Reader) error
	// AnswerCallback acknowledges a button press, optionally with a toast.
	AnswerCallback(ctx context.Context, callbackID, text string) error
}
