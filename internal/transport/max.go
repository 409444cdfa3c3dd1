package transport

import (
	"context"
	"fmt"
	"log/slog"

	maxbot "github.com/max-messenger/max-bot-api-client-go"
	"github.com/max-messenger/max-bot-api-client-go/schemes"
)

// Compile-time interface checks
var (
	_ Sender = (*MaxSender)(nil)
	_ Sender = (*LogSender)(nil)
)

// messenger is the slice of the bot API used for sending.
type messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// maxAPI adapts *maxbot.Api to messenger.
type maxAPI struct {
	api *maxbot.Api
}

func (m *maxAPI) SendText(ctx context.Context, chatID int64, text string) error {
	_, err := m.api.Messages.Send(ctx, maxbot.NewMessage().SetChat(chatID).SetText(text))
	return err
}

// MaxSender delivers messages through the MAX bot API.
type MaxSender struct {
	client messenger
}

// NewMaxSender wraps an initialized bot API client.
func NewMaxSender(api *maxbot.Api) *MaxSender {
	return &MaxSender{client: &maxAPI{api: api}}
}

// Send delivers text with the keyboard rendered as commands.
func (s *MaxSender) Send(ctx context.Context, chatID int64, text string, kb *Keyboard) error {
	if err := s.client.SendText(ctx, chatID, RenderKeyboard(text, kb)); err != nil {
		return fmt.Errorf("send to chat %d: %w", chatID, err)
	}
	return nil
}

// Connect creates the bot API client for token.
func Connect(token string) (*maxbot.Api, error) {
	if token == "" {
		return nil, ErrNotConfigured
	}
	api, err := maxbot.New(token)
	if err != nil {
		return nil, fmt.Errorf("create bot client: %w", err)
	}
	return api, nil
}

// Poller reads updates from the bot API and hands them to a Handler.
type Poller struct {
	api    *maxbot.Api
	logger *slog.Logger
}

// NewPoller creates a poller for api.
func NewPoller(api *maxbot.Api, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{api: api, logger: logger}
}

// Run consumes updates until ctx is cancelled. Each update is handled
// inline; the handler is expected to return promptly.
func (p *Poller) Run(ctx context.Context, h Handler) error {
	if p.api == nil {
		return ErrNotConfigured
	}
	p.logger.Info("update poller started",
		"component", "transport",
		"action", "start",
	)
	for update := range p.api.GetUpdates(ctx) {
		in, ok := Convert(update)
		if !ok {
			continue
		}
		h.HandleInbound(ctx, in)
	}
	p.logger.Info("update poller stopped",
		"component", "transport",
		"action", "stop",
	)
	return nil
}

// Convert maps a platform update to an Inbound. Unsupported update types
// return false.
func Convert(update interface{}) (Inbound, bool) {
	switch upd := update.(type) {
	case *schemes.MessageCreatedUpdate:
		return Inbound{
			UserID: int64(upd.Message.Sender.UserId),
			ChatID: int64(upd.Message.Recipient.ChatId),
			Text:   upd.Message.Body.Text,
		}, true
	case *schemes.MessageCallbackUpdate:
		return Inbound{
			UserID:   int64(upd.Callback.GetUserID()),
			ChatID:   int64(upd.Callback.GetChatID()),
			Text:     upd.Callback.Payload,
			Callback: true,
		}, true
	}
	return Inbound{}, false
}
