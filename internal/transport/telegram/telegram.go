// Package telegram delivers push-fallback messages through a Telegram bot.
// A delivery token is the target chat id, registered by the client app.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"focusgate/internal/transport"
	logx "focusgate/pkg/logx"
)

type Config struct {
	Token   string
	Timeout time.Duration
}

type Pusher struct {
	bot *tele.Bot
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Pusher, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	// Send-only bot: no poller. NewBot still verifies the token upfront.
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &Pusher{bot: b, log: log.With(logx.String("comp", "push.telegram"))}, nil
}

// Push sends one message to the chat identified by token.
func (p *Pusher) Push(ctx context.Context, token string, msg transport.PushMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(token), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", transport.ErrInvalidToken, token)
	}

	text := formatMessage(msg)
	_, err = p.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{DisableWebPagePreview: true})
	if err != nil {
		if isUnreachableChat(err) {
			return fmt.Errorf("%w: chat %d", transport.ErrInvalidToken, chatID)
		}
		return err
	}
	return nil
}

func formatMessage(msg transport.PushMessage) string {
	var b strings.Builder
	b.WriteString(msg.Title)
	if msg.Body != "" {
		b.WriteString("\n")
		b.WriteString(msg.Body)
	}
	return b.String()
}

// isUnreachableChat classifies Telegram errors that mean the token is dead
// (user blocked the bot, chat deleted) rather than transient.
func isUnreachableChat(err error) bool {
	if errors.Is(err, tele.ErrBlockedByUser) ||
		errors.Is(err, tele.ErrChatNotFound) ||
		errors.Is(err, tele.ErrUserIsDeactivated) {
		return true
	}
	return false
}
