package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"notiq/internal/queue"
	"notiq/pkg/logx"
)

// TelegramConfig configures the Telegram transport.
//
// Recipients maps pipeline user ids to Telegram chat ids. Users without a
// mapping cannot be reached; their deliveries fail and stay visible in logs.
type TelegramConfig struct {
	Token       string
	Recipients  map[string]int64
	PollTimeout time.Duration
}

// Telegram pushes due notifications to per-user Telegram chats.
type Telegram struct {
	cfg TelegramConfig
	log logx.Logger
	bot *tele.Bot
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}
	return &Telegram{cfg: cfg, log: log, bot: b}, nil
}

func (s *Telegram) Deliver(ctx context.Context, userID string, e queue.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, ok := s.cfg.Recipients[userID]
	if !ok {
		return fmt.Errorf("no telegram recipient configured for user %q", userID)
	}
	_, err := s.bot.Send(&tele.Chat{ID: chatID}, FormatEntry(e))
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	s.log.Debug("telegram delivery",
		logx.String("user", userID),
		logx.Int64("chat_id", chatID),
		logx.String("id", e.ID))
	return nil
}
