package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"textcast/internal/db"
	"textcast/internal/models"
)

const messageFirstEpisodeReady = "first_episode_ready"

// Notifier delivers one-off user notifications.
type Notifier interface {
	NotifyFirstEpisodeReady(user *models.User, episode *models.Episode) error
}

type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends notifications through a Telegram bot. Each
// message type is delivered at most once per user; the guard lives in
// the sent_messages table so retries and concurrent workers stay quiet.
type TelegramNotifier struct {
	bot telegramSender
	log *logrus.Logger
}

func NewTelegramNotifier(botToken string, log *logrus.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: bot, log: log}, nil
}

func (n *TelegramNotifier) NotifyFirstEpisodeReady(user *models.User, episode *models.Episode) error {
	if user.TelegramChatID == nil {
		return nil
	}

	sent, err := db.MarkMessageSent(user.ID, messageFirstEpisodeReady)
	if err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}
	if !sent {
		return nil
	}

	text := fmt.Sprintf("Your first episode is ready! \"%s\" is now in your podcast feed.", episode.Title)
	if _, err := n.bot.Send(tgbotapi.NewMessage(*user.TelegramChatID, text)); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}

	n.log.WithFields(logrus.Fields{
		"event":   "notification_sent",
		"user_id": user.ID,
		"type":    messageFirstEpisodeReady,
	}).Info("First episode notification delivered")
	return nil
}

// NopNotifier is used when no bot token is configured.
type NopNotifier struct{}

func (NopNotifier) NotifyFirstEpisodeReady(*models.User, *models.Episode) error { return nil }
