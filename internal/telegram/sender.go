package telegram

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"tg_miniapp_bot/internal/feature/flow"
)

type sendAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

// Sender adapts the Bot API to the flow engine's outbound-action contract.
// All text is sent HTML-formatted, matching how blocks are authored.
type Sender struct {
	api sendAPI
}

// NewSender constructs a Sender.
func NewSender(api sendAPI) *Sender {
	return &Sender{api: api}
}

// SendText delivers a plain HTML message to a chat.
func (s *Sender) SendText(ctx context.Context, chatID int64, text string) error {
	if s == nil || s.api == nil {
		return errors.New("sender is not initialized")
	}

	_, err := s.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	return nil
}

// SendKeyboard delivers a message with an inline keyboard, one button per row.
func (s *Sender) SendKeyboard(ctx context.Context, chatID int64, text string, buttons []flow.Button) error {
	if s == nil || s.api == nil {
		return errors.New("sender is not initialized")
	}

	rows := make([][]models.InlineKeyboardButton, 0, len(buttons))
	for _, button := range buttons {
		rows = append(rows, []models.InlineKeyboardButton{{
			Text:         button.Label,
			CallbackData: button.Data,
		}})
	}

	_, err := s.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   models.ParseModeHTML,
		ReplyMarkup: &models.InlineKeyboardMarkup{InlineKeyboard: rows},
	})
	if err != nil {
		return fmt.Errorf("send keyboard: %w", err)
	}

	return nil
}

// AnswerCallback clears the loading indicator on a pressed inline button.
func (s *Sender) AnswerCallback(ctx context.Context, callbackQueryID string) error {
	if s == nil || s.api == nil {
		return errors.New("sender is not initialized")
	}

	_, err := s.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackQueryID,
	})
	if err != nil {
		return fmt.Errorf("answer callback query: %w", err)
	}

	return nil
}
