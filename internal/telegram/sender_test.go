package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"tg_miniapp_bot/internal/feature/flow"
)

type fakeSendAPI struct {
	messages []*bot.SendMessageParams
	answers  []*bot.AnswerCallbackQueryParams
	sendErr  error
}

func (f *fakeSendAPI) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.messages = append(f.messages, params)
	return &models.Message{}, nil
}

func (f *fakeSendAPI) AnswerCallbackQuery(_ context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	f.answers = append(f.answers, params)
	return true, nil
}

func TestSendText(t *testing.T) {
	api := &fakeSendAPI{}
	sender := NewSender(api)

	if err := sender.SendText(context.Background(), 42, "<b>Привет</b>"); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	if len(api.messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(api.messages))
	}
	msg := api.messages[0]
	if msg.ChatID != any(int64(42)) {
		t.Errorf("ChatID = %v, want 42", msg.ChatID)
	}
	if msg.Text != "<b>Привет</b>" {
		t.Errorf("Text = %q", msg.Text)
	}
	if msg.ParseMode != models.ParseModeHTML {
		t.Errorf("ParseMode = %q, want HTML", msg.ParseMode)
	}
}

func TestSendTextPropagatesError(t *testing.T) {
	expected := errors.New("telegram down")
	sender := NewSender(&fakeSendAPI{sendErr: expected})

	if err := sender.SendText(context.Background(), 42, "x"); !errors.Is(err, expected) {
		t.Fatalf("err = %v, want wrapped %v", err, expected)
	}
}

func TestSendKeyboardOneButtonPerRow(t *testing.T) {
	api := &fakeSendAPI{}
	sender := NewSender(api)

	buttons := []flow.Button{
		{Label: "Да, верно", Data: "action:actionAnswer;id:1"},
		{Label: "Нет, исправить", Data: "action:actionAnswer;id:0"},
	}
	if err := sender.SendKeyboard(context.Background(), 42, "Подтвердите", buttons); err != nil {
		t.Fatalf("SendKeyboard: %v", err)
	}

	if len(api.messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(api.messages))
	}

	markup, ok := api.messages[0].ReplyMarkup.(*models.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("ReplyMarkup = %T, want inline keyboard", api.messages[0].ReplyMarkup)
	}
	if len(markup.InlineKeyboard) != 2 {
		t.Fatalf("rows = %d, want one per button", len(markup.InlineKeyboard))
	}
	for i, row := range markup.InlineKeyboard {
		if len(row) != 1 {
			t.Errorf("row %d has %d buttons, want 1", i, len(row))
		}
	}
	if markup.InlineKeyboard[0][0].Text != "Да, верно" {
		t.Errorf("button text = %q", markup.InlineKeyboard[0][0].Text)
	}
	if markup.InlineKeyboard[1][0].CallbackData != "action:actionAnswer;id:0" {
		t.Errorf("callback data = %q", markup.InlineKeyboard[1][0].CallbackData)
	}
}

func TestAnswerCallback(t *testing.T) {
	api := &fakeSendAPI{}
	sender := NewSender(api)

	if err := sender.AnswerCallback(context.Background(), "cb-9"); err != nil {
		t.Fatalf("AnswerCallback: %v", err)
	}

	if len(api.answers) != 1 || api.answers[0].CallbackQueryID != "cb-9" {
		t.Fatalf("answers = %+v, want cb-9 acknowledged", api.answers)
	}
}
