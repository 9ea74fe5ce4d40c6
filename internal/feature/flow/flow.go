// Package flow drives the scripted bot conversation: it classifies inbound
// events, resolves the next block of the authored script, dispatches its side
// effects, and tracks per-chat state in chat storage.
package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"tg_miniapp_bot/internal/chatstore"
	"tg_miniapp_bot/internal/domain"
	"tg_miniapp_bot/internal/logging"
)

// User-facing fallback messages.
const (
	msgUnknownCommand = "Неизвестная команда"
	msgChooseFromMenu = "Пожалуйста, выберите действие из меню выше."
)

// Defaults applied when a confirmation block omits its texts.
const (
	defaultConfirmTemplate = "Пожалуйста, подтвердите ваш ответ: {user_input}"
	defaultPromptLabel     = "Ваш ответ"
	defaultConfirmButton   = "Да"
	defaultCancelButton    = "Нет"
)

const inputPlaceholder = "{user_input}"

// maxChainDepth bounds transitive successor execution so a mis-authored
// script cycle cannot recurse forever.
const maxChainDepth = 20

var affirmatives = map[string]struct{}{
	"да": {}, "yes": {}, "верно": {}, "подтверждаю": {}, "подтвердить": {},
}

var negatives = map[string]struct{}{
	"нет": {}, "no": {}, "исправить": {}, "отмена": {}, "отменить": {},
}

// Button is one inline-keyboard button the engine asks the sender to render.
// The engine emits one button per keyboard row.
type Button struct {
	Label string
	Data  string
}

// Sender dispatches outbound bot actions. Implementations send HTML text.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendKeyboard(ctx context.Context, chatID int64, text string, buttons []Button) error
	AnswerCallback(ctx context.Context, callbackQueryID string) error
}

// Engine is the per-chat conversation state machine.
type Engine struct {
	blocks  domain.BlockRepository
	storage chatstore.Storage
	sender  Sender

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewEngine constructs a flow Engine.
func NewEngine(blocks domain.BlockRepository, storage chatstore.Storage, sender Sender) *Engine {
	return &Engine{
		blocks:  blocks,
		storage: storage,
		sender:  sender,
		locks:   make(map[int64]*sync.Mutex),
	}
}

// BindSender attaches the outbound transport. The engine and the Telegram
// client reference each other, so the sender is bound after both exist. Must
// be called before the first update arrives.
func (e *Engine) BindSender(sender Sender) {
	e.sender = sender
}

// chatLock serializes event handling per chat. Events for different chats
// proceed in parallel.
func (e *Engine) chatLock(chatID int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.locks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[chatID] = lock
	}

	return lock
}

// HandleCommand resolves the start block registered for a bot command and
// executes it, or sends the unknown-command fallback.
func (e *Engine) HandleCommand(ctx context.Context, chatID int64, command string) error {
	if err := e.ready(ctx); err != nil {
		return err
	}

	lock := e.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	block, err := e.blocks.StartBlock(ctx, command)
	if errors.Is(err, domain.ErrBlockNotFound) {
		return e.sender.SendText(ctx, chatID, msgUnknownCommand)
	}
	if err != nil {
		return fmt.Errorf("resolve start block: %w", err)
	}

	e.executeBlock(ctx, chatID, block, 0)
	return nil
}

// HandleText processes a free-text message. The stored conversation state is
// authoritative: text arriving with no current block gets the menu nudge, text
// for an input block is captured for confirmation, and text for a confirmation
// block is matched against the fixed affirmative/negative sets.
func (e *Engine) HandleText(ctx context.Context, chatID int64, text string) error {
	if err := e.ready(ctx); err != nil {
		return err
	}

	lock := e.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	state, err := chatstore.LoadState(ctx, e.storage, chatID)
	if err != nil {
		return fmt.Errorf("load conversation state: %w", err)
	}

	if state.CurrentBlockID == "" {
		return e.sender.SendText(ctx, chatID, msgChooseFromMenu)
	}

	block, err := e.resolveBlock(ctx, chatID, state.CurrentBlockID)
	if err != nil {
		return nil
	}

	switch block.Type {
	case domain.BlockTypeInput:
		e.captureInput(ctx, chatID, block, text)
	case domain.BlockTypeConfirmation:
		e.resolveConfirmationText(ctx, chatID, block, text, state.Pending)
	default:
		logging.WithContext(logging.Context{ChatID: chatID, Event: "flow_text"}).
			WithField("block_id", block.BlockID).
			WithField("block_type", string(block.Type)).
			Warn("free text arrived for a block that takes none")
	}

	return nil
}

// HandleCallback processes an inline-button press. The callback is always
// acknowledged first, best-effort, so the button's loading indicator clears
// regardless of what block execution does afterwards.
func (e *Engine) HandleCallback(ctx context.Context, chatID int64, callbackQueryID, data string) error {
	if err := e.ready(ctx); err != nil {
		return err
	}

	if callbackQueryID != "" {
		if err := e.sender.AnswerCallback(ctx, callbackQueryID); err != nil {
			logging.WithContext(logging.Context{ChatID: chatID, Event: "flow_callback"}).
				WithField("error", err.Error()).
				Warn("answer callback failed")
		}
	}

	lock := e.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	action, params := ParseCallback(data)

	switch action {
	case ActionInlineButtons:
		e.handleInlineButton(ctx, chatID, params["id"])
	case ActionAnswer:
		e.handleAnswer(ctx, chatID, params["id"] == "1")
	case ActionConfirmInput:
		e.handleConfirmInput(ctx, chatID, params["block_id"], true)
	case ActionCancelInput:
		e.handleConfirmInput(ctx, chatID, params["block_id"], false)
	default:
		logging.WithContext(logging.Context{ChatID: chatID, Event: "flow_callback"}).
			WithField("action", action).
			Warn("unknown callback action")
	}

	return nil
}

func (e *Engine) ready(ctx context.Context) error {
	if e == nil || e.blocks == nil || e.storage == nil || e.sender == nil {
		return errors.New("flow engine is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}

// resolveBlock looks up a block and folds "missing" and "structurally empty"
// into the same logged, silent outcome.
func (e *Engine) resolveBlock(ctx context.Context, chatID int64, blockID string) (domain.Block, error) {
	block, err := e.blocks.ByID(ctx, blockID)
	if err != nil || block.IsZero() {
		logging.WithContext(logging.Context{ChatID: chatID, Event: "flow_resolve"}).
			WithField("block_id", blockID).
			Warn("block not found")
		if err == nil {
			err = domain.ErrBlockNotFound
		}
		return domain.Block{}, err
	}

	return block, nil
}

func (e *Engine) handleInlineButton(ctx context.Context, chatID int64, blockID string) {
	if blockID == "" {
		logging.WithContext(logging.Context{ChatID: chatID, Event: "flow_callback"}).
			Warn("inline button callback without block id")
		return
	}

	block, err := e.resolveBlock(ctx, chatID, blockID)
	if err != nil {
		return
	}

	e.executeBlock(ctx, chatID, block, 0)
}

// handleAnswer resolves the Да/Нет confirmation buttons.
func (e *Engine) handleAnswer(ctx context.Context, chatID int64, confirmed bool) {
	state, err := chatstore.LoadState(ctx, e.storage, chatID)
	if err != nil {
		logging.WithContext(logging.Context{ChatID: chatID, Event: "flow_answer"}).
			WithField("error", err.Error()).
			Error("load conversation state failed")
		return
	}
	if state.Pending == nil {
		logging.WithContext(logging.Context{ChatID: chatID, Event: "flow_answer"}).
			Warn("confirmation answer with no pending input")
		return
	}

	if confirmed {
		e.confirmPending(ctx, chatID, *state.Pending)
	} else {
		e.cancelPending(ctx, chatID, *state.Pending)
	}
}

// handleConfirmInput resolves the legacy confirm_input/cancel_input callback
// actions, which may carry the input block id explicitly.
func (e *Engine) handleConfirmInput(ctx context.Context, chatID int64, blockID string, confirmed bool) {
	state, err := chatstore.LoadState(ctx, e.storage, chatID)
	if err != nil {
		logging.WithContext(logging.Context{ChatID: chatID, Event: "flow_answer"}).
			WithField("error", err.Error()).
			Error("load conversation state failed")
		return
	}
	if state.Pending == nil {
		logging.WithContext(logging.Context{ChatID: chatID, Event: "flow_answer"}).
			Warn("confirmation answer with no pending input")
		return
	}

	pending := *state.Pending
	if blockID != "" {
		pending.BlockID = blockID
	}

	if confirmed {
		e.confirmPending(ctx, chatID, pending)
	} else {
		e.cancelPending(ctx, chatID, pending)
	}
}

// captureInput stores the free-text answer to an input block and either shows
// its confirmation block or accepts the input outright.
func (e *Engine) captureInput(ctx context.Context, chatID int64, inputBlock domain.Block, text string) {
	pending := chatstore.PendingInput{BlockID: inputBlock.BlockID, Input: text}
	if err := chatstore.SavePendingInput(ctx, e.storage, chatID, pending); err != nil {
		logging.WithContext(logging.Context{ChatID: chatID, Event: "flow_input"}).
			WithField("error", err.Error()).
			Error("save pending input failed")
		return
	}

	if inputBlock.ConfirmationBlock != "" {
		confirmation, err := e.resolveBlock(ctx, chatID, inputBlock.ConfirmationBlock)
		if err == nil {
			if err := chatstore.SaveCurrentBlock(ctx, e.storage, chatID, confirmation.BlockID); err != nil {
				logging.WithContext(logging.Context{ChatID: chatID, Event: "flow_input"}).
					WithField("error", err.Error()).
					Error("save current block failed")
			}
			e.sendConfirmation(ctx, chatID, confirmation, inputBlock, text)
			return
		}
		// Declared confirmation block is missing; accept the input directly.
	}

	e.confirmPending(ctx, chatID, pending)
}

// sendConfirmation renders the confirmation prompt, substituting the captured
// input into the {user_input} placeholder. Templates without the placeholder
// fall back to "<prompt>:<input>".
func (e *Engine) sendConfirmation(ctx context.Context, chatID int64, confirmation, inputBlock domain.Block, input string) {
	template := confirmation.Text
	if template == "" {
		template = defaultConfirmTemplate
	}

	var text string
	if strings.Contains(template, inputPlaceholder) {
		text = strings.ReplaceAll(template, inputPlaceholder, input)
	} else {
		prompt := inputBlock.Text
		if prompt == "" {
			prompt = defaultPromptLabel
		}
		text = prompt + ":" + input
	}

	confirmLabel := confirmation.ConfirmButton
	if confirmLabel == "" {
		confirmLabel = defaultConfirmButton
	}
	cancelLabel := confirmation.CancelButton
	if cancelLabel == "" {
		cancelLabel = defaultCancelButton
	}

	buttons := []Button{
		{Label: confirmLabel, Data: EncodeCallback(ActionAnswer, map[string]string{"id": "1"})},
		{Label: cancelLabel, Data: EncodeCallback(ActionAnswer, map[string]string{"id": "0"})},
	}

	if err := e.sender.SendKeyboard(ctx, chatID, text, buttons); err != nil {
		logging.WithContext(logging.Context{ChatID: chatID, Event: "flow_confirmation"}).
			WithField("error", err.Error()).
			Error("send confirmation failed")
	}
}

// resolveConfirmationText matches free text typed instead of pressing a
// confirmation button. Unrecognized text is ignored.
func (e *Engine) resolveConfirmationText(ctx context.Context, chatID int64, _ domain.Block, text string, pending *chatstore.PendingInput) {
	if pending == nil {
		logging.WithContext(logging.Context{ChatID: chatID, Event: "flow_answer"}).
			Warn("confirmation text with no pending input")
		return
	}

	normalized := strings.ToLower(strings.TrimSpace(text))
	if _, ok := affirmatives[normalized]; ok {
		e.confirmPending(ctx, chatID, *pending)
		return
	}
	if _, ok := negatives[normalized]; ok {
		e.cancelPending(ctx, chatID, *pending)
	}
}

// confirmPending accepts captured input: the current block is cleared and the
// original input block's next_block, when declared, is executed. The pending
// entry is cleared in every outcome, including lookup failures.
func (e *Engine) confirmPending(ctx context.Context, chatID int64, pending chatstore.PendingInput) {
	defer func() {
		if err := chatstore.ClearPendingInput(ctx, e.storage, chatID); err != nil {
			logging.WithContext(logging.Context{ChatID: chatID, Event: "flow_answer"}).
				WithField("error", err.Error()).
				Warn("clear pending input failed")
		}
	}()

	// Cleared before the input block lookup: when the block is gone the chat
	// must not stay parked on the confirmation block.
	if err := chatstore.SaveCurrentBlock(ctx, e.storage, chatID, ""); err != nil {
		logging.WithContext(logging.Context{ChatID: chatID, Event: "flow_answer"}).
			WithField("error", err.Error()).
			Warn("clear current block failed")
	}

	inputBlock, err := e.resolveBlock(ctx, chatID, pending.BlockID)
	if err != nil {
		return
	}

	if inputBlock.NextBlock == "" {
		logging.WithContext(logging.Context{ChatID: chatID, Event: "flow_answer"}).
			WithField("block_id", inputBlock.BlockID).
			Info("input confirmed, no next block declared")
		return
	}

	next, err := e.resolveBlock(ctx, chatID, inputBlock.NextBlock)
	if err != nil {
		return
	}

	e.executeBlock(ctx, chatID, next, 0)
}

// cancelPending rejects captured input: the original input block becomes
// current again and is re-executed so the user is re-prompted.
func (e *Engine) cancelPending(ctx context.Context, chatID int64, pending chatstore.PendingInput) {
	defer func() {
		if err := chatstore.ClearPendingInput(ctx, e.storage, chatID); err != nil {
			logging.WithContext(logging.Context{ChatID: chatID, Event: "flow_answer"}).
				WithField("error", err.Error()).
				Warn("clear pending input failed")
		}
	}()

	inputBlock, err := e.resolveBlock(ctx, chatID, pending.BlockID)
	if err != nil {
		return
	}

	if err := chatstore.SaveCurrentBlock(ctx, e.storage, chatID, inputBlock.BlockID); err != nil {
		logging.WithContext(logging.Context{ChatID: chatID, Event: "flow_answer"}).
			WithField("error", err.Error()).
			Warn("restore current block failed")
	}

	e.executeBlock(ctx, chatID, inputBlock, 0)
}

// executeBlock dispatches one block's side effects and chains into its
// successor for text and command blocks.
func (e *Engine) executeBlock(ctx context.Context, chatID int64, block domain.Block, depth int) {
	entry := logging.WithContext(logging.Context{ChatID: chatID, Event: "flow_execute"}).
		WithField("block_id", block.BlockID).
		WithField("block_type", string(block.Type))

	if block.IsZero() {
		entry.Warn("refusing to execute block without id")
		return
	}
	if depth >= maxChainDepth {
		entry.Error("block chain too deep, stopping")
		return
	}

	switch block.Type {
	case domain.BlockTypeCommand, domain.BlockTypeText:
		text := block.DisplayText()
		if text == "" {
			entry.Warn("text block has no payload")
			return
		}
		if err := e.sender.SendText(ctx, chatID, text); err != nil {
			entry.WithField("error", err.Error()).Error("send text failed")
			return
		}

		successor := block.Successor()
		if successor == "" {
			return
		}
		next, err := e.resolveBlock(ctx, chatID, successor)
		if err != nil {
			return
		}
		e.executeBlock(ctx, chatID, next, depth+1)

	case domain.BlockTypeMenu:
		buttons := make([]Button, 0, len(block.Buttons))
		for _, button := range block.Buttons {
			if button.TargetBlockID == "" {
				continue
			}
			buttons = append(buttons, Button{
				Label: button.Label,
				Data:  EncodeCallback(ActionInlineButtons, map[string]string{"id": button.TargetBlockID}),
			})
		}
		if err := e.sender.SendKeyboard(ctx, chatID, block.DisplayText(), buttons); err != nil {
			entry.WithField("error", err.Error()).Error("send menu failed")
		}

	case domain.BlockTypeInput:
		text := block.DisplayText()
		if text == "" {
			entry.Warn("input block has no prompt")
			return
		}
		if err := e.sender.SendText(ctx, chatID, text); err != nil {
			entry.WithField("error", err.Error()).Error("send prompt failed")
			return
		}
		if err := chatstore.SaveCurrentBlock(ctx, e.storage, chatID, block.BlockID); err != nil {
			entry.WithField("error", err.Error()).Error("save current block failed")
		}

	case domain.BlockTypeConfirmation:
		// Confirmation blocks are rendered only from captured input.
		entry.Warn("confirmation block executed outside an input flow")

	default:
		entry.Warn("unknown block type")
	}
}
