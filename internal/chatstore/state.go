package chatstore

import (
	"context"
	"encoding/json"
	"fmt"
)

// PendingInput holds free text captured by an input block while it awaits the
// user's confirmation.
type PendingInput struct {
	BlockID string `json:"block_id"`
	Input   string `json:"input"`
}

// ConversationState is the per-chat state the flow engine reads and writes.
type ConversationState struct {
	CurrentBlockID string
	Pending        *PendingInput
}

// LoadState assembles the conversation state for a chat. Corrupted pending
// payloads are discarded and removed from storage rather than surfaced; the
// chat degrades to a clean state instead of wedging.
func LoadState(ctx context.Context, storage Storage, chatID int64) (ConversationState, error) {
	var state ConversationState

	current, ok, err := storage.Get(ctx, chatID, KeyCurrentBlock)
	if err != nil {
		return ConversationState{}, fmt.Errorf("load current block: %w", err)
	}
	if ok {
		state.CurrentBlockID = current
	}

	raw, ok, err := storage.Get(ctx, chatID, KeyPendingInput)
	if err != nil {
		return ConversationState{}, fmt.Errorf("load pending input: %w", err)
	}
	if ok {
		var pending PendingInput
		if err := json.Unmarshal([]byte(raw), &pending); err != nil || pending.BlockID == "" {
			_ = storage.Forget(ctx, chatID, KeyPendingInput)
		} else {
			state.Pending = &pending
		}
	}

	return state, nil
}

// SaveCurrentBlock records which block the chat is parked on.
func SaveCurrentBlock(ctx context.Context, storage Storage, chatID int64, blockID string) error {
	if blockID == "" {
		return storage.Forget(ctx, chatID, KeyCurrentBlock)
	}
	return storage.Set(ctx, chatID, KeyCurrentBlock, blockID)
}

// SavePendingInput records captured input awaiting confirmation.
func SavePendingInput(ctx context.Context, storage Storage, chatID int64, pending PendingInput) error {
	raw, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("encode pending input: %w", err)
	}
	return storage.Set(ctx, chatID, KeyPendingInput, string(raw))
}

// ClearPendingInput drops any captured input.
func ClearPendingInput(ctx context.Context, storage Storage, chatID int64) error {
	return storage.Forget(ctx, chatID, KeyPendingInput)
}

// ClearState drops all conversation state for a chat.
func ClearState(ctx context.Context, storage Storage, chatID int64) error {
	if err := storage.Forget(ctx, chatID, KeyCurrentBlock); err != nil {
		return err
	}
	return storage.Forget(ctx, chatID, KeyPendingInput)
}
