package domain

import (
	"errors"
	"fmt"
)

// BlockType discriminates the variants of a conversation block.
type BlockType string

const (
	BlockTypeCommand      BlockType = "command"
	BlockTypeText         BlockType = "text"
	BlockTypeMenu         BlockType = "menu"
	BlockTypeInput        BlockType = "input"
	BlockTypeConfirmation BlockType = "confirmation"
)

// BlockButton is one inline-keyboard choice of a menu block.
type BlockButton struct {
	Label         string `bson:"label" json:"label"`
	TargetBlockID string `bson:"target_block_id" json:"target_block_id"`
}

// Block is one node of the authored conversation script. Blocks are authored
// externally and read-only to the flow engine. Which fields are meaningful
// depends on Type: command blocks carry Value, menu blocks carry Buttons,
// input blocks may point at a confirmation block and a successor, and
// confirmation blocks carry their button labels and actions.
type Block struct {
	BlockID           string         `bson:"block_id" json:"block_id"`
	Type              BlockType      `bson:"type" json:"type"`
	Text              string         `bson:"text,omitempty" json:"text,omitempty"`
	Value             string         `bson:"value,omitempty" json:"value,omitempty"`
	Buttons           []BlockButton  `bson:"buttons,omitempty" json:"buttons,omitempty"`
	Target            string         `bson:"target,omitempty" json:"target,omitempty"`
	NextBlock         string         `bson:"next_block,omitempty" json:"next_block,omitempty"`
	ConfirmationBlock string         `bson:"confirmation_block,omitempty" json:"confirmation_block,omitempty"`
	Command           string         `bson:"command,omitempty" json:"command,omitempty"`
	InputType         string         `bson:"input_type,omitempty" json:"input_type,omitempty"`
	ConfirmButton     string         `bson:"confirm_button,omitempty" json:"confirm_button,omitempty"`
	CancelButton      string         `bson:"cancel_button,omitempty" json:"cancel_button,omitempty"`
	ConfirmAction     string         `bson:"confirm_action,omitempty" json:"confirm_action,omitempty"`
	CancelAction      string         `bson:"cancel_action,omitempty" json:"cancel_action,omitempty"`
	Metadata          map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
	SortOrder         int            `bson:"sort_order" json:"sort_order"`
	IsActive          bool           `bson:"is_active" json:"is_active"`
}

// DisplayText returns the payload to send: Text when present, Value otherwise
// (command blocks conventionally carry their payload in Value).
func (b Block) DisplayText() string {
	if b.Text != "" {
		return b.Text
	}

	return b.Value
}

// Successor returns the follow-up block id executed after a text/command
// block: the legacy Target field takes precedence over NextBlock.
func (b Block) Successor() string {
	if b.Target != "" {
		return b.Target
	}

	return b.NextBlock
}

// IsZero reports whether the block is structurally empty (no id), which the
// engine treats the same as "block not found".
func (b Block) IsZero() bool {
	return b.BlockID == ""
}

// ValidateBlocks checks the referential integrity of an authored script:
// unique non-empty ids, menu buttons pointing at existing blocks, and input
// confirmation targets existing with the confirmation type.
func ValidateBlocks(blocks []Block) error {
	byID := make(map[string]Block, len(blocks))
	for _, block := range blocks {
		if block.BlockID == "" {
			return errors.New("block with empty id")
		}
		if _, dup := byID[block.BlockID]; dup {
			return fmt.Errorf("duplicate block id %q", block.BlockID)
		}
		byID[block.BlockID] = block
	}

	for _, block := range blocks {
		for _, button := range block.Buttons {
			if _, ok := byID[button.TargetBlockID]; !ok {
				return fmt.Errorf("block %q: button %q targets unknown block %q", block.BlockID, button.Label, button.TargetBlockID)
			}
		}

		if block.Type == BlockTypeInput && block.ConfirmationBlock != "" {
			confirmation, ok := byID[block.ConfirmationBlock]
			if !ok {
				return fmt.Errorf("block %q: confirmation block %q not found", block.BlockID, block.ConfirmationBlock)
			}
			if confirmation.Type != BlockTypeConfirmation {
				return fmt.Errorf("block %q: confirmation block %q has type %q", block.BlockID, block.ConfirmationBlock, confirmation.Type)
			}
		}
	}

	return nil
}
