package flow

import (
	"sort"
	"strings"
)

// Callback action tags carried in inline-button payloads.
const (
	ActionInlineButtons = "actionInlineButtons"
	ActionAnswer        = "actionAnswer"
	ActionConfirmInput  = "confirm_input"
	ActionCancelInput   = "cancel_input"
)

// EncodeCallback serializes an action tag and its parameters into the
// "action:tag;key:value" wire format used in inline-button payloads.
// Parameters are emitted in sorted key order so the output is deterministic.
func EncodeCallback(action string, params map[string]string) string {
	var sb strings.Builder
	sb.WriteString("action:")
	sb.WriteString(action)

	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		sb.WriteString(";")
		sb.WriteString(key)
		sb.WriteString(":")
		sb.WriteString(params[key])
	}

	return sb.String()
}

// ParseCallback splits a callback payload into its action tag and parameters.
// Segments without a colon and empty keys are skipped.
func ParseCallback(data string) (string, map[string]string) {
	action := ""
	params := make(map[string]string)

	for _, segment := range strings.Split(data, ";") {
		key, value, found := strings.Cut(segment, ":")
		if !found || key == "" {
			continue
		}
		if key == "action" {
			action = value
			continue
		}
		params[key] = value
	}

	return action, params
}
