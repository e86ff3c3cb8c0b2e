package wire

import (
	"encoding/json"
	"time"
)

// Client→server payloads. Each carries a client timestamp in epoch seconds,
// matching what the server records.

func ChatMessagePayload(message, conversationKey string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":             "chat_message",
		"message":          message,
		"conversation_key": conversationKey,
		"timestamp":        epochSeconds(),
	})
}

func ClearConversationPayload(conversationKey string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":             "clear_conversation",
		"conversation_key": conversationKey,
		"timestamp":        epochSeconds(),
	})
}

// PopupDeliveredPayload acknowledges that a transient popup was surfaced.
func PopupDeliveredPayload(popupID, messageID string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":       "popup_delivered",
		"popup_id":   popupID,
		"message_id": messageID,
		"timestamp":  epochSeconds(),
	})
}

func PingPayload() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":      "ping",
		"timestamp": epochSeconds(),
	})
}

func epochSeconds() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
