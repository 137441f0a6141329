package hub

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"livedesk/pkg/types"
)

// aiReplyTimeout bounds one generation call.
const aiReplyTimeout = 60 * time.Second

// generateAIReply streams an assistant answer into the session room and
// persists the finished message. Runs outside the event path; failures are
// logged, the customer's message already went through.
func (h *Hub) generateAIReply(sessionID, prompt string) {
	ctx, cancel := context.WithTimeout(context.Background(), aiReplyTimeout)
	defer cancel()

	h.notifier.BroadcastToSession(sessionID, types.EventAIResponseStart, map[string]interface{}{
		"session_id": sessionID,
	}, "")

	reply, err := h.generator.Generate(ctx, prompt, func(chunk string) {
		h.notifier.BroadcastToSession(sessionID, types.EventAIResponseChunk, map[string]interface{}{
			"session_id": sessionID,
			"chunk":      chunk,
		}, "")
	})
	if err != nil {
		log.Printf("AI reply failed for session %s: %v", sessionID, err)
		h.notifier.BroadcastToSession(sessionID, types.EventAIResponseComplete, map[string]interface{}{
			"session_id": sessionID,
			"error":      "assistant unavailable",
		}, "")
		return
	}

	message := &types.Message{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		SenderType:  types.SenderTypeAI,
		Content:     reply,
		MessageType: types.MessageTypeText,
		CreatedAt:   time.Now(),
	}
	if err := h.dbManager.StoreMessage(ctx, message); err != nil {
		log.Printf("Failed to store AI reply for session %s: %v", sessionID, err)
		return
	}

	h.notifier.BroadcastToSession(sessionID, types.EventAIResponseComplete, message, "")
	h.notifier.BroadcastToSession(sessionID, types.EventMessageReceived, message, "")
}
