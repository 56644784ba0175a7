package jobs

import (
	"log"

	"github.com/socialverse/social-verse/database"
)

// ReconcileConversationCaches repairs the denormalized last-message
// fields on conversations that have drifted from the message log. The
// cache is display-only and last-writer-wins under concurrent sends,
// so drift is tolerable between runs; the log stays authoritative.
func ReconcileConversationCaches() {
	res := database.DB.Exec(`
		UPDATE conversations c
		SET last_message_text = m.text,
		    last_message_at   = m.created_at
		FROM (
			SELECT DISTINCT ON (conversation_id) conversation_id, text, created_at
			FROM messages
			ORDER BY conversation_id, created_at DESC
		) m
		WHERE m.conversation_id = c.id
		  AND (c.last_message_at IS DISTINCT FROM m.created_at
		       OR c.last_message_text IS DISTINCT FROM m.text)`)
	if res.Error != nil {
		log.Printf("🔥 Failed to reconcile conversation caches: %v", res.Error)
		return
	}
	if res.RowsAffected > 0 {
		log.Printf("✅ Reconciled %d drifted conversation caches", res.RowsAffected)
	}
}
