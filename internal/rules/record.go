package rules

import (
	"time"

	"livedesk/pkg/types"
)

// SessionRecord flattens a session into an evaluation record. extra values
// (message counts, latest content) are merged over the base fields.
func SessionRecord(session *types.Session, extra Record) Record {
	record := Record{
		"session_id":   session.ID,
		"user_id":      session.UserID,
		"session_type": session.SessionType,
		"status":       session.Status,
		"title":        session.Title,
		"priority":     session.Priority,
		"age_hours":    time.Since(session.CreatedAt).Hours(),
	}

	if session.Metadata != nil {
		metadata := map[string]interface{}{
			"escalation_level": session.Metadata.EscalationLevel,
		}
		if session.Metadata.Escalation != nil {
			metadata["escalation"] = map[string]interface{}{
				"reason":   session.Metadata.Escalation.Reason,
				"priority": session.Metadata.Escalation.Priority,
				"category": session.Metadata.Escalation.Category,
			}
		}
		if len(session.Metadata.Tags) > 0 {
			tags := make([]interface{}, len(session.Metadata.Tags))
			for i, tag := range session.Metadata.Tags {
				tags[i] = tag
			}
			metadata["tags"] = tags
		}
		record["metadata"] = metadata
	}

	for key, value := range extra {
		record[key] = value
	}

	return record
}
