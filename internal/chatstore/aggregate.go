package chatstore

import (
	"sort"

	"inbox-service/internal/models"
)

// Aggregate derives one conversation summary per non-empty key from the
// message cache. Pure function of its inputs; callers re-run it after every
// cache mutation that can move last_message or unread_count.
func Aggregate(cache map[string][]models.Message, viewer models.UserSummary) []models.Conversation {
	out := make([]models.Conversation, 0, len(cache))
	for key, list := range cache {
		if len(list) == 0 {
			continue
		}
		last := list[len(list)-1]

		other := last.Sender
		if other.ID == viewer.ID {
			other = last.Receiver
		}
		participants := [2]models.UserSummary{viewer, other}
		if participants[0].ID > participants[1].ID {
			participants[0], participants[1] = participants[1], participants[0]
		}

		unread := 0
		for _, msg := range list {
			if msg.Receiver.ID == viewer.ID && !msg.IsRead {
				unread++
			}
		}

		out = append(out, models.Conversation{
			Key:          key,
			Participants: participants,
			LastMessage:  last,
			UnreadCount:  unread,
			UpdatedAt:    last.CreatedAt,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].Key < out[j].Key
	})
	return out
}
