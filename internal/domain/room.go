package domain

type RoomID string

// RoomCategory decides which controller governs a room.
type RoomCategory string

const (
	CategoryChat  RoomCategory = "chat"
	CategoryVideo RoomCategory = "video"
)

func (c RoomCategory) Valid() bool {
	return c == CategoryChat || c == CategoryVideo
}

type Room struct {
	ID        RoomID       `json:"id"`
	Name      string       `json:"name"`
	Category  RoomCategory `json:"category"`
	CreatedBy UserID       `json:"created_by"`
}

// GroupKey derives the presence/fan-out key for a room. Chat and video
// sub-channels of the same room id must never share a group.
func GroupKey(category RoomCategory, id RoomID) string {
	if category == CategoryVideo {
		return "video_call_" + string(id)
	}
	return "chat_" + string(id)
}
