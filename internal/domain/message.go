package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const MaxMessageLen = 4096

var (
	ErrMessageEmpty   = errors.New("message empty")
	ErrMessageTooLong = errors.New("message too long")
)

type MessageID string

// Message is one chat entry scoped to a channel. Persistence is owned by
// the external chat store; this layer only validates and fans out.
type Message struct {
	ID         MessageID `json:"id"`
	ChannelID  ChannelID `json:"channelId"`
	AuthorID   UserID    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Content    string    `json:"content"`
	SentAt     time.Time `json:"sentAt"`
}

func NewMessage(channel ChannelID, author *User, content string) (*Message, error) {
	if len(content) == 0 {
		return nil, ErrMessageEmpty
	}
	if len(content) > MaxMessageLen {
		return nil, ErrMessageTooLong
	}
	return &Message{
		ID:         MessageID(uuid.NewString()),
		ChannelID:  channel,
		AuthorID:   author.ID,
		AuthorName: author.Username,
		Content:    content,
		SentAt:     time.Now().UTC(),
	}, nil
}
