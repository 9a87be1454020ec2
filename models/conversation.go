package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Conversation groups the messages of one chat thread inside a workspace.
type Conversation struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	WorkspaceID uuid.UUID `json:"workspace_id" gorm:"type:uuid;not null;index"`
	OwnerUserID string    `json:"owner_user_id" gorm:"type:varchar(255);not null;index"`
	Title       string    `json:"title,omitempty" gorm:"type:varchar(512)"`
	CreatedAt   time.Time `json:"created_at" gorm:"not null;default:now()"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// Message is a single turn. Assistant messages keep a snapshot of the
// sources they cited so feedback and audits survive later re-ingestion.
type Message struct {
	ID              uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	ConversationID  uuid.UUID      `json:"conversation_id" gorm:"type:uuid;not null;index:idx_messages_conv_created,priority:1"`
	Role            MessageRole    `json:"role" gorm:"type:varchar(20);not null"`
	Content         string         `json:"content" gorm:"type:text;not null"`
	SourcesSnapshot datatypes.JSON `json:"sources_snapshot,omitempty" gorm:"type:jsonb"`
	CreatedAt       time.Time      `json:"created_at" gorm:"not null;default:now();index:idx_messages_conv_created,priority:2"`
}

func (Message) TableName() string {
	return "messages"
}

// FeedbackVote records a thumbs vote on an assistant message, unique per
// (message, user); re-voting overwrites the previous value.
type FeedbackVote struct {
	MessageID uuid.UUID `json:"message_id" gorm:"type:uuid;primary_key"`
	UserID    string    `json:"user_id" gorm:"type:varchar(255);primary_key"`
	Value     int       `json:"value" gorm:"not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:now()"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:now()"`
}

func (FeedbackVote) TableName() string {
	return "feedback_votes"
}

type CreateConversationRequest struct {
	WorkspaceID uuid.UUID `json:"workspace_id" validate:"required"`
	Title       string    `json:"title,omitempty"`
}

type FeedbackRequest struct {
	Value int `json:"value"`
}
