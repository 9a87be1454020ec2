package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/docstack-rag/models"
)

type QueryService interface {
	// Answer runs the full synchronous pipeline: auth, sanitize, embed,
	// hybrid search, fuse, filter, rerank, build context, generate.
	Answer(ctx context.Context, req models.QueryRequest, actor models.Actor) (*models.Answer, error)

	// AnswerStream runs the same pipeline but emits a typed event
	// sequence (START, TOKEN xn, END | ERROR) on the returned channel.
	// The channel is closed when the stream finishes; cancellation of ctx
	// stops token emission without an END event.
	AnswerStream(ctx context.Context, req models.QueryRequest, actor models.Actor) (<-chan models.AnswerEvent, error)
}

type ConversationService interface {
	CreateConversation(ctx context.Context, req models.CreateConversationRequest, actor models.Actor) (*models.Conversation, error)
	GetConversation(ctx context.Context, conversationID uuid.UUID, actor models.Actor) (*models.Conversation, error)
	ListConversations(ctx context.Context, workspaceID uuid.UUID, actor models.Actor, page, size int) ([]models.Conversation, error)
	GetMessages(ctx context.Context, conversationID uuid.UUID, actor models.Actor, limit int) ([]models.Message, error)
	AppendMessage(ctx context.Context, conversationID uuid.UUID, role models.MessageRole, content string, sources []models.CitedSource) (*models.Message, error)
	ClearConversation(ctx context.Context, conversationID uuid.UUID, actor models.Actor) error
}

type FeedbackService interface {
	// Vote upserts the caller's vote (+1, 0, -1) on an assistant message.
	Vote(ctx context.Context, messageID uuid.UUID, value int, actor models.Actor) error
}
