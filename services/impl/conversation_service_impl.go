package impl

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/docstack-rag/models"
	"github.com/docstack-rag/services"
)

const defaultMessageLimit = 50

type conversationServiceImpl struct {
	db         *gorm.DB
	workspaces services.WorkspaceService
}

func NewConversationService(db *gorm.DB, workspaces services.WorkspaceService) services.ConversationService {
	return &conversationServiceImpl{db: db, workspaces: workspaces}
}

func (s *conversationServiceImpl) CreateConversation(ctx context.Context, req models.CreateConversationRequest, actor models.Actor) (*models.Conversation, error) {
	if _, err := s.workspaces.ResolveRead(ctx, req.WorkspaceID, actor); err != nil {
		return nil, err
	}

	conv := &models.Conversation{
		ID:          uuid.New(),
		WorkspaceID: req.WorkspaceID,
		OwnerUserID: actor.UserID,
		Title:       req.Title,
		CreatedAt:   time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return nil, models.NewDBError("failed to create conversation", err)
	}
	return conv, nil
}

// GetConversation returns the conversation when the actor owns it or is
// an admin; other actors see it as missing.
func (s *conversationServiceImpl) GetConversation(ctx context.Context, conversationID uuid.UUID, actor models.Actor) (*models.Conversation, error) {
	return s.loadOwned(ctx, conversationID, actor)
}

func (s *conversationServiceImpl) ListConversations(ctx context.Context, workspaceID uuid.UUID, actor models.Actor, page, size int) ([]models.Conversation, error) {
	if _, err := s.workspaces.ResolveRead(ctx, workspaceID, actor); err != nil {
		return nil, err
	}
	page, size = clampPage(page, size)

	query := s.db.WithContext(ctx).Where("workspace_id = ?", workspaceID)
	if !actor.IsAdmin() {
		query = query.Where("owner_user_id = ?", actor.UserID)
	}

	var convs []models.Conversation
	if err := query.Order("created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Find(&convs).Error; err != nil {
		return nil, models.NewDBError("failed to list conversations", err)
	}
	return convs, nil
}

func (s *conversationServiceImpl) GetMessages(ctx context.Context, conversationID uuid.UUID, actor models.Actor, limit int) ([]models.Message, error) {
	conv, err := s.loadOwned(ctx, conversationID, actor)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultMessageLimit
	}

	var messages []models.Message
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conv.ID).
		Order("created_at ASC").
		Limit(limit).
		Find(&messages).Error; err != nil {
		return nil, models.NewDBError("failed to load messages", err)
	}
	return messages, nil
}

// AppendMessage is called internally by the query pipeline; access was
// already decided there.
func (s *conversationServiceImpl) AppendMessage(ctx context.Context, conversationID uuid.UUID, role models.MessageRole, content string, sources []models.CitedSource) (*models.Message, error) {
	msg := &models.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	if len(sources) > 0 {
		data, err := models.ConvertToJSON(sources)
		if err != nil {
			return nil, models.NewInternal("failed to encode sources snapshot", err)
		}
		msg.SourcesSnapshot = data
	}

	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, models.NewDBError("failed to append message", err)
	}
	return msg, nil
}

func (s *conversationServiceImpl) ClearConversation(ctx context.Context, conversationID uuid.UUID, actor models.Actor) error {
	conv, err := s.loadOwned(ctx, conversationID, actor)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conv.ID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(conv).Error
	})
	if err != nil {
		return models.NewDBError("failed to clear conversation", err)
	}
	return nil
}

// loadOwned fetches the conversation and checks the actor owns it (or is
// an admin) and can still read the workspace behind it.
func (s *conversationServiceImpl) loadOwned(ctx context.Context, conversationID uuid.UUID, actor models.Actor) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).Where("id = ?", conversationID).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFound(conversationID.String())
	}
	if err != nil {
		return nil, models.NewDBError("failed to load conversation", err)
	}
	if conv.OwnerUserID != actor.UserID && !actor.IsAdmin() {
		return nil, models.NewNotFound(conversationID.String())
	}
	if _, err := s.workspaces.ResolveRead(ctx, conv.WorkspaceID, actor); err != nil {
		return nil, err
	}
	return &conv, nil
}

type feedbackServiceImpl struct {
	db         *gorm.DB
	workspaces services.WorkspaceService
}

func NewFeedbackService(db *gorm.DB, workspaces services.WorkspaceService) services.FeedbackService {
	return &feedbackServiceImpl{db: db, workspaces: workspaces}
}

// Vote records a thumbs vote on an assistant message. Value 0 retracts a
// previous vote; re-voting overwrites it.
func (s *feedbackServiceImpl) Vote(ctx context.Context, messageID uuid.UUID, value int, actor models.Actor) error {
	if value < -1 || value > 1 {
		return models.NewValidation("vote value must be -1, 0 or 1")
	}

	var msg models.Message
	err := s.db.WithContext(ctx).Where("id = ?", messageID).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFound(messageID.String())
	}
	if err != nil {
		return models.NewDBError("failed to load message", err)
	}
	if msg.Role != models.MessageRoleAssistant {
		return models.NewValidation("only assistant messages accept feedback")
	}

	var conv models.Conversation
	if err := s.db.WithContext(ctx).Where("id = ?", msg.ConversationID).First(&conv).Error; err != nil {
		return models.NewDBError("failed to load conversation", err)
	}
	if _, err := s.workspaces.ResolveRead(ctx, conv.WorkspaceID, actor); err != nil {
		return err
	}

	if value == 0 {
		if err := s.db.WithContext(ctx).
			Where("message_id = ? AND user_id = ?", messageID, actor.UserID).
			Delete(&models.FeedbackVote{}).Error; err != nil {
			return models.NewDBError("failed to retract vote", err)
		}
		return nil
	}

	vote := &models.FeedbackVote{
		MessageID: messageID,
		UserID:    actor.UserID,
		Value:     value,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]any{"value": value, "updated_at": time.Now()}),
	}).Create(vote).Error
	if err != nil {
		return models.NewDBError("failed to record vote", err)
	}
	return nil
}
