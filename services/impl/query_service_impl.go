package impl

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docstack-rag/config"
	"github.com/docstack-rag/models"
	"github.com/docstack-rag/services"
)

// SearchProvider is the retrieval surface the query pipeline needs; the
// pgvector-backed ChunkSearcher is the production implementation.
type SearchProvider interface {
	DenseSearch(ctx context.Context, workspaceID uuid.UUID, embedding []float32, k int) ([]models.RetrievedChunk, error)
	FullTextSearch(ctx context.Context, workspaceID uuid.UUID, queryText string, k int) ([]models.RetrievedChunk, error)
}

type queryServiceImpl struct {
	workspaces    services.WorkspaceService
	conversations services.ConversationService
	audit         services.AuditService
	searcher      SearchProvider
	embedder      services.EmbeddingProvider
	llm           services.LLMProvider
	reranker      services.Reranker
	builder       *ContextBuilder
	retry         *RetryPolicy
	retrieval     config.RetrievalConfig
}

func NewQueryService(
	workspaces services.WorkspaceService,
	conversations services.ConversationService,
	audit services.AuditService,
	searcher SearchProvider,
	embedder services.EmbeddingProvider,
	llm services.LLMProvider,
	reranker services.Reranker,
	builder *ContextBuilder,
	retry *RetryPolicy,
	retrieval config.RetrievalConfig,
) services.QueryService {
	return &queryServiceImpl{
		workspaces:    workspaces,
		conversations: conversations,
		audit:         audit,
		searcher:      searcher,
		embedder:      embedder,
		llm:           llm,
		reranker:      reranker,
		builder:       builder,
		retry:         retry,
		retrieval:     retrieval,
	}
}

// retrievalResult is everything the pipeline produces before generation.
type retrievalResult struct {
	chunks   []models.RetrievedChunk
	context  BuiltContext
	sources  []models.CitedSource
	metadata map[string]any
}

func (s *queryServiceImpl) Answer(ctx context.Context, req models.QueryRequest, actor models.Actor) (*models.Answer, error) {
	started := time.Now()

	result, err := s.retrieve(ctx, &req, actor)
	if err != nil {
		return nil, err
	}

	answer := &models.Answer{
		Sources:  result.sources,
		Metadata: result.metadata,
	}

	fallback := result.context.Text == ""
	if fallback {
		answer.Text = models.FallbackAnswer
		answer.Sources = []models.CitedSource{}
	} else {
		genStart := time.Now()
		promptContext := s.promptContext(ctx, req, actor, result.context.Text)
		var text string
		err = s.retry.Do(ctx, req.WorkspaceID.String(), func(ctx context.Context) error {
			var genErr error
			text, genErr = s.llm.GenerateAnswer(ctx, req.Query, promptContext)
			return genErr
		})
		if err != nil {
			return nil, models.NewLLMError("answer generation failed", err)
		}
		answer.Text = text
		result.metadata["generate_ms"] = time.Since(genStart).Milliseconds()
	}

	result.metadata["fallback"] = fallback
	result.metadata["total_ms"] = time.Since(started).Milliseconds()

	if msgID := s.persistTurn(ctx, req, actor, answer.Text, answer.Sources); msgID != nil {
		answer.MessageID = msgID
	}

	s.audit.Record(ctx, &req.WorkspaceID, actor.UserID, models.AuditQueryAnswered, map[string]any{
		"fallback": fallback,
		"sources":  len(answer.Sources),
		"top_k":    req.TopK,
	})
	return answer, nil
}

// AnswerStream runs retrieval synchronously, then streams generation on
// the returned channel: START with the selected sources, one TOKEN per
// generated token, and END with timings, or ERROR. Context cancellation
// between tokens closes the channel with neither END nor ERROR.
func (s *queryServiceImpl) AnswerStream(ctx context.Context, req models.QueryRequest, actor models.Actor) (<-chan models.AnswerEvent, error) {
	started := time.Now()

	result, err := s.retrieve(ctx, &req, actor)
	if err != nil {
		return nil, err
	}

	events := make(chan models.AnswerEvent, 16)
	go func() {
		defer close(events)

		events <- models.AnswerEvent{
			Type:    models.AnswerEventStart,
			Sources: result.sources,
			Chunks:  result.context.Included,
		}

		if result.context.Text == "" {
			events <- models.AnswerEvent{Type: models.AnswerEventToken, Token: models.FallbackAnswer}
			result.metadata["fallback"] = true
			result.metadata["total_ms"] = time.Since(started).Milliseconds()
			s.persistTurn(ctx, req, actor, models.FallbackAnswer, nil)
			s.audit.Record(ctx, &req.WorkspaceID, actor.UserID, models.AuditQueryAnswered, map[string]any{
				"fallback": true,
				"stream":   true,
			})
			events <- models.AnswerEvent{Type: models.AnswerEventEnd, Metadata: result.metadata}
			return
		}

		// Retries apply to establishing the stream only; once tokens are
		// flowing a failure is terminal for this request.
		promptContext := s.promptContext(ctx, req, actor, result.context.Text)
		var stream services.TokenStream
		err := s.retry.Do(ctx, req.WorkspaceID.String(), func(ctx context.Context) error {
			var openErr error
			stream, openErr = s.llm.GenerateStream(ctx, req.Query, promptContext)
			return openErr
		})
		if err != nil {
			appErr := models.NewLLMError("failed to open answer stream", err)
			events <- models.AnswerEvent{Type: models.AnswerEventError, Err: appErr}
			return
		}
		defer stream.Close()

		var full strings.Builder
		tokens := 0
		for {
			select {
			case <-ctx.Done():
				log.Printf("query: answer stream cancelled: %v", ctx.Err())
				return
			default:
			}

			token, err := stream.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				appErr := models.NewLLMError("answer stream failed", err)
				events <- models.AnswerEvent{Type: models.AnswerEventError, Err: appErr}
				return
			}

			full.WriteString(token)
			tokens++
			select {
			case events <- models.AnswerEvent{Type: models.AnswerEventToken, Token: token}:
			case <-ctx.Done():
				log.Printf("query: answer stream cancelled: %v", ctx.Err())
				return
			}
		}

		result.metadata["fallback"] = false
		result.metadata["tokens"] = tokens
		result.metadata["total_ms"] = time.Since(started).Milliseconds()

		s.persistTurn(ctx, req, actor, full.String(), result.sources)
		s.audit.Record(ctx, &req.WorkspaceID, actor.UserID, models.AuditQueryAnswered, map[string]any{
			"fallback": false,
			"stream":   true,
			"sources":  len(result.sources),
		})
		events <- models.AnswerEvent{Type: models.AnswerEventEnd, Metadata: result.metadata}
	}()

	return events, nil
}

// retrieve runs auth, validation, embedding, hybrid search, fusion,
// filtering, optional rerank and context assembly. It mutates req to fill
// defaults so callers log the effective values.
func (s *queryServiceImpl) retrieve(ctx context.Context, req *models.QueryRequest, actor models.Actor) (*retrievalResult, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, models.NewValidation("query cannot be empty")
	}
	if req.TopK <= 0 {
		req.TopK = s.retrieval.TopKDefault
	}
	if req.TopK > s.retrieval.TopKMax {
		req.TopK = s.retrieval.TopKMax
	}

	if req.FilterMode != "" && !models.ValidFilterMode(req.FilterMode) {
		return nil, models.NewValidation("filter_mode must be off, downrank or exclude")
	}

	ws, err := s.workspaces.ResolveRead(ctx, req.WorkspaceID, actor)
	if err != nil {
		s.audit.Record(ctx, &req.WorkspaceID, actor.UserID, models.AuditQueryDenied, map[string]any{
			"reason": models.CodeOf(err),
		})
		return nil, err
	}
	// Archived workspaces stay browsable for their owner and for admins,
	// but they no longer answer questions.
	if ws.IsArchived() && !actor.IsAdmin() {
		s.audit.Record(ctx, &req.WorkspaceID, actor.UserID, models.AuditQueryDenied, map[string]any{
			"reason": "archived",
		})
		return nil, models.NewForbidden("workspace is archived")
	}

	// Filter mode resolution: request override, then the workspace's own
	// setting, then the service-wide default.
	filterMode := models.FilterMode(s.retrieval.FilterMode)
	if ws.FilterMode != "" {
		filterMode = ws.FilterMode
	}
	if req.FilterMode != "" {
		filterMode = req.FilterMode
	}

	metadata := map[string]any{}

	embedStart := time.Now()
	var queryVec []float32
	err = s.retry.Do(ctx, req.WorkspaceID.String(), func(ctx context.Context) error {
		var emErr error
		queryVec, emErr = s.embedder.EmbedQuery(ctx, req.Query)
		return emErr
	})
	if err != nil {
		return nil, err
	}
	metadata["embed_ms"] = time.Since(embedStart).Milliseconds()

	searchStart := time.Now()
	dense, err := s.searcher.DenseSearch(ctx, req.WorkspaceID, queryVec, s.retrieval.NDense)
	if err != nil {
		return nil, err
	}

	hybrid := s.retrieval.HybridDefault
	if req.Hybrid != nil {
		hybrid = *req.Hybrid
	}

	var fused []models.RetrievedChunk
	if hybrid {
		lexical, err := s.searcher.FullTextSearch(ctx, req.WorkspaceID, req.Query, s.retrieval.NLex)
		if err != nil {
			// Degrade to dense-only rather than failing the question.
			log.Printf("query: full-text search failed, using dense only: %v", err)
			lexical = nil
		}
		fused = FuseRRF(dense, lexical, RRFConstant)
		metadata["lexical"] = len(lexical)
	} else {
		fused = dense
	}
	metadata["search_ms"] = time.Since(searchStart).Milliseconds()
	metadata["dense"] = len(dense)
	metadata["fused"] = len(fused)

	filter := InjectionFilter{
		Mode:             filterMode,
		ExcludeThreshold: s.retrieval.ExcludeThreshold,
		DownrankPenalty:  s.retrieval.DownrankPenalty,
	}
	filtered := filter.Apply(fused)
	if len(filtered) > req.TopK {
		filtered = filtered[:req.TopK]
	}

	if req.UseRerank {
		filtered = ApplyReranker(ctx, s.reranker, req.Query, filtered)
	}

	built := s.builder.Build(filtered)
	metadata["included"] = len(built.Included)

	sources := make([]models.CitedSource, len(built.Included))
	for i, c := range built.Included {
		sources[i] = models.CitedSource{
			Label:      c.Label,
			DocumentID: c.DocumentID,
			ChunkID:    c.ID,
			Title:      c.DocumentTitle,
			ChunkIndex: c.ChunkIndex,
			Score:      c.Score,
		}
	}

	return &retrievalResult{
		chunks:   filtered,
		context:  built,
		sources:  sources,
		metadata: metadata,
	}, nil
}

// historyWindow caps how many prior messages are replayed into the prompt.
const historyWindow = 6

// promptContext prepends the recent conversation turns to the retrieved
// context when the question belongs to a conversation. History load
// failures fall back to the bare context.
func (s *queryServiceImpl) promptContext(ctx context.Context, req models.QueryRequest, actor models.Actor, contextText string) string {
	if req.ConversationID == nil {
		return contextText
	}

	messages, err := s.conversations.GetMessages(ctx, *req.ConversationID, actor, historyWindow)
	if err != nil {
		log.Printf("query: could not load conversation history: %v", err)
		return contextText
	}
	if len(messages) == 0 {
		return contextText
	}

	var b strings.Builder
	b.WriteString("HISTORIAL:\n")
	for _, m := range messages {
		speaker := "Usuario"
		if m.Role == models.MessageRoleAssistant {
			speaker = "Asistente"
		}
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(contextText)
	return b.String()
}

// persistTurn appends the user question and assistant answer to the
// conversation when one was named. Persistence failures are logged, not
// surfaced; the answer was already produced.
func (s *queryServiceImpl) persistTurn(ctx context.Context, req models.QueryRequest, actor models.Actor, answerText string, sources []models.CitedSource) *uuid.UUID {
	if req.ConversationID == nil {
		return nil
	}

	conv, err := s.conversations.GetConversation(ctx, *req.ConversationID, actor)
	if err != nil {
		log.Printf("query: conversation %s not available, skipping persistence: %v", req.ConversationID, err)
		return nil
	}
	if conv.WorkspaceID != req.WorkspaceID {
		log.Printf("query: conversation %s does not belong to this workspace, skipping persistence", conv.ID)
		return nil
	}

	if _, err := s.conversations.AppendMessage(ctx, conv.ID, models.MessageRoleUser, req.Query, nil); err != nil {
		log.Printf("query: failed to persist user turn: %v", err)
		return nil
	}
	msg, err := s.conversations.AppendMessage(ctx, conv.ID, models.MessageRoleAssistant, answerText, sources)
	if err != nil {
		log.Printf("query: failed to persist assistant turn: %v", err)
		return nil
	}
	return &msg.ID
}
