package models

import (
	"github.com/google/uuid"
)

// FilterMode controls how injection-flagged chunks are treated at
// retrieval time. Per-workspace configurable, default downrank.
type FilterMode string

const (
	FilterModeOff      FilterMode = "off"
	FilterModeDownrank FilterMode = "downrank"
	FilterModeExclude  FilterMode = "exclude"
)

func ValidFilterMode(m FilterMode) bool {
	switch m {
	case FilterModeOff, FilterModeDownrank, FilterModeExclude:
		return true
	}
	return false
}

// QueryRequest is the input to the retrieval + answer pipeline.
type QueryRequest struct {
	WorkspaceID    uuid.UUID  `json:"workspace_id"`
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
	Query          string     `json:"query"`
	TopK           int        `json:"top_k,omitempty"`
	Hybrid         *bool      `json:"hybrid,omitempty"`
	UseRerank      bool       `json:"use_rerank,omitempty"`
	FilterMode     FilterMode `json:"filter_mode,omitempty"`
}

// CitedSource maps a citation label to the chunk behind it.
type CitedSource struct {
	Label      string    `json:"label"`
	DocumentID uuid.UUID `json:"document_id"`
	ChunkID    uuid.UUID `json:"chunk_id"`
	Title      string    `json:"title,omitempty"`
	ChunkIndex int       `json:"chunk_index"`
	Score      float64   `json:"score"`
}

// Answer is the synchronous pipeline result: the generated text plus the
// chunks actually cited, in final post-rerank order.
type Answer struct {
	Text      string         `json:"text"`
	Sources   []CitedSource  `json:"sources"`
	MessageID *uuid.UUID     `json:"message_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type AnswerEventType string

const (
	AnswerEventStart AnswerEventType = "START"
	AnswerEventToken AnswerEventType = "TOKEN"
	AnswerEventEnd   AnswerEventType = "END"
	AnswerEventError AnswerEventType = "ERROR"
)

// AnswerEvent is one element of the streaming answer sequence:
// START (selected chunks), TOKEN x n, then END (timings and counts) or
// ERROR. Cancellation produces neither END nor ERROR.
type AnswerEvent struct {
	Type     AnswerEventType  `json:"type"`
	Sources  []CitedSource    `json:"sources,omitempty"`
	Chunks   []RetrievedChunk `json:"-"`
	Token    string           `json:"token,omitempty"`
	Metadata map[string]any   `json:"metadata,omitempty"`
	Err      *AppError        `json:"error,omitempty"`
}

// FallbackAnswer is the fixed reply emitted when no evidence chunk fits
// the context budget. The LLM is not consulted in that case.
const FallbackAnswer = "No tengo suficiente contexto en este espacio de trabajo para responder esa pregunta."
