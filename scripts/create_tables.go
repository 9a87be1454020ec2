package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

func main() {
	fmt.Println("Creating DocStack database tables...")

	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=raguser password=ragpassword dbname=docstack sslmode=disable"
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	err = db.Ping()
	if err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	fmt.Println("✅ Connected to database")

	// pgvector must be installed before the chunks table can be created
	fmt.Println("Enabling pgvector extension...")
	_, err = db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`)
	if err != nil {
		log.Fatalf("Failed to enable pgvector extension: %v", err)
	}
	fmt.Println("✅ pgvector extension enabled")

	ftsLanguage := os.Getenv("FTS_LANGUAGE")
	if ftsLanguage == "" {
		ftsLanguage = "spanish"
	}

	fmt.Println("Creating workspaces table...")
	createWorkspacesTable := `
	CREATE TABLE IF NOT EXISTS workspaces (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name VARCHAR(255) NOT NULL,
		owner_user_id VARCHAR(255) NOT NULL,
		visibility VARCHAR(20) NOT NULL DEFAULT 'PRIVATE',
		filter_mode VARCHAR(16) NOT NULL DEFAULT '',
		archived_at TIMESTAMP WITH TIME ZONE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		CONSTRAINT idx_workspaces_owner_name UNIQUE (owner_user_id, name)
	)`
	mustExec(db, createWorkspacesTable, "workspaces")

	fmt.Println("Creating workspace_acl table...")
	createACLTable := `
	CREATE TABLE IF NOT EXISTS workspace_acl (
		workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		user_id VARCHAR(255) NOT NULL,
		access VARCHAR(20) NOT NULL DEFAULT 'READ',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		PRIMARY KEY (workspace_id, user_id)
	)`
	mustExec(db, createACLTable, "workspace_acl")

	fmt.Println("Creating documents table...")
	createDocumentsTable := `
	CREATE TABLE IF NOT EXISTS documents (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		title VARCHAR(512) NOT NULL,
		source VARCHAR(512),
		file_name VARCHAR(512),
		mime_type VARCHAR(255),
		storage_key VARCHAR(1024),
		status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
		error_message VARCHAR(2048),
		tags TEXT[],
		metadata JSONB DEFAULT '{}',
		uploader_user_id VARCHAR(255) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		deleted_at TIMESTAMP WITH TIME ZONE
	)`
	mustExec(db, createDocumentsTable, "documents")

	fmt.Println("Creating chunks table...")
	createChunksTable := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS chunks (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		workspace_id UUID NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding vector(768),
		risk_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		security_flags TEXT[],
		detected_patterns TEXT[],
		metadata JSONB DEFAULT '{}',
		tsv tsvector GENERATED ALWAYS AS (to_tsvector('%s', content)) STORED,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		CONSTRAINT idx_chunks_doc_index UNIQUE (document_id, chunk_index)
	)`, ftsLanguage)
	mustExec(db, createChunksTable, "chunks")

	fmt.Println("Creating conversations table...")
	createConversationsTable := `
	CREATE TABLE IF NOT EXISTS conversations (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		owner_user_id VARCHAR(255) NOT NULL,
		title VARCHAR(512),
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`
	mustExec(db, createConversationsTable, "conversations")

	fmt.Println("Creating messages table...")
	createMessagesTable := `
	CREATE TABLE IF NOT EXISTS messages (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role VARCHAR(20) NOT NULL,
		content TEXT NOT NULL,
		sources_snapshot JSONB,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`
	mustExec(db, createMessagesTable, "messages")

	fmt.Println("Creating feedback_votes table...")
	createVotesTable := `
	CREATE TABLE IF NOT EXISTS feedback_votes (
		message_id UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		user_id VARCHAR(255) NOT NULL,
		value INTEGER NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		PRIMARY KEY (message_id, user_id)
	)`
	mustExec(db, createVotesTable, "feedback_votes")

	fmt.Println("Creating audit_events table...")
	createAuditTable := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		workspace_id UUID,
		actor_user_id VARCHAR(255),
		kind VARCHAR(100) NOT NULL,
		payload JSONB DEFAULT '{}',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`
	mustExec(db, createAuditTable, "audit_events")

	fmt.Println("Creating indexes...")
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_documents_ws_created ON documents(workspace_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_ws_status ON documents(workspace_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_workspace_id ON chunks(workspace_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_tsv ON chunks USING GIN (tsv)`,
		// IVFFlat lists should track sqrt(row count); 100 suits up to ~1M chunks.
		`CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_workspace_id ON conversations(workspace_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner_user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conv_created ON messages(conversation_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_workspace_id ON audit_events(workspace_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_kind ON audit_events(kind)`,
	}

	for _, index := range indexes {
		_, err = db.Exec(index)
		if err != nil {
			log.Printf("Warning: Failed to create index: %v", err)
		}
	}
	fmt.Println("✅ Indexes created/verified")

	fmt.Println("\n🎉 Database setup complete!")
}

func mustExec(db *sql.DB, stmt, name string) {
	if _, err := db.Exec(stmt); err != nil {
		log.Printf("Warning: Failed to create %s table: %v", name, err)
	} else {
		fmt.Printf("✅ %s table created/verified\n", name)
	}
}
