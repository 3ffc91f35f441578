// internal/transcript/sink.go
package transcript

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"loanops-console/internal/common/database"
	apperrors "loanops-console/internal/common/errors"
	"loanops-console/internal/common/logger"
	"loanops-console/internal/conversation"
)

var ErrTranscriptWriteFailed = errors.New("TRANSCRIPT_WRITE_FAILED")

const schemaDDL = `
CREATE TABLE IF NOT EXISTS conversation_sessions (
	session_id  TEXT PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS conversation_messages (
	session_id            TEXT NOT NULL REFERENCES conversation_sessions(session_id),
	seq                   INTEGER NOT NULL,
	message_id            TEXT NOT NULL,
	sender                TEXT NOT NULL,
	body                  TEXT NOT NULL,
	stage                 TEXT,
	is_warning            BOOLEAN NOT NULL DEFAULT false,
	is_orchestration_step BOOLEAN NOT NULL DEFAULT false,
	created_at            TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, seq)
);`

const insertSession = `
	INSERT INTO conversation_sessions (session_id)
	VALUES ($1)
	ON CONFLICT (session_id) DO NOTHING`

const insertMessage = `
	INSERT INTO conversation_messages (
		session_id, seq, message_id, sender, body, stage,
		is_warning, is_orchestration_step, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (session_id, seq) DO NOTHING`

// Sink copies the append-only conversation log to Postgres. Each message is
// written once, in log order, keyed by (session_id, seq).
type Sink struct {
	db     *database.PostgresClient
	logger logger.Logger

	mu      sync.Mutex
	written map[string]int
}

func New(db *database.PostgresClient, log logger.Logger) *Sink {
	return &Sink{
		db: db,
		logger: log.WithFields(map[string]interface{}{
			"component": "transcript",
		}),
		written: make(map[string]int),
	}
}

// EnsureSchema creates the transcript tables if missing.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("%w: create schema: %v", ErrTranscriptWriteFailed, err)
	}
	return nil
}

// Sync writes every message of state not yet written and returns how many
// were inserted. On error nothing from this call is counted as written.
func (s *Sink) Sync(ctx context.Context, state conversation.State) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, seen := s.written[state.SessionID]
	if from >= len(state.Messages) {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return 0, apperrors.NewTranscriptWriteError(fmt.Errorf("%w: begin: %v", ErrTranscriptWriteFailed, err))
	}

	if !seen {
		if _, err := tx.ExecContext(ctx, insertSession, state.SessionID); err != nil {
			_ = tx.Rollback()
			return 0, apperrors.NewTranscriptWriteError(fmt.Errorf("%w: session row: %v", ErrTranscriptWriteFailed, err))
		}
	}

	pending := state.Messages[from:]
	for i, msg := range pending {
		var stage interface{}
		if msg.Stage != "" {
			stage = string(msg.Stage)
		}
		_, err := tx.ExecContext(ctx, insertMessage,
			state.SessionID,
			from+i,
			msg.ID,
			string(msg.Sender),
			msg.Text,
			stage,
			msg.IsWarning,
			msg.IsOrchestrationStep,
			msg.Timestamp.UTC(),
		)
		if err != nil {
			_ = tx.Rollback()
			return 0, apperrors.NewTranscriptWriteError(fmt.Errorf("%w: message %d: %v", ErrTranscriptWriteFailed, from+i, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, apperrors.NewTranscriptWriteError(fmt.Errorf("%w: commit: %v", ErrTranscriptWriteFailed, err))
	}

	s.written[state.SessionID] = len(state.Messages)
	s.logger.Debug("transcript synced", map[string]interface{}{
		"sessionId": state.SessionID,
		"messages":  len(pending),
	})
	return len(pending), nil
}

// Forget drops the bookkeeping for a session that has been torn down.
func (s *Sink) Forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.written, sessionID)
}
