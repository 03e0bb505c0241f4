// Package repository implements data persistence adapters
// Following Hexagonal Architecture: Adapters implement ports defined in core
package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"chatwoot-relay/internal/core/domain"
	"chatwoot-relay/internal/core/ports"
)

//go:embed schema.sql
var schemaSQL string

// MySQL error number for a unique key violation
const errDuplicateEntry = 1062

// integration_state holds a single row
const stateRowID = 1

// Ensure MariaDBRepository implements the required interfaces
var (
	_ ports.WebhookRepository      = (*MariaDBRepository)(nil)
	_ ports.ConversationRepository = (*MariaDBRepository)(nil)
	_ ports.UserRepository         = (*MariaDBRepository)(nil)
	_ ports.MessageRepository      = (*MariaDBRepository)(nil)
	_ ports.StateRepository        = (*MariaDBRepository)(nil)
)

// MariaDBRepository is the bot-platform store: conversations, users and
// messages with their tags, the integration state and the webhook audit log
type MariaDBRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewMariaDBRepository creates a new MariaDB repository instance
func NewMariaDBRepository(db *sql.DB) *MariaDBRepository {
	return &MariaDBRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates missing tables. Statements run one at a time because the
// DSN disables multiStatements.
func (r *MariaDBRepository) Migrate(ctx context.Context) error {
	for _, stmt := range splitStatements(schemaSQL) {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	slog.Info("Database schema ready")
	return nil
}

func splitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// ============================================================================
// WebhookRepository Implementation
// ============================================================================

// SaveLog persists a webhook event to the audit log and sets log.ID
func (r *MariaDBRepository) SaveLog(ctx context.Context, log *domain.WebhookLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = r.now()
	}
	query := `
		INSERT INTO webhook_logs (platform, event_key, payload_json, status, error_log, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		log.Platform,
		log.EventKey,
		[]byte(log.PayloadJSON),
		log.Status,
		log.ErrorLog,
		log.CreatedAt,
	)
	if err != nil {
		slog.Error("Failed to save webhook log",
			"error", err,
			"platform", log.Platform,
			"event_key", log.EventKey,
		)
		return fmt.Errorf("save webhook log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	log.ID = id

	slog.Debug("Webhook log saved", "webhook_id", id, "status", log.Status)
	return nil
}

// UpdateStatus updates the processing status of a webhook log
func (r *MariaDBRepository) UpdateStatus(ctx context.Context, id int64, status string, errorLog *string) error {
	query := `
		UPDATE webhook_logs
		SET status = ?, error_log = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, status, errorLog, r.now(), id)
	if err != nil {
		slog.Error("Failed to update webhook status",
			"error", err,
			"webhook_id", id,
			"status", status,
		)
		return fmt.Errorf("update webhook status: %w", err)
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		slog.Warn("No webhook log found for status update", "webhook_id", id)
	}
	return nil
}

// purgeableStatuses are the audit rows nobody needs to look at again.
// Failed rows are kept for inspection until an operator removes them.
var purgeableStatuses = []string{domain.WebhookStatusProcessed, domain.WebhookStatusSkipped}

// PurgeProcessed deletes processed and skipped logs created before olderThan, at most limit rows
func (r *MariaDBRepository) PurgeProcessed(ctx context.Context, olderThan time.Time, limit int) (int64, error) {
	query, args := purgeQuery(olderThan, limit)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("purge webhook logs: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return rows, nil
}

func purgeQuery(olderThan time.Time, limit int) (string, []any) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(purgeableStatuses)), ", ")
	query := `
		DELETE FROM webhook_logs
		WHERE status IN (` + placeholders + `) AND created_at < ?
		LIMIT ?
	`

	args := make([]any, 0, len(purgeableStatuses)+2)
	for _, status := range purgeableStatuses {
		args = append(args, status)
	}
	return query, append(args, olderThan, limit)
}

// ============================================================================
// ConversationRepository Implementation
// ============================================================================

// GetOrCreateConversation looks the conversation up by (channel, chatwootId tag)
func (r *MariaDBRepository) GetOrCreateConversation(ctx context.Context, channel string, tags domain.Tags) (*domain.Conversation, error) {
	chatwootID := tags.Get(domain.TagChatwootID)
	if chatwootID == "" {
		return nil, fmt.Errorf("%w: conversation tag %s is required", domain.ErrInvalidInput, domain.TagChatwootID)
	}

	conv, err := r.conversationByChatwootID(ctx, channel, chatwootID)
	if err == nil {
		return conv, r.refreshTags(ctx, "conversations", conv.ID, &conv.Tags, &conv.UpdatedAt, tags)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	now := r.now()
	conv = &domain.Conversation{
		ID:        uuid.NewString(),
		Channel:   channel,
		Tags:      domain.Tags{}.Merge(tags),
		CreatedAt: now,
		UpdatedAt: now,
	}
	encoded, err := encodeTags(conv.Tags)
	if err != nil {
		return nil, err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO conversations (id, channel, chatwoot_id, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, conv.ID, conv.Channel, chatwootID, encoded, conv.CreatedAt, conv.UpdatedAt)
	if isDuplicateEntry(err) {
		// lost a race with a concurrent webhook for the same conversation
		return r.conversationByChatwootID(ctx, channel, chatwootID)
	}
	if err != nil {
		slog.Error("Failed to create conversation", "error", err, "chatwoot_id", chatwootID)
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	slog.Info("New conversation created", "conversation_id", conv.ID, "chatwoot_id", chatwootID)
	return conv, nil
}

// GetConversation retrieves a conversation by its bot-platform id
func (r *MariaDBRepository) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, channel, tags, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id)
	return scanConversation(row)
}

func (r *MariaDBRepository) conversationByChatwootID(ctx context.Context, channel, chatwootID string) (*domain.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, channel, tags, created_at, updated_at
		FROM conversations WHERE channel = ? AND chatwoot_id = ?
	`, channel, chatwootID)
	return scanConversation(row)
}

func scanConversation(row *sql.Row) (*domain.Conversation, error) {
	var conv domain.Conversation
	var rawTags []byte
	err := row.Scan(&conv.ID, &conv.Channel, &rawTags, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if conv.Tags, err = decodeTags(rawTags); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ============================================================================
// UserRepository Implementation
// ============================================================================

// GetOrCreateUser looks the user up by its chatwootId tag
func (r *MariaDBRepository) GetOrCreateUser(ctx context.Context, tags domain.Tags) (*domain.User, error) {
	chatwootID := tags.Get(domain.TagChatwootID)
	if chatwootID == "" {
		return nil, fmt.Errorf("%w: user tag %s is required", domain.ErrInvalidInput, domain.TagChatwootID)
	}

	user, err := r.userByChatwootID(ctx, chatwootID)
	if err == nil {
		return user, r.refreshTags(ctx, "users", user.ID, &user.Tags, &user.UpdatedAt, tags)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	now := r.now()
	user = &domain.User{
		ID:        uuid.NewString(),
		Tags:      domain.Tags{}.Merge(tags),
		CreatedAt: now,
		UpdatedAt: now,
	}
	encoded, err := encodeTags(user.Tags)
	if err != nil {
		return nil, err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, chatwoot_id, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.ID, chatwootID, encoded, user.CreatedAt, user.UpdatedAt)
	if isDuplicateEntry(err) {
		return r.userByChatwootID(ctx, chatwootID)
	}
	if err != nil {
		slog.Error("Failed to create user", "error", err, "chatwoot_id", chatwootID)
		return nil, fmt.Errorf("create user: %w", err)
	}

	slog.Info("New user created", "user_id", user.ID, "chatwoot_id", chatwootID)
	return user, nil
}

// GetUser retrieves a user by its bot-platform id
func (r *MariaDBRepository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, tags, created_at, updated_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (r *MariaDBRepository) userByChatwootID(ctx context.Context, chatwootID string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, tags, created_at, updated_at FROM users WHERE chatwoot_id = ?`, chatwootID)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var user domain.User
	var rawTags []byte
	err := row.Scan(&user.ID, &rawTags, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user.Tags, err = decodeTags(rawTags); err != nil {
		return nil, err
	}
	return &user, nil
}

// ============================================================================
// MessageRepository Implementation
// ============================================================================

// CreateMessage persists a relayed message, assigning an id when empty
func (r *MariaDBRepository) CreateMessage(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.now()
	}
	payload := []byte(msg.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	encoded, err := encodeTags(msg.Tags)
	if err != nil {
		return err
	}

	var chatwootID *string
	if id := msg.Tags.Get(domain.TagChatwootID); id != "" {
		chatwootID = &id
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, user_id, direction, type, payload, tags, chatwoot_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.UserID, msg.Direction, msg.Type, payload, encoded, chatwootID, msg.CreatedAt)
	if isDuplicateEntry(err) && chatwootID != nil {
		// a retried delivery; keep the row stored by the first attempt
		return r.adoptStoredMessage(ctx, msg, *chatwootID)
	}
	if err != nil {
		slog.Error("Failed to save message",
			"error", err,
			"conversation_id", msg.ConversationID,
			"direction", msg.Direction,
		)
		return fmt.Errorf("save message: %w", err)
	}

	slog.Debug("Message saved",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID,
		"direction", msg.Direction,
		"type", msg.Type,
	)
	return nil
}

// adoptStoredMessage points msg at the row already stored for (direction, chatwootId)
func (r *MariaDBRepository) adoptStoredMessage(ctx context.Context, msg *domain.Message, chatwootID string) error {
	err := r.db.QueryRowContext(ctx, `
		SELECT id, created_at FROM messages
		WHERE direction = ? AND chatwoot_id = ?
	`, msg.Direction, chatwootID).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("load stored message: %w", err)
	}

	slog.Info("Message already stored, reusing row",
		"message_id", msg.ID,
		"chatwoot_id", chatwootID,
		"direction", msg.Direction,
	)
	return nil
}

// ============================================================================
// StateRepository Implementation
// ============================================================================

func (r *MariaDBRepository) GetState(ctx context.Context) (*domain.IntegrationState, error) {
	var state domain.IntegrationState
	err := r.db.QueryRowContext(ctx, `
		SELECT agent_bot_id, agent_bot_api_key, updated_at
		FROM integration_state WHERE id = ?
	`, stateRowID).Scan(&state.AgentBotID, &state.AgentBotAPIKey, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotRegistered
	}
	if err != nil {
		return nil, fmt.Errorf("get integration state: %w", err)
	}
	return &state, nil
}

func (r *MariaDBRepository) SaveState(ctx context.Context, state *domain.IntegrationState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = r.now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO integration_state (id, agent_bot_id, agent_bot_api_key, updated_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			agent_bot_id = VALUES(agent_bot_id),
			agent_bot_api_key = VALUES(agent_bot_api_key),
			updated_at = VALUES(updated_at)
	`, stateRowID, state.AgentBotID, state.AgentBotAPIKey, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save integration state: %w", err)
	}
	return nil
}

func (r *MariaDBRepository) ClearState(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM integration_state WHERE id = ?`, stateRowID); err != nil {
		return fmt.Errorf("clear integration state: %w", err)
	}
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

// refreshTags merges incoming tags and writes them back only when something changed
func (r *MariaDBRepository) refreshTags(ctx context.Context, table, id string, current *domain.Tags, updatedAt *time.Time, incoming domain.Tags) error {
	merged, changed := mergeTags(*current, incoming)
	if !changed {
		return nil
	}
	encoded, err := encodeTags(merged)
	if err != nil {
		return err
	}

	now := r.now()
	// table is one of two constants chosen by the caller
	query := fmt.Sprintf(`UPDATE %s SET tags = ?, updated_at = ? WHERE id = ?`, table)
	if _, err := r.db.ExecContext(ctx, query, encoded, now, id); err != nil {
		return fmt.Errorf("update %s tags: %w", table, err)
	}
	*current = merged
	*updatedAt = now
	return nil
}

// mergeTags copies non-empty incoming values over current and reports whether anything changed
func mergeTags(current, incoming domain.Tags) (domain.Tags, bool) {
	merged := domain.Tags{}.Merge(current)
	changed := false
	for k, v := range incoming {
		if v != "" && merged[k] != v {
			merged[k] = v
			changed = true
		}
	}
	return merged, changed
}

func encodeTags(tags domain.Tags) ([]byte, error) {
	if tags == nil {
		tags = domain.Tags{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	return data, nil
}

func decodeTags(raw []byte) (domain.Tags, error) {
	tags := domain.Tags{}
	if len(raw) == 0 {
		return tags, nil
	}
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return tags, nil
}

func isDuplicateEntry(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == errDuplicateEntry
}
