// Package postgres implements core.Store on PostgreSQL through pgxpool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/cordor/internal/core"
	"github.com/dkeye/cordor/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var _ core.Store = (*Store)(nil)

const pgForeignKeyViolation = "23503"

type Store struct {
	pool *pgxpool.Pool
}

// Open connects, pings and bootstraps the schema.
func Open(ctx context.Context, url string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info().Str("module", "store.postgres").Int32("max_conns", cfg.MaxConns).Msg("connected")
	return s, nil
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func notFound(err error, what string, id any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, id, domain.ErrNotFound)
	}
	return fmt.Errorf("%s %v: %w", what, id, err)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// display resolves the shown name the same way domain.User.Name does.
const display = `COALESCE(NULLIF(%[1]s.display_name, ''), %[1]s.username)`

func (s *Store) SaveUser(ctx context.Context, u *domain.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, username, display_name, avatar_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			display_name = EXCLUDED.display_name,
			avatar_url = EXCLUDED.avatar_url`,
		u.ID, u.Username, u.DisplayName, u.AvatarURL)
	if err != nil {
		return fmt.Errorf("save user %s: %w", u.ID, err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, display_name, avatar_url FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.DisplayName, &u.AvatarURL)
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return &u, nil
}

// EnsureServer upserts the server by name and adds any missing channels.
func (s *Store) EnsureServer(ctx context.Context, name string, channels []string) (*domain.Server, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ensure server: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var srv domain.Server
	err = tx.QueryRow(ctx, `
		INSERT INTO servers (id, name) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name`,
		uuid.NewString(), name,
	).Scan(&srv.ID, &srv.Name)
	if err != nil {
		return nil, fmt.Errorf("ensure server %s: %w", name, err)
	}
	for _, ch := range channels {
		_, err := tx.Exec(ctx, `
			INSERT INTO channels (id, server_id, name) VALUES ($1, $2, $3)
			ON CONFLICT (server_id, name) DO NOTHING`,
			uuid.NewString(), srv.ID, ch)
		if err != nil {
			return nil, fmt.Errorf("ensure channel %s: %w", ch, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ensure server %s: %w", name, err)
	}

	list, err := s.channelsOf(ctx, `WHERE server_id = $1`, srv.ID)
	if err != nil {
		return nil, err
	}
	srv.Channels = list
	return &srv, nil
}

func (s *Store) channelsOf(ctx context.Context, where string, args ...any) ([]domain.Channel, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, server_id, name FROM channels `+where+` ORDER BY ord`, args...)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()
	out := []domain.Channel{}
	for rows.Next() {
		var ch domain.Channel
		if err := rows.Scan(&ch.ID, &ch.ServerID, &ch.Name); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (s *Store) GetChannel(ctx context.Context, id domain.ChannelID) (*domain.Channel, error) {
	var ch domain.Channel
	err := s.pool.QueryRow(ctx,
		`SELECT id, server_id, name FROM channels WHERE id = $1`, id,
	).Scan(&ch.ID, &ch.ServerID, &ch.Name)
	if err != nil {
		return nil, notFound(err, "channel", id)
	}
	return &ch, nil
}

func (s *Store) ListServers(ctx context.Context) ([]domain.Server, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM servers ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	var servers []domain.Server
	for rows.Next() {
		var srv domain.Server
		if err := rows.Scan(&srv.ID, &srv.Name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan server: %w", err)
		}
		srv.Channels = []domain.Channel{}
		servers = append(servers, srv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}

	channels, err := s.channelsOf(ctx, "")
	if err != nil {
		return nil, err
	}
	idx := make(map[domain.ServerID]int, len(servers))
	for i := range servers {
		idx[servers[i].ID] = i
	}
	for _, ch := range channels {
		if i, ok := idx[ch.ServerID]; ok {
			servers[i].Channels = append(servers[i].Channels, ch)
		}
	}
	if servers == nil {
		servers = []domain.Server{}
	}
	return servers, nil
}

var messageColumns = `m.id, m.type, m.user_id, u.username, ` + fmt.Sprintf(display, "u") + `, u.avatar_url,
	m.text, m.file_url, COALESCE(m.channel_id, ''), COALESCE(m.conversation_id, ''), m.created_at`

func scanMessage(row pgx.Row) (domain.Message, error) {
	var m domain.Message
	err := row.Scan(&m.ID, &m.Type, &m.UserID, &m.Username, &m.DisplayName, &m.AvatarURL,
		&m.Text, &m.FileURL, &m.ChannelID, &m.ConversationID, &m.Timestamp)
	return m, err
}

func (s *Store) CreateMessage(ctx context.Context, in domain.NewMessage) (*domain.Message, error) {
	if (in.ChannelID == "") == (in.ConversationID == "") {
		return nil, fmt.Errorf("message needs exactly one of channel or conversation")
	}
	row := s.pool.QueryRow(ctx, `
		WITH m AS (
			INSERT INTO messages (type, user_id, text, file_url, channel_id, conversation_id)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING *
		)
		SELECT `+messageColumns+` FROM m JOIN users u ON u.id = m.user_id`,
		in.Type, in.AuthorID, in.Text, in.FileURL, nullable(string(in.ChannelID)), nullable(string(in.ConversationID)))
	m, err := scanMessage(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return nil, fmt.Errorf("create message: %s: %w", pgErr.ConstraintName, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("create message: %w", err)
	}
	return &m, nil
}

// history returns the newest limit rows matching where, oldest first.
func (s *Store) history(ctx context.Context, where string, id any, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages m JOIN users u ON u.id = m.user_id
		WHERE `+where+` = $1 ORDER BY m.id DESC LIMIT $2`, id, limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()
	out := []domain.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) ChannelHistory(ctx context.Context, id domain.ChannelID, limit int) ([]domain.Message, error) {
	return s.history(ctx, "m.channel_id", id, limit)
}

func (s *Store) ConversationHistory(ctx context.Context, id domain.ConversationID, limit int) ([]domain.Message, error) {
	return s.history(ctx, "m.conversation_id", id, limit)
}

var friendshipSelect = `
	SELECT f.id, f.status, f.created_at, f.updated_at,
		r.id, r.username, ` + fmt.Sprintf(display, "r") + `, r.avatar_url,
		a.id, a.username, ` + fmt.Sprintf(display, "a") + `, a.avatar_url
	FROM friendships f
	JOIN users r ON r.id = f.requester
	JOIN users a ON a.id = f.addressee`

func scanFriendship(row pgx.Row) (domain.Friendship, error) {
	var f domain.Friendship
	err := row.Scan(&f.ID, &f.Status, &f.CreatedAt, &f.UpdatedAt,
		&f.Requester.ID, &f.Requester.Username, &f.Requester.DisplayName, &f.Requester.AvatarURL,
		&f.Addressee.ID, &f.Addressee.Username, &f.Addressee.DisplayName, &f.Addressee.AvatarURL)
	return f, err
}

// RequestFriendship keeps one row per unordered pair. A declined row is
// reopened as pending in the new direction; pending and accepted rows are
// returned unchanged.
func (s *Store) RequestFriendship(ctx context.Context, from, to domain.UserID) (*domain.Friendship, error) {
	if from == to {
		return nil, domain.ErrSelfRelation
	}
	lo, hi := domain.OrderedPair(from, to)
	var id domain.FriendshipID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO friendships (id, requester, addressee, user_lo, user_hi, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		ON CONFLICT (user_lo, user_hi) DO UPDATE SET
			requester  = CASE WHEN friendships.status = 'declined' THEN EXCLUDED.requester ELSE friendships.requester END,
			addressee  = CASE WHEN friendships.status = 'declined' THEN EXCLUDED.addressee ELSE friendships.addressee END,
			updated_at = CASE WHEN friendships.status = 'declined' THEN now() ELSE friendships.updated_at END,
			status     = CASE WHEN friendships.status = 'declined' THEN 'pending' ELSE friendships.status END
		RETURNING id`,
		uuid.NewString(), from, to, lo, hi,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return nil, fmt.Errorf("friend request %s->%s: %w", from, to, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("friend request %s->%s: %w", from, to, err)
	}
	return s.GetFriendship(ctx, id)
}

func (s *Store) GetFriendship(ctx context.Context, id domain.FriendshipID) (*domain.Friendship, error) {
	f, err := scanFriendship(s.pool.QueryRow(ctx, friendshipSelect+` WHERE f.id = $1`, id))
	if err != nil {
		return nil, notFound(err, "friendship", id)
	}
	return &f, nil
}

func (s *Store) SetFriendshipStatus(ctx context.Context, id domain.FriendshipID, status domain.FriendshipStatus) (*domain.Friendship, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE friendships SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return nil, fmt.Errorf("update friendship %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("friendship %s: %w", id, domain.ErrNotFound)
	}
	return s.GetFriendship(ctx, id)
}

func (s *Store) ListFriendships(ctx context.Context, uid domain.UserID) ([]domain.Friendship, error) {
	rows, err := s.pool.Query(ctx,
		friendshipSelect+` WHERE f.requester = $1 OR f.addressee = $1 ORDER BY f.created_at, f.id`, uid)
	if err != nil {
		return nil, fmt.Errorf("list friendships: %w", err)
	}
	defer rows.Close()
	out := []domain.Friendship{}
	for rows.Next() {
		f, err := scanFriendship(rows)
		if err != nil {
			return nil, fmt.Errorf("scan friendship: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// EnsureConversation returns the pair's conversation, creating it on first
// call. The no-op update makes RETURNING yield the existing row.
func (s *Store) EnsureConversation(ctx context.Context, a, b domain.UserID) (*domain.Conversation, error) {
	if a == b {
		return nil, domain.ErrSelfRelation
	}
	lo, hi := domain.OrderedPair(a, b)
	var c domain.Conversation
	err := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, user_lo, user_hi) VALUES ($1, $2, $3)
		ON CONFLICT (user_lo, user_hi) DO UPDATE SET user_lo = EXCLUDED.user_lo
		RETURNING id, user_lo, user_hi, created_at`,
		uuid.NewString(), lo, hi,
	).Scan(&c.ID, &c.Participants[0], &c.Participants[1], &c.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return nil, fmt.Errorf("conversation %s/%s: %w", lo, hi, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("ensure conversation: %w", err)
	}
	return &c, nil
}

func (s *Store) GetConversation(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	var c domain.Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_lo, user_hi, created_at FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.Participants[0], &c.Participants[1], &c.CreatedAt)
	if err != nil {
		return nil, notFound(err, "conversation", id)
	}
	return &c, nil
}

// ListDMs returns uid's conversations, most recently active first.
func (s *Store) ListDMs(ctx context.Context, uid domain.UserID) ([]domain.DMSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.created_at,
			o.id, o.username, `+fmt.Sprintf(display, "o")+`, o.avatar_url,
			lm.id, lm.type, lm.user_id, lm.text, lm.created_at
		FROM conversations c
		JOIN users o ON o.id = CASE WHEN c.user_lo = $1 THEN c.user_hi ELSE c.user_lo END
		LEFT JOIN LATERAL (
			SELECT id, type, user_id, text, created_at FROM messages
			WHERE conversation_id = c.id ORDER BY id DESC LIMIT 1
		) lm ON true
		WHERE c.user_lo = $1 OR c.user_hi = $1
		ORDER BY COALESCE(lm.created_at, c.created_at) DESC, c.id`, uid)
	if err != nil {
		return nil, fmt.Errorf("list dms: %w", err)
	}
	defer rows.Close()

	out := []domain.DMSummary{}
	for rows.Next() {
		var (
			sum       domain.DMSummary
			created   time.Time
			lastID    *int64
			lastType  *string
			lastUser  *string
			lastText  *string
			lastStamp *time.Time
		)
		err := rows.Scan(&sum.ConversationID, &created,
			&sum.User.ID, &sum.User.Username, &sum.User.DisplayName, &sum.User.AvatarURL,
			&lastID, &lastType, &lastUser, &lastText, &lastStamp)
		if err != nil {
			return nil, fmt.Errorf("scan dm: %w", err)
		}
		sum.UpdatedAt = created
		if lastID != nil {
			sum.LastMessage = &domain.MessagePreview{
				ID:        domain.MessageID(*lastID),
				Type:      domain.MessageType(*lastType),
				UserID:    domain.UserID(*lastUser),
				Text:      *lastText,
				Timestamp: *lastStamp,
			}
			sum.UpdatedAt = *lastStamp
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}
