package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"time"

	"marketplace-chat/internal/storage/zapadapter"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"
)

var (
	ErrRoomExists      = errors.New("room already exists")
	ErrRoomNotExist    = errors.New("room does not exist")
	ErrMessageExists   = errors.New("message with the same client token already exists")
	ErrMessageNotExist = errors.New("message does not exist")
	// ErrUnavailable marks failures worth retrying: timeouts, lost connections, serialization conflicts
	ErrUnavailable = errors.New("store unavailable")
)

const (
	roomPairKeyConstraint     = "rooms_pair_key_key"
	messageTokenConstraint    = "messages_client_token_idx"
	messageRoomFKeyConstraint = "messages_room_id_fkey"
)

//go:embed schema.sql
var schema string

// Store defines fields used in db interaction processes
type Store struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

// New sets provided zap.Logger via zapadapter to pgxpool.Pool and returns instance of Store struct
func New(ctx context.Context, logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())
	config.ConnConfig.LogLevel = pgx.LogLevelWarn

	for _, opt := range opts {
		opt.apply(config)
	}

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	return &Store{
		logger: logger,
		db:     pool,
	}, nil
}

// Migrate applies embedded schema, every statement in it is idempotent
func (s *Store) Migrate(ctx context.Context) error {
	s.logger.Debug("Applying schema")

	_, err := s.db.Exec(ctx, schema)
	return classify(err)
}

// Close closes all pool connections
func (s *Store) Close() {
	s.db.Close()
}

// classify wraps errors a caller may retry with ErrUnavailable
func classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgerrcode.IsConnectionException(pgErr.Code) ||
			pgerrcode.IsTransactionRollback(pgErr.Code) ||
			pgerrcode.IsOperatorIntervention(pgErr.Code) ||
			pgerrcode.IsInsufficientResources(pgErr.Code) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return err
}

func parsePairKey(key string) ([2]int64, error) {
	var pair [2]int64
	_, err := fmt.Sscanf(key, "%d:%d", &pair[0], &pair[1])
	return pair, err
}

const roomColumns = "id, kind, pair_key, created_at, last_activity_at"

func scanRoom(row pgx.Row) (Room, error) {
	var (
		r    Room
		kind string
		key  string
	)
	if err := row.Scan(&r.ID, &kind, &key, &r.CreatedAt, &r.LastActivityAt); err != nil {
		return Room{}, err
	}
	r.Kind = RoomKind(kind)

	pair, err := parsePairKey(key)
	if err != nil {
		return Room{}, fmt.Errorf("room %d: malformed pair key %q: %w", r.ID, key, err)
	}
	r.Participants = pair

	return r, nil
}

// RoomByID returns the room with provided id
func (s *Store) RoomByID(ctx context.Context, id int64) (Room, error) {
	sql := "select " + roomColumns + " from rooms where id = $1"
	r, err := scanRoom(s.db.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Room{}, ErrRoomNotExist
		}
		return Room{}, classify(err)
	}

	return r, nil
}

// DirectRoom returns the direct room of an unordered pair of users
func (s *Store) DirectRoom(ctx context.Context, a, b int64) (Room, error) {
	sql := "select " + roomColumns + " from rooms where pair_key = $1"
	r, err := scanRoom(s.db.QueryRow(ctx, sql, PairKey(a, b)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Room{}, ErrRoomNotExist
		}
		return Room{}, classify(err)
	}

	return r, nil
}

// CreateDirectRoom performs two-step transaction to create a direct room
// (1. insert room record keyed by the canonical pair; 2. bulk insert on "room_participants" table).
// Concurrent creation of the same pair fails all but one caller with ErrRoomExists.
func (s *Store) CreateDirectRoom(ctx context.Context, a, b int64) (Room, error) {
	s.logger.Debugf("Creating direct room for users (%d, %d)", a, b)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Room{}, classify(err)
	}
	// error handling can be omitted for rollback according docs
	defer tx.Rollback(context.Background())

	now := time.Now().UTC()
	sql := "insert into rooms (kind, pair_key, created_at, last_activity_at) values ($1, $2, $3, $3) returning " + roomColumns
	r, err := scanRoom(tx.QueryRow(ctx, sql, string(RoomKindDirect), PairKey(a, b), now))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == roomPairKeyConstraint {
			return Room{}, ErrRoomExists
		}
		return Room{}, classify(err)
	}

	pair := canonicalPair(a, b)
	_, err = tx.CopyFrom(ctx, pgx.Identifier{"room_participants"}, []string{"room_id", "user_id"}, copyFromParticipants(r.ID, pair[0], pair[1]))
	if err != nil {
		return Room{}, classify(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return Room{}, classify(err)
	}

	s.logger.Debugf("Created direct room with id %d", r.ID)

	return r, nil
}

// RoomsByUserID returns rooms of the user with their most recent message and the user's unread count,
// sorted by last activity (from latest to oldest)
func (s *Store) RoomsByUserID(ctx context.Context, user int64) ([]RoomSummary, error) {
	s.logger.Debugf("Retrieving rooms for user (id: %d)", user)

	sql := `select r.id,
				   r.kind,
				   r.pair_key,
				   r.created_at,
				   r.last_activity_at,
				   lm.id,
				   lm.sender_id,
				   lm.content,
				   lm.type,
				   lm.file_url,
				   lm.is_read,
				   lm.created_at,
				   (select count(*)
					  from messages u
					 where u.room_id = r.id
					   and u.sender_id <> $1
					   and not u.is_read) as unread
			  from room_participants rp
			  join rooms r
				on r.id = rp.room_id
			  left join lateral (
				   select m.id, m.sender_id, m.content, m.type, m.file_url, m.is_read, m.created_at
					 from messages m
					where m.room_id = r.id
					order by m.id desc
					limit 1
			  ) lm on true
			 where rp.user_id = $1
			 order by r.last_activity_at desc, r.id desc`

	rows, err := s.db.Query(ctx, sql, user)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var rooms []RoomSummary
	for rows.Next() {
		var (
			rs        RoomSummary
			kind      string
			key       string
			msgID     pgtype.Int8
			sender    pgtype.Int8
			content   pgtype.Text
			msgType   pgtype.Text
			fileURL   pgtype.Text
			isRead    pgtype.Bool
			createdAt pgtype.Timestamptz
		)
		err = rows.Scan(&rs.ID, &kind, &key, &rs.CreatedAt, &rs.LastActivityAt,
			&msgID, &sender, &content, &msgType, &fileURL, &isRead, &createdAt, &rs.Unread)
		if err != nil {
			return nil, classify(err)
		}

		rs.Kind = RoomKind(kind)
		if rs.Participants, err = parsePairKey(key); err != nil {
			return nil, fmt.Errorf("room %d: malformed pair key %q: %w", rs.ID, key, err)
		}

		if msgID.Status == pgtype.Present {
			rs.LastMessage = &Message{
				ID:        msgID.Int,
				Room:      rs.ID,
				Sender:    sender.Int,
				Content:   content.String,
				Type:      MessageType(msgType.String),
				FileURL:   fileURL.String,
				IsRead:    isRead.Bool,
				CreatedAt: createdAt.Time,
			}
		}

		rooms = append(rooms, rs)
	}

	if err = rows.Err(); err != nil {
		return nil, classify(err)
	}

	s.logger.Debugf("Retrieved %d rooms", len(rooms))

	return rooms, nil
}

// CreateMessage appends message to the room and returns it with store assigned id and timestamp.
// Appends into the same room are serialized by a row lock on the room, so ids and timestamps
// are jointly monotonic inside a room.
func (s *Store) CreateMessage(ctx context.Context, m NewMessage) (Message, error) {
	s.logger.Debugf("Creating message from user (id: %d) in room (id: %d)", m.Sender, m.Room)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Message{}, classify(err)
	}
	defer tx.Rollback(context.Background())

	var i int8
	err = tx.QueryRow(ctx, "select 1 from rooms where id = $1 for no key update", m.Room).Scan(&i)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrRoomNotExist
		}
		return Message{}, classify(err)
	}

	msg := Message{
		Room:        m.Room,
		Sender:      m.Sender,
		Content:     m.Content,
		Type:        m.Type,
		FileURL:     m.FileURL,
		ClientToken: m.ClientToken,
	}

	sql := `insert into messages (room_id, sender_id, content, type, file_url, client_token, is_read, created_at)
			values ($1, $2, $3, $4, $5, nullif($6::text, '')::uuid, false,
					greatest(clock_timestamp(),
							 coalesce((select created_at from messages where room_id = $1 order by id desc limit 1),
									  '-infinity'::timestamptz)))
			returning id, created_at`
	err = tx.QueryRow(ctx, sql, m.Room, m.Sender, m.Content, string(m.Type), m.FileURL, m.ClientToken).
		Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.UniqueViolation:
				if pgErr.ConstraintName == messageTokenConstraint {
					return Message{}, ErrMessageExists
				}
			case pgerrcode.ForeignKeyViolation:
				if pgErr.ConstraintName == messageRoomFKeyConstraint {
					return Message{}, ErrRoomNotExist
				}
			}
		}
		return Message{}, classify(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return Message{}, classify(err)
	}

	return msg, nil
}

const messageColumns = "id, room_id, sender_id, content, type, file_url, coalesce(client_token::text, ''), is_read, created_at"

func scanMessage(row pgx.Row) (Message, error) {
	var (
		m       Message
		msgType string
	)
	err := row.Scan(&m.ID, &m.Room, &m.Sender, &m.Content, &msgType, &m.FileURL, &m.ClientToken, &m.IsRead, &m.CreatedAt)
	m.Type = MessageType(msgType)
	return m, err
}

// MessageByClientToken returns the message previously appended by sender with the given client token
func (s *Store) MessageByClientToken(ctx context.Context, room, sender int64, token string) (Message, error) {
	sql := "select " + messageColumns + " from messages where room_id = $1 and sender_id = $2 and client_token = $3::uuid"
	m, err := scanMessage(s.db.QueryRow(ctx, sql, room, sender, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrMessageNotExist
		}
		return Message{}, classify(err)
	}

	return m, nil
}

// TouchRoom moves room last activity forward to at, it never moves it backwards
func (s *Store) TouchRoom(ctx context.Context, room int64, at time.Time) error {
	sql := "update rooms set last_activity_at = greatest(last_activity_at, $2) where id = $1"
	tag, err := s.db.Exec(ctx, sql, room, at)
	if err != nil {
		return classify(err)
	}

	if tag.RowsAffected() == 0 {
		return ErrRoomNotExist
	}

	return nil
}

// MessagesByRoomID returns a page of room messages. Pages are counted from the newest message:
// offset skips that many newest messages. The page itself is sorted by id (from earliest to latest).
func (s *Store) MessagesByRoomID(ctx context.Context, room int64, offset, limit int) ([]Message, error) {
	s.logger.Debugf("Retrieving messages for room (id: %d, offset: %d, limit: %d)", room, offset, limit)
	if offset < 0 || limit <= 0 {
		return []Message{}, nil
	}

	sql := `select ` + messageColumns + `
			  from (select *
					  from messages
					 where room_id = $1
					 order by id desc
					 limit $2
					offset $3) page
			 order by id asc`

	rows, err := s.db.Query(ctx, sql, room, limit, offset)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, classify(err)
		}
		messages = append(messages, m)
	}

	if err = rows.Err(); err != nil {
		return nil, classify(err)
	}

	s.logger.Debugf("Retrieved %d messages", len(messages))

	return messages, nil
}

// MarkRead flips every unread message of the room not sent by reader in one statement
// and returns the number of flipped messages
func (s *Store) MarkRead(ctx context.Context, room, reader int64) (int64, error) {
	sql := "update messages set is_read = true where room_id = $1 and sender_id <> $2 and not is_read"
	tag, err := s.db.Exec(ctx, sql, room, reader)
	if err != nil {
		return 0, classify(err)
	}

	return tag.RowsAffected(), nil
}

// UnreadCount returns the number of unread messages sent to user across all of the user's rooms
func (s *Store) UnreadCount(ctx context.Context, user int64) (int64, error) {
	sql := `select count(*)
			  from messages m
			  join room_participants rp
				on rp.room_id = m.room_id
			   and rp.user_id = $1
			 where m.sender_id <> $1
			   and not m.is_read`

	var n int64
	if err := s.db.QueryRow(ctx, sql, user).Scan(&n); err != nil {
		return 0, classify(err)
	}

	return n, nil
}

// RoomUnreadCount returns the number of unread messages sent to user in a single room
func (s *Store) RoomUnreadCount(ctx context.Context, room, user int64) (int64, error) {
	sql := "select count(*) from messages where room_id = $1 and sender_id <> $2 and not is_read"

	var n int64
	if err := s.db.QueryRow(ctx, sql, room, user).Scan(&n); err != nil {
		return 0, classify(err)
	}

	return n, nil
}

// UsersByIDs returns display projections of the users found among ids
func (s *Store) UsersByIDs(ctx context.Context, ids []int64) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	sql := "select id, first_name, last_name, avatar from users where id = any($1)"
	rows, err := s.db.Query(ctx, sql, ids)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err = rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Avatar); err != nil {
			return nil, classify(err)
		}
		users = append(users, u)
	}

	return users, classify(rows.Err())
}

// CreateUser inserts a user projection, used for seeding and tests
func (s *Store) CreateUser(ctx context.Context, u User) (int64, error) {
	var id int64
	sql := "insert into users (first_name, last_name, avatar) values ($1, $2, $3) returning id"
	if err := s.db.QueryRow(ctx, sql, u.FirstName, u.LastName, u.Avatar).Scan(&id); err != nil {
		return 0, classify(err)
	}

	return id, nil
}
