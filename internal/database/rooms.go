package database

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const foreignKeyViolation = "23503"

const roomSelect = `
	SELECT r.id, r.external_id, r.kind, r.name, r.creator_id, u.name,
	       r.seq_id, r.created_at, r.updated_at
	FROM rooms r
	JOIN users u ON u.id = r.creator_id`

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func scanRoom(row rowScanner) (Room, error) {
	var r Room
	err := row.Scan(
		&r.Id,
		&r.ExternalId,
		&r.Kind,
		&r.Name,
		&r.Creator.Id,
		&r.Creator.Name,
		&r.SeqId,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	return r, err
}

func (db *PgChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	kind := params.Kind
	if kind == "" {
		kind = RoomKindRoom
	}

	var roomId int
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			"INSERT INTO rooms (external_id, kind, name, creator_id) VALUES ($1, $2, $3, $4) RETURNING id",
			params.ExternalId,
			kind,
			params.Name,
			params.CreatorId,
		).Scan(&roomId)
		if err != nil {
			return errors.Wrap(err, "insert room")
		}

		// the creator is always a participant
		_, err = tx.ExecContext(ctx,
			"INSERT INTO room_participants (room_id, user_id) VALUES ($1, $2)",
			roomId,
			params.CreatorId,
		)
		return errors.Wrap(err, "insert creator participant")
	})
	if err != nil {
		return Room{}, err
	}

	return db.getRoom(ctx, db.conn, "r.id = $1", roomId)
}

func (db *PgChatRepository) GetRoomByExternalId(ctx context.Context, externalId string) (Room, error) {
	return db.getRoom(ctx, db.conn, "r.external_id = $1", externalId)
}

func (db *PgChatRepository) getRoom(ctx context.Context, q querier, where string, arg any) (Room, error) {
	room, err := scanRoom(q.QueryRowContext(ctx, roomSelect+" WHERE "+where, arg))
	if err != nil {
		return Room{}, notFound(err, "get room")
	}

	rooms := []Room{room}
	if err := loadParticipants(ctx, q, rooms); err != nil {
		return Room{}, err
	}

	return rooms[0], nil
}

func (db *PgChatRepository) ListRooms(ctx context.Context) ([]Room, error) {
	return db.listRooms(ctx, roomSelect+" ORDER BY r.id")
}

func (db *PgChatRepository) ListRoomsForUser(ctx context.Context, userId int) ([]Room, error) {
	return db.listRooms(ctx, roomSelect+`
		WHERE r.creator_id = $1
		   OR EXISTS (SELECT 1 FROM room_participants p WHERE p.room_id = r.id AND p.user_id = $1)
		ORDER BY r.id`,
		userId,
	)
}

func (db *PgChatRepository) listRooms(ctx context.Context, query string, args ...any) ([]Room, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list rooms")
	}
	defer rows.Close()

	rooms := []Room{}
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan room")
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate rooms")
	}

	if err := loadParticipants(ctx, db.conn, rooms); err != nil {
		return nil, err
	}

	return rooms, nil
}

// loadParticipants fills the participant list of every room with a single
// query.
func loadParticipants(ctx context.Context, q querier, rooms []Room) error {
	if len(rooms) == 0 {
		return nil
	}

	ids := make([]int64, len(rooms))
	index := make(map[int]int, len(rooms))
	for i := range rooms {
		ids[i] = int64(rooms[i].Id)
		index[rooms[i].Id] = i
		rooms[i].Participants = []Participant{}
	}

	rows, err := q.QueryContext(ctx, `
		SELECT p.room_id, u.id, u.name
		FROM room_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.room_id = ANY($1)
		ORDER BY p.joined_at, u.id`,
		pq.Array(ids),
	)
	if err != nil {
		return errors.Wrap(err, "list participants")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			roomId int
			p      Participant
		)
		if err := rows.Scan(&roomId, &p.Id, &p.Name); err != nil {
			return errors.Wrap(err, "scan participant")
		}
		if i, ok := index[roomId]; ok {
			rooms[i].Participants = append(rooms[i].Participants, p)
		}
	}

	return errors.Wrap(rows.Err(), "iterate participants")
}

// AddParticipant inserts the membership if it does not exist yet and reports
// whether a row was added. Concurrent joins of the same user cannot produce
// duplicates.
func (db *PgChatRepository) AddParticipant(ctx context.Context, roomId, userId int) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		"INSERT INTO room_participants (room_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		roomId,
		userId,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, ErrNotFound
		}
		return false, errors.Wrap(err, "insert participant")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}

	return n == 1, nil
}

func (db *PgChatRepository) RemoveParticipant(ctx context.Context, roomId, userId int) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM room_participants WHERE room_id = $1 AND user_id = $2",
		roomId,
		userId,
	)
	if err != nil {
		return false, errors.Wrap(err, "delete participant")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}

	return n > 0, nil
}

// DeleteRoom removes the room together with its participants and messages.
func (db *PgChatRepository) DeleteRoom(ctx context.Context, roomId int) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE room_id = $1", roomId); err != nil {
			return errors.Wrap(err, "delete room messages")
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM room_participants WHERE room_id = $1", roomId); err != nil {
			return errors.Wrap(err, "delete room participants")
		}

		res, err := tx.ExecContext(ctx, "DELETE FROM rooms WHERE id = $1", roomId)
		if err != nil {
			return errors.Wrap(err, "delete room")
		}

		return requireAffected(res)
	})
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == foreignKeyViolation
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == foreignKeyViolation
	}

	return false
}
