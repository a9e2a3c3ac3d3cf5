package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"
)

const messageSelect = `
	SELECT m.id, m.room_id, r.external_id, m.seq_id, m.sender_id, u.name,
	       m.content, m.attachments, m.created_at, m.updated_at
	FROM messages m
	JOIN rooms r ON r.id = m.room_id
	JOIN users u ON u.id = m.sender_id`

func scanMessage(row rowScanner) (Message, error) {
	var (
		m           Message
		attachments []byte
	)

	err := row.Scan(
		&m.Id,
		&m.RoomId,
		&m.RoomExternalId,
		&m.SeqId,
		&m.Sender.Id,
		&m.Sender.Name,
		&m.Content,
		&attachments,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return Message{}, err
	}

	m.Attachments = []Attachment{}
	if err := unmarshalJSON(attachments, &m.Attachments); err != nil {
		return Message{}, err
	}

	return m, nil
}

// CreateMessage bumps the room's sequence and stores the message in one
// transaction, so a message never exists outside of its room's history.
func (db *PgChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	attachments := params.Attachments
	if attachments == nil {
		attachments = []Attachment{}
	}
	encoded, err := marshalJSON(attachments)
	if err != nil {
		return Message{}, err
	}

	var msg Message
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		var seqId int
		err := tx.QueryRowContext(ctx,
			"UPDATE rooms SET seq_id = seq_id + 1, updated_at = NOW() WHERE id = $1 RETURNING seq_id",
			params.RoomId,
		).Scan(&seqId)
		if err != nil {
			return notFound(err, "increment room seq")
		}

		var id int
		err = tx.QueryRowContext(ctx,
			"INSERT INTO messages (room_id, seq_id, sender_id, content, attachments) "+
				"VALUES ($1, $2, $3, $4, $5::jsonb) RETURNING id",
			params.RoomId,
			seqId,
			params.SenderId,
			params.Content,
			encoded,
		).Scan(&id)
		if err != nil {
			return errors.Wrap(err, "insert message")
		}

		msg, err = scanMessage(tx.QueryRowContext(ctx, messageSelect+" WHERE m.id = $1", id))
		return errors.Wrap(err, "reload message")
	})
	if err != nil {
		return Message{}, err
	}

	return msg, nil
}

func (db *PgChatRepository) GetMessage(ctx context.Context, messageId int) (Message, error) {
	msg, err := scanMessage(db.conn.QueryRowContext(ctx, messageSelect+" WHERE m.id = $1", messageId))
	if err != nil {
		return Message{}, notFound(err, "get message")
	}

	return msg, nil
}

func (db *PgChatRepository) ListMessages(ctx context.Context, params ListMessagesParams) ([]Message, error) {
	query := messageSelect + " WHERE m.room_id = $1"
	args := []any{params.RoomId}

	if params.Before > 0 {
		args = append(args, params.Before)
		query += fmt.Sprintf(" AND m.seq_id < $%d", len(args))
	}

	if params.Limit > 0 {
		args = append(args, params.Limit)
		query = fmt.Sprintf("SELECT * FROM (%s ORDER BY m.seq_id DESC LIMIT $%d) page ORDER BY seq_id ASC", query, len(args))
	} else {
		query += " ORDER BY m.seq_id ASC"
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		messages = append(messages, msg)
	}

	return messages, errors.Wrap(rows.Err(), "iterate messages")
}

func (db *PgChatRepository) UpdateMessageContent(ctx context.Context, messageId int, content string) (Message, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET content = $2, updated_at = NOW() WHERE id = $1",
		messageId,
		content,
	)
	if err != nil {
		return Message{}, errors.Wrap(err, "update message")
	}
	if err := requireAffected(res); err != nil {
		return Message{}, err
	}

	return db.GetMessage(ctx, messageId)
}

// DeleteMessage removes the message row. The room's history is derived from
// the same row, so both sides disappear atomically.
func (db *PgChatRepository) DeleteMessage(ctx context.Context, messageId int) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM messages WHERE id = $1", messageId)
	if err != nil {
		return errors.Wrap(err, "delete message")
	}

	return requireAffected(res)
}
