package storage

import "github.com/jackc/pgx/v4"

type participantRow struct {
	roomID, userID int64
}

type participantBulk struct {
	rows []participantRow
	idx  int
}

func (pr participantRow) toInterface() []interface{} {
	return []interface{}{pr.roomID, pr.userID}
}

func copyFromParticipants(roomID int64, users ...int64) pgx.CopyFromSource {
	rows := make([]participantRow, 0, len(users))
	for _, user := range users {
		rows = append(rows, participantRow{roomID: roomID, userID: user})
	}

	return &participantBulk{
		rows: rows,
		idx:  -1,
	}
}

func (pb *participantBulk) Next() bool {
	pb.idx++
	return pb.idx < len(pb.rows)
}

func (pb *participantBulk) Values() ([]interface{}, error) {
	return pb.rows[pb.idx].toInterface(), nil
}

func (pb *participantBulk) Err() error {
	return nil
}
