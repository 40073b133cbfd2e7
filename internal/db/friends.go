package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrFriendNotFound is returned for an unknown friend ID.
var ErrFriendNotFound = errors.New("friend not found")

// Friend is a person the robot has been introduced to.
type Friend struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen,omitzero"`
	SeenCount int64     `json:"seen_count"`
}

func (f Friend) String() string {
	seen := "never seen"
	if !f.LastSeen.IsZero() {
		seen = fmt.Sprintf("seen %d times, last %s", f.SeenCount, f.LastSeen.Format(time.RFC3339))
	}
	return fmt.Sprintf("%d\t%s\t%s", f.ID, f.Name, seen)
}

// CreateFriend inserts a friend and returns it with its new ID.
func (db *DB) CreateFriend(ctx context.Context, name string) (Friend, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Friend{}, fmt.Errorf("friend name must not be empty")
	}
	now := time.Now().UTC()
	res, err := db.ExecContext(ctx,
		`INSERT INTO friends (name, created_ns) VALUES (?, ?)`,
		name, now.UnixNano(),
	)
	if err != nil {
		return Friend{}, fmt.Errorf("failed to insert friend: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Friend{}, err
	}
	return Friend{ID: id, Name: name, CreatedAt: now}, nil
}

// ListFriends returns every friend ordered by ID.
func (db *DB) ListFriends(ctx context.Context) ([]Friend, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT friend_id, name, created_ns, last_seen_ns, seen_count FROM friends ORDER BY friend_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query friends: %w", err)
	}
	defer rows.Close()

	var friends []Friend
	for rows.Next() {
		f, err := scanFriend(rows)
		if err != nil {
			return nil, err
		}
		friends = append(friends, f)
	}
	return friends, rows.Err()
}

// GetFriend returns one friend or ErrFriendNotFound.
func (db *DB) GetFriend(ctx context.Context, id int64) (Friend, error) {
	row := db.QueryRowContext(ctx,
		`SELECT friend_id, name, created_ns, last_seen_ns, seen_count FROM friends WHERE friend_id = ?`, id)
	f, err := scanFriend(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Friend{}, fmt.Errorf("friend %d: %w", id, ErrFriendNotFound)
	}
	return f, err
}

// RemoveFriend deletes a friend or returns ErrFriendNotFound.
func (db *DB) RemoveFriend(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM friends WHERE friend_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete friend %d: %w", id, err)
	}
	return expectOneRow(res, id)
}

// MarkFriendSeen bumps a friend's sighting count and last-seen time.
func (db *DB) MarkFriendSeen(ctx context.Context, id int64, at time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE friends SET seen_count = seen_count + 1, last_seen_ns = MAX(last_seen_ns, ?) WHERE friend_id = ?`,
		at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to mark friend %d seen: %w", id, err)
	}
	return expectOneRow(res, id)
}

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("friend %d: %w", id, ErrFriendNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFriend(s scanner) (Friend, error) {
	var (
		f                 Friend
		createdNs, seenNs int64
	)
	if err := s.Scan(&f.ID, &f.Name, &createdNs, &seenNs, &f.SeenCount); err != nil {
		return Friend{}, err
	}
	f.CreatedAt = time.Unix(0, createdNs).UTC()
	if seenNs != 0 {
		f.LastSeen = time.Unix(0, seenNs).UTC()
	}
	return f, nil
}
