package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/cozmonaut/cozmonaut/internal/robot"
	"github.com/cozmonaut/cozmonaut/internal/vision"
)

// RecordTrack stores one track event.
func (db *DB) RecordTrack(ctx context.Context, id robot.ID, t vision.Track) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO track_events (
			robot_id, track_uuid, track_number, kind,
			bbox_x, bbox_y, bbox_w, bbox_h,
			registration, confidence, frame_seq, detected_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(id), t.ID.String(), t.Number, string(t.Kind),
		t.BBox.X, t.BBox.Y, t.BBox.W, t.BBox.H,
		t.Registration, t.Confidence, int64(t.FrameSeq), t.DetectedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert track event: %w", err)
	}
	return nil
}

// TrackEvents returns up to limit of the newest track events for a robot,
// oldest first.
func (db *DB) TrackEvents(ctx context.Context, id robot.ID, limit int) ([]vision.Track, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT track_uuid, track_number, kind, bbox_x, bbox_y, bbox_w, bbox_h,
		       registration, confidence, frame_seq, detected_ns
		FROM (
			SELECT * FROM track_events WHERE robot_id = ? ORDER BY event_id DESC LIMIT ?
		) ORDER BY event_id ASC`,
		int64(id), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query track events: %w", err)
	}
	defer rows.Close()

	var out []vision.Track
	for rows.Next() {
		var (
			t          vision.Track
			rawID      string
			kind       string
			frameSeq   int64
			detectedNs int64
		)
		if err := rows.Scan(&rawID, &t.Number, &kind, &t.BBox.X, &t.BBox.Y, &t.BBox.W, &t.BBox.H,
			&t.Registration, &t.Confidence, &frameSeq, &detectedNs); err != nil {
			return nil, err
		}
		if t.ID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("bad track uuid %q: %w", rawID, err)
		}
		t.Kind = vision.Kind(kind)
		t.FrameSeq = uint64(frameSeq)
		t.DetectedAt = time.Unix(0, detectedNs).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// HandleTrack records t and, for identity events, marks the recognised
// friend as seen. It satisfies the supervisor's track sink.
func (db *DB) HandleTrack(id robot.ID, t vision.Track) {
	ctx := context.Background()
	if err := db.RecordTrack(ctx, id, t); err != nil {
		log.Printf("robot %d: %v", id, err)
	}
	if t.Kind != vision.KindIdentity || t.Registration == 0 {
		return
	}
	at := t.DetectedAt
	if at.IsZero() {
		at = time.Now()
	}
	err := db.MarkFriendSeen(ctx, t.Registration, at)
	switch {
	case errors.Is(err, ErrFriendNotFound):
		log.Printf("robot %d recognised unknown friend %d", id, t.Registration)
	case err != nil:
		log.Printf("robot %d: %v", id, err)
	}
}
