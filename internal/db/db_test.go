package db

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cozmonaut/cozmonaut/internal/monitor"
	"github.com/cozmonaut/cozmonaut/internal/robot"
	"github.com/cozmonaut/cozmonaut/internal/testutil"
	"github.com/cozmonaut/cozmonaut/internal/vision"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/var/lib/cozmo", "friends.db"), Path("/var/lib/cozmo", "friends"))
	assert.Equal(t, filepath.Join("data", "x.sqlite"), Path("data", "x.sqlite"))
	assert.Equal(t, "cozmonaut.db", Path("", ""))
}

func TestNewDB_Migrates(t *testing.T) {
	db := newTestDB(t)
	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Reopening an up-to-date database is a no-op.
	require.NoError(t, db.MigrateUp())
}

func TestFriends(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.CreateFriend(ctx, "  ")
	assert.Error(t, err)

	alice, err := db.CreateFriend(ctx, "Alice")
	require.NoError(t, err)
	bob, err := db.CreateFriend(ctx, "Bob")
	require.NoError(t, err)
	assert.Greater(t, bob.ID, alice.ID)

	got, err := db.GetFriend(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)
	assert.True(t, got.LastSeen.IsZero())
	assert.Contains(t, got.String(), "never seen")

	seen := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, db.MarkFriendSeen(ctx, alice.ID, seen))
	require.NoError(t, db.MarkFriendSeen(ctx, alice.ID, seen.Add(-time.Hour)))
	got, err = db.GetFriend(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.SeenCount)
	assert.Equal(t, seen, got.LastSeen, "last seen never moves backwards")

	all, err := db.ListFriends(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, []string{"Alice", "Bob"}, []string{all[0].Name, all[1].Name})

	require.NoError(t, db.RemoveFriend(ctx, bob.ID))
	assert.ErrorIs(t, db.RemoveFriend(ctx, bob.ID), ErrFriendNotFound)
	_, err = db.GetFriend(ctx, bob.ID)
	assert.ErrorIs(t, err, ErrFriendNotFound)
	assert.ErrorIs(t, db.MarkFriendSeen(ctx, 999, seen), ErrFriendNotFound)
}

func TestSamples(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var in []monitor.Sample
	for i := 0; i < 5; i++ {
		in = append(in, monitor.Sample{Robot: 1, Channel: monitor.ChannelBattery, X: 4.0 - float64(i)*0.1, At: base.Add(time.Duration(i) * time.Second)})
	}
	in = append(in, monitor.Sample{Robot: 2, Channel: monitor.ChannelBattery, X: 3.3, At: base})
	in = append(in, monitor.Sample{Robot: 1, Channel: monitor.ChannelWheelSpeeds, X: 10, Y: 11, At: base})
	require.NoError(t, db.InsertSamples(ctx, in))

	got, err := db.Samples(ctx, 1, monitor.ChannelBattery, time.Time{}, 0)
	require.NoError(t, err)
	if diff := cmp.Diff(in[:5], got); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}

	got, err = db.Samples(ctx, 1, monitor.ChannelBattery, base.Add(time.Second), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, base.Add(3*time.Second), got[0].At)
	assert.Equal(t, base.Add(4*time.Second), got[1].At)

	got, err = db.Samples(ctx, 1, monitor.ChannelWheelSpeeds, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 11.0, got[0].Y)
}

func TestSampleWriter_DropsWhenFull(t *testing.T) {
	db := newTestDB(t)
	w := NewSampleWriter(db, SampleWriterConfig{Buffer: 2})
	for i := 0; i < 5; i++ {
		w.RecordSample(monitor.Sample{Robot: 1, Channel: monitor.ChannelBattery, X: 1, At: time.Now()})
	}
	assert.Equal(t, uint64(3), w.Dropped())
}

func TestSampleWriter_FlushesOnStop(t *testing.T) {
	db := newTestDB(t)
	w := NewSampleWriter(db, SampleWriterConfig{BatchSize: 2, Interval: time.Hour})

	go w.Run(context.Background())
	for i := 0; i < 5; i++ {
		w.RecordSample(monitor.Sample{Robot: 3, Channel: monitor.ChannelGyroscope, X: float64(i), At: time.Unix(int64(i), 0)})
	}
	w.Stop()
	w.Stop()
	<-w.Done()

	assert.Equal(t, uint64(5), w.Written())
	got, err := db.Samples(context.Background(), 3, monitor.ChannelGyroscope, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestSampleWriter_WiredToMonitor(t *testing.T) {
	db := newTestDB(t)
	w := NewSampleWriter(db, SampleWriterConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	m := monitor.New(4, monitor.Options{Recorder: w})
	m.PushBattery(3.7)
	m.PushWheelSpeeds(1, 2)
	cancel()
	<-w.Done()

	got, err := db.Samples(context.Background(), 4, monitor.ChannelBattery, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3.7, got[0].X)
}

func TestTrackEvents(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	at := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)

	want := []vision.Track{
		{ID: uuid.New(), Number: 1, Kind: vision.KindAcquire, BBox: vision.BBox{X: 1, Y: 2, W: 3, H: 4}, Confidence: 0.8, FrameSeq: 10, DetectedAt: at},
		{ID: uuid.New(), Number: 1, Kind: vision.KindIdentity, Registration: 9, Confidence: 0.9, FrameSeq: 11, DetectedAt: at.Add(time.Second)},
	}
	for _, tk := range want {
		require.NoError(t, db.RecordTrack(ctx, 5, tk))
	}
	require.NoError(t, db.RecordTrack(ctx, 6, want[0]))

	got, err := db.TrackEvents(ctx, 5, 0)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tracks mismatch (-want +got):\n%s", diff)
	}

	got, err = db.TrackEvents(ctx, 5, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, vision.KindIdentity, got[0].Kind)
}

func TestHandleTrack_IdentityMarksFriendSeen(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	f, err := db.CreateFriend(ctx, "Carol")
	require.NoError(t, err)

	at := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	db.HandleTrack(robot.ID(1), vision.Track{ID: uuid.New(), Kind: vision.KindMove, DetectedAt: at})
	db.HandleTrack(robot.ID(1), vision.Track{ID: uuid.New(), Kind: vision.KindIdentity, Registration: f.ID, DetectedAt: at})
	db.HandleTrack(robot.ID(1), vision.Track{ID: uuid.New(), Kind: vision.KindIdentity, Registration: 404, DetectedAt: at})

	got, err := db.GetFriend(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.SeenCount)
	assert.Equal(t, at, got.LastSeen)

	events, err := db.TrackEvents(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestAdminRoutes_Backup(t *testing.T) {
	db := newTestDB(t)
	_, err := db.CreateFriend(context.Background(), "Dave")
	require.NoError(t, err)

	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.LocalRequest(http.MethodGet, "/debug/backup"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")

	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, len(body) > 16)
	assert.Equal(t, "SQLite format 3\x00", string(body[:16]))
}
