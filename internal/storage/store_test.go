package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func openTestStore(t *testing.T) (*Store, *stepClock) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	s, err := Open(context.Background(), path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	clock := &stepClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s.clock = clock.Now
	return s, clock
}

func TestSaveAndLoadRecentInChronologicalOrder(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	for _, content := range []string{"one", "two", "three", "four"} {
		_, err := s.SaveMessage(ctx, "user", content)
		require.NoError(t, err)
	}

	msgs, err := s.LoadRecentMessages(ctx, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "three", msgs[0].Content)
	require.Equal(t, "four", msgs[1].Content)
	require.True(t, msgs[0].CreatedAt.Before(msgs[1].CreatedAt))

	all, err := s.LoadRecentMessages(ctx, 100)
	require.NoError(t, err)
	require.Len(t, all, 4)

	none, err := s.LoadRecentMessages(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestSaveRequiresRole(t *testing.T) {
	s, _ := openTestStore(t)
	_, err := s.SaveMessage(context.Background(), " ", "x")
	require.Error(t, err)
}

func TestLoadBetweenIsInclusive(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	var saved []Message
	for _, content := range []string{"a", "b", "c", "d"} {
		m, err := s.SaveMessage(ctx, "assistant", content)
		require.NoError(t, err)
		saved = append(saved, m)
	}

	msgs, err := s.LoadBetween(ctx, saved[1].CreatedAt, saved[2].CreatedAt)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "b", msgs[0].Content)
	require.Equal(t, "c", msgs[1].Content)

	_, err = s.LoadBetween(ctx, saved[2].CreatedAt, saved[1].CreatedAt)
	require.Error(t, err)
}

func TestPurgeOlderThan(t *testing.T) {
	ctx := context.Background()
	s, clock := openTestStore(t)

	_, err := s.SaveMessage(ctx, "user", "old")
	require.NoError(t, err)
	clock.now = clock.now.Add(48 * time.Hour)
	_, err = s.SaveMessage(ctx, "user", "fresh")
	require.NoError(t, err)

	n, err := s.PurgeOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	msgs, err := s.LoadRecentMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "fresh", msgs[0].Content)

	n, err = s.PurgeOlderThan(ctx, 0)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDeleteAll(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	for i := 0; i < 3; i++ {
		_, err := s.SaveMessage(ctx, "user", "x")
		require.NoError(t, err)
	}
	n, err := s.DeleteAll(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	msgs, err := s.LoadRecentMessages(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestReopenKeepsHistory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(ctx, path, nil)
	require.NoError(t, err)
	_, err = s.SaveMessage(ctx, "user", "persisted")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, nil)
	require.NoError(t, err)
	defer s.Close()
	msgs, err := s.LoadRecentMessages(ctx, 5)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "persisted", msgs[0].Content)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "", nil)
	require.Error(t, err)
}
