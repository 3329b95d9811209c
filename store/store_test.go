package store

import (
	"context"
	"io"
	"testing"

	"fronix-gateway/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	db, err := Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared", log)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewGormStore(db)
}

func TestOpen_UnsupportedType(t *testing.T) {
	_, err := Open("oracle", "x", logrus.New())
	assert.Error(t, err)
}

func TestOpen_PostgresRequiresDSN(t *testing.T) {
	_, err := Open("postgres", "", logrus.New())
	assert.Error(t, err)
}

func TestEnsureProfile_DefaultsToFree(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.EnsureProfile(ctx, "u1", "u1@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.PlanFree, p.Plan)

	require.NoError(t, s.SetPlan(ctx, "u1", models.PlanPro))
	p, err = s.EnsureProfile(ctx, "u1", "other@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.PlanPro, p.Plan)
	assert.Equal(t, "u1@example.com", p.Email)
}

func TestChatLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chat, err := s.CreateChat(ctx, "u1", "")
	require.NoError(t, err)
	assert.NotEmpty(t, chat.ID)
	assert.Equal(t, models.DefaultChatTitle, chat.Title)

	require.NoError(t, s.SaveMessage(ctx, &models.Message{ChatID: chat.ID, UserID: "u1", Role: "user", Content: "first"}))
	require.NoError(t, s.SaveMessage(ctx, &models.Message{ChatID: chat.ID, UserID: "u1", Role: "assistant", Content: "second"}))

	msgs, err := s.ListMessages(ctx, "u1", chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)

	// 其他用户看不到
	_, err = s.GetChat(ctx, "u2", chat.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	on, err := s.ToggleStudyMode(ctx, "u1", chat.ID)
	require.NoError(t, err)
	assert.True(t, on)
	on, err = s.ToggleStudyMode(ctx, "u1", chat.ID)
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, s.UpdateChatTitle(ctx, "u1", chat.ID, "Go Generics"))
	got, err := s.GetChat(ctx, "u1", chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "Go Generics", got.Title)
	assert.True(t, got.TitleGenerated)

	assert.ErrorIs(t, s.DeleteChat(ctx, "u2", chat.ID), ErrNotFound)
	require.NoError(t, s.DeleteChat(ctx, "u1", chat.ID))

	msgs, err = s.ListMessages(ctx, "u1", chat.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestListChats_OnlyOwn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateChat(ctx, "u1", "a")
	require.NoError(t, err)
	_, err = s.CreateChat(ctx, "u1", "b")
	require.NoError(t, err)
	_, err = s.CreateChat(ctx, "u2", "c")
	require.NoError(t, err)

	chats, err := s.ListChats(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, chats, 2)
}
