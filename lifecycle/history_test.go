package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/adda/types"
)

func cardIds(cards []*Card) []string {
	ids := make([]string, 0, len(cards))
	for _, card := range cards {
		ids = append(ids, card.Hangout.Id)
	}
	return ids
}

func TestChatsAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h1, err := f.ctrl.Create(ctx, "host", draft(4))
	require.NoError(t, err)
	joined, err := f.ctrl.RequestJoin(ctx, h1.Id, "b")
	require.NoError(t, err)
	_, err = f.ctrl.Decide(ctx, joined.Id, true, "host")
	require.NoError(t, err)

	d := draft(4)
	d.StartTime = now.Add(3 * time.Hour)
	h2, err := f.ctrl.Create(ctx, "b", d)
	require.NoError(t, err)

	d.StartTime = now.Add(2 * time.Hour)
	h3, err := f.ctrl.Create(ctx, "c", d)
	require.NoError(t, err)
	_, err = f.ctrl.RequestJoin(ctx, h3.Id, "b")
	require.NoError(t, err)

	f.setNow(h1.ExpiresAt.Add(30 * time.Minute))

	chats, err := f.ctrl.Chats(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{h2.Id}, cardIds(chats.Active))
	assert.Equal(t, []string{h1.Id}, cardIds(chats.Past))
	assert.Equal(t, types.ParticipantApproved, chats.Past[0].Summary.MyStatus)

	mine, err := f.ctrl.MyHangouts(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{h2.Id, h1.Id}, cardIds(mine))

	mine, err = f.ctrl.MyHangouts(ctx, "host")
	require.NoError(t, err)
	assert.Equal(t, []string{h1.Id}, cardIds(mine))

	completed, err := f.ctrl.CompletedHangouts(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{h1.Id}, cardIds(completed))
	assert.Equal(t, 2, completed[0].Summary.ApprovedCount)

	completed, err = f.ctrl.CompletedHangouts(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, completed)

	_, err = f.ctrl.CompletedHangouts(ctx, "missing")
	assert.True(t, errors.Is(err, types.ErrNotFound))
	_, err = f.ctrl.Chats(ctx, "")
	assert.True(t, errors.Is(err, types.ErrValidation))
}
