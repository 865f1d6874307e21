// internal/gamestate/gamestate_test.go
package gamestate

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDirectory(t *testing.T) *Directory {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb)
}

func TestActiveDefaultsToEmpty(t *testing.T) {
	d := newDirectory(t)
	active, err := d.Active(context.Background(), "r1")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSetAndClearActive(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()

	require.NoError(t, d.SetActive(ctx, "r1", "lowcard"))
	active, err := d.Active(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "lowcard", active)

	require.NoError(t, d.Clear(ctx, "r1", "lowcard"))
	active, err = d.Active(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestClearRespectsOwner(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()

	require.NoError(t, d.SetActive(ctx, "r1", "dice"))
	require.NoError(t, d.Clear(ctx, "r1", "lowcard"))

	active, err := d.Active(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "dice", active)
}
