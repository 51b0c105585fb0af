package staff

import (
	"context"
	"testing"

	"booking_sync_backend/platform/kv/kvtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureCreatesOnce(t *testing.T) {
	ctx := context.Background()
	rdb, _ := kvtest.New(t)
	d := NewDirectory(rdb, kvtest.Keys())

	first, err := d.Ensure(ctx, Ref{ExternalID: "77", Name: "Olga Master"})
	require.NoError(t, err)

	again, err := d.Ensure(ctx, Ref{ExternalID: "77", Name: "Olga (renamed)"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	byName, err := d.ResolveByDisplayName(ctx, "olga master")
	require.NoError(t, err)
	assert.Equal(t, first.ID, byName.ID)
}

func TestEnsureLinksNameMatchToExternalID(t *testing.T) {
	ctx := context.Background()
	rdb, _ := kvtest.New(t)
	d := NewDirectory(rdb, kvtest.Keys())

	byName, err := d.Ensure(ctx, Ref{Name: "Irina"})
	require.NoError(t, err)
	assert.Empty(t, byName.ExternalID)

	linked, err := d.Ensure(ctx, Ref{ExternalID: "12", Name: "IRINA"})
	require.NoError(t, err)
	assert.Equal(t, byName.ID, linked.ID)

	byExt, err := d.ResolveByExternalStaffID(ctx, "12")
	require.NoError(t, err)
	assert.Equal(t, byName.ID, byExt.ID)
}

func TestEnsureRejectsEmptyRef(t *testing.T) {
	rdb, _ := kvtest.New(t)
	d := NewDirectory(rdb, kvtest.Keys())
	_, err := d.Ensure(context.Background(), Ref{})
	assert.ErrorIs(t, err, ErrNotFound)
}
