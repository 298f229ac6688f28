package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryVersioning(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryGateway()

	v, err := m.PutIfVersion(ctx, "c/workflow-state", []byte("one"), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	_, err = m.PutIfVersion(ctx, "c/workflow-state", []byte("stale"), 0)
	assert.ErrorIs(t, err, ErrConflict)

	v, err = m.PutIfVersion(ctx, "c/workflow-state", []byte("two"), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	doc, ver, err := m.GetVersioned(ctx, "c/workflow-state")
	require.NoError(t, err)
	assert.Equal(t, "two", string(doc))
	assert.Equal(t, int64(2), ver)
}

func TestMemoryGetCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryGateway()

	in := []byte("abc")
	require.NoError(t, m.Put(ctx, "k", in))
	in[0] = 'z'

	out, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(out))

	out[0] = 'y'
	again, _ := m.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestMemoryNotFound(t *testing.T) {
	m := NewMemoryGateway()
	_, err := m.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))

	ok, err := m.Exists(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidateCampaignID(t *testing.T) {
	for _, ok := range []string{"spring-rome", "c1", "2026.q3_launch"} {
		assert.NoError(t, ValidateCampaignID(ok), ok)
	}
	for _, bad := range []string{"", "../x", "a/b", "-lead", "a..b"} {
		assert.Error(t, ValidateCampaignID(bad), bad)
	}
}
