package backend

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpenBoltCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svdb.db")

	b, err := OpenBolt(path)
	require.NoError(t, err)
	require.Equal(t, path, b.Path())
	require.FileExists(t, path)
	require.NoError(t, b.Close())

	// closing twice is harmless
	require.NoError(t, b.Close())
}

func TestBoltPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svdb.db")
	ctx := context.Background()

	b, err := OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, b.PutBatch(ctx, []Entry{
		{Key: "meta:abc", Value: []byte("record")},
		{Key: "chunk:abc:0", Value: []byte("chunk")},
	}))
	require.NoError(t, b.Close())

	b, err = OpenBolt(path)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	got, err := b.Get(ctx, "meta:abc")
	require.NoError(t, err)
	require.Equal(t, []byte("record"), got)

	keys, err := b.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"chunk:abc:0", "meta:abc"}, keys)
}

func TestBoltLockTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svdb.db")

	first, err := OpenBolt(path)
	require.NoError(t, err)
	defer func() { _ = first.Close() }()

	_, err = OpenBolt(path, WithBoltTimeout(50*time.Millisecond))
	require.Error(t, err)
}

func TestBoltPutEmptyKey(t *testing.T) {
	b := newTestBolt(t)

	err := b.Put(context.Background(), "", []byte("x"))
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestBoltListPrefixBoundary(t *testing.T) {
	b := newTestBolt(t)
	ctx := context.Background()

	for _, key := range []string{"meta:a", "meta:b", "metadata", "mets"} {
		require.NoError(t, b.Put(ctx, key, []byte(key)))
	}

	keys, err := b.List(ctx, "meta:")
	require.NoError(t, err)
	require.Equal(t, []string{"meta:a", "meta:b"}, keys)
}
