package kv

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func exerciseBackend(t *testing.T, b Backend, key string) {
	t.Helper()
	ctx := context.Background()

	_, err := b.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Set(ctx, key, []byte(`{"vegan":true}`)))
	got, err := b.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `{"vegan":true}`, string(got))

	require.NoError(t, b.Set(ctx, key, []byte(`[]`)))
	got, err = b.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(got))

	require.NoError(t, b.Delete(ctx, key))
	_, err = b.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, b.Delete(ctx, key))
}

func TestMemory(t *testing.T) {
	exerciseBackend(t, NewMemory(), "culinary_lens_diet")
}

func TestMemoryCopiesValues(t *testing.T) {
	m := NewMemory()
	v := []byte("abc")
	require.NoError(t, m.Set(context.Background(), "k", v))
	v[0] = 'x'

	got, err := m.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestFile(t *testing.T) {
	f, err := NewFile(t.TempDir())
	require.NoError(t, err)
	exerciseBackend(t, f, "culinary_lens_history")
}

func TestFileRejectsPathTraversal(t *testing.T) {
	f, err := NewFile(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, f.Set(context.Background(), "../escape", []byte("x")))
}

func TestFilePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFile(dir)
	require.NoError(t, err)
	require.NoError(t, a.Set(context.Background(), "culinary_lens_diet", []byte("1")))

	b, err := NewFile(dir)
	require.NoError(t, err)
	got, err := b.Get(context.Background(), "culinary_lens_diet")
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("CULINARYLENS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CULINARYLENS_TEST_REDIS_ADDR not set")
	}
	r, err := NewRedis(context.Background(), RedisConfig{
		Addr:   addr,
		Prefix: "culinarylens-test:" + uuid.NewString() + ":",
		TTL:    time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	exerciseBackend(t, r, "culinary_lens_key")
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("CULINARYLENS_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CULINARYLENS_TEST_DATABASE_URL not set")
	}
	p, err := NewPostgres(dsn)
	require.NoError(t, err)
	defer p.Close()

	exerciseBackend(t, p, "test_"+uuid.NewString())
}
