package etcd

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"athena/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap/zaptest"
)

// These tests need a live etcd, e.g.
// ATHENA_TEST_ETCD_ENDPOINTS=localhost:2379 go test ./internal/infra/etcd/
func newTestClient(t *testing.T) *clientv3.Client {
	t.Helper()
	endpoints := os.Getenv("ATHENA_TEST_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ATHENA_TEST_ETCD_ENDPOINTS not set")
	}
	cli, err := NewClient(strings.Split(endpoints, ","), 3*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })
	return cli
}

func TestEtcdModelRepository(t *testing.T) {
	cli := newTestClient(t)
	ctx := context.Background()
	repo := NewEtcdModelRepository(cli, zaptest.NewLogger(t))

	name := "test-" + uuid.NewString()
	t.Cleanup(func() { _, _ = cli.Delete(ctx, ModelSaveDir+name) })

	_, err := repo.Get(ctx, name)
	assert.ErrorIs(t, err, domain.ErrModelNotFound)

	require.NoError(t, repo.Save(ctx, &domain.Model{Name: name, Version: "v1", Status: domain.ModelStatusLoaded}))
	got, err := repo.Get(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, "v1", got.Version)
	assert.Equal(t, domain.ModelStatusLoaded, got.Status)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	found := false
	for _, m := range all {
		found = found || m.Name == name
	}
	assert.True(t, found)
}

func TestEtcdLocker(t *testing.T) {
	cli := newTestClient(t)
	ctx := context.Background()
	locker := NewEtcdLocker(cli)
	name := "test-" + uuid.NewString()

	lock, err := locker.Lock(ctx, name)
	require.NoError(t, err)

	_, err = locker.Lock(ctx, name)
	assert.ErrorIs(t, err, domain.ErrLockNotAcquired)

	require.NoError(t, lock.Unlock(ctx))
	again, err := locker.Lock(ctx, name)
	require.NoError(t, err)
	require.NoError(t, again.Unlock(ctx))
}
