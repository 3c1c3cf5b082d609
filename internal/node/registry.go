// internal/node/registry.go
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const (
	// CoreRegistryPrefix is the etcd prefix where core nodes register themselves.
	CoreRegistryPrefix = "/athena/cores/"
)

// Info is what a core node publishes about itself.
type Info struct {
	ID           string    `json:"id"`
	GrpcAddr     string    `json:"grpc_addr"`
	HttpAddr     string    `json:"http_addr"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Registry handles the registration of a core node in etcd.
type Registry struct {
	client  *clientv3.Client
	logger  *zap.Logger
	leaseID clientv3.LeaseID
	key     string
	stopKA  context.CancelFunc
}

// NewRegistry creates a new node registry.
func NewRegistry(client *clientv3.Client, logger *zap.Logger) *Registry {
	return &Registry{
		client: client,
		logger: logger.With(zap.String("component", "node-registry")),
	}
}

// Register publishes info under a lease of the given ttl and keeps the lease
// alive until Deregister.
func (r *Registry) Register(ctx context.Context, info Info, ttl time.Duration) error {
	if info.RegisteredAt.IsZero() {
		info.RegisteredAt = time.Now().UTC()
	}
	value, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal node info: %w", err)
	}
	r.key = CoreRegistryPrefix + info.ID

	leaseResp, err := r.client.Grant(ctx, int64(ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}
	r.leaseID = leaseResp.ID

	if _, err := r.client.Put(ctx, r.key, string(value), clientv3.WithLease(r.leaseID)); err != nil {
		return fmt.Errorf("failed to put node registration key: %w", err)
	}

	kaCtx, stop := context.WithCancel(context.Background())
	keepAliveCh, err := r.client.KeepAlive(kaCtx, r.leaseID)
	if err != nil {
		stop()
		return fmt.Errorf("failed to start keep-alive: %w", err)
	}
	r.stopKA = stop

	go func() {
		for ka := range keepAliveCh {
			r.logger.Debug("lease keep-alive refreshed", zap.Int64("lease_id", int64(ka.ID)), zap.Int64("ttl", ka.TTL))
		}
		// Closed on revoke, expiry or Deregister.
		if kaCtx.Err() == nil {
			r.logger.Warn("keep-alive channel closed, node registration may have expired")
		}
	}()

	r.logger.Info("node registered", zap.String("key", r.key), zap.String("grpc_addr", info.GrpcAddr))
	return nil
}

// Deregister removes the node's registration from etcd.
func (r *Registry) Deregister(ctx context.Context) error {
	if r.stopKA == nil {
		return nil
	}
	r.stopKA()
	r.stopKA = nil

	r.logger.Info("deregistering node", zap.String("key", r.key))
	// Revoking the lease deletes the key with it.
	if _, err := r.client.Revoke(ctx, r.leaseID); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	return nil
}

// DecodeInfo parses a registration value.
func DecodeInfo(value []byte) (Info, error) {
	var info Info
	if err := json.Unmarshal(value, &info); err != nil {
		return Info{}, fmt.Errorf("failed to unmarshal node info: %w", err)
	}
	return info, nil
}
