// internal/client/discovery.go
package client

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"athena/internal/node"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// ErrNoCores is returned by Pick when no core node is registered.
var ErrNoCores = errors.New("no core nodes registered")

// Discovery tracks the core nodes registered in etcd.
type Discovery struct {
	client *clientv3.Client
	logger *zap.Logger
	cores  map[string]node.Info // etcd key -> info
	mu     sync.RWMutex
}

// NewDiscovery creates a new discovery service.
func NewDiscovery(client *clientv3.Client, logger *zap.Logger) *Discovery {
	return &Discovery{
		client: client,
		logger: logger.With(zap.String("component", "core-discovery")),
		cores:  make(map[string]node.Info),
	}
}

// Load reads the current registrations once.
func (d *Discovery) Load(ctx context.Context) error {
	_, err := d.load(ctx)
	return err
}

// load returns the store revision the registrations were read at.
func (d *Discovery) load(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := d.client.Get(ctx, node.CoreRegistryPrefix, clientv3.WithPrefix())
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, kv := range resp.Kvs {
		d.put(string(kv.Key), kv.Value)
	}
	return resp.Header.Revision, nil
}

// Watch keeps the set of cores current until ctx is done. It blocks and
// should be run in a goroutine.
func (d *Discovery) Watch(ctx context.Context) {
	opts := []clientv3.OpOption{clientv3.WithPrefix()}
	rev, err := d.load(ctx)
	if err != nil {
		d.logger.Error("failed to perform initial core load", zap.Error(err))
	} else {
		// Resume right after the snapshot so nothing registered in between is missed.
		opts = append(opts, clientv3.WithRev(rev+1))
	}

	watchChan := d.client.Watch(ctx, node.CoreRegistryPrefix, opts...)
	for watchResp := range watchChan {
		d.mu.Lock()
		for _, event := range watchResp.Events {
			key := string(event.Kv.Key)
			switch event.Type {
			case clientv3.EventTypePut:
				d.put(key, event.Kv.Value)
			case clientv3.EventTypeDelete:
				d.logger.Info("core deregistered", zap.String("key", key))
				delete(d.cores, key)
			}
		}
		d.mu.Unlock()
	}
	d.logger.Info("stopped watching for cores")
}

// Cores returns a snapshot of the registered cores.
func (d *Discovery) Cores() []node.Info {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]node.Info, 0, len(d.cores))
	for _, info := range d.cores {
		out = append(out, info)
	}
	return out
}

// Pick returns the gRPC address of a random registered core.
func (d *Discovery) Pick() (string, error) {
	cores := d.Cores()
	if len(cores) == 0 {
		return "", ErrNoCores
	}
	return cores[rand.IntN(len(cores))].GrpcAddr, nil
}

// put must be called with d.mu held.
func (d *Discovery) put(key string, value []byte) {
	info, err := node.DecodeInfo(value)
	if err != nil {
		d.logger.Warn("ignoring malformed core registration", zap.String("key", key), zap.Error(err))
		return
	}
	if _, ok := d.cores[key]; !ok {
		d.logger.Info("core discovered", zap.String("id", info.ID), zap.String("addr", info.GrpcAddr))
	}
	d.cores[key] = info
}
