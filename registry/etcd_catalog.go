package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "/go-ubus/"

// EtcdCatalog implements Catalog on etcd v3:
//
//	Key:   {prefix}{host}/{object path}
//	Value: JSON-encoded ObjectDescriptor
//
// All of a host's entries share one lease. While the context passed to
// Publish is live the lease is kept alive; afterwards the entries expire
// on their own, so a host that stops exporting disappears from the
// catalog.
type EtcdCatalog struct {
	client *clientv3.Client
	prefix string
	logger *zap.Logger
}

var _ Catalog = (*EtcdCatalog)(nil)

// CatalogOption configures an EtcdCatalog.
type CatalogOption func(*catalogOptions)

type catalogOptions struct {
	prefix      string
	dialTimeout time.Duration
	logger      *zap.Logger
}

// WithPrefix changes the key prefix. It should end in '/'.
func WithPrefix(prefix string) CatalogOption {
	return func(o *catalogOptions) { o.prefix = prefix }
}

// WithDialTimeout bounds the initial connection to etcd.
func WithDialTimeout(d time.Duration) CatalogOption {
	return func(o *catalogOptions) { o.dialTimeout = d }
}

// WithCatalogLogger logs lease and watch events to l.
func WithCatalogLogger(l *zap.Logger) CatalogOption {
	return func(o *catalogOptions) { o.logger = l }
}

// NewEtcdCatalog connects to the given etcd endpoints.
func NewEtcdCatalog(endpoints []string, opts ...CatalogOption) (*EtcdCatalog, error) {
	o := catalogOptions{
		prefix:      DefaultPrefix,
		dialTimeout: 5 * time.Second,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: o.dialTimeout,
		Logger:      o.logger.Named("etcd"),
	})
	if err != nil {
		return nil, err
	}
	return &EtcdCatalog{client: c, prefix: o.prefix, logger: o.logger}, nil
}

func (r *EtcdCatalog) hostPrefix(host string) string {
	return r.prefix + host + "/"
}

func (r *EtcdCatalog) key(host, path string) string {
	return r.hostPrefix(host) + path
}

// Publish writes every object under one fresh lease and keeps the lease
// alive until ctx is done.
//
// The lease id is local to the call, so one catalog can publish several
// hosts concurrently.
func (r *EtcdCatalog) Publish(ctx context.Context, host string, objs []ObjectDescriptor, ttl int64) error {
	if host == "" || strings.Contains(host, "/") {
		return fmt.Errorf("invalid host name %q", host)
	}
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	for _, obj := range objs {
		val, err := json.Marshal(obj)
		if err != nil {
			return err
		}
		_, err = r.client.Put(ctx, r.key(host, obj.Path), string(val), clientv3.WithLease(lease.ID))
		if err != nil {
			return err
		}
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}
	// Drain keepalive responses so the channel never fills.
	go func() {
		for range ch {
		}
		r.logger.Debug("catalog lease released", zap.String("host", host), zap.Int64("lease", int64(lease.ID)))
	}()
	return nil
}

// Deregister removes every entry of host.
func (r *EtcdCatalog) Deregister(ctx context.Context, host string) error {
	_, err := r.client.Delete(ctx, r.hostPrefix(host), clientv3.WithPrefix())
	return err
}

// Discover returns the objects currently stored for host, sorted by path.
func (r *EtcdCatalog) Discover(ctx context.Context, host string) ([]ObjectDescriptor, error) {
	resp, err := r.client.Get(ctx, r.hostPrefix(host), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	objs := make([]ObjectDescriptor, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var obj ObjectDescriptor
		if err := json.Unmarshal(kv.Value, &obj); err != nil {
			r.logger.Warn("skipping malformed catalog entry", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		objs = append(objs, obj)
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].Path < objs[j].Path })
	return objs, nil
}

// Watch re-reads the host's entries after every change under its prefix.
// The channel is closed when ctx is done.
func (r *EtcdCatalog) Watch(ctx context.Context, host string) <-chan []ObjectDescriptor {
	ch := make(chan []ObjectDescriptor, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, r.hostPrefix(host), clientv3.WithPrefix())
		for resp := range watchChan {
			if err := resp.Err(); err != nil {
				r.logger.Warn("catalog watch failed", zap.String("host", host), zap.Error(err))
				return
			}
			objs, err := r.Discover(ctx, host)
			if err != nil {
				r.logger.Warn("catalog re-read failed", zap.String("host", host), zap.Error(err))
				continue
			}
			select {
			case ch <- objs:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Close releases the etcd connection.
func (r *EtcdCatalog) Close() error {
	return r.client.Close()
}
