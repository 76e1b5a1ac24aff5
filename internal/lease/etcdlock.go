package lease

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// sweepLock coordinates sweep() across multiple orchestrator processes
// sharing one State Store, grounded on internal/storage/etcd.go's
// Grant-then-Put-with-lease heartbeat pattern applied to a mutual
// exclusion key instead of a heartbeat record: whichever process's
// create-if-absent transaction succeeds holds the lock until its lease,
// TTL'd to the sweep interval, expires.
type sweepLock struct {
	client *clientv3.Client
	key    string
	ttl    int64
}

func newSweepLock(client *clientv3.Client, key string, ttl time.Duration) *sweepLock {
	seconds := int64(ttl.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return &sweepLock{client: client, key: key, ttl: seconds}
}

// acquire reports whether this process won the lock for the current
// sweep cycle. false, nil means another process currently holds it.
func (l *sweepLock) acquire(ctx context.Context) (bool, error) {
	grant, err := l.client.Grant(ctx, l.ttl)
	if err != nil {
		return false, fmt.Errorf("grant etcd lease: %w", err)
	}
	resp, err := l.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(l.key), "=", 0)).
		Then(clientv3.OpPut(l.key, "", clientv3.WithLease(grant.ID))).
		Commit()
	if err != nil {
		return false, fmt.Errorf("acquire sweep lock: %w", err)
	}
	return resp.Succeeded, nil
}
