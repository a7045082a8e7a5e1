package pool

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

// autoEjectHostHook counts consecutive network failures of a client. Once
// failureLimit is reached the host is reported as ejected, and it is offered
// back after retryTimeout with a single failure left before the next ejection.
type autoEjectHostHook struct {
	failureCount int32
	failureLimit int32
	ejected      int32
	retryTimeout time.Duration

	afterReachFailureLimit func()
	tryRejoin              func()
}

var _ redis.Hook = (*autoEjectHostHook)(nil)

func newAutoEjectHostHook(retryTimeout time.Duration, failureLimit int32, afterReachFailureLimit, tryRejoin func()) *autoEjectHostHook {
	return &autoEjectHostHook{
		failureLimit:           failureLimit,
		retryTimeout:           retryTimeout,
		afterReachFailureLimit: afterReachFailureLimit,
		tryRejoin:              tryRejoin,
	}
}

func (h *autoEjectHostHook) isHostAvailable() bool {
	return atomic.LoadInt32(&h.ejected) == 0
}

func (h *autoEjectHostHook) BeforeProcess(ctx context.Context, _ redis.Cmder) (context.Context, error) {
	return ctx, nil
}

func (h *autoEjectHostHook) AfterProcess(_ context.Context, cmd redis.Cmder) error {
	h.observe(cmd.Err())
	return nil
}

func (h *autoEjectHostHook) BeforeProcessPipeline(ctx context.Context, _ []redis.Cmder) (context.Context, error) {
	return ctx, nil
}

func (h *autoEjectHostHook) AfterProcessPipeline(_ context.Context, cmds []redis.Cmder) error {
	var err error
	for _, cmd := range cmds {
		if isNetworkError(cmd.Err()) {
			err = cmd.Err()
			break
		}
	}
	h.observe(err)
	return nil
}

func (h *autoEjectHostHook) observe(err error) {
	// results of an ejected host wait for the rejoin
	if !h.isHostAvailable() {
		return
	}
	if !isNetworkError(err) {
		atomic.StoreInt32(&h.failureCount, 0)
		return
	}
	if atomic.AddInt32(&h.failureCount, 1) < h.failureLimit {
		return
	}
	if !atomic.CompareAndSwapInt32(&h.ejected, 0, 1) {
		return
	}
	if h.afterReachFailureLimit != nil {
		h.afterReachFailureLimit()
	}
	time.AfterFunc(h.retryTimeout, h.rejoin)
}

func (h *autoEjectHostHook) rejoin() {
	atomic.StoreInt32(&h.failureCount, h.failureLimit-1)
	atomic.StoreInt32(&h.ejected, 0)
	if h.tryRejoin != nil {
		h.tryRejoin()
	}
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
