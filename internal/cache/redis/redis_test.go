package redis

import (
	"context"
	"errors"
	"net"
	"testing"

	goredis "github.com/redis/go-redis/v9"

	"pkt.systems/sessiond/internal/cache"
)

type replyError string

func (e replyError) Error() string { return string(e) }
func (e replyError) RedisError()   {}

func TestClassifyNil(t *testing.T) {
	t.Parallel()

	if err := classify(goredis.Nil); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("redis.Nil classified as %v, want ErrNotFound", err)
	}
}

func TestClassifyReplyErrorIsRejected(t *testing.T) {
	t.Parallel()

	err := classify(replyError("OOM command not allowed"))
	if !errors.Is(err, cache.ErrRejected) {
		t.Fatalf("reply error classified as %v, want ErrRejected", err)
	}
	if cache.Unreachable(err) {
		t.Fatal("reply error must not trigger failover")
	}
}

func TestClassifyTransportErrorIsUnreachable(t *testing.T) {
	t.Parallel()

	transport := []error{
		&net.OpError{Op: "dial", Err: errors.New("connection refused")},
		context.DeadlineExceeded,
		errors.New("EOF"),
	}
	for _, in := range transport {
		if err := classify(in); !cache.Unreachable(err) {
			t.Errorf("classify(%v) = %v, want ErrUnreachable", in, err)
		}
	}
}
