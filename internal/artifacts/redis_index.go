package artifacts

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis"
)

// releaseScript deletes the claim only when it still belongs to the caller.
// Values are "<type>/<id>|<unix nanos>"; older values carry the ref alone.
var releaseScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v and (v == ARGV[1] or string.sub(v, 1, string.len(ARGV[1]) + 1) == ARGV[1] .. "|") then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisIndex keeps URL claims in Redis so that replicas sharing one backend
// agree on uniqueness.
type RedisIndex struct {
	client *redis.Client
	prefix string
}

// NewRedisIndex returns an index storing claims under prefix + "url:".
func NewRedisIndex(client *redis.Client, prefix string) (*RedisIndex, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &RedisIndex{client: client, prefix: prefix + "url:"}, nil
}

func (r *RedisIndex) key(url string) string {
	return r.prefix + url
}

func encodeClaim(c Claim) string {
	return c.Ref.String() + "|" + strconv.FormatInt(c.At.UnixNano(), 10)
}

func decodeClaim(v string) (Claim, error) {
	refPart, at, hasTime := strings.Cut(v, "|")
	ref, err := ParseRef(refPart)
	if err != nil {
		return Claim{}, err
	}
	claim := Claim{Ref: ref}
	if hasTime {
		nanos, err := strconv.ParseInt(at, 10, 64)
		if err != nil {
			return Claim{}, err
		}
		claim.At = time.Unix(0, nanos).UTC()
	}
	return claim, nil
}

func (r *RedisIndex) Reserve(ctx context.Context, url string, claim Claim) error {
	client := r.client.WithContext(ctx)

	for attempt := 0; attempt < 2; attempt++ {
		ok, err := client.SetNX(r.key(url), encodeClaim(claim), 0).Result()
		if err != nil {
			return Error.Wrap(err)
		}
		if ok {
			return nil
		}

		value, err := client.Get(r.key(url)).Result()
		if err == redis.Nil {
			// Released between SETNX and GET.
			continue
		}
		if err != nil {
			return Error.Wrap(err)
		}
		held, err := decodeClaim(value)
		if err != nil {
			return Error.Wrap(err)
		}
		if held.Ref == claim.Ref {
			return nil
		}
		return ErrAlreadyExists
	}
	return ErrAlreadyExists
}

func (r *RedisIndex) Release(ctx context.Context, url string, ref Ref) error {
	err := releaseScript.Run(r.client.WithContext(ctx), []string{r.key(url)}, ref.String()).Err()
	if err != nil && err != redis.Nil {
		return Error.Wrap(err)
	}
	return nil
}

func (r *RedisIndex) Lookup(ctx context.Context, url string) (Claim, error) {
	value, err := r.client.WithContext(ctx).Get(r.key(url)).Result()
	if err == redis.Nil {
		return Claim{}, ErrNotFound
	}
	if err != nil {
		return Claim{}, Error.Wrap(err)
	}
	claim, err := decodeClaim(value)
	if err != nil {
		return Claim{}, Error.Wrap(err)
	}
	return claim, nil
}

func (r *RedisIndex) Reset(ctx context.Context) error {
	client := r.client.WithContext(ctx)

	var cursor uint64
	for {
		keys, next, err := client.Scan(cursor, r.prefix+"*", 100).Result()
		if err != nil {
			return Error.Wrap(err)
		}
		if len(keys) > 0 {
			if err := client.Del(keys...).Err(); err != nil {
				return Error.Wrap(err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
