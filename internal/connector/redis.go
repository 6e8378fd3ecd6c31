package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowprobe/flowprobe/internal/model"
)

// redisDriver supports the verification subset of Redis commands:
// GET, HGET, HGETALL, EXISTS, LRANGE, SISMEMBER and PING.
type redisDriver struct{}

type redisResult struct {
	Value  any    `json:"value"`
	Type   string `json:"type,omitempty"`
	Exists bool   `json:"exists"`
}

type redisMemberResult struct {
	IsMember bool `json:"isMember"`
}

func newRedisClient(cfg map[string]string) *redis.Client {
	addr := cfgValue(cfg, "addr")
	if addr == "" {
		addr = fmt.Sprintf("%s:%s",
			defaultStr(cfgValue(cfg, "host"), "127.0.0.1"),
			defaultStr(cfgValue(cfg, "port"), "6379"))
	}
	db := 0
	if v := cfgValue(cfg, "db", "database"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			db = n
		}
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: cfgValue(cfg, "username"),
		Password: cfgValue(cfg, "password"),
		DB:       db,
	})
}

func (d *redisDriver) Execute(ctx context.Context, cfg map[string]string, query string, timeout time.Duration) (string, error) {
	parts := strings.Fields(query)
	if len(parts) == 0 {
		return "", errors.New("empty redis query")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := newRedisClient(cfg)
	defer func() {
		_ = client.Close()
	}()

	cmd := strings.ToUpper(parts[0])
	args := parts[1:]

	var result any
	switch cmd {
	case "PING":
		pong, err := client.Ping(ctx).Result()
		if err != nil {
			return "", err
		}
		result = redisResult{Value: pong, Exists: true}

	case "GET":
		if len(args) != 1 {
			return "", errors.New("GET requires a key")
		}
		val, err := client.Get(ctx, args[0]).Result()
		if errors.Is(err, redis.Nil) {
			result = redisResult{Type: "string", Exists: false}
		} else if err != nil {
			return "", err
		} else {
			result = redisResult{Value: val, Type: "string", Exists: true}
		}

	case "HGET":
		if len(args) != 2 {
			return "", errors.New("HGET requires a key and a field")
		}
		val, err := client.HGet(ctx, args[0], args[1]).Result()
		if errors.Is(err, redis.Nil) {
			result = redisResult{Type: "hash", Exists: false}
		} else if err != nil {
			return "", err
		} else {
			result = redisResult{Value: val, Type: "hash", Exists: true}
		}

	case "HGETALL":
		if len(args) != 1 {
			return "", errors.New("HGETALL requires a key")
		}
		val, err := client.HGetAll(ctx, args[0]).Result()
		if err != nil {
			return "", err
		}
		result = redisResult{Value: val, Type: "hash", Exists: len(val) > 0}

	case "EXISTS":
		if len(args) != 1 {
			return "", errors.New("EXISTS requires a key")
		}
		n, err := client.Exists(ctx, args[0]).Result()
		if err != nil {
			return "", err
		}
		result = redisResult{Value: n > 0, Exists: n > 0}

	case "LRANGE":
		if len(args) != 3 {
			return "", errors.New("LRANGE requires a key and two indexes")
		}
		start, err1 := strconv.ParseInt(args[1], 10, 64)
		stop, err2 := strconv.ParseInt(args[2], 10, 64)
		if err1 != nil || err2 != nil {
			return "", errors.New("LRANGE indexes must be integers")
		}
		val, err := client.LRange(ctx, args[0], start, stop).Result()
		if err != nil {
			return "", err
		}
		result = redisResult{Value: val, Type: "list", Exists: len(val) > 0}

	case "SISMEMBER":
		if len(args) != 2 {
			return "", errors.New("SISMEMBER requires a key and a member")
		}
		ok, err := client.SIsMember(ctx, args[0], args[1]).Result()
		if err != nil {
			return "", err
		}
		result = redisMemberResult{IsMember: ok}

	default:
		return "", fmt.Errorf("unsupported redis command %q", cmd)
	}

	out, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func init() {
	Register(model.ConnectorRedis, func() Driver { return &redisDriver{} })
}
