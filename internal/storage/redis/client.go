package redis

import (
	"context"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	xerrors "yield-garden/internal/errors"
)

// Connect 解析 redis:// 或 rediss:// URL，建立连接并执行 PING。
func Connect(ctx context.Context, url string) (*goredis.Client, error) {
	if strings.TrimSpace(url) == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "Redis URL 不能为空")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "解析 Redis URL 失败")
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败",
			xerrors.WithMetadata("addr", opts.Addr))
	}
	return client, nil
}
