// Package redis 提供共享的 Redis 连接构造，供对话存储、消息收件箱与活动流复用。
package redis
