// Package agent 提供 farm 与 garden 共用的消息运行时：订阅传输层、
// 按对话方串行处理入站消息、发送回复，并记录活动流、指标与告警。
// 具体的业务判断由 Handler 实现。
package agent
