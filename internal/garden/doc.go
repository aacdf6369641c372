// Package garden 实现先协商、后执行的 Garden agent。
//
// 每条入站消息都会经历一次完整的 load-decide-save：从 conversation.Store
// 读取对话，依据 negotiation.Policy 判断意图与金额，确定回复与下一状态，
// 在回复发出之前把回复写入对话并持久化。存储失败时不产生回复。
package garden
