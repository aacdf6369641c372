// Package api 通过 gin 暴露只读的 HTTP 接口：活动流、统计快照、协商列表
// 以及链上注册表查询。除管理员删除与统计上报外不修改任何状态。
package api
