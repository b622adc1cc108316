package tasks

// Redis 键约定：API 与 worker 必须使用同一套格式。

// CancelKey 是任务的协作式取消标记键。worker 在管线阶段边界检查它。
func CancelKey(jobID string) string {
	return "render:cancel:" + jobID
}

// NotifyChannel 是任务状态通知的 Pub/Sub 频道（WebSocket 观察者订阅）。
func NotifyChannel(jobID string) string {
	return "render_notify:" + jobID
}
