package worker

// 统一的任务状态消息协议（通过 Redis Pub/Sub 转发给 WebSocket 观察者）。
// 注意：这里的字段名与前端解析保持一致。
type RenderNotifyMessage struct {
	Status        string   `json:"status"`
	JobID         string   `json:"job_id"`
	CorrelationID string   `json:"correlation_id"`
	ErrorCode     int      `json:"error_code"`
	ErrorMessage  string   `json:"error_message"`
	OutputKey     string   `json:"output_key,omitempty"`
	MissingFields []string `json:"missing_fields,omitempty"`
	Attempts      int      `json:"attempts,omitempty"`
}
