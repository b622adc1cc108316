package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeCardRender = "card:render"
)

// 按优先级划分的 asynq 队列。
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// CardRenderPayload 描述渲染一张卡片所需的最小信息。
// Record 为该任务绑定的单条数据记录（字段名 → 值）。
type CardRenderPayload struct {
	JobID           string         `json:"job_id"`
	TemplateID      uint           `json:"template_id"`
	TemplateVersion int            `json:"template_version"`
	Record          map[string]any `json:"record"`
	OutputFormat    string         `json:"output_format,omitempty"`
	CorrelationID   string         `json:"correlation_id"`
}

// NewCardRenderTask 构造一个新的卡片渲染任务。
func NewCardRenderTask(p CardRenderPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeCardRender, payload), nil
}

// QueueForPriority maps a request priority to an asynq queue name.
// Positive priorities jump the default queue, negative ones yield to it.
func QueueForPriority(priority int) string {
	switch {
	case priority > 0:
		return QueueCritical
	case priority < 0:
		return QueueLow
	default:
		return QueueDefault
	}
}
