package database

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Render job lifecycle states. Rows move queued → active → one of the
// terminal states; terminal rows are never reactivated.
const (
	JobStatusQueued    = "queued"
	JobStatusActive    = "active"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Template 表示可复用的卡片模板。
// Content(JSONB) 存储模板文档（尺寸、品牌色与元素列表）；每次更新 Version+1，
// 渲染任务以 (ID, Version) 固定引用某个版本。
type Template struct {
	gorm.Model
	Name    string         `gorm:"size:255"`
	Content datatypes.JSON `gorm:"type:jsonb"`
	Version int            `gorm:"default:1"`
}

// RenderJob 表示一次 (模板, 数据记录) 渲染任务的持久化状态。
// 仅由 worker 推进状态；API 只在任务尚未开始时允许直接置为 cancelled。
type RenderJob struct {
	gorm.Model
	JobID           string         `gorm:"uniqueIndex;size:64"`
	TemplateID      uint           `gorm:"index"`
	TemplateVersion int
	Record          datatypes.JSON `gorm:"type:jsonb"`
	OutputFormat    string         `gorm:"size:8"`
	Priority        int
	Status          string `gorm:"size:16;index"`
	Attempts        int
	LastErrorCode   int
	LastError       string `gorm:"size:1024"`
	OutputKey       string `gorm:"size:512"`
}
