package render

import (
	"context"
	"errors"
	"fmt"

	"cardforge/internal/template"
)

// RenderError 表示光栅化阶段的终态失败（例如资产损坏、未知元素类型）。
// 重试不会改变结果，任务直接失败。
type RenderError struct {
	ElementID string
	Err       error
}

func (e *RenderError) Error() string {
	if e.ElementID == "" {
		return fmt.Sprintf("render: %v", e.Err)
	}
	return fmt.Sprintf("render element %q: %v", e.ElementID, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// ResourceUnavailableError 表示资产/存储暂时取不到，属于瞬态错误，
// 任务会按退避策略重试。
type ResourceUnavailableError struct {
	Ref string
	Err error
}

func (e *ResourceUnavailableError) Error() string {
	return fmt.Sprintf("resource %q unavailable: %v", e.Ref, e.Err)
}

func (e *ResourceUnavailableError) Unwrap() error { return e.Err }

// CancelledError 表示管线在阶段边界观测到外部取消。
type CancelledError struct {
	Stage string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("render cancelled before %s stage", e.Stage)
}

// Warning 记录单个元素的可恢复问题：绑定字段缺失时元素被跳过，
// 渲染继续（宁可部分输出也不整体失败）。
type Warning struct {
	ElementID string `json:"element_id"`
	Field     string `json:"field"`
	Message   string `json:"message"`
}

// Transient reports whether err should be retried: storage fetch failures
// and wall-clock timeouts only. Template validation errors, raster failures
// and cancellations are terminal.
func Transient(err error) bool {
	var unavailable *ResourceUnavailableError
	if errors.As(err, &unavailable) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Cancelled reports whether err is a cancel request observed at a stage
// checkpoint. A bare context.Canceled means the worker itself is being torn
// down (shutdown drain), not that anyone asked to cancel the job; callers
// must keep such jobs redeliverable.
func Cancelled(err error) bool {
	var cancelled *CancelledError
	return errors.As(err, &cancelled)
}

// Invalid reports whether err carries a template validation failure.
func Invalid(err error) bool {
	var invalid *template.InvalidError
	return errors.As(err, &invalid)
}
