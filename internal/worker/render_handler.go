package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"gorm.io/gorm"

	"cardforge/internal/database"
	"cardforge/internal/errcode"
	"cardforge/internal/render"
	"cardforge/internal/tasks"
	"cardforge/internal/template"
)

// ObjectStorage 是渲染任务依赖的对象存储窄接口。
type ObjectStorage interface {
	FetchObject(ctx context.Context, key string) ([]byte, error)
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
}

// Signals 抽象取消标记与状态通知，测试中用替身。
type Signals interface {
	Cancelled(ctx context.Context, jobID string) (bool, error)
	PublishRenderNotify(ctx context.Context, jobID string, msg RenderNotifyMessage) error
}

// RenderTaskHandler 负责消费卡片渲染任务，推进 RenderJob 状态机：
// queued → active → succeeded|failed|cancelled。
type RenderTaskHandler struct {
	db      *gorm.DB
	storage ObjectStorage
	signals Signals
	cache   *template.Cache
	logger  *slog.Logger
	timeout time.Duration
}

// NewRenderTaskHandler 创建任务处理器。
func NewRenderTaskHandler(
	db *gorm.DB,
	storage ObjectStorage,
	signals Signals,
	cache *template.Cache,
	logger *slog.Logger,
	timeout time.Duration,
) *RenderTaskHandler {
	return &RenderTaskHandler{
		db:      db,
		storage: storage,
		signals: signals,
		cache:   cache,
		logger:  logger,
		timeout: timeout,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *RenderTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.CardRenderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("job_id", payload.JobID),
		slog.Uint64("template_id", uint64(payload.TemplateID)),
	)

	var job database.RenderJob
	if err := h.db.WithContext(ctx).Where("job_id = ?", payload.JobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("render job not found, skipping task")
			return nil
		}
		log.Error("query render job failed", slog.Any("error", err))
		return err
	}

	// 重复投递保护：终态任务不再处理。
	switch job.Status {
	case database.JobStatusSucceeded, database.JobStatusFailed, database.JobStatusCancelled:
		log.Info("job already terminal, ignoring redelivery", slog.String("status", job.Status))
		return nil
	}

	attempt := attemptNumber(ctx)
	log = log.With(slog.Int("attempt", attempt))

	if cancelled, err := h.signals.Cancelled(ctx, job.JobID); err != nil {
		log.Warn("check cancel flag failed", slog.Any("error", err))
	} else if cancelled {
		return h.markCancelled(ctx, &job, payload, log)
	}

	if err := h.db.WithContext(ctx).Model(&job).Updates(map[string]any{
		"status":   database.JobStatusActive,
		"attempts": attempt,
	}).Error; err != nil {
		log.Error("mark job active failed", slog.Any("error", err))
		return err
	}
	log.Info("render job started")

	jobCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	outputKey, warnings, err := h.renderAndPersist(jobCtx, &job, payload)
	if err != nil {
		return h.finishWithError(ctx, &job, payload, err, log)
	}

	update := map[string]any{
		"status":          database.JobStatusSucceeded,
		"output_key":      outputKey,
		"last_error_code": errcode.OK,
		"last_error":      "",
	}
	if err := h.db.WithContext(ctx).Model(&job).Updates(update).Error; err != nil {
		log.Error("mark job succeeded failed", slog.Any("error", err))
		return err
	}

	notify := RenderNotifyMessage{
		Status:        database.JobStatusSucceeded,
		JobID:         job.JobID,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     errcode.OK,
		OutputKey:     outputKey,
		Attempts:      attempt,
	}
	if len(warnings) > 0 {
		// 部分元素因字段缺失被跳过：任务仍成功，但附带告警。
		notify.ErrorCode = errcode.FieldMissing
		notify.ErrorMessage = "some elements skipped due to missing record fields"
		notify.MissingFields = missingFields(warnings)
		log.Warn("render completed with skipped elements",
			slog.Int("warning_count", len(warnings)),
			slog.Any("missing_fields", notify.MissingFields),
		)
	}
	if err := h.signals.PublishRenderNotify(ctx, job.JobID, notify); err != nil {
		log.Error("publish render notification failed", slog.Any("error", err))
	}

	log.Info("render job completed")
	return nil
}

// renderAndPersist 执行 resolve→layout→composite 管线并上传产物。
// 取消标记在每个阶段边界检查一次（协作式，不抢占）。
func (h *RenderTaskHandler) renderAndPersist(ctx context.Context, job *database.RenderJob, payload tasks.CardRenderPayload) (string, []render.Warning, error) {
	doc, err := h.cache.Get(ctx, payload.TemplateID, payload.TemplateVersion)
	if err != nil {
		return "", nil, err
	}

	checkpoint := func(stage string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		cancelled, err := h.signals.Cancelled(ctx, job.JobID)
		if err != nil {
			return nil // Redis 抖动不中断渲染
		}
		if cancelled {
			return &render.CancelledError{Stage: stage}
		}
		return nil
	}

	format := template.Format(payload.OutputFormat)
	data, contentType, warnings, err := render.RenderCard(ctx, doc, payload.Record, h.storage, format, checkpoint)
	if err != nil {
		return "", warnings, err
	}

	ext := "png"
	if contentType == "image/jpeg" {
		ext = "jpg"
	}
	outputKey := fmt.Sprintf("renders/%d/%s.%s", payload.TemplateID, job.JobID, ext)
	if _, err := h.storage.UploadFile(ctx, outputKey, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", warnings, &render.ResourceUnavailableError{Ref: outputKey, Err: err}
	}
	return outputKey, warnings, nil
}

// finishWithError 按错误类别收尾：
//   - 取消请求：终态 cancelled，不重试，不留部分产物；
//   - 停机排空打断（裸 context.Canceled）：回到队列等待重投；
//   - 模板非法 / 光栅化失败：终态 failed，不重试；
//   - 资源不可用 / 超时：瞬态，未到重试上限则回到队列，否则终态 failed。
func (h *RenderTaskHandler) finishWithError(ctx context.Context, job *database.RenderJob, payload tasks.CardRenderPayload, renderErr error, log *slog.Logger) error {
	// 收尾的状态写入与通知不能被同一个取消连带毁掉。
	ctx = context.WithoutCancel(ctx)

	switch {
	case render.Cancelled(renderErr):
		log.Info("render job cancelled", slog.Any("cause", renderErr))
		return h.markCancelled(ctx, job, payload, log)

	case errors.Is(renderErr, context.Canceled):
		log.Warn("render interrupted by shutdown, job returned to queue")
		h.recordRetry(ctx, job, errcode.SystemError, renderErr, log)
		return renderErr

	case render.Invalid(renderErr):
		log.Error("template invalid, job failed", slog.Any("error", renderErr))
		h.markFailed(ctx, job, payload, errcode.TemplateInvalid, renderErr, log)
		return fmt.Errorf("%v: %w", renderErr, asynq.SkipRetry)

	case render.Transient(renderErr):
		code := errcode.StorageFailed
		if errors.Is(renderErr, context.DeadlineExceeded) {
			code = errcode.Timeout
		}
		if isFinalAsynqAttempt(ctx) {
			log.Error("transient failure on final attempt, job failed", slog.Any("error", renderErr))
			h.markFailed(ctx, job, payload, code, renderErr, log)
			return renderErr
		}
		log.Warn("transient failure, job returned to queue", slog.Any("error", renderErr))
		h.recordRetry(ctx, job, code, renderErr, log)
		return renderErr

	default:
		log.Error("render failed, job terminal", slog.Any("error", renderErr))
		h.markFailed(ctx, job, payload, errcode.RenderFailed, renderErr, log)
		return fmt.Errorf("%v: %w", renderErr, asynq.SkipRetry)
	}
}

func (h *RenderTaskHandler) markCancelled(ctx context.Context, job *database.RenderJob, payload tasks.CardRenderPayload, log *slog.Logger) error {
	if err := h.db.WithContext(ctx).Model(job).Updates(map[string]any{
		"status":          database.JobStatusCancelled,
		"last_error_code": errcode.Cancelled,
		"last_error":      "cancelled by request",
	}).Error; err != nil {
		log.Error("mark job cancelled failed", slog.Any("error", err))
		return err
	}
	notify := RenderNotifyMessage{
		Status:        database.JobStatusCancelled,
		JobID:         job.JobID,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     errcode.Cancelled,
		ErrorMessage:  "cancelled by request",
	}
	if err := h.signals.PublishRenderNotify(ctx, job.JobID, notify); err != nil {
		log.Error("publish cancel notification failed", slog.Any("error", err))
	}
	return nil
}

func (h *RenderTaskHandler) markFailed(ctx context.Context, job *database.RenderJob, payload tasks.CardRenderPayload, code int, cause error, log *slog.Logger) {
	msg := strings.TrimSpace(cause.Error())
	if len(msg) > 1000 {
		msg = msg[:1000]
	}
	if err := h.db.WithContext(ctx).Model(job).Updates(map[string]any{
		"status":          database.JobStatusFailed,
		"last_error_code": code,
		"last_error":      msg,
	}).Error; err != nil {
		log.Error("mark job failed failed", slog.Any("error", err))
	}
	notify := RenderNotifyMessage{
		Status:        database.JobStatusFailed,
		JobID:         job.JobID,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     code,
		ErrorMessage:  msg,
		Attempts:      job.Attempts,
	}
	if err := h.signals.PublishRenderNotify(ctx, job.JobID, notify); err != nil {
		log.Error("publish failure notification failed", slog.Any("error", err))
	}
}

// recordRetry 把任务状态退回 queued，记录最近一次错误，等待 asynq 重投。
func (h *RenderTaskHandler) recordRetry(ctx context.Context, job *database.RenderJob, code int, cause error, log *slog.Logger) {
	msg := strings.TrimSpace(cause.Error())
	if len(msg) > 1000 {
		msg = msg[:1000]
	}
	if err := h.db.WithContext(ctx).Model(job).Updates(map[string]any{
		"status":          database.JobStatusQueued,
		"last_error_code": code,
		"last_error":      msg,
	}).Error; err != nil {
		log.Error("record retry failed", slog.Any("error", err))
	}
}

// attemptNumber 返回本次执行是第几次尝试（从 1 开始）。
func attemptNumber(ctx context.Context) int {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return 1
	}
	return retried + 1
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}

func missingFields(warnings []render.Warning) []string {
	uniq := make(map[string]struct{}, len(warnings))
	var result []string
	for _, w := range warnings {
		field := strings.TrimSpace(w.Field)
		if field == "" {
			continue
		}
		if _, ok := uniq[field]; ok {
			continue
		}
		uniq[field] = struct{}{}
		result = append(result, field)
	}
	return result
}
