package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"cardforge/internal/api/middleware"
	"cardforge/internal/config"
	"cardforge/internal/database"
	"cardforge/internal/errcode"
	"cardforge/internal/tasks"
)

// 单次批量入队的记录数上限，防止一次请求占满队列。
const maxBatchRecords = 1000

// presigner 生成渲染产物的限时下载链接。
type presigner interface {
	GeneratePresignedURL(ctx context.Context, objectKey string, duration time.Duration) (string, error)
}

// taskEnqueuer 抽象 asynq 客户端，测试中用替身。
type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// cancelRequester 打取消标记，worker 在阶段边界观测。
type cancelRequester interface {
	RequestCancel(ctx context.Context, jobID string) error
}

// JobHandler 负责渲染任务的入队、查询与取消。
type JobHandler struct {
	db        *gorm.DB
	enqueuer  taskEnqueuer
	canceller cancelRequester
	storage   presigner
	renderCfg config.RenderConfig
}

// NewJobHandler 返回 JobHandler 实例。
func NewJobHandler(db *gorm.DB, enqueuer taskEnqueuer, canceller cancelRequester, storage presigner, renderCfg config.RenderConfig) *JobHandler {
	return &JobHandler{
		db:        db,
		enqueuer:  enqueuer,
		canceller: canceller,
		storage:   storage,
		renderCfg: renderCfg,
	}
}

type createRenderJobRequest struct {
	TemplateID      uint           `json:"template_id" binding:"required"`
	TemplateVersion int            `json:"template_version"`
	Record          map[string]any `json:"record" binding:"required"`
	OutputFormat    string         `json:"output_format"`
	Priority        int            `json:"priority"`
}

type createRenderBatchRequest struct {
	TemplateID      uint             `json:"template_id" binding:"required"`
	TemplateVersion int              `json:"template_version"`
	Records         []map[string]any `json:"records" binding:"required"`
	OutputFormat    string           `json:"output_format"`
	Priority        int              `json:"priority"`
}

func validOutputFormat(format string) bool {
	switch format {
	case "", "png", "jpg":
		return true
	default:
		return false
	}
}

// resolveTemplateVersion 确认模板存在并固定任务引用的版本。
// 只保存当前版本的内容，因此请求的历史版本无法再渲染。
func (h *JobHandler) resolveTemplateVersion(c *gin.Context, templateID uint, requested int) (int, bool) {
	var tpl database.Template
	if err := h.db.WithContext(c.Request.Context()).First(&tpl, templateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "template not found")
			return 0, false
		}
		Internal(c, "failed to load template")
		return 0, false
	}
	if requested == 0 {
		return tpl.Version, true
	}
	if requested != tpl.Version {
		Conflict(c, "requested template version is no longer available")
		return 0, false
	}
	return requested, true
}

func (h *JobHandler) enqueueOne(c *gin.Context, templateID uint, version int, record map[string]any, outputFormat string, priority int) (string, error) {
	ctx := c.Request.Context()
	jobID := uuid.NewString()

	recordJSON, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	row := database.RenderJob{
		JobID:           jobID,
		TemplateID:      templateID,
		TemplateVersion: version,
		Record:          recordJSON,
		OutputFormat:    outputFormat,
		Priority:        priority,
		Status:          database.JobStatusQueued,
	}
	if err := h.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", err
	}

	task, err := tasks.NewCardRenderTask(tasks.CardRenderPayload{
		JobID:           jobID,
		TemplateID:      templateID,
		TemplateVersion: version,
		Record:          record,
		OutputFormat:    outputFormat,
		CorrelationID:   middleware.GetCorrelationID(c),
	})
	if err != nil {
		h.failUnqueuedJob(ctx, jobID, err)
		return "", err
	}

	_, err = h.enqueuer.EnqueueContext(ctx, task,
		asynq.TaskID(jobID),
		asynq.Queue(tasks.QueueForPriority(priority)),
		asynq.MaxRetry(h.renderCfg.MaxAttempts-1),
		// asynq 的任务级超时比业务超时略宽，先让管线自己超时并分类。
		asynq.Timeout(h.renderCfg.JobTimeout()+10*time.Second),
	)
	if err != nil {
		h.failUnqueuedJob(ctx, jobID, err)
		return "", err
	}
	return jobID, nil
}

// failUnqueuedJob 给没能入队的任务行盖上终态，避免留下永远 queued、
// 背后却没有任务的幽灵行。尽力而为：行已建而队列不可达时状态以行为准。
func (h *JobHandler) failUnqueuedJob(ctx context.Context, jobID string, cause error) {
	h.db.WithContext(context.WithoutCancel(ctx)).
		Model(&database.RenderJob{}).
		Where("job_id = ?", jobID).
		Updates(map[string]any{
			"status":          database.JobStatusFailed,
			"last_error_code": errcode.SystemError,
			"last_error":      "enqueue failed: " + cause.Error(),
		})
}

// CreateRenderJob 入队单条记录的渲染任务。
func (h *JobHandler) CreateRenderJob(c *gin.Context) {
	var req createRenderJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	if !validOutputFormat(req.OutputFormat) {
		BadRequest(c, "output_format must be png or jpg")
		return
	}

	version, ok := h.resolveTemplateVersion(c, req.TemplateID, req.TemplateVersion)
	if !ok {
		return
	}

	jobID, err := h.enqueueOne(c, req.TemplateID, version, req.Record, req.OutputFormat, req.Priority)
	if err != nil {
		middleware.LoggerFromContext(c).Error("enqueue render job failed", "error", err)
		Internal(c, "failed to enqueue render job")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "status": database.JobStatusQueued})
}

// CreateRenderBatch 对同一模板批量入队，每条记录一个任务。
func (h *JobHandler) CreateRenderBatch(c *gin.Context) {
	var req createRenderBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	if len(req.Records) == 0 {
		BadRequest(c, "records must not be empty")
		return
	}
	if len(req.Records) > maxBatchRecords {
		BadRequest(c, "too many records in one batch")
		return
	}
	if !validOutputFormat(req.OutputFormat) {
		BadRequest(c, "output_format must be png or jpg")
		return
	}

	version, ok := h.resolveTemplateVersion(c, req.TemplateID, req.TemplateVersion)
	if !ok {
		return
	}

	log := middleware.LoggerFromContext(c)
	jobIDs := make([]string, 0, len(req.Records))
	for _, record := range req.Records {
		jobID, err := h.enqueueOne(c, req.TemplateID, version, record, req.OutputFormat, req.Priority)
		if err != nil {
			log.Error("enqueue batch job failed",
				"error", err,
				"enqueued", len(jobIDs),
			)
			Internal(c, "failed to enqueue batch")
			return
		}
		jobIDs = append(jobIDs, jobID)
	}
	c.JSON(http.StatusAccepted, gin.H{"job_ids": jobIDs, "count": len(jobIDs)})
}

type renderJobResponse struct {
	JobID           string `json:"job_id"`
	Status          string `json:"status"`
	TemplateID      uint   `json:"template_id"`
	TemplateVersion int    `json:"template_version"`
	Attempts        int    `json:"attempts"`
	LastErrorCode   int    `json:"last_error_code,omitempty"`
	LastError       string `json:"last_error,omitempty"`
	OutputURL       string `json:"output_url,omitempty"`
}

// GetRenderJob 返回任务状态；成功任务附带产物的限时下载链接。
func (h *JobHandler) GetRenderJob(c *gin.Context) {
	jobID := c.Param("id")

	var job database.RenderJob
	if err := h.db.WithContext(c.Request.Context()).Where("job_id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "render job not found")
			return
		}
		Internal(c, "failed to load render job")
		return
	}

	resp := renderJobResponse{
		JobID:           job.JobID,
		Status:          job.Status,
		TemplateID:      job.TemplateID,
		TemplateVersion: job.TemplateVersion,
		Attempts:        job.Attempts,
		LastErrorCode:   job.LastErrorCode,
		LastError:       job.LastError,
	}
	if job.Status == database.JobStatusSucceeded && job.OutputKey != "" {
		url, err := h.storage.GeneratePresignedURL(c.Request.Context(), job.OutputKey, 10*time.Minute)
		if err != nil {
			middleware.LoggerFromContext(c).Error("presign output failed", "error", err)
		} else {
			resp.OutputURL = url
		}
	}
	c.JSON(http.StatusOK, resp)
}

// ListRenderJobs 按状态过滤列出最近任务。
func (h *JobHandler) ListRenderJobs(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	query := h.db.WithContext(c.Request.Context()).Order("created_at DESC").Limit(limit)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var jobs []database.RenderJob
	if err := query.Find(&jobs).Error; err != nil {
		Internal(c, "failed to list render jobs")
		return
	}

	items := make([]renderJobResponse, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, renderJobResponse{
			JobID:           job.JobID,
			Status:          job.Status,
			TemplateID:      job.TemplateID,
			TemplateVersion: job.TemplateVersion,
			Attempts:        job.Attempts,
			LastErrorCode:   job.LastErrorCode,
			LastError:       job.LastError,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// CancelRenderJob 请求取消任务。尚未开始的任务立即置为 cancelled；
// 运行中的任务由 worker 在下一个阶段边界观测取消标记。
func (h *JobHandler) CancelRenderJob(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := c.Param("id")

	var job database.RenderJob
	if err := h.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "render job not found")
			return
		}
		Internal(c, "failed to load render job")
		return
	}

	switch job.Status {
	case database.JobStatusSucceeded, database.JobStatusFailed, database.JobStatusCancelled:
		Conflict(c, "job already terminal")
		return
	}

	if err := h.canceller.RequestCancel(ctx, jobID); err != nil {
		middleware.LoggerFromContext(c).Error("set cancel flag failed", "error", err)
		Internal(c, "failed to request cancellation")
		return
	}

	if job.Status == database.JobStatusQueued {
		if err := h.db.WithContext(ctx).Model(&job).Updates(map[string]any{
			"status":          database.JobStatusCancelled,
			"last_error_code": errcode.Cancelled,
			"last_error":      "cancelled by request",
		}).Error; err != nil {
			Internal(c, "failed to cancel render job")
			return
		}
		c.JSON(http.StatusOK, gin.H{"job_id": jobID, "status": database.JobStatusCancelled})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "status": job.Status})
}
