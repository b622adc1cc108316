package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"cardforge/internal/api/middleware"
	"cardforge/internal/database"
	"cardforge/internal/template"
)

// TemplateHandler 负责卡片模板的增删改查。
type TemplateHandler struct {
	db *gorm.DB
}

// NewTemplateHandler 返回 TemplateHandler 实例。
func NewTemplateHandler(db *gorm.DB) *TemplateHandler {
	return &TemplateHandler{db: db}
}

type templateRequest struct {
	Name    string          `json:"name" binding:"required"`
	Content json.RawMessage `json:"content" binding:"required"`
}

type templateResponse struct {
	ID      uint            `json:"id"`
	Name    string          `json:"name"`
	Version int             `json:"version"`
	Content json.RawMessage `json:"content,omitempty"`
}

// CreateTemplate 校验后保存模板，初始版本为 1。
func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}

	if _, err := template.Parse(req.Content); err != nil {
		BadRequest(c, err.Error())
		return
	}

	tpl := database.Template{
		Name:    req.Name,
		Content: []byte(req.Content),
		Version: 1,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&tpl).Error; err != nil {
		middleware.LoggerFromContext(c).Error("create template failed", "error", err)
		Internal(c, "failed to create template")
		return
	}

	c.JSON(http.StatusCreated, templateResponse{
		ID:      tpl.ID,
		Name:    tpl.Name,
		Version: tpl.Version,
	})
}

// GetTemplate 返回模板内容与当前版本。
func (h *TemplateHandler) GetTemplate(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		BadRequest(c, "invalid template id")
		return
	}

	var tpl database.Template
	if err := h.db.WithContext(c.Request.Context()).First(&tpl, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "template not found")
			return
		}
		Internal(c, "failed to load template")
		return
	}

	c.JSON(http.StatusOK, templateResponse{
		ID:      tpl.ID,
		Name:    tpl.Name,
		Version: tpl.Version,
		Content: json.RawMessage(tpl.Content),
	})
}

// ListTemplates 列出全部模板（不含内容）。
func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	var tpls []database.Template
	if err := h.db.WithContext(c.Request.Context()).
		Select("id", "name", "version", "created_at", "updated_at").
		Order("id").
		Find(&tpls).Error; err != nil {
		Internal(c, "failed to list templates")
		return
	}

	items := make([]templateResponse, 0, len(tpls))
	for _, tpl := range tpls {
		items = append(items, templateResponse{
			ID:      tpl.ID,
			Name:    tpl.Name,
			Version: tpl.Version,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// UpdateTemplate 替换模板内容并递增版本号。
// 正在排队或执行中的任务继续使用其固定的旧版本缓存条目；
// 旧版本的缓存键从此不再被新任务引用。
func (h *TemplateHandler) UpdateTemplate(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		BadRequest(c, "invalid template id")
		return
	}

	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	if _, err := template.Parse(req.Content); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	var tpl database.Template
	if err := h.db.WithContext(ctx).First(&tpl, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "template not found")
			return
		}
		Internal(c, "failed to load template")
		return
	}

	if err := h.db.WithContext(ctx).Model(&tpl).Updates(map[string]any{
		"name":    req.Name,
		"content": []byte(req.Content),
		"version": gorm.Expr("version + 1"),
	}).Error; err != nil {
		middleware.LoggerFromContext(c).Error("update template failed", "error", err)
		Internal(c, "failed to update template")
		return
	}

	c.JSON(http.StatusOK, templateResponse{
		ID:      tpl.ID,
		Name:    req.Name,
		Version: tpl.Version + 1,
	})
}

// DeleteTemplate 软删除模板。已入队的任务在取模板时会因记录缺失而失败。
func (h *TemplateHandler) DeleteTemplate(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		BadRequest(c, "invalid template id")
		return
	}

	result := h.db.WithContext(c.Request.Context()).Delete(&database.Template{}, id)
	if result.Error != nil {
		Internal(c, "failed to delete template")
		return
	}
	if result.RowsAffected == 0 {
		NotFound(c, "template not found")
		return
	}
	c.Status(http.StatusNoContent)
}
