package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/next-sync/internal/repository"
	"github.com/ashwinyue/next-sync/internal/service/access"
	"github.com/ashwinyue/next-sync/internal/service/auth"
	"github.com/ashwinyue/next-sync/internal/service/credential"
	"github.com/ashwinyue/next-sync/internal/service/event"
	"github.com/ashwinyue/next-sync/internal/service/file"
	"github.com/ashwinyue/next-sync/internal/service/orchestrator"
	"github.com/ashwinyue/next-sync/internal/service/outbox"
	"github.com/ashwinyue/next-sync/internal/service/vectorsync"
)

// ========== API 响应格式 ==========

// SuccessResponse 成功响应
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Hint string `json:"hint,omitempty"`
}

// Success 成功响应 (200)
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: data})
}

// Created 创建成功响应 (201)
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, SuccessResponse{Success: true, Data: data})
}

// Accepted 已受理，后台执行 (202)
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, SuccessResponse{Success: true, Data: data})
}

// BadRequest 400 错误响应
func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Msg: msg})
}

// Unauthorized 401 错误响应
func Unauthorized(c *gin.Context, msg string) {
	c.JSON(http.StatusUnauthorized, ErrorResponse{Code: 401, Msg: msg})
}

// Forbidden 403 错误响应
func Forbidden(c *gin.Context, msg string) {
	c.JSON(http.StatusForbidden, ErrorResponse{Code: 403, Msg: msg})
}

// NotFound 404 错误响应
func NotFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, ErrorResponse{Code: 404, Msg: msg})
}

// InternalServerError 500 错误响应
func InternalServerError(c *gin.Context, msg string) {
	c.JSON(http.StatusInternalServerError, ErrorResponse{Code: 500, Msg: msg})
}

// Error 根据错误类型返回相应的错误响应
func Error(c *gin.Context, err error) {
	if err == nil {
		return
	}

	// 配置类错误：调用方需要先配置凭证
	var noCreds *credential.NoCredentialsError
	if errors.As(err, &noCreds) {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Code: 422, Msg: err.Error(), Hint: noCreds.Hint})
		return
	}

	status := statusOf(err)
	c.JSON(status, ErrorResponse{Code: status, Msg: err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, vectorsync.ErrStoreNotFound),
		errors.Is(err, vectorsync.ErrDocumentNotFound),
		errors.Is(err, file.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, event.ErrTokenInvalid),
		errors.Is(err, event.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrAccountDisabled),
		errors.Is(err, access.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrUnsupportedSource),
		errors.Is(err, outbox.ErrUnknownKind),
		errors.Is(err, file.ErrUnsupportedType):
		return http.StatusBadRequest
	case errors.Is(err, vectorsync.ErrOperationTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, outbox.ErrNotRunning):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PaginationData 分页响应数据结构
type PaginationData struct {
	Items      interface{} `json:"items"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalPages int         `json:"total_pages,omitempty"`
}

// SuccessWithPagination 分页成功响应
func SuccessWithPagination(c *gin.Context, items interface{}, total int64, page, pageSize int) {
	totalPages := 0
	if pageSize > 0 {
		totalPages = int(total) / pageSize
		if int(total)%pageSize > 0 {
			totalPages++
		}
	}
	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Data: PaginationData{
			Items:      items,
			Total:      total,
			Page:       page,
			PageSize:   pageSize,
			TotalPages: totalPages,
		},
	})
}
