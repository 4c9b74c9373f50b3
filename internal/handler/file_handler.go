package handler

import (
	"io"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/next-sync/internal/middleware"
	"github.com/ashwinyue/next-sync/internal/model"
	filesvc "github.com/ashwinyue/next-sync/internal/service/file"
)

// FileHandler 资料库文件处理器
type FileHandler struct {
	fileSvc *filesvc.Service
}

// NewFileHandler 创建文件处理器
func NewFileHandler(fileSvc *filesvc.Service) *FileHandler {
	return &FileHandler{fileSvc: fileSvc}
}

// UploadFile 上传文件
// @Summary      上传文件
// @Description  保存资料库原始文件，返回的 file_path 供资料库记录引用
// @Tags         文件管理
// @Accept       multipart/form-data
// @Produce      json
// @Param        file  formData  file  true  "文件"
// @Router       /files [post]
func (h *FileHandler) UploadFile(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "file is required: "+err.Error())
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		Error(c, err)
		return
	}
	defer f.Close()

	storedFile, err := h.fileSvc.SaveFile(c.Request.Context(), &filesvc.SaveFileRequest{
		FileName:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Size:        fileHeader.Size,
		Reader:      f,
		OwnerID:     userID,
	})
	if err != nil {
		Error(c, err)
		return
	}

	Created(c, storedFile)
}

// fileScope 管理员可访问全部文件，其他用户只能访问自己上传的
func fileScope(c *gin.Context) (string, bool) {
	user, ok := middleware.GetCurrentUser(c)
	if !ok {
		Unauthorized(c, "authentication required")
		return "", false
	}
	if user.Role == model.UserRoleAdmin {
		return "", true
	}
	return user.ID, true
}

// ListFiles 列出文件
// @Summary      列出文件
// @Tags         文件管理
// @Produce      json
// @Param        page      query  int  false  "页码"
// @Param        page_size query  int  false  "每页数量"
// @Router       /files [get]
func (h *FileHandler) ListFiles(c *gin.Context) {
	ownerID, ok := fileScope(c)
	if !ok {
		return
	}

	page, pageSize := pageParams(c)
	files, total, err := h.fileSvc.ListFiles(c.Request.Context(), ownerID, page, pageSize)
	if err != nil {
		Error(c, err)
		return
	}
	SuccessWithPagination(c, files, total, page, pageSize)
}

// GetFile 下载文件
func (h *FileHandler) GetFile(c *gin.Context) {
	ownerID, ok := fileScope(c)
	if !ok {
		return
	}

	storedFile, reader, err := h.fileSvc.GetFile(c.Request.Context(), c.Param("id"), ownerID)
	if err != nil {
		Error(c, err)
		return
	}
	defer reader.Close()

	c.Header("Content-Type", storedFile.ContentType)
	c.Header("Content-Disposition", "attachment; filename="+strconv.Quote(storedFile.FileName))
	c.Header("Content-Length", strconv.FormatInt(storedFile.FileSize, 10))

	// 头已写出，复制失败只能中断连接
	_, _ = io.Copy(c.Writer, reader)
}

// DeleteFile 删除文件
func (h *FileHandler) DeleteFile(c *gin.Context) {
	ownerID, ok := fileScope(c)
	if !ok {
		return
	}

	if err := h.fileSvc.DeleteFile(c.Request.Context(), c.Param("id"), ownerID); err != nil {
		Error(c, err)
		return
	}
	Success(c, gin.H{"message": "File deleted successfully"})
}
