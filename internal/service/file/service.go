package file

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/ashwinyue/next-sync/internal/config"
	"github.com/ashwinyue/next-sync/internal/model"
	"github.com/ashwinyue/next-sync/internal/repository"
)

// Service 文件服务
type Service struct {
	files       repository.FileRepository
	storage     Storage
	storageType StorageType
}

// NewService 创建文件服务
func NewService(files repository.FileRepository, storage Storage, storageType StorageType) *Service {
	return &Service{
		files:       files,
		storage:     storage,
		storageType: storageType,
	}
}

// NewServiceFromConfig 从配置创建文件服务
func NewServiceFromConfig(ctx context.Context, files repository.FileRepository, cfg config.StorageConfig) (*Service, error) {
	var (
		storage Storage
		err     error
	)

	storageType := StorageType(cfg.Type)
	switch storageType {
	case StorageTypeLocal:
		basePath := cfg.Local.BasePath
		if basePath == "" {
			basePath = "./data/files"
		}
		storage, err = NewLocalStorage(basePath)
	case StorageTypeMinIO:
		storage, err = NewMinIOStorage(ctx, cfg.MinIO)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	return NewService(files, storage, storageType), nil
}

// Storage 底层存储
func (s *Service) Storage() Storage {
	return s.storage
}

// SaveFileRequest 保存文件请求
type SaveFileRequest struct {
	FileName    string
	ContentType string
	Size        int64
	Reader      io.Reader
	OwnerID     string
}

// SaveFile 保存文件并写入记录。只接受能提取文本的类型
func (s *Service) SaveFile(ctx context.Context, req *SaveFileRequest) (*model.StoredFile, error) {
	filePath, contentType, err := ObjectKey(req.OwnerID, req.FileName, req.ContentType)
	if err != nil {
		return nil, err
	}

	size := req.Size
	if size <= 0 {
		size = -1
	}
	written, err := s.storage.Put(ctx, filePath, req.Reader, size, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to save file: %w", err)
	}

	storedFile := &model.StoredFile{
		ID:          uuid.New().String(),
		OwnerID:     req.OwnerID,
		FileName:    req.FileName,
		FileSize:    written,
		ContentType: contentType,
		StorageType: string(s.storageType),
		FilePath:    filePath,
	}

	if err := s.files.Create(ctx, storedFile); err != nil {
		// 记录写入失败时回滚已保存的文件
		_ = s.storage.Remove(ctx, filePath)
		return nil, fmt.Errorf("failed to save file record: %w", err)
	}

	return storedFile, nil
}

// ListFiles 分页列出文件，ownerID 为空时不限所属者
func (s *Service) ListFiles(ctx context.Context, ownerID string, page, pageSize int) ([]*model.StoredFile, int64, error) {
	return s.files.ListByOwner(ctx, ownerID, (page-1)*pageSize, pageSize)
}

func (s *Service) lookup(ctx context.Context, id, ownerID string) (*model.StoredFile, error) {
	storedFile, err := s.files.GetByID(ctx, id, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
		}
		return nil, err
	}
	return storedFile, nil
}

// GetFile 获取文件记录和内容，调用方负责关闭 reader。ownerID 为空时不限所属者
func (s *Service) GetFile(ctx context.Context, id, ownerID string) (*model.StoredFile, io.ReadCloser, error) {
	storedFile, err := s.lookup(ctx, id, ownerID)
	if err != nil {
		return nil, nil, err
	}

	reader, err := s.storage.Open(ctx, storedFile.FilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get file content: %w", err)
	}

	return storedFile, reader, nil
}

// DeleteFile 删除文件及记录
func (s *Service) DeleteFile(ctx context.Context, id, ownerID string) error {
	storedFile, err := s.lookup(ctx, id, ownerID)
	if err != nil {
		return err
	}

	if err := s.storage.Remove(ctx, storedFile.FilePath); err != nil {
		return fmt.Errorf("failed to delete file from storage: %w", err)
	}

	if err := s.files.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}

	return nil
}
