package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/kart-io/lexica/internal/model"
	apierrors "github.com/kart-io/lexica/pkg/errors"
)

// documentStore is the gorm-backed DocumentStore. It works unchanged against
// PostgreSQL in production and sqlite in tests.
type documentStore struct {
	db *gorm.DB
}

var _ DocumentStore = (*documentStore)(nil)

// NewDocumentStore creates a DocumentStore on top of a gorm DB.
func NewDocumentStore(db *gorm.DB) DocumentStore {
	return &documentStore{db: db}
}

// AutoMigrate creates or updates the document and chunk tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.Document{}, &model.Chunk{})
}

func (s *documentStore) CreateDocument(ctx context.Context, doc *model.Document) (*model.Document, bool, error) {
	var existing model.Document
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND content_hash = ?", doc.UserID, doc.ContentHash).
		First(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, apierrors.ErrDatabase.WithCause(err)
	}

	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost a registration race; the winner's record is the result.
			err = s.db.WithContext(ctx).
				Where("user_id = ? AND content_hash = ?", doc.UserID, doc.ContentHash).
				First(&existing).Error
			if err != nil {
				return nil, false, apierrors.ErrDatabase.WithCause(err)
			}
			return &existing, false, nil
		}
		return nil, false, apierrors.ErrDatabase.WithCause(err)
	}
	return doc, true, nil
}

func (s *documentStore) GetDocument(ctx context.Context, userID, documentID string) (*model.Document, error) {
	var doc model.Document
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", documentID, userID).
		First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierrors.ErrDocumentNotFound
		}
		return nil, apierrors.ErrDatabase.WithCause(err)
	}
	return &doc, nil
}

func (s *documentStore) GetDocumentByID(ctx context.Context, documentID string) (*model.Document, error) {
	var doc model.Document
	err := s.db.WithContext(ctx).Where("id = ?", documentID).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierrors.ErrDocumentNotFound
		}
		return nil, apierrors.ErrDatabase.WithCause(err)
	}
	return &doc, nil
}

func (s *documentStore) ListDocuments(ctx context.Context, userID string) ([]*model.Document, error) {
	var docs []*model.Document
	err := s.db.WithContext(ctx).
		Select("id", "user_id", "filename", "file_type", "size_bytes", "content_hash",
			"category", "tags", "status", "progress", "processing_error", "chunk_num",
			"attempts", "created_at", "updated_at").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&docs).Error
	if err != nil {
		return nil, apierrors.ErrDatabase.WithCause(err)
	}
	return docs, nil
}

func (s *documentStore) ClaimDocument(ctx context.Context, documentID string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Document{}).
		Where("id = ? AND status = ?", documentID, model.StatusPending).
		Updates(map[string]any{
			"status":           model.StatusProcessing,
			"progress":         0,
			"processing_error": "",
			"attempts":         gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return false, apierrors.ErrDatabase.WithCause(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *documentStore) SetProgress(ctx context.Context, documentID string, progress int) error {
	res := s.db.WithContext(ctx).Model(&model.Document{}).
		Where("id = ? AND status = ?", documentID, model.StatusProcessing).
		Update("progress", progress)
	if res.Error != nil {
		return apierrors.ErrDatabase.WithCause(res.Error)
	}
	return nil
}

func (s *documentStore) MarkCompleted(ctx context.Context, documentID string, chunkNum int) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Document{}).
		Where("id = ? AND status = ?", documentID, model.StatusProcessing).
		Updates(map[string]any{
			"status":           model.StatusCompleted,
			"progress":         100,
			"chunk_num":        chunkNum,
			"processing_error": "",
		})
	if res.Error != nil {
		return false, apierrors.ErrDatabase.WithCause(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *documentStore) MarkFailed(ctx context.Context, documentID, message string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Document{}).
		Where("id = ? AND status = ?", documentID, model.StatusProcessing).
		Updates(map[string]any{
			"status":           model.StatusFailed,
			"processing_error": message,
		})
	if res.Error != nil {
		return false, apierrors.ErrDatabase.WithCause(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *documentStore) ResetForReindex(ctx context.Context, userID, documentID string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Document{}).
		Where("id = ? AND user_id = ? AND status = ?", documentID, userID, model.StatusFailed).
		Updates(map[string]any{
			"status":           model.StatusPending,
			"progress":         0,
			"processing_error": "",
		})
	if res.Error != nil {
		return false, apierrors.ErrDatabase.WithCause(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *documentStore) RecoverInterrupted(ctx context.Context, staleAfter time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-staleAfter)
	res := s.db.WithContext(ctx).Model(&model.Document{}).
		Where("status = ? AND updated_at < ?", model.StatusProcessing, cutoff).
		Updates(map[string]any{
			"status":   model.StatusPending,
			"progress": 0,
		})
	if res.Error != nil {
		return nil, apierrors.ErrDatabase.WithCause(res.Error)
	}

	var ids []string
	err := s.db.WithContext(ctx).Model(&model.Document{}).
		Where("status = ?", model.StatusPending).
		Order("created_at ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, apierrors.ErrDatabase.WithCause(err)
	}
	return ids, nil
}

func (s *documentStore) ReplaceChunks(ctx context.Context, documentID string, chunks []*model.Chunk) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&model.Chunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.CreateInBatches(chunks, 200).Error
	})
	if err != nil {
		return apierrors.ErrDatabase.WithCause(err)
	}
	return nil
}

func (s *documentStore) GetChunks(ctx context.Context, documentID string) ([]*model.Chunk, error) {
	var chunks []*model.Chunk
	err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("chunk_index ASC").
		Find(&chunks).Error
	if err != nil {
		return nil, apierrors.ErrDatabase.WithCause(err)
	}
	return chunks, nil
}

func (s *documentStore) GetChunksByIDs(ctx context.Context, userID string, chunkIDs []string) (map[string]*model.Chunk, error) {
	if len(chunkIDs) == 0 {
		return map[string]*model.Chunk{}, nil
	}

	var chunks []*model.Chunk
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, chunkIDs).
		Find(&chunks).Error
	if err != nil {
		return nil, apierrors.ErrDatabase.WithCause(err)
	}

	byID := make(map[string]*model.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}
	return byID, nil
}

func (s *documentStore) DeleteDocument(ctx context.Context, userID, documentID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", documentID, userID).Delete(&model.Document{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apierrors.ErrDocumentNotFound
		}
		return tx.Where("document_id = ?", documentID).Delete(&model.Chunk{}).Error
	})
	if err != nil {
		if apierrors.IsCode(err, apierrors.ErrDocumentNotFound.Code) {
			return err
		}
		return apierrors.ErrDatabase.WithCause(err)
	}
	return nil
}

func (s *documentStore) CountDocuments(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Document{}).
		Where("user_id = ?", userID).Count(&n).Error
	if err != nil {
		return 0, apierrors.ErrDatabase.WithCause(err)
	}
	return n, nil
}

func (s *documentStore) CountChunks(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Chunk{}).
		Where("user_id = ?", userID).Count(&n).Error
	if err != nil {
		return 0, apierrors.ErrDatabase.WithCause(err)
	}
	return n, nil
}
