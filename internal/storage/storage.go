package storage

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/campusnet/forum/internal/common/errors"
	"github.com/campusnet/forum/internal/messaging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const PublicPrefix = "/attachments"

// Recorder receives storage outcomes; observability.Metrics satisfies it.
type Recorder interface {
	RecordAttachmentStored(kind string, size int64)
	RecordAttachmentReleaseFailure(kind string)
}

type Storage struct {
	basePath     string
	maxFileSize  int64
	maxAudioSize int64
	logger       *zap.Logger
	recorder     Recorder
}

var allowedTypes = map[messaging.Kind]map[string]bool{
	messaging.KindFile: {
		"image/jpeg":         true,
		"image/png":          true,
		"image/gif":          true,
		"image/webp":         true,
		"video/mp4":          true,
		"application/pdf":    true,
		"application/zip":    true,
		"text/plain":         true,
		"application/msword": true,
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	},
	messaging.KindAudio: {
		"audio/mpeg": true,
		"audio/ogg":  true,
		"audio/webm": true,
		"audio/wav":  true,
		"audio/mp4":  true,
		"audio/aac":  true,
	},
}

type Options struct {
	MaxFileSize  int64
	MaxAudioSize int64
	Recorder     Recorder
}

func New(basePath string, opts Options, logger *zap.Logger) (*Storage, error) {
	for _, kind := range []messaging.Kind{messaging.KindFile, messaging.KindAudio} {
		if err := os.MkdirAll(filepath.Join(basePath, string(kind)), 0755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 25 * 1024 * 1024
	}
	if opts.MaxAudioSize <= 0 {
		opts.MaxAudioSize = 10 * 1024 * 1024
	}

	return &Storage{
		basePath:     basePath,
		maxFileSize:  opts.MaxFileSize,
		maxAudioSize: opts.MaxAudioSize,
		logger:       logger,
		recorder:     opts.Recorder,
	}, nil
}

// Store writes data under a fresh random key. The object is written to a
// temporary file and renamed into place, so a failed store leaves nothing
// behind and never yields a reference.
func (s *Storage) Store(ctx context.Context, data []byte, originalName, mimeType string, kind messaging.Kind) (*messaging.AttachmentRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(originalName))
	}
	mimeType = normalizeMime(mimeType)

	allowed, ok := allowedTypes[kind]
	if !ok {
		return nil, errors.InvalidArgument("attachments must be of kind file or audio")
	}
	if !allowed[mimeType] {
		return nil, errors.InvalidArgument(fmt.Sprintf("unsupported %s type: %s", kind, mimeType))
	}
	if len(data) == 0 {
		return nil, errors.InvalidArgument("attachment is empty")
	}

	maxSize := s.maxFileSize
	if kind == messaging.KindAudio {
		maxSize = s.maxAudioSize
	}
	if int64(len(data)) > maxSize {
		return nil, errors.InvalidArgument(fmt.Sprintf("attachment too large (max %d bytes)", maxSize))
	}

	key := uuid.New().String() + strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	dir := filepath.Join(s.basePath, string(kind))

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return nil, errors.Storage("create temp file", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		if rmErr := os.Remove(tmpName); rmErr != nil && !os.IsNotExist(rmErr) {
			s.logger.Warn("failed to remove temp upload", zap.String("path", tmpName), zap.Error(rmErr))
		}
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return nil, errors.Storage("write attachment", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return nil, errors.Storage("sync attachment", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return nil, errors.Storage("close attachment", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, key)); err != nil {
		cleanup()
		return nil, errors.Storage("commit attachment", err)
	}

	ref := &messaging.AttachmentRef{
		OriginalName: originalName,
		StorageKey:   key,
		MimeType:     mimeType,
		SizeBytes:    int64(len(data)),
		PublicPath:   PublicPath(kind, key),
		Kind:         kind,
	}

	if s.recorder != nil {
		s.recorder.RecordAttachmentStored(string(kind), ref.SizeBytes)
	}

	s.logger.Info("stored attachment",
		zap.String("storage_key", key),
		zap.String("original_name", originalName),
		zap.Int64("size", ref.SizeBytes),
		zap.String("type", mimeType),
	)

	return ref, nil
}

// Release removes the object behind ref. Removing an object that is already
// gone succeeds.
func (s *Storage) Release(ctx context.Context, ref *messaging.AttachmentRef) error {
	if ref == nil {
		return nil
	}

	fullPath, err := s.resolve(ref.Kind, ref.StorageKey)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug("attachment already released", zap.String("storage_key", ref.StorageKey))
			return nil
		}
		if s.recorder != nil {
			s.recorder.RecordAttachmentReleaseFailure(string(ref.Kind))
		}
		return errors.Storage("delete attachment", err)
	}

	s.logger.Info("released attachment", zap.String("storage_key", ref.StorageKey))
	return nil
}

func (s *Storage) resolve(kind messaging.Kind, key string) (string, error) {
	if _, ok := allowedTypes[kind]; !ok {
		return "", errors.InvalidArgument("unknown attachment kind")
	}
	if key == "" || key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return "", errors.InvalidArgument("invalid storage key")
	}
	return filepath.Join(s.basePath, string(kind), key), nil
}

func PublicPath(kind messaging.Kind, key string) string {
	return path.Join(PublicPrefix, string(kind), key)
}

func normalizeMime(mimeType string) string {
	if mediaType, _, err := mime.ParseMediaType(mimeType); err == nil {
		return strings.ToLower(mediaType)
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
