package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

type Mirror interface {
	Upsert(ctx context.Context, record Record) error
	Load(ctx context.Context) (Record, error)
	Delete(ctx context.Context) error
}

// MirroredStore writes through to the file first and then to the mirror.
// Mirror failures are logged and never fail the caller. When the file is
// missing (fresh container, wiped disk) the mirror copy is restored.
type MirroredStore struct {
	primary *FileStore
	mirror  Mirror
	logger  *zap.Logger
}

func NewMirroredStore(primary *FileStore, mirror Mirror, logger *zap.Logger) *MirroredStore {
	return &MirroredStore{primary: primary, mirror: mirror, logger: logger}
}

func (s *MirroredStore) Load(ctx context.Context) (Record, error) {
	record, err := s.primary.Load(ctx)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return record, err
	}

	record, mirrorErr := s.mirror.Load(ctx)
	if mirrorErr != nil {
		if !errors.Is(mirrorErr, ErrNotFound) {
			s.logFailure("load", mirrorErr)
		}
		return Record{}, ErrNotFound
	}

	if err := s.primary.Save(ctx, record); err != nil {
		return Record{}, err
	}
	s.logger.Info("token_record_restored_from_mirror", zap.String("path", s.primary.Path()))

	return record, nil
}

func (s *MirroredStore) Save(ctx context.Context, record Record) error {
	if err := s.primary.Save(ctx, record); err != nil {
		return err
	}

	s.sync(ctx, record)
	return nil
}

func (s *MirroredStore) Update(ctx context.Context, fn func(Record) (Record, error)) (Record, error) {
	if _, err := s.Load(ctx); err != nil {
		return Record{}, err
	}

	record, err := s.primary.Update(ctx, fn)
	if err != nil {
		return record, err
	}

	s.sync(ctx, record)
	return record, nil
}

func (s *MirroredStore) Delete(ctx context.Context) error {
	if err := s.primary.Delete(ctx); err != nil {
		return err
	}

	if err := s.mirror.Delete(ctx); err != nil {
		s.logFailure("delete", err)
	}
	return nil
}

func (s *MirroredStore) sync(ctx context.Context, record Record) {
	if err := s.mirror.Upsert(ctx, record); err != nil {
		s.logFailure("upsert", err)
	}
}

func (s *MirroredStore) logFailure(op string, err error) {
	s.logger.Error("token_mirror_failed",
		zap.String("op", op),
		zap.Error(fmt.Errorf("%w: %w", ErrPersistence, err)),
	)
}
