package app

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"repoanalyzer/internal/gateway/config"
	"repoanalyzer/internal/gateway/repository/upload"
)

type uploadStore struct {
	store upload.Store
	label string
	close func() error
}

func initUploadStore(cfg *config.Config, logger *zap.Logger) (*uploadStore, error) {
	s3Factory := newUploadS3StoreFactory(cfg, logger)

	if dsn := strings.TrimSpace(cfg.Upload.DatabaseURL); dsn != "" {
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open db: %w", err)
		}
		st, err := chooseUploadStore(cfg, upload.NewPostgresStore(db), "postgres", s3Factory, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		st.close = db.Close
		return st, nil
	}
	return chooseUploadStore(cfg, upload.NewMemoryStore(upload.DefaultMemoryConfig()), "in-memory", s3Factory, logger)
}

func newUploadS3StoreFactory(cfg *config.Config, logger *zap.Logger) func() (upload.Store, error) {
	return func() (upload.Store, error) {
		s3Cfg := upload.S3Config{
			Endpoint:  cfg.Artifact.Endpoint,
			Region:    cfg.Artifact.Region,
			AccessKey: cfg.Artifact.AccessKey,
			SecretKey: cfg.Artifact.SecretKey,
			Bucket:    cfg.Artifact.Bucket,
			UseSSL:    cfg.Artifact.UseSSL,
		}
		s3Store, err := upload.NewS3Store(s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize upload s3 store: %w", err)
		}
		logger.Info("upload store: s3", zap.String("bucket", s3Cfg.Bucket), zap.String("endpoint", s3Cfg.Endpoint))
		return s3Store, nil
	}
}

func chooseUploadStore(
	cfg *config.Config,
	fallback upload.Store,
	fallbackLabel string,
	s3Factory func() (upload.Store, error),
	logger *zap.Logger,
) (*uploadStore, error) {
	if cfg.Artifact.CanUseS3() {
		s3Store, err := s3Factory()
		if err != nil {
			return nil, err
		}
		return &uploadStore{store: s3Store, label: "s3"}, nil
	}
	if cfg.Artifact.Enabled {
		logger.Warn("upload store: s3 config incomplete, using fallback", zap.String("fallback", fallbackLabel))
	}
	if fallback == nil {
		return nil, fmt.Errorf("upload fallback store is nil")
	}
	logger.Info("upload store: " + fallbackLabel)
	return &uploadStore{store: fallback, label: fallbackLabel}, nil
}
