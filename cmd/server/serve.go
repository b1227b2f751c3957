package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"agridetect/internal/api"
	"agridetect/internal/auth"
	"agridetect/internal/certs"
	"agridetect/internal/config"
	"agridetect/internal/crypto"
	"agridetect/internal/detection"
	"agridetect/internal/files"
	"agridetect/internal/inference"
	"agridetect/internal/store"
	"agridetect/internal/utils"
)

func runServe(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := utils.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, store.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if n, err := db.Diseases.Seed(ctx, inference.DefaultDiseases()); err != nil {
		return fmt.Errorf("seed diseases: %w", err)
	} else if n > 0 {
		logger.Info("seeded disease catalog", zap.Int("count", n))
	}

	master, err := crypto.LoadMasterKey(cfg.Storage.MasterKeyHex, cfg.Storage.MasterKeyFile)
	if err != nil {
		return fmt.Errorf("load master key (run agridetect-genmasterkey first): %w", err)
	}
	signingKey, err := crypto.DeriveKey(master, crypto.LabelTokenSigning)
	if err != nil {
		return err
	}
	var imageKey []byte
	if cfg.Storage.EncryptImages {
		if imageKey, err = crypto.DeriveKey(master, crypto.LabelImageAtRest); err != nil {
			return err
		}
	}
	images, err := files.NewImageStore(cfg.Storage.DataDir, imageKey)
	if err != nil {
		return err
	}

	metrics := api.NewMetrics()
	inf, err := newInferencer(ctx, cfg, db, logger)
	if err != nil {
		return err
	}

	authSvc, err := auth.NewService(db.Users, auth.Options{
		SigningKey:  signingKey,
		TokenTTL:    cfg.Auth.TokenTTL,
		AdminEmails: cfg.Auth.AdminEmails,
		Logger:      logger.Named("auth"),
	})
	if err != nil {
		return err
	}
	detSvc := detection.NewService(db.Detections, images, inference.WithObserver(inf, metrics), detection.Options{
		MaxImageBytes: cfg.Server.MaxUploadBytes,
		Logger:        logger.Named("detection"),
		Recorder:      metrics,
	})

	srv := api.NewServer(api.Deps{
		Config:     cfg,
		Auth:       authSvc,
		Detections: detSvc,
		Analytics:  db.Detections,
		Diseases:   db.Diseases,
		DB:         db,
		Inference:  inf.Name(),
		Metrics:    metrics,
		Logger:     logger,
	})
	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var cm *certs.CertManager
	if cfg.Server.TLSEnabled() {
		cm = certs.NewCertManager(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		if err := cm.Reload(); err != nil {
			return fmt.Errorf("tls: %w", err)
		}
		httpSrv.TLSConfig = cm.TLSConfig()
		warnExpiry(logger, cm)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening",
			zap.String("addr", cfg.Server.Addr),
			zap.Bool("tls", cm != nil),
			zap.String("inference", inf.Name()),
			zap.String("db", cfg.Database.Driver),
			zap.Bool("encrypt_images", imageKey != nil))
		var err error
		if cm != nil {
			err = httpSrv.ListenAndServeTLS("", "")
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cm != nil {
		g.Go(func() error {
			reloadOnHangup(gctx, logger, cm)
			return nil
		})
		g.Go(func() error {
			err := cm.Watch(gctx, certs.DefaultDebounce, func(err error) { logReload(logger, cm, err) })
			if err != nil {
				logger.Warn("tls file watch unavailable; reload with SIGHUP", zap.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newInferencer(ctx context.Context, cfg config.Config, db *store.DB, logger *zap.Logger) (inference.Inferencer, error) {
	switch cfg.ResolvedProvider() {
	case config.ProviderGemini:
		inf, err := inference.NewGeminiInferencer(ctx, cfg.Inference.APIKey, cfg.Inference.Model, cfg.Inference.Timeout, logger.Named("gemini"))
		if err != nil {
			return nil, fmt.Errorf("init gemini: %w", err)
		}
		return inf, nil
	default:
		if cfg.Inference.Provider == config.ProviderAuto {
			logger.Warn("no GEMINI_API_KEY configured; using the local classifier")
		}
		return inference.NewLocalInferencer(db.Diseases, logger.Named("local")), nil
	}
}

const certExpiryWarning = 30 * 24 * time.Hour

func warnExpiry(logger *zap.Logger, cm *certs.CertManager) {
	if cm.ExpiresWithin(certExpiryWarning) {
		logger.Warn("tls certificate expires soon", zap.Time("not_after", cm.NotAfter()))
	}
}

// reloadOnHangup re-reads the key pair on SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, logger *zap.Logger, cm *certs.CertManager) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			logReload(logger, cm, cm.Reload())
		}
	}
}

func logReload(logger *zap.Logger, cm *certs.CertManager, err error) {
	if err != nil {
		logger.Error("tls reload failed; keeping current certificate", zap.Error(err))
		return
	}
	logger.Info("tls certificate reloaded", zap.Time("not_after", cm.NotAfter()))
	warnExpiry(logger, cm)
}
