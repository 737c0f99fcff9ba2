package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/serofero/server/config"
	"github.com/serofero/server/pkg/alert"
	"github.com/serofero/server/pkg/crypto"
	"github.com/serofero/server/pkg/media"
)

// Infra holds the external collaborators: alert delivery, the media host
// and the message content cipher.
type Infra struct {
	Alerts *alert.Dispatcher
	Redis  *redis.Client // nil when no Redis is configured
	Media  media.Store
	Cipher *crypto.ContentCipher
}

func initInfra(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Infra, error) {
	infra := &Infra{}

	cipher, err := crypto.NewContentCipher(cfg.Crypto.HexKey, cfg.Crypto.Password)
	if err != nil {
		return nil, err
	}
	infra.Cipher = cipher

	switch cfg.Media.Driver {
	case "s3":
		infra.Media, err = media.NewS3Store(ctx, media.S3Config{
			Endpoint:  cfg.Media.S3Endpoint,
			Region:    cfg.Media.S3Region,
			Bucket:    cfg.Media.S3Bucket,
			AccessKey: cfg.Media.S3AccessKey,
			SecretKey: cfg.Media.S3SecretKey,
			PublicURL: cfg.Media.S3PublicURL,
		})
	default:
		infra.Media, err = media.NewLocalStore(cfg.Media.LocalDir, cfg.Media.BaseURL)
	}
	if err != nil {
		return nil, fmt.Errorf("init media store: %w", err)
	}
	log.Info("media store ready", zap.String("driver", cfg.Media.Driver))

	alertLog := log.Named("alert")
	sinks := []alert.Sink{alert.NewLogSink(alertLog)}

	if cfg.Alerts.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Alerts.RedisAddr,
			Password: cfg.Alerts.RedisPassword,
			DB:       cfg.Alerts.RedisDB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()

		if err != nil {
			log.Warn("redis unreachable, alert publishing disabled", zap.String("addr", cfg.Alerts.RedisAddr), zap.Error(err))
			_ = client.Close()
		} else {
			infra.Redis = client
			sinks = append(sinks, alert.NewRedisSink(client, cfg.Alerts.RedisChannel))
			log.Info("alert publishing enabled", zap.String("channel", cfg.Alerts.RedisChannel))
		}
	}

	if cfg.Alerts.ResendAPIKey != "" && cfg.Alerts.EmailFrom != "" && len(cfg.Alerts.EmailTo) > 0 {
		sinks = append(sinks, alert.NewEmailSink(cfg.Alerts.ResendAPIKey, cfg.Alerts.EmailFrom, cfg.Alerts.EmailTo))
		log.Info("alert e-mails enabled", zap.Strings("to", cfg.Alerts.EmailTo))
	}

	infra.Alerts = alert.NewDispatcher(alertLog, sinks...)
	return infra, nil
}

// Close drains pending alerts, then releases connections.
func (i *Infra) Close() {
	i.Alerts.Close()
	if i.Redis != nil {
		_ = i.Redis.Close()
	}
}
