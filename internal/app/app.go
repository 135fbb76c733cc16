package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"patient-intake/handler"
	"patient-intake/internal/config"
	"patient-intake/internal/integrations/paramstore"
	"patient-intake/internal/integrations/twilio"
	"patient-intake/internal/repository"
	"patient-intake/internal/session"
	"patient-intake/internal/storage"
	"patient-intake/internal/usecase"
)

// App holds the wired components shared by the Lambda and the local server.
type App struct {
	Handler *handler.Handler
	// Records is nil when no record table is configured.
	Records handler.RecordLister
}

// Build wires every component from cfg. AWS configuration is only loaded when
// a configured component needs it.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var awsCfg aws.Config
	if cfg.NeedsAWS() {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("app: load AWS config: %w", err)
		}
	}

	creds, err := resolveCredentials(ctx, cfg, awsCfg)
	if err != nil {
		return nil, err
	}

	fetcher, err := twilio.NewMediaClient(
		twilio.Credentials{APIKey: creds.APIKey, APISecret: creds.APISecret},
		twilio.WithTimeout(cfg.MediaFetchTimeout),
		twilio.WithMaxBytes(cfg.MediaMaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("app: media client: %w", err)
	}

	artifacts, err := buildArtifactStore(cfg, awsCfg)
	if err != nil {
		return nil, err
	}

	pipelineOpts := []usecase.PipelineOption{
		usecase.WithFetchTimeout(cfg.MediaFetchTimeout),
		usecase.WithWriteTimeout(cfg.StorageWriteTimeout),
		usecase.WithPipelineLogger(logger),
	}
	a := &App{}
	if cfg.RecordTable != "" {
		records, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.RecordTable, repository.WithTTL(cfg.RecordTTL()))
		if err != nil {
			return nil, fmt.Errorf("app: record store: %w", err)
		}
		pipelineOpts = append(pipelineOpts, usecase.WithRecordStore(records))
		a.Records = records
	}

	pipeline, err := usecase.NewPipeline(fetcher, artifacts, pipelineOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: pipeline: %w", err)
	}

	sessions := session.NewRegistry(session.WithIdleTimeout(cfg.SessionIdleTimeout))
	intake, err := usecase.NewIntakeService(sessions, pipeline,
		usecase.WithUniqueKeys(cfg.UniqueArtifactKeys),
		usecase.WithAcceptEmptyPatientID(cfg.AcceptEmptyIdentifier),
		usecase.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("app: intake service: %w", err)
	}

	handlerOpts := []handler.Option{handler.WithLogger(logger)}
	if creds.AuthToken != "" {
		handlerOpts = append(handlerOpts, handler.WithSignatureValidation(creds.AuthToken, cfg.WebhookPublicURL))
	} else {
		logger.Warn("webhook signature validation disabled, no auth token configured")
	}
	h, err := handler.NewHandler(intake, handlerOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: handler: %w", err)
	}
	a.Handler = h
	return a, nil
}

// resolveCredentials merges the SSM document, when configured, with values
// set directly in the environment. Environment values win.
func resolveCredentials(ctx context.Context, cfg *config.Config, awsCfg aws.Config) (paramstore.ChannelCredentials, error) {
	var creds paramstore.ChannelCredentials
	if cfg.CredentialsParam != "" {
		ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return creds, fmt.Errorf("app: paramstore: %w", err)
		}
		creds, err = ps.LoadChannelCredentials(ctx, cfg.CredentialsParam)
		if err != nil {
			return creds, fmt.Errorf("app: %w", err)
		}
	}
	if cfg.TwilioAPIKey != "" {
		creds.APIKey = cfg.TwilioAPIKey
	}
	if cfg.TwilioAPISecret != "" {
		creds.APISecret = cfg.TwilioAPISecret
	}
	if cfg.TwilioAuthToken != "" {
		creds.AuthToken = cfg.TwilioAuthToken
	}
	return creds, nil
}

func buildArtifactStore(cfg *config.Config, awsCfg aws.Config) (usecase.ArtifactStore, error) {
	switch cfg.StorageBackend {
	case config.BackendFilesystem:
		fs, err := storage.NewFileStore(cfg.StorageDir)
		if err != nil {
			return nil, fmt.Errorf("app: file store: %w", err)
		}
		return fs, nil
	case config.BackendS3:
		region := cfg.AWSRegion
		if region == "" {
			region = awsCfg.Region
		}
		s3Store, err := storage.NewS3Store(awss3.NewFromConfig(awsCfg), cfg.S3Bucket,
			storage.WithPublicRead(cfg.S3PublicRead),
			storage.WithRegion(region),
		)
		if err != nil {
			return nil, fmt.Errorf("app: s3 store: %w", err)
		}
		return s3Store, nil
	default:
		return nil, fmt.Errorf("app: unknown storage backend %q", cfg.StorageBackend)
	}
}
