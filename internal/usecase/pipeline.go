package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"patient-intake/internal/domain"
	"patient-intake/internal/integrations/twilio"
)

const (
	defaultFetchTimeout = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

type MediaFetcher interface {
	Fetch(ctx context.Context, mediaRef string) (twilio.Media, error)
}

// ArtifactStore persists a blob and its description note. Both calls return
// a locator for the written object (URL or path).
type ArtifactStore interface {
	PutBlob(ctx context.Context, key string, body []byte, contentType string) (string, error)
	PutNote(ctx context.Context, key, text string) (string, error)
}

type RecordStore interface {
	PutRecord(ctx context.Context, rec domain.Record) error
}

// Submission is everything the terminal step needs.
type Submission struct {
	ConversationID string
	PatientID      string
	MediaRef       string
	CapturedAt     time.Time
	Nonce          string
	Description    string
}

// Receipt describes a persisted submission.
type Receipt struct {
	Key          domain.ArtifactKey
	BlobLocation string
	NoteLocation string
}

// Pipeline fetches the media of a submission and persists it. It never
// retries; every outbound call is bounded by its own timeout.
type Pipeline struct {
	fetcher      MediaFetcher
	artifacts    ArtifactStore
	records      RecordStore
	fetchTimeout time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger
}

type PipelineOption func(*Pipeline)

// WithRecordStore enables the structured record write after the artifact.
func WithRecordStore(rs RecordStore) PipelineOption {
	return func(p *Pipeline) {
		p.records = rs
	}
}

func WithFetchTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.fetchTimeout = d
		}
	}
}

func WithWriteTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.writeTimeout = d
		}
	}
}

func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func NewPipeline(f MediaFetcher, a ArtifactStore, opts ...PipelineOption) (*Pipeline, error) {
	if f == nil {
		return nil, errors.New("usecase: media fetcher must not be nil")
	}
	if a == nil {
		return nil, errors.New("usecase: artifact store must not be nil")
	}
	p := &Pipeline{
		fetcher:      f,
		artifacts:    a,
		fetchTimeout: defaultFetchTimeout,
		writeTimeout: defaultWriteTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Ingest runs fetch, validation, blob write, note write and (optionally)
// record write in that order, stopping at the first failure.
func (p *Pipeline) Ingest(ctx context.Context, sub Submission) (Receipt, error) {
	media, err := p.fetch(ctx, sub.MediaRef)
	if err != nil {
		return Receipt{}, err
	}
	if !domain.IsImageContentType(media.ContentType) {
		return Receipt{}, newError(ErrorValidation, "unexpected_content_type", fmt.Errorf("content type %q", media.ContentType))
	}

	key := domain.NewArtifactKey(sub.PatientID, sub.CapturedAt, sub.Nonce, media.ContentType)
	receipt := Receipt{Key: key}

	receipt.BlobLocation, err = p.write(ctx, func(ctx context.Context) (string, error) {
		return p.artifacts.PutBlob(ctx, key.Blob(), media.Body, media.ContentType)
	})
	if err != nil {
		return Receipt{}, storageError("blob_write_failed", err)
	}

	receipt.NoteLocation, err = p.write(ctx, func(ctx context.Context) (string, error) {
		return p.artifacts.PutNote(ctx, key.Note(), sub.Description)
	})
	if err != nil {
		return Receipt{}, newError(ErrorPartialPersistence, "note_write_failed", err)
	}

	if p.records != nil {
		rec := domain.Record{
			ConversationID:   sub.ConversationID,
			PatientID:        sub.PatientID,
			CapturedAt:       sub.CapturedAt,
			ArtifactLocation: receipt.BlobLocation,
			NoteLocation:     receipt.NoteLocation,
			Description:      sub.Description,
			ContentType:      media.ContentType,
		}
		_, err = p.write(ctx, func(ctx context.Context) (string, error) {
			return "", p.records.PutRecord(ctx, rec)
		})
		if err != nil {
			// The blob stays in storage without a record; nothing cleans it up.
			p.logger.Warn("orphaned artifact", "blob", receipt.BlobLocation, "conversation_id", sub.ConversationID)
			return Receipt{}, newError(ErrorPartialPersistence, "record_write_failed", err)
		}
	}
	return receipt, nil
}

func (p *Pipeline) fetch(ctx context.Context, mediaRef string) (twilio.Media, error) {
	ctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	media, err := p.fetcher.Fetch(ctx, mediaRef)
	if err == nil {
		return media, nil
	}
	var fetchErr *twilio.FetchError
	if !errors.As(err, &fetchErr) {
		if errors.Is(err, context.DeadlineExceeded) {
			return twilio.Media{}, newError(ErrorTimeout, "media_fetch_timeout", err)
		}
		return twilio.Media{}, newError(ErrorUnknown, "media_fetch_failed", err)
	}
	switch fetchErr.Kind {
	case twilio.KindTimeout:
		return twilio.Media{}, newError(ErrorTimeout, "media_fetch_timeout", err)
	case twilio.KindTransport:
		return twilio.Media{}, newError(ErrorTransport, "media_fetch_failed", err)
	case twilio.KindUnexpectedContentType:
		return twilio.Media{}, newError(ErrorValidation, "unexpected_content_type", err)
	case twilio.KindTooLarge:
		return twilio.Media{}, newError(ErrorValidation, "media_too_large", err)
	default:
		return twilio.Media{}, newError(ErrorUnknown, "media_fetch_failed", err)
	}
}

func (p *Pipeline) write(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()
	return fn(ctx)
}

func storageError(reason string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrorTimeout, reason, err)
	}
	return newError(ErrorTransport, reason, err)
}
