package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"patient-intake/internal/domain"
	"patient-intake/internal/integrations/twilio"
)

type fakeFetcher struct {
	media twilio.Media
	err   error
	delay time.Duration

	mu    sync.Mutex
	calls []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, mediaRef string) (twilio.Media, error) {
	f.mu.Lock()
	f.calls = append(f.calls, mediaRef)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return twilio.Media{}, &twilio.FetchError{Kind: twilio.KindTimeout, Err: ctx.Err()}
		}
	}
	return f.media, f.err
}

type fakeArtifacts struct {
	blobErr error
	noteErr error

	mu    sync.Mutex
	blobs map[string][]byte
	notes map[string]string
	types map[string]string
}

func newFakeArtifacts() *fakeArtifacts {
	return &fakeArtifacts{blobs: map[string][]byte{}, notes: map[string]string{}, types: map[string]string{}}
}

func (f *fakeArtifacts) PutBlob(_ context.Context, key string, body []byte, contentType string) (string, error) {
	if f.blobErr != nil {
		return "", f.blobErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[key] = body
	f.types[key] = contentType
	return "https://bucket.s3.amazonaws.com/" + key, nil
}

func (f *fakeArtifacts) PutNote(_ context.Context, key, text string) (string, error) {
	if f.noteErr != nil {
		return "", f.noteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes[key] = text
	return "https://bucket.s3.amazonaws.com/" + key, nil
}

func (f *fakeArtifacts) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.blobs) + len(f.notes)
}

type fakeRecords struct {
	err     error
	mu      sync.Mutex
	records []domain.Record
}

func (f *fakeRecords) PutRecord(_ context.Context, rec domain.Record) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testCapturedAt = time.Date(2026, 3, 4, 15, 6, 7, 0, time.UTC)

func jpeg() twilio.Media {
	return twilio.Media{Body: []byte("jpeg-bytes"), ContentType: "image/jpeg"}
}

func sampleSubmission() Submission {
	return Submission{
		ConversationID: "whatsapp:+100",
		PatientID:      "Juan Perez",
		MediaRef:       "https://api.twilio.com/Media/img123",
		CapturedAt:     testCapturedAt,
		Description:    "fractura de tibia",
	}
}

func newTestPipeline(t *testing.T, f MediaFetcher, a ArtifactStore, opts ...PipelineOption) *Pipeline {
	t.Helper()
	opts = append([]PipelineOption{WithPipelineLogger(discardLogger())}, opts...)
	p, err := NewPipeline(f, a, opts...)
	require.NoError(t, err)
	return p
}

func expectCode(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, code, ucErr.Code)
	require.Equal(t, reason, ucErr.Reason)
}

func TestNewPipeline_ValidatesDependencies(t *testing.T) {
	_, err := NewPipeline(nil, newFakeArtifacts())
	require.Error(t, err)
	_, err = NewPipeline(&fakeFetcher{}, nil)
	require.Error(t, err)
}

func TestIngest_HappyPath(t *testing.T) {
	fetcher := &fakeFetcher{media: jpeg()}
	artifacts := newFakeArtifacts()
	records := &fakeRecords{}
	p := newTestPipeline(t, fetcher, artifacts, WithRecordStore(records))

	receipt, err := p.Ingest(context.Background(), sampleSubmission())
	require.NoError(t, err)
	require.Equal(t, "juan-perez_20260304_150607.jpeg", receipt.Key.Blob())
	require.Equal(t, "https://bucket.s3.amazonaws.com/juan-perez_20260304_150607.jpeg", receipt.BlobLocation)
	require.Equal(t, "https://bucket.s3.amazonaws.com/juan-perez_20260304_150607.txt", receipt.NoteLocation)

	require.Equal(t, []string{"https://api.twilio.com/Media/img123"}, fetcher.calls)
	require.Equal(t, []byte("jpeg-bytes"), artifacts.blobs["juan-perez_20260304_150607.jpeg"])
	require.Equal(t, "image/jpeg", artifacts.types["juan-perez_20260304_150607.jpeg"])
	require.Equal(t, "fractura de tibia", artifacts.notes["juan-perez_20260304_150607.txt"])

	require.Len(t, records.records, 1)
	rec := records.records[0]
	require.Equal(t, "whatsapp:+100", rec.ConversationID)
	require.Equal(t, "Juan Perez", rec.PatientID)
	require.Equal(t, testCapturedAt, rec.CapturedAt)
	require.Equal(t, receipt.BlobLocation, rec.ArtifactLocation)
	require.Equal(t, "fractura de tibia", rec.Description)
}

func TestIngest_RetryUsesSameKeys(t *testing.T) {
	artifacts := newFakeArtifacts()
	p := newTestPipeline(t, &fakeFetcher{media: jpeg()}, artifacts)

	first, err := p.Ingest(context.Background(), sampleSubmission())
	require.NoError(t, err)
	second, err := p.Ingest(context.Background(), sampleSubmission())
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 2, artifacts.writes(), "retry must overwrite, not add")
}

func TestIngest_FetchErrorKinds(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   ErrorCode
		reason string
	}{
		{"timeout", &twilio.FetchError{Kind: twilio.KindTimeout}, ErrorTimeout, "media_fetch_timeout"},
		{"transport", &twilio.FetchError{Kind: twilio.KindTransport, StatusCode: 404}, ErrorTransport, "media_fetch_failed"},
		{"content type", &twilio.FetchError{Kind: twilio.KindUnexpectedContentType, ContentType: "application/pdf"}, ErrorValidation, "unexpected_content_type"},
		{"too large", &twilio.FetchError{Kind: twilio.KindTooLarge}, ErrorValidation, "media_too_large"},
		{"unknown kind", &twilio.FetchError{Kind: twilio.KindUnknown}, ErrorUnknown, "media_fetch_failed"},
		{"plain deadline", context.DeadlineExceeded, ErrorTimeout, "media_fetch_timeout"},
		{"plain error", errors.New("boom"), ErrorUnknown, "media_fetch_failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			artifacts := newFakeArtifacts()
			records := &fakeRecords{}
			p := newTestPipeline(t, &fakeFetcher{err: tc.err}, artifacts, WithRecordStore(records))

			_, err := p.Ingest(context.Background(), sampleSubmission())
			expectCode(t, err, tc.code, tc.reason)
			require.Zero(t, artifacts.writes())
			require.Empty(t, records.records)
		})
	}
}

func TestIngest_NonImageNeverWritten(t *testing.T) {
	artifacts := newFakeArtifacts()
	fetcher := &fakeFetcher{media: twilio.Media{Body: []byte("%PDF"), ContentType: "application/pdf"}}
	p := newTestPipeline(t, fetcher, artifacts)

	_, err := p.Ingest(context.Background(), sampleSubmission())
	expectCode(t, err, ErrorValidation, "unexpected_content_type")
	require.Zero(t, artifacts.writes())
}

func TestIngest_FetchTimeoutIsBounded(t *testing.T) {
	fetcher := &fakeFetcher{media: jpeg(), delay: time.Second}
	p := newTestPipeline(t, fetcher, newFakeArtifacts(), WithFetchTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := p.Ingest(context.Background(), sampleSubmission())
	expectCode(t, err, ErrorTimeout, "media_fetch_timeout")
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestIngest_BlobWriteErrors(t *testing.T) {
	artifacts := newFakeArtifacts()
	artifacts.blobErr = errors.New("AccessDenied")
	records := &fakeRecords{}
	p := newTestPipeline(t, &fakeFetcher{media: jpeg()}, artifacts, WithRecordStore(records))

	_, err := p.Ingest(context.Background(), sampleSubmission())
	expectCode(t, err, ErrorTransport, "blob_write_failed")
	require.Empty(t, records.records)

	artifacts.blobErr = context.DeadlineExceeded
	_, err = p.Ingest(context.Background(), sampleSubmission())
	expectCode(t, err, ErrorTimeout, "blob_write_failed")
}

func TestIngest_NoteWriteError(t *testing.T) {
	artifacts := newFakeArtifacts()
	artifacts.noteErr = errors.New("SlowDown")
	records := &fakeRecords{}
	p := newTestPipeline(t, &fakeFetcher{media: jpeg()}, artifacts, WithRecordStore(records))

	_, err := p.Ingest(context.Background(), sampleSubmission())
	expectCode(t, err, ErrorPartialPersistence, "note_write_failed")
	require.Empty(t, records.records)
}

func TestIngest_RecordWriteErrorLeavesOrphanedBlob(t *testing.T) {
	artifacts := newFakeArtifacts()
	records := &fakeRecords{err: errors.New("ConditionalCheckFailed")}
	p := newTestPipeline(t, &fakeFetcher{media: jpeg()}, artifacts, WithRecordStore(records))

	_, err := p.Ingest(context.Background(), sampleSubmission())
	expectCode(t, err, ErrorPartialPersistence, "record_write_failed")
	require.Contains(t, artifacts.blobs, "juan-perez_20260304_150607.jpeg")
}

func TestIngest_WithoutRecordStore(t *testing.T) {
	artifacts := newFakeArtifacts()
	p := newTestPipeline(t, &fakeFetcher{media: jpeg()}, artifacts)

	_, err := p.Ingest(context.Background(), sampleSubmission())
	require.NoError(t, err)
	require.Equal(t, 2, artifacts.writes())
}

func TestIngest_NonceInKey(t *testing.T) {
	artifacts := newFakeArtifacts()
	p := newTestPipeline(t, &fakeFetcher{media: jpeg()}, artifacts)

	sub := sampleSubmission()
	sub.Nonce = "abcd1234"
	receipt, err := p.Ingest(context.Background(), sub)
	require.NoError(t, err)
	require.Equal(t, "juan-perez_20260304_150607_abcd1234.jpeg", receipt.Key.Blob())
}

func TestError_Format(t *testing.T) {
	err := newError(ErrorTimeout, "media_fetch_timeout", errors.New("deadline"))
	require.Equal(t, "usecase: TIMEOUT (media_fetch_timeout): deadline", err.Error())
	require.Equal(t, "usecase: UNKNOWN (x)", newError(ErrorUnknown, "x", nil).Error())
	require.ErrorIs(t, newError(ErrorTimeout, "x", context.DeadlineExceeded), context.DeadlineExceeded)
}
