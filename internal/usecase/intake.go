package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"patient-intake/internal/domain"
	"patient-intake/internal/session"
)

// SessionStore serializes per-conversation updates.
type SessionStore interface {
	Update(ctx context.Context, conversationID string, fn session.UpdateFunc) error
}

type Ingestor interface {
	Ingest(ctx context.Context, sub Submission) (Receipt, error)
}

// IntakeService drives the identifier -> image -> description conversation.
type IntakeService struct {
	sessions SessionStore
	ingestor Ingestor
	logger   *slog.Logger
	now      func() time.Time

	uniqueKeys         bool
	acceptEmptyPatient bool
}

type IntakeOption func(*IntakeService)

// WithUniqueKeys adds a random nonce to every artifact key, captured together
// with the media so the key is still reproducible from the session.
func WithUniqueKeys(enabled bool) IntakeOption {
	return func(s *IntakeService) {
		s.uniqueKeys = enabled
	}
}

// WithAcceptEmptyPatientID stores an empty message as the patient identifier
// instead of asking again.
func WithAcceptEmptyPatientID(enabled bool) IntakeOption {
	return func(s *IntakeService) {
		s.acceptEmptyPatient = enabled
	}
}

func WithClock(now func() time.Time) IntakeOption {
	return func(s *IntakeService) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(l *slog.Logger) IntakeOption {
	return func(s *IntakeService) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewIntakeService(sessions SessionStore, ingestor Ingestor, opts ...IntakeOption) (*IntakeService, error) {
	if sessions == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if ingestor == nil {
		return nil, errors.New("usecase: ingestor must not be nil")
	}
	s := &IntakeService{
		sessions: sessions,
		ingestor: ingestor,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handle applies one inbound event to its conversation and returns the reply
// text. The whole transition, including the terminal-step I/O, runs while
// holding the conversation's lock. An error means the event was not applied.
func (s *IntakeService) Handle(ctx context.Context, ev domain.Event) (string, error) {
	convID := strings.TrimSpace(ev.ConversationID)
	if convID == "" {
		return "", errors.New("usecase: conversation id is required")
	}

	var reply string
	err := s.sessions.Update(ctx, convID, func(ctx context.Context, current domain.Session) (domain.Session, error) {
		next, text := s.transition(ctx, convID, current, ev)
		reply = text
		s.logger.Info("conversation step",
			"conversation_id", convID,
			"from", stageName(current),
			"to", stageName(next),
		)
		return next, nil
	})
	if err != nil {
		return "", err
	}
	return reply, nil
}

func (s *IntakeService) transition(ctx context.Context, convID string, current domain.Session, ev domain.Event) (domain.Session, string) {
	switch cur := current.(type) {
	case nil:
		return domain.AwaitingIdentifier{}, replyAskIdentifier

	case domain.AwaitingIdentifier:
		patientID := normalizeText(ev.Text)
		if patientID == "" && !s.acceptEmptyPatient {
			return cur, replyRepeatIdentifier
		}
		return domain.AwaitingMedia{PatientID: patientID}, askMediaReply(patientID)

	case domain.AwaitingMedia:
		if !ev.HasMedia() {
			return cur, replyAskMediaAgain
		}
		next := domain.AwaitingDescription{
			PatientID:  cur.PatientID,
			MediaRef:   ev.MediaRef,
			CapturedAt: s.now().UTC().Truncate(time.Second),
		}
		if s.uniqueKeys {
			next.Nonce = newNonce()
		}
		return next, replyAskDescription

	case domain.AwaitingDescription:
		receipt, err := s.ingestor.Ingest(ctx, Submission{
			ConversationID: convID,
			PatientID:      cur.PatientID,
			MediaRef:       cur.MediaRef,
			CapturedAt:     cur.CapturedAt,
			Nonce:          cur.Nonce,
			Description:    strings.TrimSpace(ev.Text),
		})
		if err != nil {
			s.logFailure(convID, err)
			return nil, replyFailed
		}
		s.logger.Info("intake stored",
			"conversation_id", convID,
			"blob", receipt.BlobLocation,
			"note", receipt.NoteLocation,
		)
		return nil, savedReply(receipt.BlobLocation)

	default:
		// Unknown state: start over rather than guess.
		return domain.AwaitingIdentifier{}, replyAskIdentifier
	}
}

func (s *IntakeService) logFailure(convID string, err error) {
	var ucErr *Error
	if errors.As(err, &ucErr) {
		s.logger.Error("intake failed",
			"conversation_id", convID,
			"code", string(ucErr.Code),
			"reason", ucErr.Reason,
			"err", ucErr.Err,
		)
		return
	}
	s.logger.Error("intake failed", "conversation_id", convID, "code", string(ErrorUnknown), "err", err)
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func stageName(s domain.Session) string {
	if s == nil {
		return "none"
	}
	return s.Stage().String()
}

var newNonce = func() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
