package domain

import "time"

// Stage is the step of the intake sequence a conversation is waiting on.
type Stage int

const (
	StageAwaitingIdentifier Stage = iota + 1
	StageAwaitingMedia
	StageAwaitingDescription
)

func (s Stage) String() string {
	switch s {
	case StageAwaitingIdentifier:
		return "awaiting_identifier"
	case StageAwaitingMedia:
		return "awaiting_media"
	case StageAwaitingDescription:
		return "awaiting_description"
	default:
		return "unknown"
	}
}

// Session is the in-progress state of one conversation. Each stage has its
// own concrete type carrying only the fields collected so far; a nil Session
// means the conversation has not started.
type Session interface {
	Stage() Stage
	session()
}

// AwaitingIdentifier is the state right after first contact.
type AwaitingIdentifier struct{}

// AwaitingMedia holds the patient identifier while waiting for an image.
type AwaitingMedia struct {
	PatientID string
}

// AwaitingDescription holds everything needed for the terminal step except
// the description itself.
type AwaitingDescription struct {
	PatientID  string
	MediaRef   string
	CapturedAt time.Time
	// Nonce is empty unless unique artifact keys are enabled.
	Nonce string
}

func (AwaitingIdentifier) Stage() Stage  { return StageAwaitingIdentifier }
func (AwaitingMedia) Stage() Stage       { return StageAwaitingMedia }
func (AwaitingDescription) Stage() Stage { return StageAwaitingDescription }

func (AwaitingIdentifier) session()  {}
func (AwaitingMedia) session()       {}
func (AwaitingDescription) session() {}

// StageOf returns the stage of s, or zero for a conversation that has not started.
func StageOf(s Session) Stage {
	if s == nil {
		return 0
	}
	return s.Stage()
}

// Event is a normalized inbound message from the channel.
type Event struct {
	ConversationID string
	Text           string
	MediaRef       string
}

// HasMedia reports whether the event carries a media reference.
func (e Event) HasMedia() bool {
	return e.MediaRef != ""
}
