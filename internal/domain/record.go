package domain

import "time"

// Record is the structured result of one completed conversation.
type Record struct {
	ConversationID   string
	PatientID        string
	CapturedAt       time.Time
	ArtifactLocation string
	NoteLocation     string
	Description      string
	ContentType      string
}
