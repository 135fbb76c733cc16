package domain

import (
	"mime"
	"strings"
	"time"
	"unicode"
)

const (
	// CapturedAtLayout formats capture timestamps inside artifact keys.
	CapturedAtLayout = "20060102_150405"
	noteExtension    = "txt"
	unknownPatient   = "unknown"
	defaultExtension = "bin"
)

// ArtifactKey names one submission's blob and its description note. Both
// share the same stem so they can be located as a pair.
type ArtifactKey struct {
	Stem      string
	Extension string
}

// NewArtifactKey derives the storage key for a submission. The result depends
// only on its arguments, so a retried submission maps to the same objects.
func NewArtifactKey(patientID string, capturedAt time.Time, nonce, contentType string) ArtifactKey {
	stem := NormalizePatientID(patientID) + "_" + capturedAt.Format(CapturedAtLayout)
	if nonce != "" {
		stem += "_" + nonce
	}
	return ArtifactKey{Stem: stem, Extension: ExtensionFromContentType(contentType)}
}

// Blob returns the object name of the image.
func (k ArtifactKey) Blob() string {
	return k.Stem + "." + k.Extension
}

// Note returns the object name of the description note.
func (k ArtifactKey) Note() string {
	return k.Stem + "." + noteExtension
}

// NormalizePatientID lowercases the identifier and replaces every run of
// whitespace with a single '-'.
func NormalizePatientID(patientID string) string {
	fields := strings.Fields(strings.ToLower(patientID))
	if len(fields) == 0 {
		return unknownPatient
	}
	joined := strings.Join(fields, "-")
	// Path separators would split the key into prefixes.
	return strings.NewReplacer("/", "-", "\\", "-").Replace(joined)
}

// ExtensionFromContentType returns the file extension for a media type, e.g.
// "image/jpeg; charset=binary" -> "jpeg".
func ExtensionFromContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	}
	_, subtype, ok := strings.Cut(strings.ToLower(mediaType), "/")
	if !ok {
		return defaultExtension
	}

	var b strings.Builder
	for _, r := range subtype {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '+' || r == '.' || r == '-':
			b.WriteByte('-')
		}
	}
	ext := strings.Trim(b.String(), "-")
	if ext == "" {
		return defaultExtension
	}
	return ext
}

// IsImageContentType reports whether the provider declared an image.
func IsImageContentType(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "image")
}
