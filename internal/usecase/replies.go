package usecase

import (
	"fmt"
	"strings"
)

const (
	replyAskIdentifier    = "👋 Hola! Por favor ingresa el nombre o ID del paciente."
	replyRepeatIdentifier = "Por favor ingresa el nombre o ID del paciente para continuar."
	replyAskMediaAgain    = "Envía la imagen 📷."
	replyAskDescription   = "Por favor proporciona una descripción de la imagen."
	replySaved            = "La imagen y la descripción se han guardado correctamente."
	replyFailed           = "⚠️ Ha ocurrido un error. Por favor intenta de nuevo."
)

func askMediaReply(patientID string) string {
	return fmt.Sprintf("Por favor adjunta la imagen para el paciente: %s", patientID)
}

// savedReply confirms a submission, appending the image URL when the backend
// serves one over HTTP. Local file paths are never shown to the user.
func savedReply(location string) string {
	if strings.HasPrefix(location, "https://") || strings.HasPrefix(location, "http://") {
		return replySaved + "\nImagen: " + location
	}
	return replySaved
}
