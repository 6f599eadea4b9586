package services

import (
	"errors"
	"fmt"

	"github.com/emberline/emberline/internal/database"
)

var (
	ErrAlertNotFound     = errors.New("alert not found")
	ErrPropertyNotFound  = errors.New("property not found")
	ErrStationNotFound   = errors.New("station not found")
	ErrResponderNotFound = errors.New("responder not found")
	ErrNoStations        = errors.New("no stations registered")
	ErrInvalidDetection  = errors.New("invalid detection")
	ErrInvalidLocation   = errors.New("invalid coordinates")
	ErrAlertFinalized    = errors.New("alert is no longer active")
)

// AdmissionConflictError is returned by Create when the camera already has an
// active alert. It is a control-flow signal, not a failure.
type AdmissionConflictError struct {
	ActiveAlert database.Alert
}

func (e *AdmissionConflictError) Error() string {
	return fmt.Sprintf("camera %s already has active alert %s (%s)",
		e.ActiveAlert.CameraID, e.ActiveAlert.ID, e.ActiveAlert.Status)
}
