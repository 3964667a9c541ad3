package medicalhistory

import (
	"log/slog"
	"time"

	"github.com/hms-platform/hms/contracts"
	"github.com/hms-platform/hms/messaging"
)

// PatientCreatedGraceDelay is waited before the patient.created consumer first connects.
const PatientCreatedGraceDelay = 15 * time.Second

var _ messaging.MedicalHistoryHandler = (*Service)(nil)

// PatientCreatedHandler settles patient.created deliveries: undecodable events are
// rejected, storage failures requeued.
func PatientCreatedHandler(svc *Service, logger *slog.Logger) messaging.DeliveryHandler {
	return messaging.NewEventHandler[contracts.PatientCreated](svc.HandlePatientCreated, logger)
}
