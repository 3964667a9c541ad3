package patients

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hms-platform/hms/contracts"
)

type Patient struct {
	ID          uuid.UUID  `json:"Id"`
	UserID      uuid.UUID  `json:"UserId"`
	Name        string     `json:"Name"`
	BirthDate   time.Time  `json:"BirthDate"`
	Document    string     `json:"Document"`
	Contact     string     `json:"Contact"`
	Email       string     `json:"Email"`
	PhoneNumber string     `json:"PhoneNumber"`
	CreatedAt   time.Time  `json:"CreatedAt"`
	UpdatedAt   *time.Time `json:"UpdatedAt"`
}

// WithMedicalHistory is a patient plus the history fetched over the broker. The
// history is nil when the lookup failed or the patient has none.
type WithMedicalHistory struct {
	Patient
	MedicalHistory *contracts.MedicalHistory `json:"MedicalHistory"`
}

var documentPattern = regexp.MustCompile(`^\d{11}$`)

func (p *Patient) Validate() error {
	if n := len(strings.TrimSpace(p.Name)); n < 2 || n > 100 {
		return fmt.Errorf("name must be between 2 and 100 characters")
	}
	if p.BirthDate.IsZero() || !p.BirthDate.Before(time.Now()) {
		return fmt.Errorf("birth date must be before today")
	}
	if !documentPattern.MatchString(p.Document) {
		return fmt.Errorf("document must have 11 digits")
	}
	if p.Contact == "" {
		return fmt.Errorf("contact is required")
	}
	if !strings.Contains(p.Email, "@") {
		return fmt.Errorf("email must be in a valid format")
	}
	return nil
}

func (p *Patient) createdEvent() contracts.PatientCreated {
	return contracts.PatientCreated{
		PatientID:   p.ID,
		Document:    p.Document,
		PatientName: p.Name,
		CreatedAt:   time.Now().UTC(),
	}
}
