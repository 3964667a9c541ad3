// Package contracts defines the messages exchanged between the HMS services over the broker.
//
// This package defines:
//   - MedicalHistoryRequest: the request half of the medical-history RPC
//   - MedicalHistoryResponse: the reply, carrying either a history or an error message
//   - PatientCreated: the event published when a patient is registered
//   - Encode and Decode: the JSON codec used on every queue
//
// Field names are PascalCase on the wire so the messages stay compatible with the
// other services consuming the same queues.
package contracts
