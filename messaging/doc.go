// Package messaging implements request/response over RabbitMQ queues and the
// long-running consumers that serve them.
//
// This package provides:
//   - Registry: correlation id to pending completion, resolved exactly once
//   - Requester: publishes a request and waits for its reply or a timeout
//   - ResponseListener: resolves pending requests from the reply queue
//   - DurableConsumer: a supervised connect, subscribe and consume loop
//   - Responder: serves requests with a domain handler and publishes replies
//   - EventPublisher: best-effort one-way events
//   - Broker: the facade services depend on, with a no-op fallback
//
// Example usage:
//
//	registry := messaging.NewRegistry[contracts.MedicalHistoryResponse]()
//	requester := messaging.NewRequester(transport, registry)
//	listener := messaging.NewDurableConsumer(
//	    contracts.MedicalHistoryResponseQueue,
//	    transport,
//	    messaging.NewResponseListener(registry),
//	)
//	go listener.Run(ctx)
//
//	resp, err := requester.RequestMedicalHistory(ctx, req, 10*time.Second)
package messaging
