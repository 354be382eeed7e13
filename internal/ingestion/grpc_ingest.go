package ingestion

import (
	"DexLedger/internal/action"
	"context"
)

// GRPCIngestService submits single actions and waits for their result.
// Admin and manual use; NATS is the high-throughput path.
type GRPCIngestService struct {
	submitChan chan<- Submission
}

func NewGRPCIngestService(submitChan chan<- Submission) *GRPCIngestService {
	return &GRPCIngestService{submitChan: submitChan}
}

// Submit parses payload as an action of the named type and applies it
func (s *GRPCIngestService) Submit(ctx context.Context, typeName string, payload []byte) (*action.Result, error) {
	t, err := TypeFromWire(typeName)
	if err != nil {
		return nil, err
	}
	a, err := ParseAction(t, payload)
	if err != nil {
		return nil, err
	}

	reply := make(chan SubmitResult, 1)
	select {
	case s.submitChan <- Submission{Action: a, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.Result, r.Err
	case <-ctx.Done():
		// the action may still apply; resubmitting with the same key is safe
		return nil, ctx.Err()
	}
}
