package scorer

import (
	"context"

	"github.com/pkg/errors"
)

// Stub is a deterministic in-memory Scorer for tests: it serves pre-set
// logit rows in window order across successive Score calls.
type Stub struct {
	Logits Logits
	next   int
}

var _ Scorer = &Stub{}

// NewStub creates a Stub serving the given rows.
func NewStub(start, end [][]float32) *Stub {
	return &Stub{Logits: Logits{Start: start, End: end}}
}

// Score implements Scorer.
func (s *Stub) Score(_ context.Context, batch *Batch) (*Logits, error) {
	if s.next+batch.Size() > len(s.Logits.Start) {
		return nil, errors.Errorf("stub exhausted: %d rows left, batch needs %d",
			len(s.Logits.Start)-s.next, batch.Size())
	}
	out := &Logits{
		Start: s.Logits.Start[s.next : s.next+batch.Size()],
		End:   s.Logits.End[s.next : s.next+batch.Size()],
	}
	s.next += batch.Size()
	return out, nil
}
