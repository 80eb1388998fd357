package orders

import (
	"context"
	"fmt"
	"time"

	pkgerrors "github.com/angelmondragon/tradehub-backend/pkg/errors"
)

// counters outlive their month so late retries never restart at 1
const orderSequenceTTL = 45 * 24 * time.Hour

// NumberGenerator issues human readable order numbers ORD-YYYYMM-NNNNNN.
type NumberGenerator struct {
	seq SequenceSource
}

func NewNumberGenerator(seq SequenceSource) *NumberGenerator {
	return &NumberGenerator{seq: seq}
}

// Next returns the next order number for the month containing at.
func (g *NumberGenerator) Next(ctx context.Context, at time.Time) (string, error) {
	period := at.UTC().Format("200601")
	n, err := g.seq.NextSequence(ctx, "order_number:"+period, orderSequenceTTL)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "allocate order number")
	}
	return fmt.Sprintf("ORD-%s-%06d", period, n), nil
}
