package commission

import (
	"fmt"
	"strings"

	"github.com/jordanlanch/affiliate-engine/pkg/models"
)

// DefaultHoldSeverity is the lowest unreviewed flag severity that holds a commission
const DefaultHoldSeverity = 7

// Gate decides whether fraud flags hold a conversion's commissions
type Gate struct {
	Threshold int
}

// Blocking returns the unreviewed flags at or above the threshold
func (g Gate) Blocking(flags []*models.FraudFlag) []*models.FraudFlag {
	threshold := g.Threshold
	if threshold <= 0 {
		threshold = DefaultHoldSeverity
	}
	var blocking []*models.FraudFlag
	for _, f := range flags {
		if !f.Reviewed && f.Severity >= threshold {
			blocking = append(blocking, f)
		}
	}
	return blocking
}

// holdReason summarizes blocking flags for the commission record
func holdReason(flags []*models.FraudFlag) string {
	parts := make([]string, len(flags))
	for i, f := range flags {
		parts[i] = fmt.Sprintf("%s(%d):%s", f.Type, f.Severity, f.ID)
	}
	return "fraud review: " + strings.Join(parts, ", ")
}
