package service

// FailureClass decides what a delivery failure does to the entry and to the
// rest of the recipient's queue.
type FailureClass int

const (
	// FailureTransient is a provider or network problem worth retrying.
	FailureTransient FailureClass = iota
	// FailurePermanent means the recipient is unreachable (opted out,
	// blocked, invalid destination). Never retried; cascades cancellation
	// across all of the recipient's pending work.
	FailurePermanent
)

// Classifier maps gateway error codes to a failure class. The permanent set
// is configuration, not code: providers expose many recipient-level codes
// and deployments add to the set without a rebuild. Unknown or empty codes
// classify as transient, the safe default.
type Classifier struct {
	permanent map[string]struct{}
}

func NewClassifier(permanentCodes []string) *Classifier {
	set := make(map[string]struct{}, len(permanentCodes))
	for _, code := range permanentCodes {
		set[code] = struct{}{}
	}
	return &Classifier{permanent: set}
}

func (c *Classifier) Classify(errorCode string) FailureClass {
	if _, ok := c.permanent[errorCode]; ok {
		return FailurePermanent
	}
	return FailureTransient
}
