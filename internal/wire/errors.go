package wire

// Reason is both an internal error kind and, numerically, the close-reason
// code transmitted to a peer when its connection is torn down (spec.md §6
// "Exit codes / error codes").
type Reason int32

const (
	ReasonNone Reason = iota
	ReasonChecksum
	ReasonNoInit
	ReasonInvInit
	ReasonTimeout
	ReasonLowPriority
	ReasonBatchSize
	ReasonEmpty
	ReasonBadRollback
	ReasonBadRollbackLen
	ReasonNotFound
	ReasonBlockSize
	ReasonInvalidBody
	ReasonShutdown
	ReasonChainError
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "NONE"
	case ReasonChecksum:
		return "CHECKSUM"
	case ReasonNoInit:
		return "NOINIT"
	case ReasonInvInit:
		return "INVINIT"
	case ReasonTimeout:
		return "TIMEOUT"
	case ReasonLowPriority:
		return "LOWPRIORITY"
	case ReasonBatchSize:
		return "BATCHSIZE"
	case ReasonEmpty:
		return "EMPTY"
	case ReasonBadRollback:
		return "BADROLLBACK"
	case ReasonBadRollbackLen:
		return "BADROLLBACKLEN"
	case ReasonNotFound:
		return "NOTFOUND"
	case ReasonBlockSize:
		return "EBLOCKSIZE"
	case ReasonInvalidBody:
		return "EINV_BODY"
	case ReasonShutdown:
		return "SHUTDOWN"
	case ReasonChainError:
		return "CHAINERROR"
	default:
		return "UNKNOWN"
	}
}

// OffenseError is returned by message handlers when a peer has committed a
// protocol offense (spec.md §7). The dispatcher translates it into a peer
// close with the carried Reason; it is never propagated past the dispatcher.
type OffenseError struct {
	Reason Reason
	Detail string
}

func (e *OffenseError) Error() string {
	if e.Detail == "" {
		return e.Reason.String()
	}
	return e.Reason.String() + ": " + e.Detail
}

func Offense(reason Reason, detail string) error {
	return &OffenseError{Reason: reason, Detail: detail}
}
