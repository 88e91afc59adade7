package retry

import "encoding/json"

// ResultKind classifies an executor outcome. The processor branches on this
// data instead of guessing intent from error values: work already done is a
// success, a provider validation error will never succeed on retry, and only
// transient failures consume the retry budget.
type ResultKind int

const (
	KindCompleted ResultKind = iota
	KindAlreadyDone
	KindTransient
	KindPermanent
)

func (k ResultKind) String() string {
	switch k {
	case KindCompleted:
		return "completed"
	case KindAlreadyDone:
		return "already_done"
	case KindTransient:
		return "transient_failure"
	case KindPermanent:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

type Result struct {
	Kind  ResultKind
	Value json.RawMessage
	Err   error
}

func Ok(value json.RawMessage) Result {
	return Result{Kind: KindCompleted, Value: value}
}

// AlreadyDone signals an idempotent short-circuit: the side effect this
// operation exists to perform has already happened.
func AlreadyDone(note string) Result {
	v, _ := json.Marshal(map[string]any{"already_done": true, "note": note})
	return Result{Kind: KindAlreadyDone, Value: v}
}

func Transient(err error) Result {
	return Result{Kind: KindTransient, Err: err}
}

func Permanent(err error) Result {
	return Result{Kind: KindPermanent, Err: err}
}
