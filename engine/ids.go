package engine

import "sync/atomic"

// BindId identifies a mutable dataflow cell. Like yaegi's node.index field,
// ids are produced by a single atomically-incremented process-wide counter,
// never reused, and safe to compare for identity.
type BindId uint64

// LambdaId identifies a compiled function body. Values of function type are
// represented as FnRef(LambdaId).
type LambdaId uint64

// ExprId identifies a top-level expression: the owner of the ref-counts a
// compiled node holds on the BindIds it reads.
type ExprId uint64

var (
	bindCounter   uint64
	lambdaCounter uint64
	exprCounter   uint64
)

// NewBindId returns a fresh, process-wide unique BindId.
func NewBindId() BindId {
	return BindId(atomic.AddUint64(&bindCounter, 1))
}

// NewLambdaId returns a fresh, process-wide unique LambdaId.
func NewLambdaId() LambdaId {
	return LambdaId(atomic.AddUint64(&lambdaCounter, 1))
}

// NewExprId returns a fresh, process-wide unique ExprId.
func NewExprId() ExprId {
	return ExprId(atomic.AddUint64(&exprCounter, 1))
}
