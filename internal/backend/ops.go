package backend

import (
	"github.com/warpml/warp/internal/program"
)

// binary runs a broadcasting element-wise binary op.
func (b *Backend) binary(op string, a, x Handle) (Handle, error) {
	aInfo, err := b.lookup(a)
	if err != nil {
		return 0, err
	}
	xInfo, err := b.lookup(x)
	if err != nil {
		return 0, err
	}
	d, err := program.BinaryOp(op, aInfo.Shape, xInfo.Shape)
	if err != nil {
		return 0, err
	}
	return b.compileAndRun(d, []Handle{a, x}, nil)
}

// unary runs an element-wise unary op.
func (b *Backend) unary(op string, a Handle) (Handle, error) {
	aInfo, err := b.lookup(a)
	if err != nil {
		return 0, err
	}
	d, err := program.UnaryOp(op, aInfo.Shape)
	if err != nil {
		return 0, err
	}
	return b.compileAndRun(d, []Handle{a}, nil)
}

// Add computes a + x with broadcasting.
func (b *Backend) Add(a, x Handle) (Handle, error) { return b.binary("add", a, x) }

// Sub computes a - x with broadcasting.
func (b *Backend) Sub(a, x Handle) (Handle, error) { return b.binary("sub", a, x) }

// Mul computes a * x with broadcasting.
func (b *Backend) Mul(a, x Handle) (Handle, error) { return b.binary("mul", a, x) }

// Div computes a / x with broadcasting.
func (b *Backend) Div(a, x Handle) (Handle, error) { return b.binary("div", a, x) }

// Maximum computes max(a, x) with broadcasting.
func (b *Backend) Maximum(a, x Handle) (Handle, error) { return b.binary("maximum", a, x) }

// Minimum computes min(a, x) with broadcasting.
func (b *Backend) Minimum(a, x Handle) (Handle, error) { return b.binary("minimum", a, x) }

// ReLU computes max(a, 0).
func (b *Backend) ReLU(a Handle) (Handle, error) { return b.unary("relu", a) }

// Neg computes -a.
func (b *Backend) Neg(a Handle) (Handle, error) { return b.unary("neg", a) }

// Exp computes e^a.
func (b *Backend) Exp(a Handle) (Handle, error) { return b.unary("exp", a) }

// Log computes the natural logarithm of a.
func (b *Backend) Log(a Handle) (Handle, error) { return b.unary("log", a) }

// Sqrt computes the square root of a.
func (b *Backend) Sqrt(a Handle) (Handle, error) { return b.unary("sqrt", a) }

// Sigmoid computes 1 / (1 + e^-a).
func (b *Backend) Sigmoid(a Handle) (Handle, error) { return b.unary("sigmoid", a) }

// Tanh computes the hyperbolic tangent of a.
func (b *Backend) Tanh(a Handle) (Handle, error) { return b.unary("tanh", a) }

// Abs computes |a|.
func (b *Backend) Abs(a Handle) (Handle, error) { return b.unary("abs", a) }
