// Package policy implements the trainable browser-control policy: a small
// byte-level GPT built on a scalar reverse-mode autograd engine, plus its
// tokenizer, optimizer and serializable state.
package policy

import "math"

// Value is one node in the autograd graph. Data is the forward result, Grad
// accumulates d(output)/d(this) during Backward. Grads are additive across
// Backward calls, which is what lets the trainers accumulate gradients over
// many examples before a single optimizer step.
type Value struct {
	Data       float64
	Grad       float64
	children   []*Value
	localGrads []float64
}

// Leaf creates a graph leaf (a parameter or a constant input).
func Leaf(x float64) *Value { return &Value{Data: x} }

// Add returns a + b.
func Add(a, b *Value) *Value {
	return &Value{
		Data:       a.Data + b.Data,
		children:   []*Value{a, b},
		localGrads: []float64{1, 1},
	}
}

// Mul returns a * b.
func Mul(a, b *Value) *Value {
	return &Value{
		Data:       a.Data * b.Data,
		children:   []*Value{a, b},
		localGrads: []float64{b.Data, a.Data},
	}
}

// Sub returns a - b.
func Sub(a, b *Value) *Value { return Add(a, Neg(b)) }

// Neg returns -a.
func Neg(a *Value) *Value { return Mul(a, Leaf(-1)) }

// Pow returns a^p for constant p.
func Pow(a *Value, p float64) *Value {
	return &Value{
		Data:       math.Pow(a.Data, p),
		children:   []*Value{a},
		localGrads: []float64{p * math.Pow(a.Data, p-1)},
	}
}

// Div returns a / b.
func Div(a, b *Value) *Value { return Mul(a, Pow(b, -1)) }

// Log returns ln(a).
func Log(a *Value) *Value {
	return &Value{
		Data:       math.Log(a.Data),
		children:   []*Value{a},
		localGrads: []float64{1 / a.Data},
	}
}

// Exp returns e^a.
func Exp(a *Value) *Value {
	e := math.Exp(a.Data)
	return &Value{Data: e, children: []*Value{a}, localGrads: []float64{e}}
}

// ReLU returns max(a, 0).
func ReLU(a *Value) *Value {
	if a.Data > 0 {
		return &Value{Data: a.Data, children: []*Value{a}, localGrads: []float64{1}}
	}
	return &Value{Data: 0, children: []*Value{a}, localGrads: []float64{0}}
}

// Scale returns a scaled by constant c.
func Scale(a *Value, c float64) *Value { return Mul(a, Leaf(c)) }

// Backward runs reverse-mode differentiation from out, adding into the Grad
// of every reachable node. It does not zero anything first; callers that want
// a fresh gradient must zero parameter grads themselves (the optimizer does
// this after each step).
func Backward(out *Value) {
	// Iterative post-order topo sort; trajectories can produce deep graphs
	// and a recursive walk would risk the goroutine stack.
	var topo []*Value
	visited := make(map[*Value]bool)
	type frame struct {
		v    *Value
		next int
	}
	stack := []frame{{v: out}}
	visited[out] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(top.v.children) {
			ch := top.v.children[top.next]
			top.next++
			if !visited[ch] {
				visited[ch] = true
				stack = append(stack, frame{v: ch})
			}
			continue
		}
		topo = append(topo, top.v)
		stack = stack[:len(stack)-1]
	}

	out.Grad = 1
	for i := len(topo) - 1; i >= 0; i-- {
		v := topo[i]
		for j, ch := range v.children {
			ch.Grad += v.localGrads[j] * v.Grad
		}
	}
}

// softmax returns the softmax of logits as graph nodes, with the usual
// max-subtraction for numerical stability.
func softmax(logits []*Value) []*Value {
	maxVal := logits[0].Data
	for _, l := range logits[1:] {
		if l.Data > maxVal {
			maxVal = l.Data
		}
	}
	exps := make([]*Value, len(logits))
	total := Leaf(0)
	for i, l := range logits {
		e := Exp(Sub(l, Leaf(maxVal)))
		exps[i] = e
		total = Add(total, e)
	}
	probs := make([]*Value, len(logits))
	for i := range exps {
		probs[i] = Div(exps[i], total)
	}
	return probs
}
