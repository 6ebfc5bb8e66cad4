package model

import "slices"

// Payload is the data a backend operates on. Numeric paths read Rows; the
// hardware path reads Circuit and Shots.
type Payload struct {
	Rows    [][]float32 `json:"rows,omitempty"`
	Circuit *Circuit    `json:"circuit,omitempty"`
	Shots   int         `json:"shots,omitempty"`
}

// Clone returns a deep copy of p.
func (p Payload) Clone() Payload {
	out := Payload{Shots: p.Shots}
	if p.Rows != nil {
		out.Rows = make([][]float32, len(p.Rows))
		for i, row := range p.Rows {
			out.Rows[i] = slices.Clone(row)
		}
	}
	if p.Circuit != nil {
		c := p.Circuit.Clone()
		out.Circuit = &c
	}
	return out
}

// Op is a single circuit operation applied to one or more qubits.
type Op struct {
	Name   string `json:"name"`
	Qubits []int  `json:"qubits"`
}

// Arity returns the number of operands of the operation.
func (o Op) Arity() int {
	return len(o.Qubits)
}

// Circuit is a sequence of operations over a fixed number of qubits.
type Circuit struct {
	Qubits    int  `json:"qubits"`
	Ops       []Op `json:"ops"`
	Mitigated bool `json:"mitigated,omitempty"`
}

// Clone returns a deep copy of c.
func (c Circuit) Clone() Circuit {
	out := Circuit{Qubits: c.Qubits, Mitigated: c.Mitigated}
	if c.Ops != nil {
		out.Ops = make([]Op, len(c.Ops))
		for i, op := range c.Ops {
			out.Ops[i] = Op{Name: op.Name, Qubits: slices.Clone(op.Qubits)}
		}
	}
	return out
}

// Equal reports whether two circuits have the same qubit count, operation
// sequence and mitigation flag.
func (c Circuit) Equal(o Circuit) bool {
	if c.Qubits != o.Qubits || c.Mitigated != o.Mitigated || len(c.Ops) != len(o.Ops) {
		return false
	}
	for i := range c.Ops {
		if c.Ops[i].Name != o.Ops[i].Name || !slices.Equal(c.Ops[i].Qubits, o.Ops[i].Qubits) {
			return false
		}
	}
	return true
}

// Result is the output of executing one task.
type Result struct {
	Backend  string             `json:"backend"`
	Rows     [][]float32        `json:"rows,omitempty"`
	Counts   map[string]int     `json:"counts,omitempty"`
	Metadata map[string]float64 `json:"metadata,omitempty"`
}
