package mitigation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/agent-7132/hybridsched/internal/model"
)

// Calibration holds measured per-operation error rates, keyed by operation
// name and operand qubits.
type Calibration map[string]float64

// Key returns the calibration key for an operation on the given qubits.
func Key(name string, qubits ...int) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(name))
	for i, q := range qubits {
		if i == 0 {
			b.WriteByte(':')
		} else {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(q))
	}
	return b.String()
}

// Set records the error rate of an operation.
func (c Calibration) Set(name string, qubits []int, rate float64) {
	c[Key(name, qubits...)] = rate
}

// OpError returns the measured error rate of op, if calibrated.
func (c Calibration) OpError(op model.Op) (float64, bool) {
	rate, ok := c[Key(op.Name, op.Qubits...)]
	return rate, ok
}

// LoadCalibration decodes a JSON object mapping calibration keys of the form
// "name:q0,q1" to error rates in [0, 1]. Keys are normalized through Key, so
// case and whitespace around operands do not matter.
func LoadCalibration(r io.Reader) (Calibration, error) {
	var raw map[string]float64
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode calibration: %w", err)
	}
	cal := make(Calibration, len(raw))
	for key, rate := range raw {
		if rate < 0 || rate > 1 {
			return nil, fmt.Errorf("calibration %q: rate %v outside [0, 1]", key, rate)
		}
		name, qubits, err := parseKey(key)
		if err != nil {
			return nil, fmt.Errorf("calibration %q: %w", key, err)
		}
		norm := Key(name, qubits...)
		if _, dup := cal[norm]; dup {
			return nil, fmt.Errorf("calibration %q: duplicate of %q", key, norm)
		}
		cal[norm] = rate
	}
	return cal, nil
}

func parseKey(key string) (string, []int, error) {
	name, operands, hasOperands := strings.Cut(key, ":")
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, errors.New("missing operation name")
	}
	if !hasOperands {
		return name, nil, nil
	}
	var qubits []int
	for field := range strings.SplitSeq(operands, ",") {
		q, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil || q < 0 {
			return "", nil, fmt.Errorf("bad qubit operand %q", field)
		}
		qubits = append(qubits, q)
	}
	return name, qubits, nil
}

// LoadCalibrationFile reads calibration data from path.
func LoadCalibrationFile(path string) (Calibration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadCalibration(f)
}
