package model

import (
	"errors"
	"fmt"
	"regexp"
	"testing"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for range 1000 {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestParsePrecision(t *testing.T) {
	tests := []struct {
		in      string
		want    Precision
		wantErr bool
	}{
		{"fp16", PrecisionFP16, false},
		{"FP32", PrecisionFP32, false},
		{"bfloat16", PrecisionBF16, false},
		{"bf16", PrecisionBF16, false},
		{"int8", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePrecision(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePrecision(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePrecision(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProblemValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       ProblemDescriptor
		wantErr bool
	}{
		{"valid", ProblemDescriptor{Size: 16, Precision: PrecisionFP32}, false},
		{"zero size", ProblemDescriptor{Size: 0, Precision: PrecisionFP32}, true},
		{"bad precision", ProblemDescriptor{Size: 4, Precision: "fp64"}, true},
		{"negative depth", ProblemDescriptor{Size: 4, Precision: PrecisionFP16, Depth: -1}, true},
		{"negative memory", ProblemDescriptor{Size: 4, Precision: PrecisionFP16, MemoryRequiredMB: -1}, true},
		{"negative shard", ProblemDescriptor{Size: 4, Precision: PrecisionFP16, Sharded: true, ShardID: -2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidProblem) {
				t.Errorf("error %v does not wrap ErrInvalidProblem", err)
			}
		})
	}
}

func TestForShardScalesSizeAndMemory(t *testing.T) {
	p := ProblemDescriptor{Size: 100, Precision: PrecisionFP32, Depth: 3, MemoryRequiredMB: 1000}

	shard := p.ForShard(2, 3, 10)
	if !shard.Sharded || shard.ShardID != 2 {
		t.Errorf("shard identity = (%v, %d), want (true, 2)", shard.Sharded, shard.ShardID)
	}
	if shard.Size != 30 {
		t.Errorf("Size = %d, want 30", shard.Size)
	}
	if shard.MemoryRequiredMB != 300 {
		t.Errorf("MemoryRequiredMB = %d, want 300", shard.MemoryRequiredMB)
	}
	if shard.Depth != 3 || shard.Precision != PrecisionFP32 {
		t.Errorf("depth/precision not carried over: %+v", shard)
	}
	if p.Sharded || p.Size != 100 {
		t.Errorf("original descriptor changed: %+v", p)
	}
}

func TestPayloadCloneIsDeep(t *testing.T) {
	p := Payload{
		Rows:    [][]float32{{1, 2}, {3}},
		Circuit: &Circuit{Qubits: 2, Ops: []Op{{Name: "cx", Qubits: []int{0, 1}}}},
		Shots:   10,
	}
	c := p.Clone()
	c.Rows[0][0] = 99
	c.Circuit.Ops[0].Qubits[0] = 7

	if p.Rows[0][0] != 1 {
		t.Error("Clone shares row storage")
	}
	if p.Circuit.Ops[0].Qubits[0] != 0 {
		t.Error("Clone shares circuit storage")
	}
	if !p.Circuit.Equal(Circuit{Qubits: 2, Ops: []Op{{Name: "cx", Qubits: []int{0, 1}}}}) {
		t.Error("original circuit changed")
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusOpen, StatusComplete, true},
		{StatusOpen, StatusTimedOut, true},
		{StatusOpen, StatusAborted, true},
		{StatusComplete, StatusDelivered, true},
		{StatusOpen, StatusDelivered, false},
		{StatusComplete, StatusTimedOut, false},
		{StatusDelivered, StatusOpen, false},
		{StatusTimedOut, StatusComplete, false},
		{StatusAborted, StatusComplete, false},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
	if err := CheckTransition(StatusDelivered, StatusOpen); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("CheckTransition error = %v, want ErrInvalidTransition", err)
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []string{StatusDelivered, StatusTimedOut, StatusAborted} {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%q) = false, want true", s)
		}
	}
	for _, s := range []string{StatusOpen, StatusComplete} {
		if IsTerminal(s) {
			t.Errorf("IsTerminal(%q) = true, want false", s)
		}
	}
}

func TestKindOf(t *testing.T) {
	base := errors.New("boom")
	f := NewFailure(KindResourceExhausted, "co_processor", base)

	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q, want empty", got)
	}
	if got := KindOf(f); got != KindResourceExhausted {
		t.Errorf("KindOf(failure) = %q, want %q", got, KindResourceExhausted)
	}
	if got := KindOf(fmt.Errorf("wrapped: %w", f)); got != KindResourceExhausted {
		t.Errorf("KindOf(wrapped) = %q, want %q", got, KindResourceExhausted)
	}
	if got := KindOf(base); got != KindComputeError {
		t.Errorf("KindOf(plain) = %q, want %q", got, KindComputeError)
	}
	if !errors.Is(f, base) {
		t.Error("Failure does not unwrap to its cause")
	}
}

func TestFailureErrorString(t *testing.T) {
	f := NewFailure(KindComputeError, "wide_vector", errors.New("nan")).WithShard(3)
	want := "compute_error on wide_vector (shard 3): nan"
	if f.Error() != want {
		t.Errorf("Error() = %q, want %q", f.Error(), want)
	}
}
