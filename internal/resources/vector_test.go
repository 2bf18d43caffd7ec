package resources

import "testing"

func TestVectorArithmetic(t *testing.T) {
	a := Vector{CPUs: 10, Mem: 40, Disk: 0, GPUs: 0}
	b := Vector{CPUs: 4, Mem: 8, Disk: 1, GPUs: 0}

	if got := a.Add(b); got != (Vector{CPUs: 14, Mem: 48, Disk: 1, GPUs: 0}) {
		t.Fatalf("Add: got %v", got)
	}
	if got := a.Sub(b); got != (Vector{CPUs: 6, Mem: 32, Disk: -1, GPUs: 0}) {
		t.Fatalf("Sub: got %v", got)
	}
	if got := a.Scale(-1); got != (Vector{CPUs: -10, Mem: -40, Disk: 0, GPUs: 0}) {
		t.Fatalf("Scale: got %v", got)
	}
	if got := a.DivScalar(2); got != (Vector{CPUs: 5, Mem: 20, Disk: 0, GPUs: 0}) {
		t.Fatalf("DivScalar: got %v", got)
	}
	if got := (Vector{}).DivScalar(0); got != (Vector{}) {
		t.Fatalf("DivScalar by zero should not panic: got %v", got)
	}
}

func TestVectorPredicates(t *testing.T) {
	tests := []struct {
		name          string
		a, b          Vector
		allLE, allGE  bool
		anyGT, anyLT  bool
		anyLE         bool
	}{
		{
			name:  "equal vectors",
			a:     Vector{CPUs: 5, Mem: 5},
			b:     Vector{CPUs: 5, Mem: 5},
			allLE: true, allGE: true, anyGT: false, anyLT: false, anyLE: true,
		},
		{
			name:  "a strictly less",
			a:     Vector{CPUs: 1, Mem: 1},
			b:     Vector{CPUs: 5, Mem: 5},
			allLE: true, allGE: false, anyGT: false, anyLT: true, anyLE: true,
		},
		{
			name:  "mixed: cpus over, mem under",
			a:     Vector{CPUs: 10, Mem: 1},
			b:     Vector{CPUs: 5, Mem: 5},
			allLE: false, allGE: false, anyGT: true, anyLT: true, anyLE: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.AllLE(tt.b); got != tt.allLE {
				t.Errorf("AllLE = %v, want %v", got, tt.allLE)
			}
			if got := tt.a.AllGE(tt.b); got != tt.allGE {
				t.Errorf("AllGE = %v, want %v", got, tt.allGE)
			}
			if got := tt.a.AnyGT(tt.b); got != tt.anyGT {
				t.Errorf("AnyGT = %v, want %v", got, tt.anyGT)
			}
			if got := tt.a.AnyLT(tt.b); got != tt.anyLT {
				t.Errorf("AnyLT = %v, want %v", got, tt.anyLT)
			}
			if got := tt.a.AnyLE(tt.b); got != tt.anyLE {
				t.Errorf("AnyLE = %v, want %v", got, tt.anyLE)
			}
		})
	}
}

func TestVectorClamp(t *testing.T) {
	got := Vector{CPUs: 10, Mem: 2, Disk: 5, GPUs: 0}.Clamp(Vector{CPUs: 8, Mem: 8, Disk: 5, GPUs: -1})
	want := Vector{CPUs: 8, Mem: 2, Disk: 5, GPUs: -1}
	if got != want {
		t.Fatalf("Clamp: got %v, want %v", got, want)
	}
}

func TestSum(t *testing.T) {
	got := Sum(Vector{CPUs: 1}, Vector{CPUs: 2}, Vector{CPUs: 3})
	if got.CPUs != 6 {
		t.Fatalf("Sum: got %v", got)
	}
	if got := Sum(); !got.IsZero() {
		t.Fatalf("Sum of nothing should be zero, got %v", got)
	}
}
