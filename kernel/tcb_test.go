package kernel

import (
	"testing"

	"go.uber.org/zap/zaptest"
)

func noopIdle() {}

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	return New(NewSimHardware(), zaptest.NewLogger(t))
}

func TestMultitaskRequestValidation(t *testing.T) {
	k := newTestKernel(t)
	if err := k.MultitaskRequest(0, 2048, noopIdle, MPUPerThread, 0); KindOf(err) != KindMultitaskRequestInvalidParams {
		t.Fatalf("numThreads=0: got %v, want invalid params", err)
	}
	if err := k.MultitaskRequest(MaxUserTasks+1, 2048, noopIdle, MPUPerThread, 0); KindOf(err) != KindMultitaskRequestInvalidParams {
		t.Fatalf("numThreads too large: got %v", err)
	}
	if err := k.MultitaskRequest(2, 2048, nil, MPUPerThread, 0); KindOf(err) != KindMultitaskRequestInvalidParams {
		t.Fatalf("nil idleFn: got %v", err)
	}
	if err := k.MultitaskRequest(2, 2048, noopIdle, MPUPerThread, 0); err != nil {
		t.Fatalf("valid request: unexpected error %v", err)
	}
	if err := k.MultitaskRequest(2, 2048, noopIdle, MPUPerThread, 0); KindOf(err) != KindMultitaskRequestRepeated {
		t.Fatalf("repeated request: got %v, want repeated", err)
	}
}

func TestThreadDefineAdmission(t *testing.T) {
	k := newTestKernel(t)
	if err := k.MultitaskRequest(4, 2048, noopIdle, MPUPerThread, 0); err != nil {
		t.Fatalf("multitask_request: %v", err)
	}

	// util(c=90,t=100) = 0.9 fits rmBound[1] == 1.0 on its own, but two
	// such tasks total 1.8, which exceeds rmBound[2] (~0.828).
	if err := k.ThreadDefine(0, noopIdle2, 0, 90, 100); err != nil {
		t.Fatalf("first thread_define: %v", err)
	}
	if err := k.ThreadDefine(1, noopIdle2, 0, 90, 100); KindOf(err) != KindThreadDefineUnsafeAdmission {
		t.Fatalf("second thread_define should fail admission: got %v", err)
	}
}

func noopIdle2(uint32) {}

func TestThreadDefineValidation(t *testing.T) {
	k := newTestKernel(t)
	if err := k.ThreadDefine(0, noopIdle2, 0, 10, 20); KindOf(err) != KindThreadDefineNoTCB {
		t.Fatalf("define before request: got %v", err)
	}
	if err := k.MultitaskRequest(2, 2048, noopIdle, MPUPerThread, 0); err != nil {
		t.Fatalf("multitask_request: %v", err)
	}
	if err := k.ThreadDefine(0, nil, 0, 10, 20); KindOf(err) != KindThreadDefineInvalidArgs {
		t.Fatalf("nil fn: got %v", err)
	}
	if err := k.ThreadDefine(0, noopIdle2, 0, 20, 10); KindOf(err) != KindThreadDefineInvalidArgs {
		t.Fatalf("c>t: got %v", err)
	}
	if err := k.ThreadDefine(0, noopIdle2, 0, 5, 50); err != nil {
		t.Fatalf("valid define: %v", err)
	}
	if err := k.ThreadDefine(0, noopIdle2, 0, 5, 50); KindOf(err) != KindThreadDefineDuplicate {
		t.Fatalf("duplicate id: got %v", err)
	}
}

func TestOrderAbsolutePrioritiesByPeriodThenID(t *testing.T) {
	k := newTestKernel(t)
	if err := k.MultitaskRequest(3, 2048, noopIdle, MPUPerThread, 0); err != nil {
		t.Fatalf("multitask_request: %v", err)
	}
	// id=7 has the shortest period, so it must rank 0 regardless of
	// definition order; id=3 and id=9 tie at t=50, broken by id.
	if err := k.ThreadDefine(9, noopIdle2, 0, 5, 50); err != nil {
		t.Fatal(err)
	}
	if err := k.ThreadDefine(7, noopIdle2, 0, 2, 10); err != nil {
		t.Fatal(err)
	}
	if err := k.ThreadDefine(3, noopIdle2, 0, 5, 50); err != nil {
		t.Fatal(err)
	}

	byID := make(map[int]*TCB)
	for i := 0; i < MaxUserTasks; i++ {
		if k.tasks[i].state != Defunct {
			byID[k.tasks[i].id] = &k.tasks[i]
		}
	}
	if byID[7].staticPriority != 0 {
		t.Fatalf("id=7 (t=10) should be rank 0, got %d", byID[7].staticPriority)
	}
	if byID[3].staticPriority != 1 || byID[9].staticPriority != 2 {
		t.Fatalf("tie at t=50 should break by id: id=3 rank %d, id=9 rank %d", byID[3].staticPriority, byID[9].staticPriority)
	}
}
