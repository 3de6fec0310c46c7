package executor

import (
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/parallex/htexec/provider"
	"github.com/parallex/htexec/provider/providermock"
)

func TestScaleOutAppendsTrackedBlocks(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	driver := providermock.NewMockDriver(ctrl)
	driver.EXPECT().Submit().Return("b-1", nil)
	driver.EXPECT().Submit().Return("b-2", nil)

	ex := &Executor{cfg: Config{Provider: driver}}
	if err := ex.ScaleOut(2); err != nil {
		t.Fatalf("ScaleOut(2): unexpected error: %v", err)
	}
	if len(ex.blocks) != 2 || ex.blocks[0].ID != "b-1" || ex.blocks[1].ID != "b-2" {
		t.Fatalf("unexpected tracked blocks: %+v", ex.blocks)
	}
}

func TestScaleOutWrapsScalingFailed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	driver := providermock.NewMockDriver(ctrl)
	driver.EXPECT().Submit().Return("", errors.New("boom"))

	ex := &Executor{cfg: Config{Provider: driver}}
	if err := ex.ScaleOut(1); err == nil {
		t.Fatal("ScaleOut(1): expected error")
	}
}

func TestScaleInCancelsOldestFirst(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	driver := providermock.NewMockDriver(ctrl)
	ex := &Executor{cfg: Config{Provider: driver}}
	now := time.Now()
	ex.blocks = []BlockStatus{
		{ID: "newest", State: provider.StateRunning, SubmittedAt: now.Add(2 * time.Second)},
		{ID: "oldest", State: provider.StateRunning, SubmittedAt: now},
		{ID: "middle", State: provider.StateRunning, SubmittedAt: now.Add(1 * time.Second)},
	}

	var cancelled []string
	driver.EXPECT().Cancel(gomock.Any()).DoAndReturn(func(id string) error {
		cancelled = append(cancelled, id)
		return nil
	}).Times(2)

	if err := ex.ScaleIn(2); err != nil {
		t.Fatalf("ScaleIn(2): unexpected error: %v", err)
	}
	if len(cancelled) != 2 || cancelled[0] != "oldest" || cancelled[1] != "middle" {
		t.Fatalf("expected oldest-first cancellation, got %v", cancelled)
	}
}

func TestScaleInSkipsAlreadyTerminalBlocks(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	driver := providermock.NewMockDriver(ctrl)
	ex := &Executor{cfg: Config{Provider: driver}}
	now := time.Now()
	ex.blocks = []BlockStatus{
		{ID: "already-cancelled", State: provider.StateCancelled, SubmittedAt: now},
		{ID: "running", State: provider.StateRunning, SubmittedAt: now.Add(time.Second)},
	}

	driver.EXPECT().Cancel("running").Return(nil)

	if err := ex.ScaleIn(1); err != nil {
		t.Fatalf("ScaleIn(1): unexpected error: %v", err)
	}
}
