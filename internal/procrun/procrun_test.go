package procrun

import (
	"context"
	"testing"
)

func TestSystemRunsSuccessfully(t *testing.T) {
	res, err := System(context.Background(), []string{"true"})
	if err != nil {
		t.Fatalf("System: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", res.ExitCode)
	}
}

func TestSystemNonZeroExit(t *testing.T) {
	res, err := System(context.Background(), []string{"false"})
	if err != nil {
		t.Fatalf("System should not return an error for a clean non-zero exit: %v", err)
	}
	if res.ExitCode == 0 {
		t.Errorf("expected non-zero exit code")
	}
}

func TestSystemExecFailure(t *testing.T) {
	_, err := System(context.Background(), []string{"/no/such/binary-aept-test"})
	if err == nil {
		t.Fatal("expected an error when the binary does not exist")
	}
}

func TestSystemOfflineRootNoOffline(t *testing.T) {
	res, err := SystemOfflineRoot(context.Background(), []string{"true"}, "")
	if err != nil {
		t.Fatalf("SystemOfflineRoot with empty root: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", res.ExitCode)
	}
}
