package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/postaworks/posta/internal/config"
)

func TestAddAccountValidatesExpression(t *testing.T) {
	s := New(func(context.Context, string) error { return nil }, nil)

	if err := s.AddAccount("a1", "0 */6 * * *"); err != nil {
		t.Fatalf("valid expression rejected: %v", err)
	}
	if !s.IsScheduled("a1") {
		t.Error("account not scheduled after AddAccount")
	}
	if err := s.AddAccount("a2", "not a cron line"); err == nil {
		t.Error("invalid expression accepted")
	}
}

func TestAddAccountReplacesSchedule(t *testing.T) {
	s := New(func(context.Context, string) error { return nil }, nil)

	if err := s.AddAccount("a1", "0 * * * *"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddAccount("a1", "30 * * * *"); err != nil {
		t.Fatal(err)
	}

	statuses := s.Status()
	if len(statuses) != 1 {
		t.Fatalf("got %d schedules, want 1", len(statuses))
	}
	if statuses[0].Schedule != "30 * * * *" {
		t.Errorf("schedule = %q, want replacement", statuses[0].Schedule)
	}
}

func TestAddAccountsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Accounts = []config.AccountSchedule{
		{AccountID: "a1", Schedule: "0 */6 * * *", Enabled: true},
		{AccountID: "a2", Schedule: "bogus", Enabled: true},
		{AccountID: "a3", Schedule: "0 0 * * *", Enabled: false},
	}

	s := New(func(context.Context, string) error { return nil }, nil)
	n, errs := s.AddAccountsFromConfig(cfg)

	if n != 1 {
		t.Errorf("scheduled = %d, want 1", n)
	}
	if len(errs) != 1 {
		t.Errorf("errors = %v, want one for the bogus expression", errs)
	}
	if s.IsScheduled("a3") {
		t.Error("disabled account was scheduled")
	}
}

func TestTriggerRefreshRuns(t *testing.T) {
	var runs atomic.Int64
	s := New(func(_ context.Context, accountID string) error {
		if accountID != "a1" {
			t.Errorf("refresh for %q, want a1", accountID)
		}
		runs.Add(1)
		return nil
	}, nil)
	if err := s.AddAccount("a1", "0 0 * * *"); err != nil {
		t.Fatal(err)
	}
	s.Start()

	if err := s.TriggerRefresh("a1"); err != nil {
		t.Fatalf("TriggerRefresh: %v", err)
	}
	<-s.Stop().Done()

	if runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", runs.Load())
	}
	for _, st := range s.Status() {
		if st.LastRun.IsZero() {
			t.Error("LastRun not recorded after successful refresh")
		}
	}
}

func TestTriggerRefreshUnknownAccount(t *testing.T) {
	s := New(func(context.Context, string) error { return nil }, nil)
	if err := s.TriggerRefresh("nobody"); err == nil {
		t.Error("expected error for unscheduled account")
	}
}

func TestTriggerRefreshWhileRunning(t *testing.T) {
	release := make(chan struct{})
	s := New(func(context.Context, string) error {
		<-release
		return nil
	}, nil)
	if err := s.AddAccount("a1", "0 0 * * *"); err != nil {
		t.Fatal(err)
	}

	if err := s.TriggerRefresh("a1"); err != nil {
		t.Fatal(err)
	}
	if err := s.TriggerRefresh("a1"); err == nil {
		t.Error("overlapping refresh accepted")
	}
	close(release)
	<-s.Stop().Done()
}

func TestRefreshErrorRecorded(t *testing.T) {
	s := New(func(context.Context, string) error {
		return errors.New("refresh exploded")
	}, nil)
	if err := s.AddAccount("a1", "0 0 * * *"); err != nil {
		t.Fatal(err)
	}

	if err := s.TriggerRefresh("a1"); err != nil {
		t.Fatal(err)
	}
	<-s.Stop().Done()

	statuses := s.Status()
	if len(statuses) != 1 || statuses[0].LastError == "" {
		t.Errorf("LastError not recorded: %+v", statuses)
	}
}

func TestStopRejectsNewWork(t *testing.T) {
	s := New(func(context.Context, string) error { return nil }, nil)
	if err := s.AddAccount("a1", "0 0 * * *"); err != nil {
		t.Fatal(err)
	}
	s.Start()

	stopCtx := s.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Stop never drained")
	}

	if err := s.TriggerRefresh("a1"); err == nil {
		t.Error("TriggerRefresh accepted after Stop")
	}
}

func TestValidateCronExpr(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 */6 * * *", false},
		{"*/15 * * * *", false},
		{"0 0 * * 0", false},
		{"", true},
		{"61 * * * *", true},
		{"0 0 * *", true},
	}
	for _, tt := range tests {
		err := ValidateCronExpr(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateCronExpr(%q) = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}
