package cli

import (
	"context"
	"strings"
	"testing"
)

func TestTriggerRejectsUnknownJob(t *testing.T) {
	c, err := NewJobsCLI("127.0.0.1:6379")
	if err != nil {
		t.Fatalf("new jobs cli: %v", err)
	}
	defer func() { _ = c.Close() }()

	_, err = c.Trigger(context.Background(), "reports:nightly")
	if err == nil {
		t.Fatal("expected error for unsupported job")
	}
	if !strings.Contains(err.Error(), "unsupported job") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTriggerRequiresClient(t *testing.T) {
	var c *JobsCLI
	if _, err := c.Trigger(context.Background(), "sessions:cleanup"); err == nil {
		t.Fatal("expected error from nil cli")
	}
}
