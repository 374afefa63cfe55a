package bot

import (
	"context"
	"strings"
	"testing"

	"github.com/banterlabs/troupe/internal/conductor"
	"github.com/banterlabs/troupe/internal/config"
)

func TestCommandGenerator_RequiresCommand(t *testing.T) {
	_, err := CommandGenerator(config.GeneratorConfig{})
	if err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestCommandGenerator_PipesContext(t *testing.T) {
	gen, err := CommandGenerator(config.GeneratorConfig{
		Command:    `cat`,
		TimeoutSec: 5,
	})
	if err != nil {
		t.Fatalf("build generator: %v", err)
	}

	convo := conductor.ConversationContext{
		Messages: []conductor.ContextMessage{{AuthorName: "alice", Text: "hi"}},
	}
	out, err := gen(context.Background(), convo)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	// cat echoes the JSON context back.
	if !strings.Contains(out, `"alice"`) {
		t.Errorf("output = %q, want the JSON context", out)
	}
}

func TestCommandGenerator_TrimsOutput(t *testing.T) {
	gen, err := CommandGenerator(config.GeneratorConfig{Command: `echo "  hello  "`})
	if err != nil {
		t.Fatalf("build generator: %v", err)
	}
	out, err := gen(context.Background(), conductor.ConversationContext{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "hello" {
		t.Errorf("output = %q, want hello", out)
	}
}

func TestCommandGenerator_CommandFailure(t *testing.T) {
	gen, err := CommandGenerator(config.GeneratorConfig{Command: `echo "boom" >&2; exit 3`})
	if err != nil {
		t.Fatalf("build generator: %v", err)
	}
	_, err = gen(context.Background(), conductor.ConversationContext{})
	if err == nil {
		t.Fatal("expected error for failing command")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error = %q, want to include stderr", err.Error())
	}
}

func TestCommandGenerator_EmptyOutput(t *testing.T) {
	gen, err := CommandGenerator(config.GeneratorConfig{Command: `true`})
	if err != nil {
		t.Fatalf("build generator: %v", err)
	}
	_, err = gen(context.Background(), conductor.ConversationContext{})
	if err == nil {
		t.Fatal("expected error for empty output")
	}
}

func TestCommandGenerator_Timeout(t *testing.T) {
	gen, err := CommandGenerator(config.GeneratorConfig{Command: `sleep 10`, TimeoutSec: 1})
	if err != nil {
		t.Fatalf("build generator: %v", err)
	}
	_, err = gen(context.Background(), conductor.ConversationContext{})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error = %q, want timeout", err.Error())
	}
}
