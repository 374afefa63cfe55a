package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/banterlabs/troupe/internal/conductor"
	"github.com/banterlabs/troupe/internal/config"
)

// CommandGenerator builds a conductor.Generator that shells out to the
// configured command. The conversation context is written to the command's
// stdin as JSON; its stdout, trimmed, becomes the response text.
func CommandGenerator(cfg config.GeneratorConfig) (conductor.Generator, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("bot: generator command is required")
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return func(ctx context.Context, convo conductor.ConversationContext) (string, error) {
		input, err := json.Marshal(convo)
		if err != nil {
			return "", fmt.Errorf("bot: marshal context: %w", err)
		}

		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(runCtx, "sh", "-c", cfg.Command)
		cmd.Stdin = bytes.NewReader(input)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			if runCtx.Err() == context.DeadlineExceeded {
				return "", fmt.Errorf("bot: generator timed out after %s", timeout)
			}
			return "", fmt.Errorf("bot: generator: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
		}

		text := strings.TrimSpace(stdout.String())
		if text == "" {
			return "", fmt.Errorf("bot: generator produced no output")
		}
		return text, nil
	}, nil
}
