package action

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/soochol/stagecond/internal/stagecond"
)

// maxOutputSize caps captured stdout/stderr.
const maxOutputSize = 100 * 1024 // 100 KB

const resultMarker = "__STAGECOND_RESULT__"

// harness runs main() or main(context) and prints the result after the marker.
const harnessTemplate = `

import json as _sc_json
import sys as _sc_sys

_sc_context = _sc_json.loads(_sc_sys.stdin.read() or "{}")
_sc_result = %s
_sc_sys.stdout.flush()
print()
print(%q)
print(_sc_json.dumps(_sc_result, default=str))
`

// PythonExecutor runs a script's main function with the trigger context.
type PythonExecutor struct {
	deps Deps
}

func (p *PythonExecutor) Type() stagecond.ActionType { return stagecond.ActionTypePython }

func (p *PythonExecutor) Execute(ctx context.Context, inv Invocation) (map[string]any, error) {
	src := sourceCode(inv.Config)
	if src == "" {
		return nil, fmt.Errorf("python: source code is required")
	}
	m := mainFuncPattern.FindStringSubmatch(src)
	if m == nil {
		return nil, fmt.Errorf("python: source code must contain a 'main' function definition")
	}
	call := "main()"
	if strings.TrimSpace(m[1]) != "" {
		call = "main(_sc_context)"
	}

	tmpFile, err := os.CreateTemp("", "stagecond-python-*.py")
	if err != nil {
		return nil, fmt.Errorf("python: create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(src + fmt.Sprintf(harnessTemplate, call, resultMarker)); err != nil {
		tmpFile.Close()
		return nil, fmt.Errorf("python: write script: %w", err)
	}
	tmpFile.Close()

	input, err := json.Marshal(inv.Data)
	if err != nil {
		return nil, fmt.Errorf("python: encode context: %w", err)
	}

	timeout := p.deps.PythonTimeout
	if secs, ok := durationSeconds(inv.Config["timeoutSeconds"]); ok {
		timeout = time.Duration(secs * float64(time.Second))
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, p.deps.PythonBin, tmpFile.Name())
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	logs, result := splitResult(stdout.String())
	out := map[string]any{
		"stdout":   truncate(logs),
		"stderr":   truncate(stderr.String()),
		"exitCode": 0,
	}

	if runErr != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return out, fmt.Errorf("python: timeout after %s", timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			out["exitCode"] = exitErr.ExitCode()
			return out, fmt.Errorf("python: script exited with code %d: %s", exitErr.ExitCode(), lastLine(stderr.String()))
		}
		return out, fmt.Errorf("python: run %s: %w", p.deps.PythonBin, runErr)
	}

	if result != "" {
		var decoded any
		if err := json.Unmarshal([]byte(result), &decoded); err == nil {
			out["result"] = decoded
		} else {
			out["result"] = result
		}
	}
	p.deps.Logger.Debug("python action finished", "bytes_out", stdout.Len())
	return out, nil
}

// splitResult separates script output from the harness result line.
func splitResult(stdout string) (logs, result string) {
	idx := strings.LastIndex(stdout, resultMarker)
	if idx < 0 {
		return stdout, ""
	}
	logs = strings.TrimRight(stdout[:idx], "\n")
	result = strings.TrimSpace(stdout[idx+len(resultMarker):])
	return logs, result
}

func truncate(s string) string {
	if len(s) > maxOutputSize {
		return s[:maxOutputSize] + "\n... [truncated at 100KB]"
	}
	return s
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}
