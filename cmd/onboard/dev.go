package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c360/onboard/errors"
	"github.com/c360/onboard/runner"
)

// devReady writes the platform environment and blocks until the developer
// is done with the instance.
func devReady(cmd *cobra.Command, envPath string) runner.ReadyFunc {
	return func(ctx context.Context, instance string, envs map[string]string) error {
		out := cmd.OutOrStdout()
		if envs != nil {
			if err := os.WriteFile(envPath, []byte(formatEnvFile(envs)), 0o600); err != nil {
				return errors.WrapFatal(err, "component", "dev", "write "+envPath)
			}
			fmt.Fprintf(out, "Ready for component development\n\nSetup these environment variables. Run:\n\n    source %s\n\n", envPath)
		}
		fmt.Fprintf(out, "Instance name: %s\n\nPress <enter> to stop and remove the configuration\n", instance)
		return waitForEnter(ctx, cmd.InOrStdin())
	}
}

// formatEnvFile renders envs as sorted shell export lines.
func formatEnvFile(envs map[string]string) string {
	keys := make([]string, 0, len(envs))
	for k := range envs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%s\n", k, shellQuote(envs[k]))
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// waitForEnter returns when a line is read from in, in is exhausted, or ctx
// is done.
func waitForEnter(ctx context.Context, in io.Reader) error {
	done := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(in).ReadString('\n')
		if err == io.EOF {
			err = nil
		}
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}

// loadInputs reads a JSON object of deployment inputs. An empty path yields
// no inputs.
func loadInputs(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "component", "loadInputs", "read "+path)
	}
	var inputs map[string]any
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, errors.WrapInvalid(errors.Join(errors.ErrInputsValidation, err), "component", "loadInputs", "decode "+path)
	}
	return inputs, nil
}
