package oracle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/errs"
)

// CredentialEnv carries the caller's token into the scorer process.
const CredentialEnv = "REGISTRY_AUTH_TOKEN"

// Error wraps scorer failures.
var Error = errs.Class("oracle")

// ExecOracle runs a scoring command per request with the URL as its last argument.
type ExecOracle struct {
	command string
	args    []string
	log     zerolog.Logger
}

// NewExecOracle parses commandLine ("python3 -m scorer --json") into a command and arguments.
func NewExecOracle(commandLine string, logger zerolog.Logger) (*ExecOracle, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, errors.New("rater command is required")
	}
	return &ExecOracle{
		command: fields[0],
		args:    fields[1:],
		log:     logger.With().Str("component", "oracle").Logger(),
	}, nil
}

// Rate runs the command and parses its output. The process is killed when
// ctx is done.
func (o *ExecOracle) Rate(ctx context.Context, url, credential string) (Rating, error) {
	args := append(append([]string{}, o.args...), url)
	cmd := exec.CommandContext(ctx, o.command, args...)
	cmd.Env = append(os.Environ(), CredentialEnv+"="+credential)
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Rating{}, Error.Wrap(fmt.Errorf("scorer interrupted after %s: %w", elapsed, ctxErr))
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Rating{}, Error.New("scorer exited with code %d: %s", exitErr.ExitCode(), tail(stderr.String(), 512))
		}
		return Rating{}, Error.Wrap(err)
	}

	rating, err := ParseRating(stdout.Bytes())
	if err != nil {
		return Rating{}, Error.Wrap(err)
	}

	o.log.Debug().Str("url", url).Dur("elapsed", elapsed).Float64("net_score", rating.NetScore).Msg("scored")
	return rating, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
