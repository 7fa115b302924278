package sink

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"notifyd/internal/config"
)

// execSender delivers notices by running a local binary.
// Params: binary path and fixed argument list from the command definition.
// Returns: sender for exec-type commands.
type execSender struct {
	binary string
	args   []string
}

// newExecSender builds an exec sender.
// Params: command definition carrying binary and args.
// Returns: sender instance.
func newExecSender(command config.CommandConfig) *execSender {
	return &execSender{binary: command.Binary, args: command.Args}
}

// Send runs the binary once for one recipient.
// Params: context, recipient address appended as the final argument, and
// rendered message exposed through NOTIFYD_* environment variables.
// Returns: start or non-zero-exit error including captured stderr.
func (s *execSender) Send(ctx context.Context, address string, msg Message) error {
	args := make([]string, 0, len(s.args)+1)
	args = append(args, s.args...)
	if address != "" {
		args = append(args, address)
	}

	cmd := exec.CommandContext(ctx, s.binary, args...)
	cmd.Env = append(cmd.Environ(),
		"NOTIFYD_NOTICE_ID="+strconv.FormatInt(msg.NoticeID, 10),
		"NOTIFYD_SUBJECT="+msg.Subject,
		"NOTIFYD_TEXT_MSG="+msg.TextMsg,
		"NOTIFYD_NUMERIC_MSG="+msg.NumericMsg,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return fmt.Errorf("run %q: %w: %s", s.binary, err, stderr.String())
		}
		return fmt.Errorf("run %q: %w", s.binary, err)
	}
	return nil
}
