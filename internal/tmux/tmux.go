// Package tmux runs worker processes in tmux panes.
//
// Teamwork uses its own tmux socket so that worker sessions never mix with
// the user's own tmux server. [Client] wraps the tmux commands teamwork
// needs, and [Spawner] implements the scaling spawner port on top of it.
package tmux

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/Iron-Ham/teamwork/internal/util"
)

// DefaultSocket is the tmux socket name used when none is configured.
const DefaultSocket = "teamwork"

// CommandContextWithSocket creates a context-aware exec.Cmd with a custom socket.
func CommandContextWithSocket(ctx context.Context, socket string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, "tmux", CommandArgsWithSocket(socket, args...)...)
}

// CommandArgsWithSocket returns tmux arguments with a custom socket name.
func CommandArgsWithSocket(socket string, args ...string) []string {
	return append([]string{"-L", socket}, args...)
}

// runFunc executes one tmux command and returns its stdout.
type runFunc func(ctx context.Context, args ...string) ([]byte, error)

// Client issues tmux commands on one socket.
type Client struct {
	socket string
	run    runFunc
}

// NewClient returns a Client for socket. An empty socket uses DefaultSocket.
func NewClient(socket string) *Client {
	if socket == "" {
		socket = DefaultSocket
	}
	c := &Client{socket: socket}
	c.run = c.exec
	return c
}

// Socket returns the socket name.
func (c *Client) Socket() string { return c.socket }

func (c *Client) exec(ctx context.Context, args ...string) ([]byte, error) {
	cmd := CommandContextWithSocket(ctx, c.socket, args...)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return out, fmt.Errorf("tmux %s: %s", args[0], strings.TrimSpace(string(ee.Stderr)))
		}
		return out, fmt.Errorf("tmux %s: %w", args[0], err)
	}
	return out, nil
}

// SendText types text into a pane as literal input and then presses Enter
// in a separate call, so the text itself can never act as a key binding.
func (c *Client) SendText(ctx context.Context, paneID, text string) error {
	text = util.SanitizeLiteral(text)
	if text == "" {
		return fmt.Errorf("nothing to send to pane %s", paneID)
	}
	if _, err := c.run(ctx, "send-keys", "-t", paneID, "-l", text); err != nil {
		return err
	}
	return c.SendKey(ctx, paneID, "Enter")
}

// SendKey sends a single named key such as Enter or C-c.
func (c *Client) SendKey(ctx context.Context, paneID, key string) error {
	_, err := c.run(ctx, "send-keys", "-t", paneID, key)
	return err
}

// HasSession reports whether session exists on the socket.
func (c *Client) HasSession(ctx context.Context, session string) bool {
	_, err := c.run(ctx, "has-session", "-t", "="+session)
	return err == nil
}

// PaneSpec describes a new pane.
type PaneSpec struct {
	Session string
	Name    string
	Cwd     string
	Env     map[string]string
	Command []string
}

// NewPane starts spec.Command in a new window of spec.Session, creating the
// session if needed, and returns the pane id and the pid of its process.
func (c *Client) NewPane(ctx context.Context, spec PaneSpec) (string, int, error) {
	var args []string
	if c.HasSession(ctx, spec.Session) {
		args = []string{"new-window", "-d", "-t", "=" + spec.Session}
	} else {
		args = []string{"new-session", "-d", "-s", spec.Session}
	}
	args = append(args, "-P", "-F", "#{pane_id} #{pane_pid}")
	if spec.Name != "" {
		args = append(args, "-n", spec.Name)
	}
	if spec.Cwd != "" {
		args = append(args, "-c", spec.Cwd)
	}
	for _, k := range sortedKeys(spec.Env) {
		args = append(args, "-e", k+"="+spec.Env[k])
	}
	args = append(args, spec.Command...)

	out, err := c.run(ctx, args...)
	if err != nil {
		return "", 0, err
	}
	return parsePaneInfo(string(out))
}

func parsePaneInfo(out string) (string, int, error) {
	fields := strings.Fields(out)
	if len(fields) != 2 || !strings.HasPrefix(fields[0], "%") {
		return "", 0, fmt.Errorf("unexpected tmux pane info %q", strings.TrimSpace(out))
	}
	pid, err := strconv.Atoi(fields[1])
	if err != nil {
		return "", 0, fmt.Errorf("unexpected tmux pane pid %q", fields[1])
	}
	return fields[0], pid, nil
}

// PaneAlive reports whether the pane exists and its process has not exited.
func (c *Client) PaneAlive(ctx context.Context, paneID string) bool {
	out, err := c.run(ctx, "display-message", "-p", "-t", paneID, "#{pane_dead}")
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "0"
}

// PanePID returns the pid of the pane's process, or 0 if unknown.
func (c *Client) PanePID(ctx context.Context, paneID string) int {
	out, err := c.run(ctx, "display-message", "-p", "-t", paneID, "#{pane_pid}")
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0
	}
	return pid
}

// CapturePane returns the visible content of a pane without escape codes.
func (c *Client) CapturePane(ctx context.Context, paneID string) (string, error) {
	out, err := c.run(ctx, "capture-pane", "-p", "-t", paneID)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// KillPane destroys a pane. A pane that no longer exists is not an error.
func (c *Client) KillPane(ctx context.Context, paneID string) error {
	if _, err := c.run(ctx, "kill-pane", "-t", paneID); err != nil {
		if strings.Contains(err.Error(), "can't find pane") {
			return nil
		}
		return err
	}
	return nil
}
