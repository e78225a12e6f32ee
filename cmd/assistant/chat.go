package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petasbytes/go-assistant/internal/runner"
	"github.com/petasbytes/go-assistant/memory"
)

const (
	youPrompt      = "\u001b[94mYou\u001b[0m: "
	assistantLabel = "\u001b[93mAssistant\u001b[0m: "
	resetCommand   = "/reset"
)

func newChatCmd() *cobra.Command {
	var (
		stream      bool
		sessionPath string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer func() { _ = a.log.Sync() }()
			if sessionPath == "" {
				sessionPath = a.cfg.Session.Path
			}
			sess, err := memory.LoadSession(sessionPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load session: %v\n", err)
			}
			c := &chatLoop{
				chat:   a.runner,
				stream: stream,
				path:   sessionPath,
				sess:   sess,
				out:    cmd.OutOrStdout(),
				errOut: cmd.ErrOrStderr(),
			}
			return c.run(cmd.Context(), cmd.InOrStdin())
		},
	}
	cmd.Flags().BoolVar(&stream, "stream", false, "print the reply as it is generated")
	cmd.Flags().StringVar(&sessionPath, "session", "", "session file (default from config)")
	return cmd
}

// conversation is the part of *runner.Runner the REPL drives.
type conversation interface {
	Execute(ctx context.Context, message, threadID string) (runner.Reply, error)
	ExecuteStreaming(ctx context.Context, message, threadID string) (*runner.Stream, string)
}

// chatLoop is the terminal REPL. The thread id is persisted after every turn
// so the next invocation continues the same thread.
type chatLoop struct {
	chat   conversation
	stream bool
	path   string
	sess   memory.Session
	out    io.Writer
	errOut io.Writer
}

func (c *chatLoop) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(c.out, "Chat with the assistant (Ctrl-C to quit, /reset for a new thread)")
	if c.sess.ThreadID != "" {
		fmt.Fprintf(c.out, "Continuing thread %s\n", c.sess.ThreadID)
	}

	scanner := bufio.NewScanner(in)
	inputCh := make(chan string)
	go func() {
		defer close(inputCh)
		for scanner.Scan() {
			select {
			case inputCh <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, youPrompt)
		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out, "\nExiting...")
			return nil
		case line, ok = <-inputCh:
			if !ok {
				fmt.Fprintln(c.out)
				if err := scanner.Err(); err != nil {
					fmt.Fprintf(c.errOut, "warning: stdin read error: %v\n", err)
				}
				return nil
			}
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case resetCommand:
			c.sess.Reset()
			c.save()
			fmt.Fprintln(c.out, "Started a new thread.")
			continue
		}

		reply, threadID, err := c.turn(ctx, line)
		if threadID != "" {
			c.sess.ThreadID = threadID
		}
		if err != nil {
			fmt.Fprintf(c.errOut, "error: %v\n", err)
			c.save()
			continue
		}
		c.sess.Append("user", line)
		if strings.TrimSpace(reply) != "" {
			c.sess.Append("assistant", reply)
		}
		c.save()
	}
}

// turn runs one message and prints the reply. It returns the full reply and
// the thread id the run used.
func (c *chatLoop) turn(ctx context.Context, line string) (string, string, error) {
	if !c.stream {
		reply, err := c.chat.Execute(ctx, line, c.sess.ThreadID)
		if err != nil {
			return "", reply.ThreadID, err
		}
		fmt.Fprintf(c.out, "%s%s\n", assistantLabel, reply.Text)
		return reply.Text, reply.ThreadID, nil
	}

	s, threadID := c.chat.ExecuteStreaming(ctx, line, c.sess.ThreadID)
	defer s.Close()
	var b strings.Builder
	fmt.Fprint(c.out, assistantLabel)
	for {
		text, ok := s.Next(ctx)
		if !ok {
			break
		}
		b.WriteString(text)
		fmt.Fprint(c.out, text)
	}
	fmt.Fprintln(c.out)
	if id := s.ThreadID(); id != "" {
		threadID = id
	}
	return b.String(), threadID, s.Err()
}

func (c *chatLoop) save() {
	if c.path == "" {
		return
	}
	if err := memory.SaveSession(c.path, c.sess); err != nil {
		fmt.Fprintf(c.errOut, "warning: failed to save session: %v\n", err)
	}
}
