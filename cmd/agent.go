package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lynassistant/lyn/internal/agent"
	"github.com/lynassistant/lyn/internal/dependency"
	"github.com/lynassistant/lyn/internal/schema"
	"github.com/lynassistant/lyn/internal/shared/cmdutils"
)

var (
	agentMessage string
	agentStream  bool
	agentLogs    bool
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Interact with the assistant",
	RunE:  runAgent,
}

func init() {
	agentCmd.Flags().StringVarP(&agentMessage, "message", "m", "", "Send a single message and exit")
	agentCmd.Flags().BoolVar(&agentStream, "stream", false, "Stream the answer without tools")
	agentCmd.Flags().BoolVar(&agentLogs, "logs", false, "Show runtime logs")
}

var exitCommands = map[string]bool{
	"exit":  true,
	"quit":  true,
	"/exit": true,
	"/quit": true,
	":q":    true,
}

// replHistory bounds the conversation carried between REPL turns.
const replHistory = 10

func runAgent(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg, !agentLogs); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := dependency.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = container.Close(cctx)
	}()

	out := cmd.OutOrStdout()
	engine := container.Engine()
	if agentMessage != "" {
		_, err := turn(ctx, out, engine, agent.Request{Prompt: agentMessage})
		return err
	}
	return runInteractive(ctx, cmd.InOrStdin(), out, engine)
}

// turn runs one request and prints the reply, streaming when requested.
func turn(ctx context.Context, out io.Writer, engine *agent.Engine, req agent.Request) (string, error) {
	if !agentStream {
		fmt.Fprintf(os.Stderr, "  ↳ thinking...\n")
		res, err := engine.Run(ctx, req)
		if err != nil {
			return "", err
		}
		cmdutils.PrintResponse(out, res.Answer)
		return res.Answer, nil
	}

	seq, err := engine.RunStream(ctx, req)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(out, "\n%s lyn\n", cmdutils.Logo)
	for chunk, err := range seq {
		if err != nil {
			fmt.Fprintln(out)
			return "", err
		}
		sb.WriteString(chunk)
		fmt.Fprint(out, chunk)
	}
	fmt.Fprint(out, "\n\n")
	return sb.String(), nil
}

// runInteractive reads prompts line by line until EOF, an exit command or
// ctx is cancelled. Prior turns are passed back as history.
func runInteractive(ctx context.Context, in io.Reader, out io.Writer, engine *agent.Engine) error {
	fmt.Fprintf(out, "%s Interactive mode (type 'exit' or Ctrl+C to quit)\n\n", cmdutils.Logo)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	history := schema.NewMessages()
	for {
		fmt.Fprint(out, "You: ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\nGoodbye!")
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out, "\nGoodbye!")
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}
		if exitCommands[strings.ToLower(line)] {
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}

		reply, err := turn(ctx, out, engine, agent.Request{Prompt: line, History: history.Clone()})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
			continue
		}
		history.AddUser(line)
		history.AddAssistant(reply)
		if n := history.Len(); n > replHistory {
			history.Messages = history.Messages[n-replHistory:]
		}
	}
}
