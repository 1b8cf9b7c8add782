package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/porkytheblack/glove-sub003/internal/config"
	"github.com/porkytheblack/glove-sub003/pkg/agent"
	"github.com/porkytheblack/glove-sub003/pkg/display"
	"github.com/porkytheblack/glove-sub003/pkg/provider"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	chatSessionKey string
	chatNewSession bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start an interactive conversation with the agent. History is
persisted per session, so a later chat with the same session key picks
up where you left off. Press Ctrl+C to abort an in-flight turn.`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatSessionKey, "session", "", "session key (default from config)")
	chatCmd.Flags().BoolVar(&chatNewSession, "new", false, "start a fresh session with a generated key")
}

// consoleNotifier streams model output to the terminal as it arrives
type consoleNotifier struct {
	out io.Writer
}

func (n *consoleNotifier) Record(event string, data map[string]any) {
	switch event {
	case provider.EventTextDelta:
		if text, ok := data["text"].(string); ok {
			fmt.Fprint(n.out, text)
		}
	case provider.EventToolUse:
		if name, ok := data["name"].(string); ok {
			fmt.Fprintf(n.out, "\n[running tool: %s]\n", name)
		}
	case provider.EventModelResponseComplete:
		fmt.Fprintln(n.out)
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	sessionKey := chatSessionKey
	if chatNewSession {
		sessionKey, err = gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate session key: %w", err)
		}
	}
	if sessionKey == "" {
		sessionKey = cfg.Sessions.DefaultKey
	}

	out := cmd.OutOrStdout()
	rt, err := newRuntime(cfg, sessionKey, &consoleNotifier{out: out})
	if err != nil {
		return err
	}
	defer rt.Close()

	// Hot-reload the log level when the config file changes on disk.
	watcher, err := config.NewWatcher(config.WatcherConfig{
		Loader: config.NewLoader(cfgFile),
		OnReload: func(next *config.Config) {
			if level, err := zerolog.ParseLevel(next.Logging.Level); err == nil {
				zerolog.SetGlobalLevel(level)
			}
		},
	})
	if err == nil {
		if err := watcher.Start(); err == nil {
			defer watcher.Stop()
		}
	}

	// Question slots pushed by tools surface here; the REPL answers them
	// from stdin.
	questions := make(chan display.Slot, 8)
	rt.display.Subscribe(func(ev display.Event) {
		if ev.Type == "pushed" && ev.Slot.Renderer == "question" {
			select {
			case questions <- ev.Slot:
			default:
			}
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	fmt.Fprintf(out, "glove %s, session %q. Type a message, or /quit to exit.\n", version, sessionKey)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		if err := runTurn(cmd.Context(), rt, line, scanner, questions, sigCh, out); err != nil {
			if errors.Is(err, agent.ErrAborted) {
				fmt.Fprintln(out, "\n[aborted]")
				continue
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}

	return scanner.Err()
}

// runTurn drives one ProcessRequest, answering question slots and
// handling Ctrl+C while the turn is in flight.
func runTurn(ctx context.Context, rt *runtime, text string, scanner *bufio.Scanner, questions <-chan display.Slot, sigCh <-chan os.Signal, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Each submitted line gets its own request id so a retried submission
	// of the same turn is served from the queue's dedup cache.
	requestID, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate request id: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := rt.agent.ProcessRequestWithID(ctx, requestID, text)
		done <- err
	}()

	for {
		select {
		case err := <-done:
			// Streamed output already went through the notifier.
			return err

		case slot := <-questions:
			answerQuestion(rt, slot, scanner, out)

		case <-sigCh:
			rt.agent.Abort()
		}
	}
}

// answerQuestion prompts for and resolves one pending question slot
func answerQuestion(rt *runtime, slot display.Slot, scanner *bufio.Scanner, out io.Writer) {
	data, _ := slot.Data.(map[string]any)
	if question, ok := data["question"].(string); ok {
		fmt.Fprintf(out, "\n%s\n", question)
	}
	if options, ok := data["options"].([]any); ok && len(options) > 0 {
		for i, opt := range options {
			fmt.Fprintf(out, "  %d) %v\n", i+1, opt)
		}
	}

	fmt.Fprint(out, "answer> ")
	if !scanner.Scan() {
		return
	}
	rt.display.Resolve(slot.ID, strings.TrimSpace(scanner.Text()))
}
