package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/Abraxas-365/convo/dialog"
	"github.com/Abraxas-365/convo/dialog/convmanager"
	"github.com/Abraxas-365/convo/dialog/dialogexec"
	"github.com/Abraxas-365/convo/dialog/dialoginfra"
	"github.com/Abraxas-365/convo/dialog/flowstore"
	"github.com/Abraxas-365/convo/dialog/instrexec"
	"github.com/Abraxas-365/convo/dialog/promptexec"
	"github.com/Abraxas-365/convo/pkg/kernel"
	"github.com/spf13/cobra"
)

var (
	defaultFlow string
	showState   bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <flow-dir>",
	Short: "Chat with the flows of a directory",
	Long: `Simulate runs an interactive conversation against the flows of flow-dir
with in-memory state. Every line read is one text event.

Commands:
  /timeout   run the timeout turn
  /jump <flow> [node]
  /state     print the dialog context
  /reset     forget the conversation
  /quit
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSimulate(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), args[0])
	},
}

func init() {
	simulateCmd.Flags().StringVar(&defaultFlow, "default-flow", "main.flow.json", "Flow started for new conversations")
	simulateCmd.Flags().BoolVar(&showState, "show-state", false, "Print flow/node after every turn")
}

type simulator struct {
	manager *convmanager.Manager
	key     kernel.ConversationKey
	out     io.Writer
}

func newSimulator(dir string, out io.Writer) *simulator {
	// the directory is served as the flows of a single bot
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	botID := kernel.NewBotID(filepath.Base(abs))
	source := dialoginfra.NewFileFlowSource(filepath.Dir(abs))

	instructions := instrexec.NewProcessor()
	prompts := promptexec.NewProcessor(promptexec.Config{})
	flows := flowstore.NewRepository(source, flowstore.WithKnown(flowstore.Known{
		Action:     instructions.Has,
		PromptType: prompts.Has,
	}))
	engine := dialogexec.New(flows, instructions, prompts, dialogexec.Config{DefaultFlow: defaultFlow},
		dialogexec.WithErrorReporter(func(err error, _ bool) {
			fmt.Fprintf(out, "!! %v\n", err)
		}),
	)

	return &simulator{
		manager: convmanager.NewManager(engine, flows, dialoginfra.NewMemoryStateRepository(), dialoginfra.NewMemoryLocker(), nil),
		key:     kernel.NewConversationKey(botID, "simulator"),
		out:     out,
	}
}

func runSimulate(ctx context.Context, in io.Reader, out io.Writer, dir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sim := newSimulator(dir, out)

	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "/quit" {
			return nil
		}
		if line != "" {
			if err := sim.handle(ctx, line); err != nil {
				fmt.Fprintf(out, "!! %v\n", err)
			}
		}
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}

func (s *simulator) handle(ctx context.Context, line string) error {
	switch {
	case line == "/timeout":
		res, err := s.manager.HandleTimeout(ctx, s.key)
		if err != nil {
			return err
		}
		s.print(res)
	case strings.HasPrefix(line, "/jump "):
		parts := strings.Fields(line)
		node := ""
		if len(parts) > 2 {
			node = parts[2]
		}
		state, err := s.manager.Jump(ctx, s.key, parts[1], node)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "-> %s/%s\n", state.Context.CurrentFlow, state.Context.CurrentNode)
	case line == "/state":
		state, err := s.manager.GetState(ctx, s.key)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "flow=%s node=%s vars=%v\n", state.Context.CurrentFlow, state.Context.CurrentNode, state.WorkflowVariables())
	case line == "/reset":
		return s.manager.Reset(ctx, s.key)
	default:
		res, err := s.manager.HandleEvent(ctx, dialog.Event{
			BotID:          s.key.BotID,
			ConversationID: s.key.ConversationID,
			Type:           dialog.EventTypeText,
			Text:           line,
		})
		if err != nil {
			return err
		}
		s.print(res)
	}
	return nil
}

func (s *simulator) print(res *dialog.TurnResult) {
	for _, o := range res.Outputs {
		switch o.Type {
		case dialog.OutputSay:
			fmt.Fprintf(s.out, "bot: %s\n", o.Text)
		default:
			fmt.Fprintf(s.out, "bot [%s]: %v\n", o.Type, o.Payload)
		}
	}
	if showState && res.State != nil {
		fmt.Fprintf(s.out, "   [%s] %s/%s\n", res.Status, res.State.Context.CurrentFlow, res.State.Context.CurrentNode)
	}
	if res.Status == dialog.TurnEnded {
		fmt.Fprintln(s.out, "   (conversation ended)")
	}
}
