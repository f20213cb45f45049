// Command agentboard is a terminal dashboard for an agent server: list
// agents, start calls, and tail live execution events.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/cascadehq/agentboard"
	"github.com/cascadehq/agentboard/internal/backend"
	"github.com/cascadehq/agentboard/internal/model"
)

// version is set at build time via -ldflags.
var version = "dev"

const usage = `Usage: agentboard <command> [flags]

Commands:
  agents                    List registered agents
  calls <agent>             List an agent's calls
  run <agent> -input JSON   Start a call and tail its events
  watch <call-id>           Tail a call's live events
  events <call-id>          Print a call's event history
  cancel <call-id>          Cancel a running call
  delete <call-id>          Delete a call and its events
`

func main() {
	level := slog.LevelInfo
	if os.Getenv("AGENTBOARD_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	// Logs go to stderr so command output stays pipeable.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger, os.Args[1:]); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("missing command")
	}

	app, err := agentboard.New(
		agentboard.WithLogger(logger),
		agentboard.WithVersion(version),
	)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.Background()) }()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "agents":
		return listAgents(ctx, app)
	case "calls":
		return listCalls(ctx, app, rest)
	case "run":
		return runCall(ctx, app, rest)
	case "watch":
		return watchCall(ctx, app, rest)
	case "events":
		return printEvents(ctx, app, rest)
	case "cancel":
		return cancelCall(ctx, app, rest)
	case "delete":
		return deleteCall(ctx, app, rest)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func listAgents(ctx context.Context, app *agentboard.App) error {
	if err := app.Sessions().RefreshAgents(ctx); err != nil {
		return err
	}
	agents := app.Store().Agents()

	names := make([]string, 0, len(agents))
	for name := range agents {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		agent := agents[name]
		fmt.Printf("%-24s %-6s %s\n", agent.Name, agent.Mode, agent.Description)
		if len(agent.Tools) > 0 {
			fmt.Printf("%-24s tools: %s\n", "", strings.Join(agent.Tools, ", "))
		}
	}
	return nil
}

func listCalls(ctx context.Context, app *agentboard.App, args []string) error {
	fs := flag.NewFlagSet("calls", flag.ContinueOnError)
	status := fs.String("status", "", "filter by status")
	limit := fs.Int("limit", 20, "page size")
	offset := fs.Int("offset", 0, "page offset")
	agentName, err := parseOne(fs, args, "agent name")
	if err != nil {
		return err
	}

	list, err := app.Client().ListCalls(ctx, agentName, backend.ListCallsOptions{
		Status: model.CallStatus(*status),
		Limit:  *limit,
		Offset: *offset,
	})
	if err != nil {
		return err
	}

	for _, call := range list.Calls {
		fmt.Printf("%s  %-10s  %s  thoughts=%d actions=%d\n",
			call.ID, call.Status, call.CreatedAt.Format("2006-01-02 15:04:05"),
			call.TotalThoughts, call.TotalActions)
	}
	fmt.Printf("%d of %d calls (offset %d)\n", len(list.Calls), list.Total, list.Offset)
	return nil
}

func runCall(ctx context.Context, app *agentboard.App, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	input := fs.String("input", "", "input payload as JSON object")
	draftKey := fs.String("draft", "", "load/save input under this draft key")
	noWatch := fs.Bool("no-watch", false, "start the call without tailing events")
	agentName, err := parseOne(fs, args, "agent name")
	if err != nil {
		return err
	}

	var inputData map[string]any
	switch {
	case *input != "":
		if err := json.Unmarshal([]byte(*input), &inputData); err != nil {
			return fmt.Errorf("parse -input: %w", err)
		}
		if *draftKey != "" && app.Drafts() != nil {
			if err := app.Drafts().Save(ctx, *draftKey, inputData); err != nil {
				return err
			}
		}
	case *draftKey != "" && app.Drafts() != nil:
		loaded, ok, err := app.Drafts().Load(ctx, *draftKey)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no draft stored under %q", *draftKey)
		}
		inputData = loaded
	default:
		return fmt.Errorf("-input (or a stored -draft) is required")
	}

	call, err := app.Client().CreateCall(ctx, agentName, model.CallSpec{InputData: inputData})
	if err != nil {
		return err
	}
	fmt.Printf("call %s created (%s)\n", call.ID, call.Status)

	// A successful run consumes the draft.
	if *draftKey != "" && app.Drafts() != nil {
		_ = app.Drafts().Delete(ctx, *draftKey)
	}

	app.Store().UpdateCall(*call)
	if *noWatch {
		return nil
	}
	return tail(ctx, app, call.ID)
}

func watchCall(ctx context.Context, app *agentboard.App, args []string) error {
	id, err := parseCallID(args)
	if err != nil {
		return err
	}
	return tail(ctx, app, id)
}

// tail mounts a view on the call and prints events as the store learns
// about them, until the call reaches a terminal status or ctx is cancelled.
func tail(ctx context.Context, app *agentboard.App, id uuid.UUID) error {
	st := app.Store()
	changes := st.Watch()
	defer st.Unwatch(changes)

	app.Sessions().Enter(ctx, id)
	defer app.Sessions().Leave(id)

	printed := make(map[uuid.UUID]bool)
	resubscribe := app.Config().Resubscribe

	for {
		for _, ev := range st.CallEvents(id) {
			if printed[ev.ID] {
				continue
			}
			printed[ev.ID] = true
			fmt.Println(formatEvent(ev))
		}

		call, meta, ok := st.Call(id)
		switch {
		case ok && call.Status.Terminal():
			fmt.Printf("call %s %s\n", id, call.Status)
			return nil
		case meta.NotFound:
			return fmt.Errorf("call %s not found", id)
		case !ok && meta.Err != "" && !meta.Loading:
			return fmt.Errorf("fetch call %s: %s", id, meta.Err)
		}

		// An ended stream with a non-terminal status is an unexpected
		// closure; re-subscribing is policy, not default behavior.
		if resubscribe && ok && !subscribed(st.ActiveSubscriptions(), id) {
			app.Sessions().Resubscribe(ctx, id)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-changes:
		}
	}
}

func printEvents(ctx context.Context, app *agentboard.App, args []string) error {
	id, err := parseCallID(args)
	if err != nil {
		return err
	}
	events, err := app.Client().ListCallEvents(ctx, id)
	if err != nil {
		return err
	}
	app.Store().SetCallEvents(id, events)
	for _, ev := range app.Store().CallEvents(id) {
		fmt.Println(formatEvent(ev))
	}
	return nil
}

func cancelCall(ctx context.Context, app *agentboard.App, args []string) error {
	id, err := parseCallID(args)
	if err != nil {
		return err
	}
	call, err := app.Client().CancelCall(ctx, id)
	if err != nil {
		return err
	}
	app.Store().UpdateCall(*call)
	fmt.Printf("call %s %s\n", call.ID, call.Status)
	return nil
}

func deleteCall(ctx context.Context, app *agentboard.App, args []string) error {
	id, err := parseCallID(args)
	if err != nil {
		return err
	}
	if err := app.Client().DeleteCall(ctx, id); err != nil {
		return err
	}
	app.Store().ClearCall(id)
	fmt.Printf("call %s deleted\n", id)
	return nil
}

func formatEvent(ev model.CallEvent) string {
	ts := ev.Timestamp.Format("15:04:05")
	switch ev.Type {
	case model.EventThought:
		return fmt.Sprintf("%s  thought  %s", ts, ev.Thought.Reasoning)
	case model.EventAction:
		status := "ok"
		if !ev.Action.Success {
			status = "failed"
		}
		return fmt.Sprintf("%s  action   %s (%s, %.2fs)", ts, ev.Action.ToolName, status, ev.Action.ExecutionTime)
	case model.EventResult:
		summary := ""
		if ev.Result.ExecutiveSummary != nil {
			summary = " " + *ev.Result.ExecutiveSummary
		}
		return fmt.Sprintf("%s  result   success=%t%s", ts, ev.Result.Success, summary)
	case model.EventError:
		return fmt.Sprintf("%s  error    %s: %s", ts, ev.Error.ErrorType, ev.Error.ErrorMessage)
	case model.EventStatusChange:
		return fmt.Sprintf("%s  status   %s -> %s", ts, ev.StatusChange.OldStatus, ev.StatusChange.NewStatus)
	default:
		return fmt.Sprintf("%s  %s", ts, ev.Type)
	}
}

func subscribed(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// parseOne takes the leading positional argument, then parses the remaining
// flags: `agentboard run my-agent -input '{...}'`.
func parseOne(fs *flag.FlagSet, args []string, what string) (string, error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return "", fmt.Errorf("expected %s before flags", what)
	}
	if err := fs.Parse(args[1:]); err != nil {
		return "", err
	}
	if fs.NArg() != 0 {
		return "", fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	return args[0], nil
}

func parseCallID(args []string) (uuid.UUID, error) {
	if len(args) != 1 {
		return uuid.Nil, fmt.Errorf("expected exactly one call id")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid call id %q: %w", args[0], err)
	}
	return id, nil
}
