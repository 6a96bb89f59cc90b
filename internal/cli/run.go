package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"chant/internal/display"
	"chant/internal/engine"
	"chant/internal/listener"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Type commands at an interactive console",
	RunE:  runConsole,
}

func runConsole(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := os.MkdirAll(".chant", 0o755); err != nil {
		return err
	}
	con, err := listener.NewConsole(filepath.Join(".chant", "history"))
	if err != nil {
		return fmt.Errorf("failed to init terminal input: %w", err)
	}
	defer con.Close()

	completed := make(chan engine.ActionCompleted, 1)
	unsubscribe := a.engine.Subscribe(func(ev engine.Event) {
		switch p := ev.Payload.(type) {
		case engine.ExecutionState:
			if p.Status == engine.ExecPaused {
				con.AsyncPrintln(display.FormatExecutionState(p))
			}
		case engine.ListenerState:
		case engine.ActionCompleted:
			con.AsyncPrintln(display.FormatEvent(ev))
			if verbose {
				con.AsyncPrintln(display.FormatRunMetrics(p.Metrics))
			}
			select {
			case completed <- p:
			default:
			}
		default:
			con.AsyncPrintln(display.FormatEvent(ev))
		}
	})
	defer unsubscribe()

	con.AsyncPrintln(display.FormatActions(a.reg.AvailableActionsForCurrentRoute(), a.reg.CurrentRoute()))
	con.AsyncPrintln(`Say something (":help" for console commands, "exit" to quit).`)

	for {
		// Runs completed by the last line, a resume or a retry ask for feedback.
		for pending := true; pending; {
			select {
			case done := <-completed:
				askFeedback(cmd, a, con, done)
			default:
				pending = false
			}
		}

		line, err := con.GetInput()
		if errors.Is(err, listener.ErrClosed) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			return nil
		case strings.HasPrefix(line, ":"):
			consoleCommand(cmd, a, con, line)
			continue
		}

		if err := a.engine.HandleTranscript(ctx, line); err != nil && !errors.Is(err, engine.ErrBusy) {
			con.AsyncPrintln(fmt.Sprintf("[FAILED] %v", err))
		}
	}
}

// askFeedback confirms a completed run. Confirmed runs are cached; a failed
// run offers the action's trigger phrases to retry with.
func askFeedback(cmd *cobra.Command, a *app, con *listener.Console, done engine.ActionCompleted) {
	ctx := cmd.Context()
	if con.AskYesNo(fmt.Sprintf("Did %q do what you wanted?", done.ActionID)) {
		stored, err := a.engine.ConfirmSuccess(ctx)
		switch {
		case err != nil:
			con.AsyncPrintln(fmt.Sprintf("[Cache] %v", err))
		case stored:
			con.AsyncPrintln("[Cache] Steps saved for next time.")
		}
		return
	}

	_, triggers, err := a.engine.ReportFailure()
	if err != nil || len(triggers) == 0 {
		a.engine.Dismiss()
		return
	}
	pick := con.AskChoice("Try one of these phrases instead:", triggers)
	if pick < 0 {
		a.engine.Dismiss()
		return
	}
	if err := a.engine.Retry(ctx, triggers[pick]); err != nil && !errors.Is(err, engine.ErrBusy) {
		con.AsyncPrintln(fmt.Sprintf("[FAILED] %v", err))
	}
}

func consoleCommand(cmd *cobra.Command, a *app, con *listener.Console, line string) {
	fields := strings.Fields(strings.TrimPrefix(line, ":"))
	if len(fields) == 0 {
		return
	}
	ctx := cmd.Context()
	switch fields[0] {
	case "state":
		con.AsyncPrintln(display.FormatExecutionState(a.engine.ExecutionState()))
		con.AsyncPrintln(display.FormatListenerState(a.engine.ListenerState()))
	case "actions":
		con.AsyncPrintln(display.FormatActions(a.reg.AvailableActionsForCurrentRoute(), a.reg.CurrentRoute()))
	case "route":
		if len(fields) > 1 {
			a.reg.SetCurrentRoute(fields[1])
		}
		con.AsyncPrintln("route: " + a.reg.CurrentRoute())
	case "resume":
		if err := a.engine.Resume(ctx); err != nil {
			con.AsyncPrintln(err.Error())
		}
	case "cancel":
		if err := a.engine.Cancel(); err != nil {
			con.AsyncPrintln(err.Error())
		}
	case "cache":
		recs, err := a.cache.List(ctx)
		if err != nil {
			con.AsyncPrintln(err.Error())
			return
		}
		con.AsyncPrintln(display.FormatCacheRecords(recs))
	case "html":
		html, err := a.page.HTML()
		if err != nil {
			con.AsyncPrintln(err.Error())
			return
		}
		con.AsyncPrintln(html)
	default:
		con.AsyncPrintln(":state  :actions  :route [path]  :resume  :cancel  :cache  :html")
	}
}
