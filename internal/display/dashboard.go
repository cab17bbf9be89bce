package display

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lowaak/cycle-computer/internal/go_func_utils"
	"github.com/lowaak/cycle-computer/internal/live"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const refreshInterval = time.Second

// Dashboard is a full screen tview view of a State. Escape or q quits.
type Dashboard struct {
	logger *zap.Logger
	app    *tview.Application
	view   *tview.TextView
	state  *State
	now    func() time.Time
}

func NewDashboard(logger *zap.Logger, app *tview.Application, state *State, sessionKey uint64) *Dashboard {
	if logger == nil {
		panic("Dashboard: logger cannot be nil")
	}
	if app == nil {
		panic("Dashboard: app cannot be nil")
	}
	if state == nil {
		panic("Dashboard: state cannot be nil")
	}

	view := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	view.SetBorder(true).SetTitle(fmt.Sprintf(" Session %d ", sessionKey))

	return &Dashboard{
		logger: logger,
		app:    app,
		view:   view,
		state:  state,
		now:    time.Now,
	}
}

// Render formats a snapshot the way the dashboard shows it.
func Render(snap Snapshot, wallClock time.Time) string {
	var b strings.Builder
	b.WriteString("\n")
	fmt.Fprintf(&b, "  [gray]%-10s[white] [yellow]%s[white]\n\n", "CURRENT", wallClock.Format("15:04:05"))
	for _, f := range snap.Fields() {
		fmt.Fprintf(&b, "  [gray]%-10s[white] [yellow]%s[white]\n\n", f.Label, f.Value)
	}
	b.WriteString("  [gray]Esc/q to stop recording[white]")
	return b.String()
}

// consume owns the state: it applies updates and redraws on every update
// and once per refreshInterval so staleness and elapsed time advance.
func (d *Dashboard) consume(ctx context.Context, updates <-chan live.Update) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			d.state.Apply(u, d.now())
		case <-ticker.C:
		}
		text := Render(d.state.Snapshot(d.now()), d.now())
		d.app.QueueUpdateDraw(func() {
			d.view.SetText(text)
		})
	}
}

// Run shows the dashboard until the user quits or ctx is cancelled. It
// blocks.
func (d *Dashboard) Run(ctx context.Context, updates <-chan live.Update) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.view.SetText(Render(d.state.Snapshot(d.now()), d.now()))
	d.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || (event.Key() == tcell.KeyRune && event.Rune() == 'q') {
			d.logger.Info("Dashboard: quit requested")
			d.app.Stop()
			return nil
		}
		return event
	})

	go_func_utils.SafeGo(d.logger, func() {
		d.consume(ctx, updates)
	})
	go_func_utils.SafeGo(d.logger, func() {
		<-ctx.Done()
		d.app.Stop()
	})

	d.app.SetRoot(d.view, true)
	return d.app.Run()
}
