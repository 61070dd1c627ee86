// Package notify reports build progress and failures to the developer.
package notify

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gookit/color"
	"github.com/rs/zerolog"

	"assetflow/pkg/graph"
	"assetflow/pkg/pipeline"
)

// Console prints failures to a terminal
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole creates a console notifier writing to out
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

// Notify implements pipeline.Notifier
func (c *Console) Notify(title, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s %s\n", color.Red.Sprintf("[%s]", title), message)
}

// Multi fans a notification out to several notifiers
type Multi []pipeline.Notifier

// Notify implements pipeline.Notifier
func (m Multi) Notify(title, message string) {
	for _, n := range m {
		if n != nil {
			n.Notify(title, message)
		}
	}
}

// Progress prints task progress the way gulp does:
//
//	[12:00:01] Starting 'sass'...
//	[12:00:01] Finished 'sass' after 12 ms
//	[12:00:02] Errored 'sync' after 3 ms: listen on localhost:4000: address already in use
func Progress(out io.Writer, logger zerolog.Logger) graph.ProgressFunc {
	var mu sync.Mutex
	return func(name string, status graph.Status, elapsed time.Duration, err error) {
		mu.Lock()
		defer mu.Unlock()

		stamp := color.Gray.Sprintf("[%s]", time.Now().Format("15:04:05"))
		task := color.Cyan.Sprintf("'%s'", name)
		switch status {
		case graph.StatusStarted:
			fmt.Fprintf(out, "%s Starting %s...\n", stamp, task)
		case graph.StatusFinished:
			fmt.Fprintf(out, "%s Finished %s after %s\n", stamp, task, color.Magenta.Sprint(Duration(elapsed)))
		case graph.StatusFailed:
			line := fmt.Sprintf("%s %s %s after %s", stamp, color.Red.Sprint("Errored"), task, color.Magenta.Sprint(Duration(elapsed)))
			// Failures of nested tasks were printed when they happened
			var nested *graph.TaskError
			if err != nil && !errors.As(err, &nested) {
				line += ": " + color.Red.Sprint(err.Error())
			}
			fmt.Fprintln(out, line)
			logger.Debug().Err(err).Str("task", name).Msg("Task errored")
		}
	}
}

// Duration renders elapsed time like gulp's pretty-hrtime
func Duration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%d μs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%d ms", d.Milliseconds())
	case d < time.Minute:
		return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", d.Seconds()), "0"), ".") + " s"
	default:
		return fmt.Sprintf("%d min %d s", int(d.Minutes()), int(d.Seconds())%60)
	}
}
