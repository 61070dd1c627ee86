package notify

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gookit/color"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"assetflow/pkg/graph"
)

type collector struct{ got []string }

func (c *collector) Notify(title, message string) { c.got = append(c.got, title+"|"+message) }

func TestConsole(t *testing.T) {
	old := color.Enable
	color.Enable = false
	defer func() { color.Enable = old }()

	var buf bytes.Buffer
	NewConsole(&buf).Notify("sass", "unexpected token")
	assert.Equal(t, "[sass] unexpected token\n", buf.String())
}

func TestMulti(t *testing.T) {
	a, b := &collector{}, &collector{}
	Multi{a, nil, b}.Notify("js", "boom")
	assert.Equal(t, []string{"js|boom"}, a.got)
	assert.Equal(t, []string{"js|boom"}, b.got)
}

func TestProgress(t *testing.T) {
	old := color.Enable
	color.Enable = false
	defer func() { color.Enable = old }()

	var buf bytes.Buffer
	progress := Progress(&buf, zerolog.Nop())
	progress("sass", graph.StatusStarted, 0, nil)
	progress("sass", graph.StatusFinished, 12*time.Millisecond, nil)
	progress("js", graph.StatusFailed, 2*time.Second, errors.New("boom"))
	progress("app", graph.StatusFailed, 3*time.Second, &graph.TaskError{Task: "js", Err: errors.New("boom")})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 4)
	assert.Contains(t, lines[0], "Starting 'sass'...")
	assert.Contains(t, lines[1], "Finished 'sass' after 12 ms")
	assert.Contains(t, lines[2], "Errored 'js' after 2 s: boom")
	assert.True(t, strings.HasSuffix(lines[3], "Errored 'app' after 3 s"), "nested failures are not repeated")
}

func TestDuration(t *testing.T) {
	assert.Equal(t, "250 μs", Duration(250*time.Microsecond))
	assert.Equal(t, "12 ms", Duration(12*time.Millisecond))
	assert.Equal(t, "1.5 s", Duration(1500*time.Millisecond))
	assert.Equal(t, "2 min 5 s", Duration(125*time.Second))
}
