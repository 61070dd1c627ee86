package transform

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"assetflow/pkg/pipeline"
)

// Prefixer adds vendor prefixes to CSS
type Prefixer interface {
	Prefix(ctx context.Context, css []byte) ([]byte, error)
}

// CommandPrefixer pipes CSS through an external command such as
// "npx postcss --use autoprefixer". Browsers are passed as BROWSERSLIST.
// An empty command leaves CSS untouched.
type CommandPrefixer struct {
	Command  []string
	Browsers []string
	Dir      string
}

// Prefix implements Prefixer
func (p *CommandPrefixer) Prefix(ctx context.Context, css []byte) ([]byte, error) {
	if len(p.Command) == 0 {
		return css, nil
	}

	cmd := exec.CommandContext(ctx, p.Command[0], p.Command[1:]...)
	cmd.Dir = p.Dir
	cmd.Env = os.Environ()
	if len(p.Browsers) > 0 {
		cmd.Env = append(cmd.Env, "BROWSERSLIST="+strings.Join(p.Browsers, ", "))
	}
	cmd.Stdin = bytes.NewReader(css)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w\nOutput: %s", p.Command[0], err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// PrefixStage runs every file through the prefixer
func PrefixStage(prefixer Prefixer) pipeline.Stage {
	return pipeline.Map("autoprefixer", func(ctx context.Context, f *pipeline.File) (*pipeline.File, error) {
		out, err := prefixer.Prefix(ctx, f.Contents)
		if err != nil {
			return nil, err
		}
		c := f.Clone()
		c.Contents = out
		return c, nil
	})
}
