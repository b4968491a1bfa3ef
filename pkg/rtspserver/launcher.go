package rtspserver

import (
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	pipelinePlaceholder = "{pipeline}"
	locationPlaceholder = "{location}"
)

var ErrEmptyPipeline = errors.New("empty pipeline description")

// buildCommand expands the launch template. The {pipeline} token is replaced
// by the words of the description, {location} by the publish URL.
func buildCommand(template, pipeline, location string) ([]string, error) {
	words := splitArgs(stripParens(pipeline))
	if len(words) == 0 {
		return nil, ErrEmptyPipeline
	}

	var argv []string
	for _, tok := range splitArgs(template) {
		if tok == pipelinePlaceholder {
			argv = append(argv, words...)
			continue
		}
		argv = append(argv, strings.ReplaceAll(tok, locationPlaceholder, location))
	}
	if len(argv) == 0 {
		return nil, errors.New("empty launch template")
	}
	return argv, nil
}

// stripParens drops the "( ... )" bin wrapper used by launch descriptions.
func stripParens(pipeline string) string {
	p := strings.TrimSpace(pipeline)
	if !strings.HasPrefix(p, "(") || !strings.HasSuffix(p, ")") {
		return p
	}
	depth := 0
	for i, r := range p {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 && i != len(p)-1 {
				// "( a ) ! ( b )": the outer pair is not one bin
				return p
			}
		}
	}
	return strings.TrimSpace(p[1 : len(p)-1])
}

// splitArgs splits on whitespace, keeping quoted sections together.
// Quotes are kept so that caps strings reach the launcher unchanged.
func splitArgs(s string) []string {
	var (
		args  []string
		cur   strings.Builder
		quote rune
		inArg bool
	)
	for _, r := range s {
		switch {
		case quote != 0:
			cur.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
			inArg = true
			cur.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			inArg = true
			cur.WriteRune(r)
		}
	}
	if inArg {
		args = append(args, cur.String())
	}
	return args
}

// pipelineProcess is one running launch of a mount's pipeline.
type pipelineProcess struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}
	err    error
	output io.Closer
	stop   sync.Once
}

func startPipeline(argv []string, logger *logrus.Entry) (*pipelineProcess, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out := logger.WriterLevel(logrus.WarnLevel)
	cmd.Stdout = out
	cmd.Stderr = out

	logger.Debugf("Launching %s", strings.Join(argv, " "))
	if err := cmd.Start(); err != nil {
		cancel()
		_ = out.Close()
		return nil, errors.Wrapf(err, "launch %s", argv[0])
	}

	p := &pipelineProcess{
		cmd:    cmd,
		cancel: cancel,
		done:   make(chan struct{}),
		output: out,
	}
	go func() {
		p.err = cmd.Wait()
		_ = p.output.Close()
		close(p.done)
	}()
	return p, nil
}

// Done is closed once the process has exited; Err is valid after that.
func (p *pipelineProcess) Done() <-chan struct{} {
	return p.done
}

func (p *pipelineProcess) Err() error {
	<-p.done
	if p.err == nil {
		return errors.New("pipeline exited")
	}
	return errors.Wrap(p.err, "pipeline exited")
}

func (p *pipelineProcess) Stop() {
	p.stop.Do(p.cancel)
	<-p.done
}
