package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
	"github.com/chuan-gyld/ai-firm/coreengine/kernel"
)

// errInputClosed is returned once the operator's input has ended.
var errInputClosed = errors.New("operator input closed")

// lineBridge is a kernel.HumanBridge over a line-oriented terminal. One
// goroutine owns the reader so a cancelled wait never loses a line.
type lineBridge struct {
	out       io.Writer
	lines     chan string
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
}

func newLineBridge(in io.Reader, out io.Writer) *lineBridge {
	b := &lineBridge{out: out, lines: make(chan string), done: make(chan struct{})}
	go func() {
		defer close(b.lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case b.lines <- strings.TrimSpace(scanner.Text()):
			case <-b.done:
				return
			}
		}
	}()
	return b
}

// Close fails every pending and future wait with errInputClosed.
func (b *lineBridge) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

func (b *lineBridge) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-b.done:
		return "", errInputClosed
	case line, ok := <-b.lines:
		if !ok {
			return "", errInputClosed
		}
		return line, nil
	}
}

// AwaitClarification prints the question and returns the next non-empty line.
func (b *lineBridge) AwaitClarification(ctx context.Context, req *envelope.Envelope) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fmt.Fprintf(b.out, "\n[%s asks] %s\n", req.Sender, req.Subject)
	if content := strings.TrimSpace(req.Content); content != "" {
		fmt.Fprintln(b.out, content)
	}
	for {
		fmt.Fprint(b.out, "answer> ")
		line, err := b.readLine(ctx)
		if err != nil {
			return "", err
		}
		if line != "" {
			return line, nil
		}
	}
}

// AwaitMilestoneDecision approves on "y" or "yes". Any other answer rejects;
// text other than "n" or "no" becomes the feedback.
func (b *lineBridge) AwaitMilestoneDecision(ctx context.Context, name, description string) (kernel.MilestoneDecision, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fmt.Fprintf(b.out, "\n[milestone] %s\n", name)
	if description = strings.TrimSpace(description); description != "" {
		fmt.Fprintln(b.out, description)
	}
	fmt.Fprint(b.out, "approve? [y/N or feedback]> ")
	line, err := b.readLine(ctx)
	if err != nil {
		return kernel.MilestoneDecision{}, err
	}
	return parseDecision(line), nil
}

func parseDecision(line string) kernel.MilestoneDecision {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return kernel.MilestoneDecision{Approved: true}
	case "", "n", "no":
		return kernel.MilestoneDecision{Approved: false}
	}
	return kernel.MilestoneDecision{Approved: false, Feedback: strings.TrimSpace(line)}
}
