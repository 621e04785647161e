// Package selector asks the operator which device the bridge should mirror.
package selector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

// ErrNoSelection is returned when input ends before a device was chosen.
var ErrNoSelection = errors.New("selector: no device selected")

// ErrNoDevices is returned when there is nothing to choose from.
var ErrNoDevices = errors.New("selector: no devices to choose from")

// Prompter reads a device choice from a line-oriented input.
type Prompter struct {
	lines <-chan string
	errs  <-chan error
	out   io.Writer
}

// New creates a prompter reading from in and writing prompts to out.
// Lines are read on a background goroutine so a pending prompt can be
// abandoned through its context.
func New(in io.Reader, out io.Writer) *Prompter {
	lines := make(chan string)
	errs := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		errs <- err
		close(lines)
	}()

	return &Prompter{lines: lines, errs: errs, out: out}
}

// Select lists devices and reads lines until one is exactly a listed
// device name. Anything else re-prompts.
func (p *Prompter) Select(ctx context.Context, devices []string) (string, error) {
	if len(devices) == 0 {
		return "", ErrNoDevices
	}

	p.printf("Available devices:\n")
	for _, device := range devices {
		p.printf("  %s\n", device)
	}

	for {
		p.printf("Select device: ")

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case line, ok := <-p.lines:
			if !ok {
				return "", p.endOfInput()
			}
			answer := strings.TrimSuffix(line, "\r")
			if slices.Contains(devices, answer) {
				return answer, nil
			}
			p.printf("Unknown device %q\n", answer)
		}
	}
}

// endOfInput converts the reader's final error.
func (p *Prompter) endOfInput() error {
	err := <-p.errs
	if errors.Is(err, io.EOF) {
		return ErrNoSelection
	}
	return fmt.Errorf("%w: %w", ErrNoSelection, err)
}

func (p *Prompter) printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...) //nolint:errcheck // prompt output is best-effort
}
