/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package transcode supervises the external transcoder process and exposes
// its stdout as the audio stream.
package transcode

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Upstream rejection patterns on transcoder stderr. A resolved URL that has
// expired or been revoked surfaces here as an HTTP error from the input side.
var rejectionRegex = regexp.MustCompile(`(?i)HTTP error 4(03|10)|403 Forbidden|410 Gone`)

var errorLineRegex = regexp.MustCompile(`(?i)^(\[.*\] )?error`)

// Process is a running transcoder. Output() delivers the encoded stream;
// Close() tears the process down within the profile's kill timeout.
type Process struct {
	profile Profile
	cmd     *exec.Cmd
	stdout  *os.File
	logger  zerolog.Logger

	stderrDone chan struct{}
	waitDone   chan struct{}

	mu       sync.Mutex
	rejected bool
	lastErr  string
	closed   bool
	waitErr  error
}

// Start launches the transcoder for the resolved input URL with an
// input-side seek.
func Start(ctx context.Context, profile Profile, inputURL string, seekSeconds int, logger zerolog.Logger) (*Process, error) {
	args, err := profile.BuildArgs(inputURL, seekSeconds)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, profile.Bin, args...)

	p := &Process{
		profile:    profile,
		cmd:        cmd,
		logger:     logger.With().Str("component", "transcode").Logger(),
		stderrDone: make(chan struct{}),
		waitDone:   make(chan struct{}),
	}

	// Explicit pipe instead of StdoutPipe: Wait must not tear the read side
	// down while the HTTP copier is still draining buffered audio.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	p.stdout = stdoutR

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, fmt.Errorf("start %s: %w", profile.Bin, err)
	}
	// The child owns its copies of the write ends now.
	stdoutW.Close()
	stderrW.Close()

	p.logger.Debug().
		Int("pid", cmd.Process.Pid).
		Int("seek", seekSeconds).
		Msg("transcoder started")

	go p.monitorStderr(stderrR)
	go p.monitorProcess()

	return p, nil
}

// Output returns the encoded audio stream. The clock of the produced stream
// starts at zero regardless of seek.
func (p *Process) Output() io.Reader {
	return p.stdout
}

// Rejected reports whether stderr showed the upstream refusing the resolved
// URL (expired or revoked).
func (p *Process) Rejected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rejected
}

// LastError returns the last error line seen on stderr.
func (p *Process) LastError() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Close stops the transcoder: interrupt first, hard kill after the profile's
// kill timeout. Safe to call more than once.
func (p *Process) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.cmd.Process != nil {
		if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
			p.logger.Debug().Err(err).Msg("interrupt failed, killing")
			_ = p.cmd.Process.Kill()
		}
	}

	timeout := p.profile.KillTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	select {
	case <-p.waitDone:
	case <-time.After(timeout):
		p.logger.Warn().Msg("transcoder did not exit, force killing")
		if p.cmd.Process != nil {
			if err := p.cmd.Process.Kill(); err != nil {
				return fmt.Errorf("kill transcoder: %w", err)
			}
		}
		<-p.waitDone
	}

	return p.stdout.Close()
}

// Wait blocks until the process exits and returns its exit error.
func (p *Process) Wait() error {
	<-p.waitDone
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

func (p *Process) monitorStderr(stderr io.ReadCloser) {
	defer close(p.stderrDone)
	defer stderr.Close()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		p.logger.Trace().Str("line", line).Msg("transcoder stderr")

		if rejectionRegex.MatchString(line) {
			p.mu.Lock()
			p.rejected = true
			p.lastErr = line
			p.mu.Unlock()
			p.logger.Warn().Str("line", line).Msg("upstream rejected resolved url")
			continue
		}

		if errorLineRegex.MatchString(line) {
			p.mu.Lock()
			p.lastErr = line
			p.mu.Unlock()
			p.logger.Debug().Str("line", line).Msg("transcoder error output")
		}
	}
}

func (p *Process) monitorProcess() {
	err := p.cmd.Wait()
	// Drain remaining stderr before reporting exit so rejection lines are
	// never lost to the exit race.
	<-p.stderrDone

	p.mu.Lock()
	p.waitErr = err
	p.mu.Unlock()
	close(p.waitDone)

	if err != nil {
		p.logger.Debug().Err(err).Msg("transcoder exited with error")
	} else {
		p.logger.Debug().Msg("transcoder exited")
	}
}
