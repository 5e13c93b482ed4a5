package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/nkkko/idled/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LinesConfig contains configuration for a line source
type LinesConfig struct {
	// Path of the file or FIFO to read. Each line names a seat; an empty
	// line means DefaultSeat.
	Path string

	// DefaultSeat is used for empty lines
	DefaultSeat domain.SeatID

	// Reopen reopens Path after EOF, which is how a FIFO behaves once its
	// last writer goes away
	Reopen bool

	// ReopenDelay is the pause before reopening
	ReopenDelay time.Duration
}

// Lines reads activity from a line oriented stream
type Lines struct {
	config LinesConfig
	open   func(path string) (io.ReadCloser, error)
	logger zerolog.Logger
}

// NewLines creates a line source reading config.Path
func NewLines(config LinesConfig) *Lines {
	if config.DefaultSeat == "" {
		config.DefaultSeat = "seat0"
	}
	if config.ReopenDelay <= 0 {
		config.ReopenDelay = 100 * time.Millisecond
	}
	return &Lines{
		config: config,
		open: func(path string) (io.ReadCloser, error) {
			return os.Open(path)
		},
		logger: log.With().Str("component", "source").Str("path", config.Path).Logger(),
	}
}

// NewReader creates a line source that reads r once
func NewReader(r io.Reader, defaultSeat domain.SeatID) *Lines {
	l := NewLines(LinesConfig{Path: "reader", DefaultSeat: defaultSeat})
	l.open = func(string) (io.ReadCloser, error) {
		return io.NopCloser(r), nil
	}
	return l
}

// Run reads lines until ctx is done, or until EOF when Reopen is off
func (l *Lines) Run(ctx context.Context, onActivity func(seat domain.SeatID)) error {
	l.logger.Info().Bool("reopen", l.config.Reopen).Msg("Starting line input source")

	for {
		err := l.readOnce(ctx, onActivity)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		if !l.config.Reopen {
			l.logger.Info().Msg("Input stream ended")
			return nil
		}

		select {
		case <-time.After(l.config.ReopenDelay):
		case <-ctx.Done():
			return nil
		}
	}
}

func (l *Lines) readOnce(ctx context.Context, onActivity func(seat domain.SeatID)) error {
	// Opening a FIFO blocks until a writer appears, so it happens off the
	// caller's goroutine.
	type opened struct {
		rc  io.ReadCloser
		err error
	}
	result := make(chan opened, 1)
	go func() {
		rc, err := l.open(l.config.Path)
		result <- opened{rc, err}
	}()

	var rc io.ReadCloser
	select {
	case o := <-result:
		if o.err != nil {
			return fmt.Errorf("failed to open input %s: %w", l.config.Path, o.err)
		}
		rc = o.rc
	case <-ctx.Done():
		go func() {
			if o := <-result; o.rc != nil {
				o.rc.Close()
			}
		}()
		return nil
	}

	stop := context.AfterFunc(ctx, func() { rc.Close() })
	defer func() {
		if stop() {
			rc.Close()
		}
	}()

	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		seat := domain.SeatID(strings.TrimSpace(scanner.Text()))
		if seat == "" {
			seat = l.config.DefaultSeat
		}
		onActivity(seat)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("failed to read input %s: %w", l.config.Path, err)
	}
	return nil
}
