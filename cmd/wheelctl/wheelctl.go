package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/jonboulle/clockwork"

	"github.com/ts4z/spinwheel/entries"
	"github.com/ts4z/spinwheel/segment"
	"github.com/ts4z/spinwheel/spin"
)

// readEntries takes entries from args, or else from a file ("-" is stdin),
// or else the sample list.
func readEntries(args []string, file string, stdin io.Reader) ([]string, error) {
	if len(args) > 0 {
		list, err := entries.Normalize(args)
		if err != nil {
			return nil, err
		}
		return list, nil
	}
	if file == "" {
		return entries.Sample(), nil
	}

	var r io.Reader = stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	text, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("while reading %s: %w", file, err)
	}
	return entries.Parse(string(text)), nil
}

func newRandomSource(seed uint64) spin.RandomSource {
	if seed == 0 {
		return spin.DefaultRandomSource()
	}
	return spin.NewSeededSource(seed)
}

// termSink forwards engine output to channels without ever blocking the
// engine.  Only the newest frame is kept.
type termSink struct {
	frames   chan spin.Frame
	results  chan spin.Result
	removals chan []string
}

func newTermSink() *termSink {
	return &termSink{
		frames:   make(chan spin.Frame, 1),
		results:  make(chan spin.Result, 1),
		removals: make(chan []string, 1),
	}
}

func (s *termSink) PublishFrame(f spin.Frame) {
	select {
	case s.frames <- f:
	default:
		select {
		case <-s.frames:
		default:
		}
		select {
		case s.frames <- f:
		default:
		}
	}
}

func (s *termSink) PublishResult(r spin.Result) {
	select {
	case s.results <- r:
	default:
	}
}

func (s *termSink) PublishRemoval(_ spin.Result, remaining []string) {
	select {
	case s.removals <- remaining:
	default:
	}
}

type spinOptions struct {
	duration     time.Duration
	removeWinner bool
	grace        time.Duration
	seed         uint64
	// live redraws the label under the pointer as the wheel turns.
	live bool
}

// pointerLabel is the entry under the pointer at rotation.
func pointerLabel(list []string, rotation float64) string {
	return list[segment.ResolveWinner(list, rotation)]
}

func runSpin(ctx context.Context, clock clockwork.Clock, out io.Writer, list []string, opts *spinOptions) error {
	if len(list) == 0 {
		return errors.New("nothing to spin")
	}
	sink := newTermSink()
	engine := spin.New(clock, newRandomSource(opts.seed), sink, spin.Options{GraceDelay: opts.grace})
	defer engine.Reset()

	if !engine.Spin(list, opts.duration, opts.removeWinner) {
		return errors.New("spin did not start")
	}

	width := 0
	for _, label := range list {
		width = max(width, len(label))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-sink.frames:
			if opts.live {
				fmt.Fprintf(out, "\r  %-*s  %5.1f%%", width, pointerLabel(list, f.Rotation), 100*f.Progress)
			}
		case r := <-sink.results:
			if opts.live {
				fmt.Fprint(out, "\r"+strings.Repeat(" ", width+12)+"\r")
			}
			fmt.Fprintf(out, "Winner: %s\n", r.Label)
			if !opts.removeWinner {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case remaining := <-sink.removals:
				fmt.Fprintf(out, "Removed %s, %s left:\n", r.Label, entries.CountLabel(len(remaining)))
				for _, label := range remaining {
					fmt.Fprintf(out, "  %s\n", label)
				}
				return nil
			}
		}
	}
}

// tally spins n times without animation and counts wins per index.
func tally(list []string, n int, rng spin.RandomSource) []int {
	counts := make([]int, len(list))
	for range n {
		counts[segment.ResolveWinner(list, spin.DrawTarget(rng))]++
	}
	return counts
}

// chiSquare is Pearson's statistic against a uniform expectation.
func chiSquare(counts []int, total int) float64 {
	expected := float64(total) / float64(len(counts))
	var sum float64
	for _, c := range counts {
		d := float64(c) - expected
		sum += d * d / expected
	}
	return sum
}

func runSimulate(out io.Writer, list []string, n int, seed uint64) error {
	if len(list) == 0 {
		return errors.New("nothing to simulate")
	}
	if n <= 0 {
		return fmt.Errorf("spins must be positive, not %d", n)
	}
	counts := tally(list, n, newRandomSource(seed))
	expected := float64(n) / float64(len(list))

	tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tLABEL\tWINS\tEXPECTED\tSHARE")
	for i, c := range counts {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%.1f\t%.2f%%\n", i, list[i], c, expected, 100*float64(c)/float64(n))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "chi-square %.3f with %d degrees of freedom\n", chiSquare(counts, n), len(list)-1)
	return nil
}

func runSegments(out io.Writer, list []string) error {
	tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tLABEL\tSTART\tEND\tDEGREES")
	for _, s := range segment.SegmentsFor(list) {
		fmt.Fprintf(tw, "%d\t%s\t%.6f\t%.6f\t%.2f-%.2f\n", s.Index, s.Label, s.Start, s.End,
			s.Start*180/math.Pi, s.End*180/math.Pi)
	}
	return tw.Flush()
}

// runKeys prints fresh cookie keys in the form config wants them.
func runKeys(out io.Writer) error {
	hashKey := securecookie.GenerateRandomKey(64)
	blockKey := securecookie.GenerateRandomKey(32)
	if hashKey == nil || blockKey == nil {
		return errors.New("can't generate keys")
	}
	fmt.Fprintf(out, "cookie_hash_key: %s\n", base64.StdEncoding.EncodeToString(hashKey))
	fmt.Fprintf(out, "cookie_block_key: %s\n", base64.StdEncoding.EncodeToString(blockKey))
	return nil
}
