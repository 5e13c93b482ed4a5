// Command idlectl talks to a running idled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/nkkko/idled/pkg/client"
	"github.com/nkkko/idled/pkg/proto"
	flag "github.com/spf13/pflag"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const usage = `Usage: idlectl [flags] <command> [args]

Commands:
  seats                     list seats
  add-seat <seat>           start tracking a seat
  remove-seat <seat>        stop tracking a seat
  activity [seat]           record activity on a seat
  notifications [seat]      list idle notifications
  inhibitors                list inhibitors
  transitions <seat>        show journaled transitions
  watch <seat>              wait for idle and resume on a seat
  inhibit <seat>            hold an inhibitor until interrupted

Flags:
`

func main() {
	var (
		server      string
		timeout     time.Duration
		idleTimeout time.Duration
		limit       int
		application string
		reason      string
	)

	flag.StringVarP(&server, "server", "s", envOr("IDLED_URL", "http://127.0.0.1:7411"), "idled base URL")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")
	flag.DurationVarP(&idleTimeout, "idle", "i", 5*time.Minute, "Idle timeout for watch")
	flag.IntVarP(&limit, "limit", "n", 20, "Number of transitions to show")
	flag.StringVar(&application, "app", "idlectl", "Application name for inhibit")
	flag.StringVar(&reason, "reason", "", "Reason for inhibit")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c, err := client.New(server, client.WithTimeout(timeout))
	if err != nil {
		fail(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "seats":
		err = listSeats(ctx, c)
	case "add-seat":
		err = withSeat(rest, func(seat string) error {
			created, err := c.AddSeat(ctx, seat)
			if err == nil && !created {
				fmt.Printf("seat %s already tracked\n", seat)
			}
			return err
		})
	case "remove-seat":
		err = withSeat(rest, func(seat string) error { return c.RemoveSeat(ctx, seat) })
	case "activity":
		seat := "seat0"
		if len(rest) > 0 {
			seat = rest[0]
		}
		err = c.RecordActivity(ctx, seat)
	case "notifications":
		seat := ""
		if len(rest) > 0 {
			seat = rest[0]
		}
		err = listNotifications(ctx, c, seat)
	case "inhibitors":
		err = listInhibitors(ctx, c)
	case "transitions":
		err = withSeat(rest, func(seat string) error { return listTransitions(ctx, c, seat, limit) })
	case "watch":
		err = withSeat(rest, func(seat string) error { return watch(ctx, c, seat, idleTimeout) })
	case "inhibit":
		err = withSeat(rest, func(seat string) error { return inhibit(ctx, c, seat, application, reason) })
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(2)
	}

	if err != nil && ctx.Err() == nil {
		fail(err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "idlectl: %v\n", err)
	os.Exit(1)
}

func withSeat(args []string, fn func(seat string) error) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one seat")
	}
	return fn(args[0])
}

func listSeats(ctx context.Context, c *client.Client) error {
	seats, err := c.Seats(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEAT\tLAST ACTIVITY\tINHIBITED\tSUBSCRIPTIONS")
	for _, s := range seats {
		last := "never"
		if s.LastActivityMs != nil {
			last = fmt.Sprintf("%dms", *s.LastActivityMs)
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%d\n", s.Id, last, s.Inhibited, s.Subscriptions)
	}
	return w.Flush()
}

func listNotifications(ctx context.Context, c *client.Client, seat string) error {
	subs, err := c.Notifications(ctx, seat)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSEAT\tOWNER\tTIMEOUT\tSTATE")
	for _, s := range subs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Id, s.Seat, s.Owner,
			time.Duration(s.TimeoutMs)*time.Millisecond, s.State)
	}
	return w.Flush()
}

func listInhibitors(ctx context.Context, c *client.Client) error {
	inhibitors, err := c.Inhibitors(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COOKIE\tSEAT\tOWNER\tAPPLICATION\tREASON")
	for _, i := range inhibitors {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i.Cookie, i.Seat, i.Owner, i.Application, i.Reason)
	}
	return w.Flush()
}

func listTransitions(ctx context.Context, c *client.Client, seat string, limit int) error {
	transitions, err := c.Transitions(ctx, seat, limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tTIME\tKIND\tSUBSCRIPTION\tOWNER")
	for _, t := range transitions {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", t.Seq, formatTime(t.Ts), t.Kind, t.SubscriptionId, t.Owner)
	}
	return w.Flush()
}

func watch(ctx context.Context, c *client.Client, seat string, idleTimeout time.Duration) error {
	s, err := c.Dial(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	id, err := s.CreateNotification(ctx, seat, idleTimeout)
	if err != nil {
		return err
	}
	fmt.Printf("watching %s for %s of inactivity (%s)\n", seat, idleTimeout, id)

	for {
		select {
		case event, ok := <-s.Events():
			if !ok {
				return s.Err()
			}
			marker := " "
			if event.Kind == proto.EventIdled {
				marker = "*"
			}
			fmt.Printf("%s %s %s %s\n", marker, formatTime(event.Ts), event.Seat, strings.ToUpper(event.Kind))
		case <-ctx.Done():
			return nil
		}
	}
}

func inhibit(ctx context.Context, c *client.Client, seat, application, reason string) error {
	s, err := c.Dial(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	cookie, err := s.Inhibit(ctx, seat, application, reason)
	if err != nil {
		return err
	}
	fmt.Printf("inhibiting %s (cookie %d), interrupt to release\n", seat, cookie)

	select {
	case <-ctx.Done():
	case <-s.Done():
		return s.Err()
	}

	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Uninhibit(releaseCtx, cookie)
}

func formatTime(ts *timestamppb.Timestamp) string {
	if ts == nil {
		return "-"
	}
	return ts.AsTime().Local().Format(time.TimeOnly)
}
