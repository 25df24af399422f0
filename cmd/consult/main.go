// Command consult is a terminal session with the Strategist. Each line read
// from stdin is answered from the business's knowledge base; evidence and
// sources are printed under the answer.
//
//	consult -business 7 -k 8
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ekkoscope/sherlock/engine/domain"
	"github.com/ekkoscope/sherlock/engine/sherlock"
	"github.com/ekkoscope/sherlock/pkg/config"
	"github.com/ekkoscope/sherlock/pkg/fn"
	"github.com/ekkoscope/sherlock/pkg/logging"
)

// Consultant answers one question for a business.
type Consultant interface {
	Consult(ctx context.Context, query string, businessID int64, topK int) fn.Result[domain.Consultation]
}

func main() {
	var (
		business = flag.Int64("business", 0, "business id to consult for (required)")
		topK     = flag.Int("k", 0, "evidence chunks per answer (0 uses STRATEGIST_TOP_K)")
		evidence = flag.Bool("evidence", true, "print evidence under each answer")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log)
	if *business <= 0 {
		log.Error("-business is required")
		os.Exit(2)
	}
	k := *topK
	if k <= 0 {
		k = cfg.Engine.StrategistTopK
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := sherlock.Open(ctx, cfg, sherlock.OpenOptions{Logger: log})
	if err != nil {
		log.Error("open engine", "error", err)
		os.Exit(1)
	}
	defer eng.Close(context.Background())
	if !eng.Capability().Enabled() {
		log.Error("knowledge store unavailable", "reason", eng.Capability().Reason())
		os.Exit(1)
	}

	s := session{c: eng, businessID: *business, topK: k, evidence: *evidence}
	if err := s.run(ctx, os.Stdin, os.Stdout); err != nil {
		log.Error("session ended", "error", err)
		os.Exit(1)
	}
}

type session struct {
	c          Consultant
	businessID int64
	topK       int
	evidence   bool
}

// run reads questions until EOF, "exit" or cancellation. A failed
// consultation is printed and the session continues.
func (s session) run(ctx context.Context, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 64*1024)
	fmt.Fprint(out, "> ")
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		q := strings.TrimSpace(sc.Text())
		switch q {
		case "":
			fmt.Fprint(out, "> ")
			continue
		case "exit", "quit":
			return nil
		}

		c, err := s.c.Consult(ctx, q, s.businessID, s.topK).Unwrap()
		if err != nil {
			fmt.Fprintf(out, "error: %s\n\n> ", domain.Reason(err))
			continue
		}
		s.print(out, c)
		fmt.Fprint(out, "> ")
	}
	return sc.Err()
}

func (s session) print(out io.Writer, c domain.Consultation) {
	fmt.Fprintln(out, c.Answer)
	if !c.Grounded {
		fmt.Fprintln(out, "(not grounded in the knowledge base)")
	}
	if s.evidence && len(c.Evidence) > 0 {
		fmt.Fprintln(out)
		for i, ev := range c.Evidence {
			title := ev.Title
			if title == "" {
				title = ev.URL
			}
			fmt.Fprintf(out, "  [%d] %.3f %s (%s)\n", i+1, ev.Score, title, ev.ContentType)
		}
	}
	if len(c.Sources) > 0 {
		fmt.Fprintf(out, "sources: %s\n", strings.Join(c.Sources, ", "))
	}
	fmt.Fprintln(out)
}
