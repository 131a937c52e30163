package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/amplihq/usagelens/internal/ingest"
	"github.com/amplihq/usagelens/internal/session"
	"github.com/amplihq/usagelens/internal/store"
)

// runIngest reads normalized-session JSONL from a file or stdin
// and folds each record into the window store.
func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	file := fs.String("file", "", `JSONL file to read ("-" or empty for stdin)`)
	correct := fs.Bool("correct", false, "Treat records as corrections of known sessions")
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}

	cfg := mustLoadConfig()
	st := mustOpenStore(cfg)
	defer st.Close()

	in := io.Reader(os.Stdin)
	if *file != "" && *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			log.Fatalf("opening input: %v", err)
		}
		defer f.Close()
		in = f
	}

	pipe := ingest.New(st, cfg.Granularity)
	ingested, skipped, failed := ingestStream(pipe, in, *correct)
	fmt.Printf("Ingested %d sessions (%d skipped, %d failed)\n",
		ingested, skipped, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func ingestStream(pipe *ingest.Pipeline, in io.Reader, correct bool) (ingested, skipped, failed int) {
	ctx := context.Background()
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		n, err := session.Decode([]byte(line))
		if err != nil {
			log.Printf("line %d: %v", lineNo, err)
			failed++
			continue
		}

		if correct {
			_, err = pipe.Correct(ctx, &n)
		} else {
			_, err = pipe.Ingest(ctx, &n)
		}
		switch {
		case err == nil:
			ingested++
		case errors.Is(err, store.ErrDuplicateSession):
			// Already applied; re-running an export is fine.
			skipped++
		default:
			log.Printf("line %d (%s): %v", lineNo, n.SessionID, err)
			failed++
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("reading input: %v", err)
		failed++
	}
	return ingested, skipped, failed
}
