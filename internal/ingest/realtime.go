package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/topher200/assertion-context/internal/entity"
	"github.com/topher200/assertion-context/internal/parse"
)

const (
	realtimeAttempts = 10
	cliTimeLayout    = "2006-01-02 15:04:05"
)

// RealtimeWindow computes the one-minute slice to pull from the
// Papertrail CLI. The window trails a minute behind the clock so the
// events have settled, and the max bound stops one second short of the
// next window's min.
func RealtimeWindow(endTime *time.Time, now time.Time) (start, end time.Time) {
	boundary := now.Add(-time.Minute).Truncate(time.Minute)
	if endTime != nil {
		boundary = endTime.Truncate(time.Minute)
	}
	return boundary.Add(-time.Minute), boundary.Add(-time.Second)
}

// papertrailEvent is one line of `papertrail -j` output. The CLI emits
// id and source_id as JSON numbers; they become strings in the TSV
// projection.
type papertrailEvent struct {
	ID          json.Number `json:"id"`
	GeneratedAt string      `json:"generated_at"`
	ReceivedAt  string      `json:"received_at"`
	SourceID    json.Number `json:"source_id"`
	SourceName  string      `json:"source_name"`
	SourceIP    string      `json:"source_ip"`
	Facility    string      `json:"facility"`
	Severity    string      `json:"severity"`
	Program     string      `json:"program"`
	Message     string      `json:"message"`
}

// RealtimeUpdate pulls one window of live events through the
// papertrail CLI and persists whatever parses. The CLI's search index
// lags its intake, so a window that comes back empty or errored is
// retried with doubling backoff; a window that never yields is dropped
// rather than failed, the next minute's run carries on.
func (ing *Ingestor) RealtimeUpdate(ctx context.Context, start, end time.Time) error {
	ctx, span := ing.tracer.Start(ctx, "ingest.RealtimeUpdate")
	defer span.End()

	minTime := start.UTC().Format(cliTimeLayout)
	maxTime := end.UTC().Format(cliTimeLayout)

	var stdout []byte
	fetched := false
	for attempt := 0; attempt < realtimeAttempts; attempt++ {
		var stderr []byte
		var err error
		stdout, stderr, err = ing.runCLI(ctx, minTime, maxTime)
		if err == nil && len(bytes.TrimSpace(stderr)) == 0 {
			fetched = true
			break
		}
		ing.log.Warn("papertrail cli attempt failed",
			zap.Int("attempt", attempt+1),
			zap.ByteString("stderr", stderr),
			zap.Error(err))
		if attempt < realtimeAttempts-1 {
			if err := ing.sleep(ctx, time.Duration(1<<attempt)*time.Second); err != nil {
				return err
			}
		}
	}
	if !fetched {
		ing.log.Error("giving up on realtime window",
			zap.String("min_time", minTime), zap.String("max_time", maxTime))
		return nil
	}

	lines, err := projectEvents(stdout)
	if err != nil {
		return fmt.Errorf("project realtime events: %w", err)
	}

	tracebacks, calls, err := ing.parseLines(lines)
	if err != nil {
		return err
	}
	if err := ing.persist(ctx, tracebacks, calls); err != nil {
		return err
	}
	ing.log.Info("realtime window ingested",
		zap.String("min_time", minTime),
		zap.Int("events", len(lines)),
		zap.Int("tracebacks", len(tracebacks)),
		zap.Int("api_calls", len(calls)))
	return nil
}

// projectEvents turns the CLI's JSON lines into the same tab-separated
// rows the hourly archives use, so both feeds share one parser.
func projectEvents(cliOutput []byte) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(cliOutput))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var event papertrailEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		lines = append(lines, strings.Join([]string{
			event.ID.String(),
			event.GeneratedAt,
			event.ReceivedAt,
			event.SourceID.String(),
			event.SourceName,
			event.SourceIP,
			event.Facility,
			event.Severity,
			event.Program,
			event.Message,
		}, "\t"))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (ing *Ingestor) parseLines(lines []string) ([]entity.Traceback, []entity.ApiCall, error) {
	text := strings.Join(lines, "\n")
	tracebacks, err := parse.ParseTracebacks(strings.NewReader(text), ing.log)
	if err != nil {
		return nil, nil, err
	}
	calls, err := parse.ParseApiCalls(strings.NewReader(text), ing.log)
	if err != nil {
		return nil, nil, err
	}
	return tracebacks, calls, nil
}

// papertrailCLI shells out to the papertrail CLI in JSON mode.
func papertrailCLI(ctx context.Context, token, minTime, maxTime string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, "papertrail",
		"--min-time", minTime,
		"--max-time", maxTime,
		"-j")
	if token != "" {
		cmd.Env = append(os.Environ(), "PAPERTRAIL_API_TOKEN="+token)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
