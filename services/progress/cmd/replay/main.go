// Command replay drives a playback session from a JSON-lines event script,
// one event per line:
//
//	{"type":"play","at":0}
//	{"type":"tick","at":5}
//	{"type":"seek","at":120}
//	{"type":"pause","at":130}
//
// and prints the state the service ends up with.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/example/lecture-platform/internal/platform/config"
	"github.com/example/lecture-platform/internal/platform/logging"
	"github.com/example/lecture-platform/internal/playback"
	"github.com/example/lecture-platform/internal/progressclient"
)

type event struct {
	Type string  `json:"type"`
	At   float64 `json:"at"`
}

func parseEvents(r io.Reader) ([]event, error) {
	var out []event
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var ev event
		if err := json.Unmarshal([]byte(text), &ev); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		switch ev.Type {
		case "play", "pause", "seek", "tick", "ended":
		default:
			return nil, fmt.Errorf("line %d: unknown event type %q", line, ev.Type)
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func dispatch(p playback.Events, ev event) {
	switch ev.Type {
	case "play":
		p.OnPlay(ev.At)
	case "pause":
		p.OnPause(ev.At)
	case "seek":
		p.OnSeek(ev.At)
	case "tick":
		p.OnTick(ev.At)
	case "ended":
		p.OnEnded(ev.At)
	}
}

func main() {
	fs := pflag.NewFlagSet("replay", pflag.ExitOnError)
	fs.String("base-url", "http://localhost:8080", "progress service base URL")
	fs.String("token", "", "bearer token (defaults to PROGRESS_TOKEN)")
	fs.String("video", "", "video id")
	fs.Int("duration", 0, "video duration in seconds")
	fs.String("file", "-", "event script, - for stdin")
	fs.Bool("resume", false, "print the resume position before replaying")
	_ = fs.Parse(os.Args[1:])

	v := config.NewEnv()
	_ = v.BindPFlags(fs)
	if tok, _ := fs.GetString("token"); tok == "" {
		v.Set("token", v.GetString("progress_token"))
	}

	log, err := logging.New(v.GetString("log_level"), "replay")
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := replay(log, v.GetString("base-url"), v.GetString("token"), v.GetString("video"), v.GetInt("duration"), v.GetString("file"), v.GetBool("resume")); err != nil {
		log.Error("replay", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func replay(log *zap.Logger, baseURL, token, videoID string, duration int, file string, resume bool) error {
	if videoID == "" {
		return errors.New("--video is required")
	}
	in := io.Reader(os.Stdin)
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		in = f
	}
	events, err := parseEvents(in)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	session := progressclient.NewSession(progressclient.New(baseURL, token, nil), videoID, duration, progressclient.Options{Log: log})
	defer session.Close()

	if resume {
		pos, ok, err := session.Resume(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("resume: %d (stored=%v)\n", pos, ok)
	}

	for _, ev := range events {
		dispatch(session, ev)
	}
	log.Info("replayed events", zap.Int("count", len(events)), zap.Float64("local_percentage", session.Percentage()))

	st, err := session.Sync(ctx)
	if err != nil {
		return err
	}
	if st == nil {
		fmt.Println("anonymous session, nothing stored")
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}
