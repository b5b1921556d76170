package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/anubis/internal/audio"
	"github.com/ent0n29/anubis/internal/protocol"
)

const (
	modeHTTP = "http"
	modeWS   = "ws"
)

type options struct {
	baseURL        string
	mode           string
	voice          string
	speed          int
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	reset          bool
	clearStages    bool
	verbose        bool
}

type askRequest struct {
	Prompt string `json:"prompt"`
	Voice  string `json:"voice,omitempty"`
	Speed  int    `json:"speed,omitempty"`
}

type turnResult struct {
	Text    string
	Latency time.Duration
	Bytes   int
	Speech  time.Duration
}

var defaultUtterances = []string{
	"¿Quién eres?",
	"¿Qué hay en este templo?",
	"Háblame del juicio de los muertos.",
	"¿Por qué tienes cabeza de chacal?",
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfkiosk: %v\n", err)
		os.Exit(2)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()
	if err := run(ctx, cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "perfkiosk: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("perfkiosk", flag.ContinueOnError)
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:3001", "Anubis server base URL")
	fs.StringVar(&cfg.mode, "mode", modeHTTP, "replay path: http (POST /ask-local-llm) or ws (browser bridge)")
	fs.StringVar(&cfg.voice, "voice", "Sergio", "voice for synthesized replies")
	fs.IntVar(&cfg.speed, "speed", 80, "speech rate percentage")
	fs.IntVar(&cfg.turns, "turns", 10, "number of turns to replay")
	fs.IntVar(&interTurnMS, "inter-turn-ms", 180, "delay between turns in milliseconds")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 60000, "timeout waiting for a reply per turn in milliseconds")
	fs.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	fs.BoolVar(&cfg.reset, "reset", true, "reset the conversation when the replay ends")
	fs.BoolVar(&cfg.clearStages, "clear-stages", true, "clear the server stage latency window before replaying")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	cfg.mode = strings.ToLower(strings.TrimSpace(cfg.mode))
	if cfg.mode != modeHTTP && cfg.mode != modeWS {
		return options{}, fmt.Errorf("mode must be http or ws, got %q", cfg.mode)
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func run(ctx context.Context, cfg options, out io.Writer) error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: cfg.turnTimeout, Jar: jar}

	if cfg.clearStages {
		if err := clearServerStages(ctx, client, cfg.baseURL); err != nil {
			return fmt.Errorf("clear stage window: %w", err)
		}
	}

	var results []turnResult
	switch cfg.mode {
	case modeWS:
		results, err = replayBridge(ctx, client, cfg, out)
	default:
		results, err = replayHTTP(ctx, client, cfg, out)
	}
	if err != nil {
		return err
	}
	if cfg.reset {
		if err := resetConversation(ctx, client, cfg.baseURL); err != nil {
			fmt.Fprintf(out, "perfkiosk: reset failed: %v\n", err)
		}
	}
	printSummary(out, results)
	return printServerLatency(ctx, client, cfg.baseURL, out)
}

func replayHTTP(ctx context.Context, client *http.Client, cfg options, out io.Writer) ([]turnResult, error) {
	results := make([]turnResult, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		payload, err := json.Marshal(askRequest{Prompt: text, Voice: cfg.voice, Speed: cfg.speed})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/ask-local-llm", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		start := time.Now()
		res, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", i+1, err)
		}
		body, err := io.ReadAll(io.LimitReader(res.Body, 40<<20))
		res.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("turn %d read reply: %w", i+1, err)
		}
		if res.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("turn %d HTTP %d: %s", i+1, res.StatusCode, strings.TrimSpace(string(body)))
		}
		r := turnResult{Text: text, Latency: time.Since(start), Bytes: len(body), Speech: speechDuration(body)}
		results = append(results, r)
		if cfg.verbose {
			fmt.Fprintf(out, "perfkiosk: turn %d/%d text=%q latency=%s speech=%s bytes=%d\n", i+1, cfg.turns, text, r.Latency.Round(time.Millisecond), r.Speech.Round(time.Millisecond), r.Bytes)
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}
	return results, nil
}

// bridgeClient plays the browser side of the kiosk bridge: it acknowledges
// recognition commands and reports every reply clip as played to the end.
type bridgeClient struct {
	conn    *websocket.Conn
	wmu     sync.Mutex
	once    map[string]bool
	listen  chan struct{}
	replies chan protocol.Clip
	errs    chan error
	verbose bool
	out     io.Writer
}

func replayBridge(ctx context.Context, client *http.Client, cfg options, out io.Writer) ([]turnResult, error) {
	wsURL, err := bridgeURL(cfg.baseURL)
	if err != nil {
		return nil, fmt.Errorf("build ws URL: %w", err)
	}
	dialer := *websocket.DefaultDialer
	dialer.Jar = client.Jar
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	b := &bridgeClient{
		conn:    conn,
		once:    make(map[string]bool),
		listen:  make(chan struct{}, 8),
		replies: make(chan protocol.Clip, 8),
		errs:    make(chan error, 1),
		verbose: cfg.verbose,
		out:     out,
	}
	go b.readLoop()

	if err := b.write(protocol.Control{Type: protocol.TypeControl, Action: protocol.ActionConnect}); err != nil {
		return nil, fmt.Errorf("send connect: %w", err)
	}

	results := make([]turnResult, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		if err := b.await(b.listen, cfg.turnTimeout); err != nil {
			return nil, fmt.Errorf("turn %d await listening: %w", i+1, err)
		}
		text := cfg.texts[i%len(cfg.texts)]
		start := time.Now()
		if err := b.say(text); err != nil {
			return nil, fmt.Errorf("turn %d send transcript: %w", i+1, err)
		}
		clip, err := b.awaitReply(cfg.turnTimeout)
		if err != nil {
			return nil, fmt.Errorf("turn %d await reply: %w", i+1, err)
		}
		payload, _ := base64.StdEncoding.DecodeString(clip.AudioBase64)
		r := turnResult{Text: text, Latency: time.Since(start), Bytes: len(payload), Speech: speechDuration(payload)}
		results = append(results, r)
		if cfg.verbose {
			fmt.Fprintf(out, "perfkiosk: turn %d/%d text=%q latency=%s speech=%s bytes=%d\n", i+1, cfg.turns, text, r.Latency.Round(time.Millisecond), r.Speech.Round(time.Millisecond), r.Bytes)
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}
	_ = b.write(protocol.Control{Type: protocol.TypeControl, Action: protocol.ActionDisconnect})
	return results, nil
}

// write serializes websocket writes between the replay and the read loop.
func (b *bridgeClient) write(v any) error {
	b.wmu.Lock()
	defer b.wmu.Unlock()
	return b.conn.WriteJSON(v)
}

func (b *bridgeClient) say(text string) error {
	if err := b.write(protocol.RecognitionEvent{Type: protocol.TypeRecognitionEvent, Event: protocol.RecognitionStarted}); err != nil {
		return err
	}
	return b.write(protocol.RecognitionEvent{Type: protocol.TypeRecognitionEvent, Event: protocol.RecognitionResult, Text: text, Final: true})
}

func (b *bridgeClient) await(ch <-chan struct{}, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case err := <-b.errs:
		return err
	case <-timer.C:
		return fmt.Errorf("timeout after %s", timeout)
	}
}

func (b *bridgeClient) awaitReply(timeout time.Duration) (protocol.Clip, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case c := <-b.replies:
		return c, nil
	case err := <-b.errs:
		return protocol.Clip{}, err
	case <-timer.C:
		return protocol.Clip{}, fmt.Errorf("timeout after %s", timeout)
	}
}

func (b *bridgeClient) readLoop() {
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			select {
			case b.errs <- err:
			default:
			}
			return
		}
		for _, reply := range b.react(data) {
			if err := b.write(reply); err != nil {
				select {
				case b.errs <- err:
				default:
				}
				return
			}
		}
	}
}

// react updates the replay from one server message and returns the events a
// browser would send back.
func (b *bridgeClient) react(data []byte) []any {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil
	}
	switch env.Type {
	case protocol.TypeRecognition:
		var m protocol.Recognition
		if json.Unmarshal(data, &m) != nil {
			return nil
		}
		if m.Action == protocol.RecognitionStop {
			return []any{protocol.RecognitionEvent{Type: protocol.TypeRecognitionEvent, Event: protocol.RecognitionEnded}}
		}
		select {
		case b.listen <- struct{}{}:
		default:
		}
	case protocol.TypeClip:
		var m protocol.Clip
		if json.Unmarshal(data, &m) != nil {
			return nil
		}
		switch m.Action {
		case protocol.ClipLoadOnce:
			b.once[m.ClipID] = true
			select {
			case b.replies <- m:
			default:
			}
		case protocol.ClipPlay:
			if b.once[m.ClipID] {
				return []any{protocol.ClipEvent{Type: protocol.TypeClipEvent, ClipID: m.ClipID, Event: protocol.ClipEnded}}
			}
		case protocol.ClipClose:
			delete(b.once, m.ClipID)
		}
	case protocol.TypeErrorEvent:
		if b.verbose {
			var m protocol.ErrorEvent
			_ = json.Unmarshal(data, &m)
			fmt.Fprintf(b.out, "perfkiosk: error_event code=%s detail=%s\n", m.Code, m.Detail)
		}
	}
	return nil
}

func bridgeURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/kiosk/ws"
	return u.String(), nil
}

func resetConversation(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/reset-conversation", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", res.StatusCode)
	}
	return nil
}

// speechDuration is the playback length of a reply, zero when it cannot be decoded.
func speechDuration(payload []byte) time.Duration {
	pcm, err := audio.Decode(payload)
	if err != nil || pcm.SampleRate <= 0 {
		return 0
	}
	return time.Duration(pcm.Frames()) * time.Second / time.Duration(pcm.SampleRate)
}

func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q*float64(len(sorted)-1) + 0.5)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func printSummary(out io.Writer, results []turnResult) {
	if len(results) == 0 {
		return
	}
	lat := make([]time.Duration, len(results))
	for i, r := range results {
		lat[i] = r.Latency
	}
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
	fmt.Fprintf(out, "perfkiosk: turns=%d reply_p50=%s reply_p95=%s reply_max=%s\n",
		len(results),
		percentile(lat, 0.50).Round(time.Millisecond),
		percentile(lat, 0.95).Round(time.Millisecond),
		lat[len(lat)-1].Round(time.Millisecond),
	)
}

func clearServerStages(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		return fmt.Errorf("HTTP %d", res.StatusCode)
	}
	return nil
}

func printServerLatency(ctx context.Context, client *http.Client, baseURL string, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch server latency: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") != nil {
		pretty.Reset()
		pretty.Write(body)
	}
	fmt.Fprintf(out, "perfkiosk: server stage latency\n%s\n", pretty.String())
	return nil
}
