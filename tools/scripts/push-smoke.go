// Package main provides a CI-friendly smoke test for the check-in push channel.
//
// It logs in over REST (or uses -token), opens the push WebSocket and reads
// frames until -count messages arrived or -timeout expired. Every frame must
// decode and validate against the v1 push contract.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "checkin/contracts/push/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

func main() {
	var (
		apiURL  = flag.String("api", "http://127.0.0.1:8080", "REST base URL (used for login)")
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/websocket", "push WebSocket URL")
		token   = flag.String("token", os.Getenv("CHECKIN_TOKEN"), "bearer token; skips login when set")
		user    = flag.String("user", os.Getenv("CHECKIN_ADMIN_USER"), "login username")
		count   = flag.Int("count", 1, "number of messages to wait for (0 = only connect)")
		timeout = flag.Duration("timeout", 30*time.Second, "overall timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	root, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	tok := strings.TrimSpace(*token)
	if tok == "" {
		if strings.TrimSpace(*user) == "" {
			fatalf("either -token or -user (with CHECKIN_ADMIN_PASSWORD) is required")
		}
		tok = mustLogin(root, *apiURL, *user, os.Getenv("CHECKIN_ADMIN_PASSWORD"))
	}

	conn := mustConnect(root, *wsURL, tok)
	defer closeWS(conn)

	if *verbose {
		fmt.Printf("connected: url=%s\n", *wsURL)
	}

	for i := 0; i < *count; i++ {
		m := mustReadMessage(root, conn)
		if *verbose {
			if m.CheckIn == nil {
				fmt.Printf("push: rfid_uid=%s (unassigned badge)\n", m.RFIDUID)
			} else {
				d, _ := v1.NormalizeDate(m.CheckIn.Date)
				fmt.Printf("push: rfid_uid=%s user_id=%d date=%s\n", m.RFIDUID, m.CheckIn.UserID, d)
			}
		}
	}

	fmt.Printf("OK: url=%s messages=%d\n", *wsURL, *count)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustLogin(ctx context.Context, apiBase, user, password string) string {
	body, err := json.Marshal(map[string]string{"username": user, "password": password})
	if err != nil {
		fatalf("marshal login: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(apiBase, "/")+"/api/login", bytes.NewReader(body))
	if err != nil {
		fatalf("build login request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("login: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fatalf("login: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("decode login response: %v", err)
	}
	if strings.TrimSpace(out.Token) == "" {
		fatalf("login response missing token")
	}
	return out.Token
}

func mustConnect(ctx context.Context, wsURL, token string) *websocket.Conn {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			fatalf("connect: status=%d: %v", resp.StatusCode, err)
		}
		fatalf("connect: %v", err)
	}

	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustReadMessage(ctx context.Context, conn *websocket.Conn) v1.Message {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		fatalf("read: %v", err)
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		fatalf("unsupported message type: %v", mt)
	}

	var m v1.Message
	if err := json.Unmarshal(data, &m); err != nil {
		fatalf("bad json: %v (%q)", err, data)
	}
	if err := m.Validate(); err != nil {
		fatalf("bad message: %v (%q)", err, data)
	}
	return m
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
