package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sahasi-app/sahasi/internal/session"
)

func main() {
	_ = godotenv.Load()

	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := newClient(session.SocketPath(sessionName))

	switch args[0] {
	case "status":
		cmdStatus(c, *jsonFlag)
	case "login":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: sahasictl login <username> <password>")
			os.Exit(1)
		}
		cmdLogin(c, args[1], args[2])
	case "logout":
		c.run("POST", "/v1/logout", `{}`, *jsonFlag)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: sahasictl send <contact-id> <text>")
			os.Exit(1)
		}
		cmdSend(c, args[1], strings.Join(args[2:], " "))
	case "history":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: sahasictl history <contact-id>")
			os.Exit(1)
		}
		cmdMessages(c, "GET", "/v1/conversations/"+url.PathEscape(args[1])+"/messages", *jsonFlag)
	case "sync":
		if len(args) < 2 {
			c.run("POST", "/v1/sync", `{}`, *jsonFlag)
			return
		}
		cmdMessages(c, "POST", "/v1/conversations/"+url.PathEscape(args[1])+"/sync", *jsonFlag)
	case "outbox":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: sahasictl outbox <contact-id>")
			os.Exit(1)
		}
		cmdMessages(c, "GET", "/v1/conversations/"+url.PathEscape(args[1])+"/outbox", *jsonFlag)
	case "sos":
		message := "Emergency! I need help."
		if len(args) >= 2 {
			message = strings.Join(args[1:], " ")
		}
		body, _ := json.Marshal(map[string]string{"message": message})
		c.run("POST", "/v1/sos", string(body), *jsonFlag)
	case "contacts":
		if len(args) >= 2 && args[1] == "list" {
			c.run("GET", "/v1/contacts", "", *jsonFlag)
		} else {
			fmt.Fprintln(os.Stderr, "usage: sahasictl contacts list")
			os.Exit(1)
		}
	case "safeplaces":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: sahasictl safeplaces <lat> <lng>")
			os.Exit(1)
		}
		q := url.Values{}
		q.Set("lat", args[1])
		q.Set("lng", args[2])
		c.run("GET", "/v1/safeplaces?"+q.Encode(), "", *jsonFlag)
	case "profile":
		c.run("GET", "/v1/profile", "", *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: sahasictl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                     Show daemon status")
	fmt.Fprintln(os.Stderr, "  login <user> <password>    Sign in to the backend")
	fmt.Fprintln(os.Stderr, "  logout                     Clear stored credentials")
	fmt.Fprintln(os.Stderr, "  send <contact> <text>      Send a chat message")
	fmt.Fprintln(os.Stderr, "  history <contact>          Show a conversation log")
	fmt.Fprintln(os.Stderr, "  sync [contact]             Drain pending outboxes")
	fmt.Fprintln(os.Stderr, "  outbox <contact>           Show queued messages")
	fmt.Fprintln(os.Stderr, "  sos [message]              Raise an SOS alert")
	fmt.Fprintln(os.Stderr, "  contacts list              List trusted contacts")
	fmt.Fprintln(os.Stderr, "  safeplaces <lat> <lng>     List nearby safe places")
	fmt.Fprintln(os.Stderr, "  profile                    Show the signed-in profile")
}

// client talks to the daemon's control socket.
type client struct {
	http *http.Client
}

func newClient(socketPath string) *client {
	return &client{
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

// call issues one request and returns the decoded body.
func (c *client) call(method, path, body string) (json.RawMessage, int) {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, "http://sahasid"+path, reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		raw = json.RawMessage(`{}`)
	}
	return raw, resp.StatusCode
}

// run issues a request and prints the body, failing on non-2xx. These
// endpoints proxy backend JSON, so there is no text rendering.
func (c *client) run(method, path, body string, _ bool) {
	raw, code := c.call(method, path, body)
	if code < 200 || code >= 300 {
		fmt.Fprintf(os.Stderr, "error (%d): %s\n", code, detailOf(raw))
		os.Exit(1)
	}
	outputJSON(raw)
}

func cmdStatus(c *client, jsonOut bool) {
	raw, code := c.call("GET", "/v1/status", "")
	if code != http.StatusOK {
		fmt.Fprintf(os.Stderr, "error (%d): %s\n", code, detailOf(raw))
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(raw)
		return
	}
	var st struct {
		Session  string `json:"session"`
		Status   string `json:"status"`
		Online   bool   `json:"online"`
		SignedIn bool   `json:"signed_in"`
	}
	_ = json.Unmarshal(raw, &st)
	fmt.Printf("Session:   %s\n", st.Session)
	fmt.Printf("Status:    %s\n", st.Status)
	fmt.Printf("Online:    %v\n", st.Online)
	fmt.Printf("Signed in: %v\n", st.SignedIn)
}

func cmdLogin(c *client, username, password string) {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	raw, code := c.call("POST", "/v1/login", string(body))
	if code != http.StatusOK {
		fmt.Fprintf(os.Stderr, "login failed (%d): %s\n", code, detailOf(raw))
		os.Exit(1)
	}
	fmt.Println("Signed in.")
}

func cmdSend(c *client, contact, text string) {
	body, _ := json.Marshal(map[string]string{"text": text})
	raw, code := c.call("POST", "/v1/conversations/"+url.PathEscape(contact)+"/messages", string(body))
	if code != http.StatusCreated {
		fmt.Fprintf(os.Stderr, "send failed (%d): %s\n", code, detailOf(raw))
		os.Exit(1)
	}
	var msg struct {
		ID            string `json:"id"`
		DeliveryState string `json:"delivery_state"`
	}
	_ = json.Unmarshal(raw, &msg)
	if msg.DeliveryState == "pending" {
		fmt.Printf("Queued %s (offline, will sync when connectivity returns)\n", msg.ID)
	} else {
		fmt.Printf("Sent %s\n", msg.ID)
	}
}

func cmdMessages(c *client, method, path string, jsonOut bool) {
	raw, code := c.call(method, path, "")
	if code != http.StatusOK {
		fmt.Fprintf(os.Stderr, "error (%d): %s\n", code, detailOf(raw))
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(raw)
		return
	}
	var msgs []struct {
		SenderID      string `json:"sender_id"`
		Text          string `json:"text"`
		CreatedAt     string `json:"created_at"`
		DeliveryState string `json:"delivery_state"`
	}
	_ = json.Unmarshal(raw, &msgs)
	if len(msgs) == 0 {
		fmt.Println("(empty)")
		return
	}
	for _, m := range msgs {
		marker := ""
		if m.DeliveryState == "pending" {
			marker = " [pending]"
		}
		fmt.Printf("%s  %s: %s%s\n", m.CreatedAt, m.SenderID, m.Text, marker)
	}
}

func detailOf(raw json.RawMessage) string {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Detail != "" {
		return body.Detail
	}
	return string(raw)
}

func outputJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
