package watch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/pushdeploy/internal/events"
	"github.com/mattjoyce/pushdeploy/internal/history"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg struct {
	Status string  `json:"status"`
	Uptime float64 `json:"uptime"`
}

type deploymentsMsg []*history.Deployment

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{ lastID int64 }
type reconnectMsg struct{}

// --- Commands ---

// subscribeToEvents connects to /events, resuming after lastID, and feeds
// events into ch until the connection drops.
func subscribeToEvents(apiURL, token string, lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodGet, apiURL+"/events", nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if lastID > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{lastID: lastID}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("GET /events: %s", resp.Status))
		}

		return sseDisconnectedMsg{lastID: readSSE(resp.Body, lastID, ch)}
	}
}

// readSSE parses an event stream into ch and returns the last id seen.
func readSSE(r io.Reader, lastID int64, ch chan<- events.Event) int64 {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		id   int64
		typ  string
		data string
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data != "" {
				ch <- events.Event{ID: id, Type: typ, At: time.Now(), Data: json.RawMessage(data)}
				if id > lastID {
					lastID = id
				}
			}
			id, typ, data = 0, "", ""
		case strings.HasPrefix(line, "id: "):
			if n, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				id = n
			}
		case strings.HasPrefix(line, "event: "):
			typ = line[7:]
		case strings.HasPrefix(line, "data: "):
			data = line[6:]
		}
	}
	return lastID
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchHealth queries the unauthenticated /health endpoint.
func fetchHealth(apiURL string) tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(apiURL + "/health")
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(err)
	}
	return h
}

// fetchDeployments loads the most recent deployments.
func fetchDeployments(apiURL, token string, limit int) tea.Cmd {
	return func() tea.Msg {
		client := &http.Client{Timeout: 5 * time.Second}
		req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/deployments?limit=%d", apiURL, limit), nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := client.Do(req)
		if err != nil {
			return errMsg(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("GET /deployments: %s", resp.Status))
		}

		var body struct {
			Deployments []*history.Deployment `json:"deployments"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return errMsg(err)
		}
		return deploymentsMsg(body.Deployments)
	}
}
