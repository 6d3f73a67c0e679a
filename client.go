/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bufio"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

type clientConfig struct {
	serverIP   string
	serverPort int
	game       string
	name       string
}

// newClientCmd builds the "client" subcommand: a terminal player that
// connects to a running primebox server, readies up, and submits
// selections read from stdin.
func newClientCmd() *cobra.Command {
	cc := &clientConfig{}

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Join a primebox game from the terminal.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cc.name == "" {
				return fmt.Errorf("a player name is required (--name)")
			}
			return runClient(cc)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&cc.serverIP, "server-ip", "b", "127.0.0.1", "server address (env: PRIMEBOX_SERVER_IP)")
	fs.IntVarP(&cc.serverPort, "server-port", "p", 5555, "server port (env: PRIMEBOX_SERVER_PORT)")
	fs.StringVarP(&cc.game, "game", "g", "lobby", "game id to join")
	fs.StringVarP(&cc.name, "name", "n", "", "player display name")

	return cmd
}

func runClient(cc *clientConfig) error {
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(cc.serverIP, strconv.Itoa(cc.serverPort)),
		Path:   "/primes/" + cc.game + "/ws",
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", u.String(), err)
	}
	defer conn.Close()

	fmt.Printf("Connected to game %q as %q.\n", cc.game, cc.name)

	if err := conn.WriteJSON(ClientMessage{Type: "join", Name: cc.name}); err != nil {
		return err
	}

	// Stdin lines become submissions during a round and are ignored
	// otherwise, except for "ready" and "again".
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	incoming := make(chan any)
	errc := make(chan error, 1)
	go func() {
		for {
			var raw map[string]any
			if err := conn.ReadJSON(&raw); err != nil {
				errc <- err
				return
			}
			incoming <- raw
		}
	}()

	fmt.Println(`Type "ready" when you are, then pick primes by index, e.g.: 0 3 7`)

	var values []int
	submitted := false

	for {
		select {
		case err := <-errc:
			return fmt.Errorf("connection closed: %w", err)

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch line {
			case "":
			case "ready":
				if err := conn.WriteJSON(ClientMessage{Type: "ready"}); err != nil {
					return err
				}
			case "again":
				submitted = false
				if err := conn.WriteJSON(ClientMessage{Type: "again"}); err != nil {
					return err
				}
				if err := conn.WriteJSON(ClientMessage{Type: "ready"}); err != nil {
					return err
				}
			case "quit", "exit":
				return nil
			default:
				indices, err := parseIndices(line, len(values))
				if err != nil {
					fmt.Println(err)
					continue
				}
				if submitted {
					fmt.Println("You already locked in an answer this round.")
					continue
				}
				if err := conn.WriteJSON(ClientMessage{Type: "submit", Indices: indices}); err != nil {
					return err
				}
			}

		case raw := <-incoming:
			msg, _ := raw.(map[string]any)
			switch msg["type"] {
			case "session_info":
				fmt.Printf("Game state: %v\n", msg["state"])

			case "lobby":
				printLobby(msg)

			case "round_start":
				values = intSlice(msg["values"])
				submitted = false
				fmt.Printf("\nRound started! %v seconds on the clock.\n", msg["seconds"])
				printGrid(values)
				fmt.Println("Pick your primes by index:")

			case "submit_ack":
				submitted = true
				fmt.Printf("Locked in: %+v points.\n", msg["points"])

			case "round_result":
				printResult(msg)

			case "error":
				fmt.Printf("Rejected (%v): %v\n", msg["code"], msg["message"])
			}
		}
	}
}

func parseIndices(line string, gridSize int) ([]int, error) {
	fields := strings.Fields(line)
	indices := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("not a cell index: %q", f)
		}
		if gridSize > 0 && (n < 0 || n >= gridSize) {
			return nil, fmt.Errorf("index %d is outside the board", n)
		}
		indices = append(indices, n)
	}
	return indices, nil
}

// printGrid renders the board as rows of "index:value" cells, five to
// a row.
func printGrid(values []int) {
	const perRow = 5
	for i, v := range values {
		fmt.Printf("%3d:%-5d ", i, v)
		if (i+1)%perRow == 0 || i == len(values)-1 {
			fmt.Println()
		}
	}
}

func printLobby(msg map[string]any) {
	players, _ := msg["players"].([]any)
	parts := make([]string, 0, len(players))
	for _, entry := range players {
		p, _ := entry.(map[string]any)
		status := "waiting"
		if b, _ := p["ready"].(bool); b {
			status = "ready"
		}
		if b, _ := p["submitted"].(bool); b {
			status = "locked in"
		}
		parts = append(parts, fmt.Sprintf("%v (%s, %v pts)", p["name"], status, p["score"]))
	}
	fmt.Printf("Lobby [%v]: %s\n", msg["state"], strings.Join(parts, ", "))
}

func printResult(msg map[string]any) {
	fmt.Printf("\nRound over (%v)!\n", msg["reason"])
	scores, _ := msg["scores"].([]any)
	for _, entry := range scores {
		s, _ := entry.(map[string]any)
		fmt.Printf("  %v: %v\n", s["name"], s["score"])
	}
	winners, _ := msg["winners"].([]any)
	names := make([]string, 0, len(winners))
	for _, w := range winners {
		names = append(names, fmt.Sprint(w))
	}
	switch len(names) {
	case 0:
		fmt.Println("No winner this round.")
	case 1:
		fmt.Printf("Winner: %s\n", names[0])
	default:
		fmt.Printf("Tied winners: %s\n", strings.Join(names, ", "))
	}
	fmt.Println(`Type "again" for a rematch, or "quit" to leave.`)
}

func intSlice(v any) []int {
	raw, _ := v.([]any)
	out := make([]int, 0, len(raw))
	for _, entry := range raw {
		if f, ok := entry.(float64); ok {
			out = append(out, int(f))
		}
	}
	return out
}
