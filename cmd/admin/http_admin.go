package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

const defaultServerURL = "http://127.0.0.1:8080"

// liveRoom mirrors the server's /admin/v1/rooms entries.
type liveRoom struct {
	RoomID     string `json:"room_id"`
	Name       string `json:"name"`
	Dynamic    bool   `json:"dynamic"`
	Spectators int    `json:"spectators"`
	Metrics    struct {
		Tick       uint64 `json:"tick"`
		GameDay    int    `json:"game_day"`
		Started    bool   `json:"started"`
		GameOver   bool   `json:"game_over"`
		Players    int    `json:"players"`
		Clients    int    `json:"clients"`
		Buildings  int    `json:"buildings"`
		Population int    `json:"population"`
		Treasury   int64  `json:"treasury"`
		TxAccepted uint64 `json:"tx_accepted"`
		TxRejected uint64 `json:"tx_rejected"`
	} `json:"metrics"`
}

func stateCmd(opts *adminOpts) *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show live room state from a running server (loopback only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/admin/v1/rooms"
			cl := &http.Client{Timeout: 5 * time.Second}
			resp, err := cl.Get(u)
			if err != nil {
				return fmt.Errorf("request: %w", err)
			}
			defer resp.Body.Close()
			b, _ := io.ReadAll(resp.Body)
			if resp.StatusCode/100 != 2 {
				return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(b)))
			}
			var rooms []liveRoom
			if err := json.Unmarshal(b, &rooms); err != nil {
				return fmt.Errorf("decode: %w", err)
			}

			w := cmd.OutOrStdout()
			if opts.asJSON {
				for _, r := range rooms {
					printJSON(w, r)
				}
				return nil
			}
			table := tablewriter.NewTable(w,
				tablewriter.WithHeader([]string{"Room", "Name", "Tick", "Day", "Status", "Players", "Clients", "Spectators", "Population", "Treasury", "Tx ok/rej"}),
			)
			for _, r := range rooms {
				m := r.Metrics
				status := "running"
				switch {
				case m.GameOver:
					status = "game over"
				case !m.Started:
					status = "waiting"
				}
				name := r.Name
				if r.Dynamic {
					name += " (dynamic)"
				}
				table.Append([]string{
					r.RoomID,
					name,
					fmt.Sprintf("%d", m.Tick),
					fmt.Sprintf("%d", m.GameDay),
					status,
					fmt.Sprintf("%d", m.Players),
					fmt.Sprintf("%d", m.Clients),
					fmt.Sprintf("%d", r.Spectators),
					fmt.Sprintf("%d", m.Population),
					money(m.Treasury),
					fmt.Sprintf("%d/%d", m.TxAccepted, m.TxRejected),
				})
			}
			return table.Render()
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", defaultServerURL, "server base url")
	return cmd
}

func snapshotRequestCmd() *cobra.Command {
	var baseURL, roomID string
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Ask a running server to write a snapshot of one room now",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(roomID) == "" {
				return fmt.Errorf("missing --room")
			}
			u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/admin/v1/rooms/snapshot?room=" + url.QueryEscape(roomID)
			req, err := http.NewRequest(http.MethodPost, u, nil)
			if err != nil {
				return err
			}
			cl := &http.Client{Timeout: 10 * time.Second}
			resp, err := cl.Do(req)
			if err != nil {
				return fmt.Errorf("request: %w", err)
			}
			defer resp.Body.Close()
			b, _ := io.ReadAll(resp.Body)
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(b)))
			if resp.StatusCode/100 != 2 {
				return fmt.Errorf("snapshot request failed: %s", resp.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", defaultServerURL, "server base url")
	cmd.Flags().StringVar(&roomID, "room", "", "room id")
	return cmd
}
