package main

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"gridcity.ai/internal/persistence/snapshot"
)

func snapshotCmd(opts *adminOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect snapshot files or ask a running server for one",
	}
	cmd.AddCommand(snapshotInspectCmd(opts), snapshotRequestCmd())
	return cmd
}

func snapshotInspectCmd(opts *adminOpts) *cobra.Command {
	var roomID string
	cmd := &cobra.Command{
		Use:   "inspect [path]",
		Short: "Summarize a snapshot (defaults to the room's latest)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				if strings.TrimSpace(roomID) == "" {
					return fmt.Errorf("give a snapshot path or --room")
				}
				path = snapshot.Latest(filepath.Join(opts.roomDir(roomID), "snapshots"))
				if path == "" {
					return fmt.Errorf("no snapshot found for room %s", roomID)
				}
			}
			snap, err := snapshot.ReadSnapshot(path)
			if err != nil {
				return fmt.Errorf("read snapshot: %w", err)
			}
			w := cmd.OutOrStdout()
			if opts.asJSON {
				printJSON(w, summarize(path, snap))
				return nil
			}
			return printSnapshot(w, path, snap)
		},
	}
	cmd.Flags().StringVar(&roomID, "room", "", "room id (uses its latest snapshot)")
	return cmd
}

type snapshotSummary struct {
	Path       string  `json:"path"`
	RoomID     string  `json:"room_id"`
	Tick       uint64  `json:"tick"`
	Day        int     `json:"day"`
	Started    bool    `json:"started"`
	GameOver   bool    `json:"game_over"`
	Players    int     `json:"players"`
	Parcels    int     `json:"parcels"`
	Buildings  int     `json:"buildings"`
	Population int     `json:"population"`
	Listings   int     `json:"listings"`
	Auctions   int     `json:"auctions"`
	Treasury   int64   `json:"treasury"`
	LVTRate    float64 `json:"lvt_rate"`
}

func summarize(path string, snap snapshot.SnapshotV1) snapshotSummary {
	owned := 0
	for _, p := range snap.Parcels {
		if p.Owner != "" {
			owned++
		}
	}
	day := 0
	if snap.DayTicks > 0 {
		day = int(snap.Header.Tick / uint64(snap.DayTicks))
	}
	return snapshotSummary{
		Path:       path,
		RoomID:     snap.Header.RoomID,
		Tick:       snap.Header.Tick,
		Day:        day,
		Started:    snap.Started,
		GameOver:   snap.GameOver,
		Players:    len(snap.Players),
		Parcels:    owned,
		Buildings:  len(snap.Buildings),
		Population: snap.Population.Children + snap.Population.Adults + snap.Population.Seniors,
		Listings:   len(snap.Listings),
		Auctions:   len(snap.Auctions),
		Treasury:   snap.Governance.Treasury,
		LVTRate:    snap.Governance.LVTRate,
	}
}

func printSnapshot(w io.Writer, path string, snap snapshot.SnapshotV1) error {
	s := summarize(path, snap)
	title := color.New(color.FgCyan, color.Bold)
	title.Fprintf(w, "%s  tick %d  day %d\n", s.RoomID, s.Tick, s.Day)
	fmt.Fprintf(w, "file:        %s\n", filepath.Base(path))
	status := color.New(color.FgGreen).Sprint("running")
	switch {
	case s.GameOver:
		status = color.New(color.FgYellow).Sprint("game over")
	case !s.Started:
		status = "waiting for players"
	}
	fmt.Fprintf(w, "status:      %s\n", status)
	fmt.Fprintf(w, "grid:        %dx%d, %d parcels owned\n", snap.GridSize, snap.GridSize, s.Parcels)
	fmt.Fprintf(w, "buildings:   %d\n", s.Buildings)
	fmt.Fprintf(w, "population:  %d (children %d, adults %d, seniors %d)\n",
		s.Population, snap.Population.Children, snap.Population.Adults, snap.Population.Seniors)
	fmt.Fprintf(w, "treasury:    %s (LVT %.1f%%)\n", money(s.Treasury), s.LVTRate*100)
	fmt.Fprintf(w, "market:      %d listings, %d auctions\n", s.Listings, s.Auctions)
	fmt.Fprintln(w)

	players := append([]snapshot.PlayerV1(nil), snap.Players...)
	sort.Slice(players, func(i, j int) bool {
		if players[i].Cash != players[j].Cash {
			return players[i].Cash > players[j].Cash
		}
		return players[i].ID < players[j].ID
	})
	parcels := map[string]int{}
	for _, p := range snap.Parcels {
		if p.Owner != "" {
			parcels[p.Owner]++
		}
	}
	buildings := map[string]int{}
	for _, b := range snap.Buildings {
		buildings[b.Owner]++
	}

	table := tablewriter.NewTable(w,
		tablewriter.WithHeader([]string{"Player", "Name", "Cash", "Parcels", "Buildings", "Actions", "Votes"}),
	)
	for _, p := range players {
		table.Append([]string{
			p.ID,
			p.Name,
			money(p.Cash),
			fmt.Sprintf("%d", parcels[p.ID]),
			fmt.Sprintf("%d", buildings[p.ID]),
			fmt.Sprintf("%d+%d", p.MonthlyActions, p.PurchasedActions),
			fmt.Sprintf("%d", p.VotingPoints),
		})
	}
	return table.Render()
}
