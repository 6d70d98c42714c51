package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	persistlog "gridcity.ai/internal/persistence/log"
	"gridcity.ai/internal/persistence/snapshot"
	"gridcity.ai/internal/sim/catalogs"
	"gridcity.ai/internal/sim/multiroom"
	"gridcity.ai/internal/sim/room"
	"gridcity.ai/internal/sim/tuning"
)

func replayCmd(opts *adminOpts) *cobra.Command {
	var (
		roomID       string
		fromSnapshot bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-apply a room's tx log to a fresh room and report final balances",
		Long: `Builds the room from the configured catalogs and tuning, optionally resumes it
from the latest snapshot, then re-applies every logged transaction at its
logged tick. Any divergence from the logged outcome stops the replay.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(roomID) == "" {
				return fmt.Errorf("missing --room")
			}
			res, err := replayRoom(opts, roomID, fromSnapshot)
			w := cmd.OutOrStdout()
			if res != nil {
				if perr := printReplay(w, opts, res); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&roomID, "room", "", "room id")
	cmd.Flags().BoolVar(&fromSnapshot, "from_snapshot", false, "start from the latest snapshot instead of an empty room")
	return cmd
}

type replayBalance struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name,omitempty"`
	Cash     int64  `json:"cash"`
}

type replayResult struct {
	RoomID    string          `json:"room_id"`
	Snapshot  string          `json:"snapshot,omitempty"`
	StartTick uint64          `json:"start_tick"`
	EndTick   uint64          `json:"end_tick"`
	Applied   int             `json:"applied"`
	Skipped   int             `json:"skipped"`
	Balances  []replayBalance `json:"balances"`
}

// replayRoom returns the partial result alongside any divergence error so
// the operator can see how far the log got.
func replayRoom(opts *adminOpts, roomID string, fromSnapshot bool) (*replayResult, error) {
	rc, tune, cats, err := opts.roomConfig(roomID)
	if err != nil {
		return nil, err
	}
	r, err := room.New(rc, tune, cats)
	if err != nil {
		return nil, err
	}

	dir := opts.roomDir(roomID)
	res := &replayResult{RoomID: roomID}
	if fromSnapshot {
		path := snapshot.Latest(filepath.Join(dir, "snapshots"))
		if path == "" {
			return nil, fmt.Errorf("no snapshot found for room %s", roomID)
		}
		snap, err := snapshot.ReadSnapshot(path)
		if err != nil {
			return nil, fmt.Errorf("read snapshot: %w", err)
		}
		if err := r.ImportSnapshot(snap); err != nil {
			return nil, err
		}
		res.Snapshot = filepath.Base(path)
	}
	res.StartTick = r.CurrentTick()

	replayErr := persistlog.ReadTxLog(dir, func(e room.TxLogEntry) error {
		applied, err := r.ApplyLogged(e)
		if err != nil {
			return err
		}
		if applied {
			res.Applied++
		} else {
			res.Skipped++
		}
		return nil
	})
	if replayErr != nil && os.IsNotExist(replayErr) {
		replayErr = fmt.Errorf("no tx log for room %s", roomID)
	}

	res.EndTick = r.CurrentTick()
	for _, p := range r.Ledger().Players() {
		res.Balances = append(res.Balances, replayBalance{PlayerID: p.ID, Name: p.Name, Cash: p.Cash})
	}
	sort.Slice(res.Balances, func(i, j int) bool { return res.Balances[i].PlayerID < res.Balances[j].PlayerID })
	return res, replayErr
}

func (o *adminOpts) roomConfig(roomID string) (room.Config, tuning.Tuning, *catalogs.Catalogs, error) {
	cats, err := catalogs.Load(o.configDir)
	if err != nil {
		return room.Config{}, tuning.Tuning{}, nil, fmt.Errorf("load catalogs: %w", err)
	}
	tp := strings.TrimSpace(o.tuningPath)
	if tp == "" {
		tp = filepath.Join(o.configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		return room.Config{}, tuning.Tuning{}, nil, fmt.Errorf("load tuning: %w", err)
	}

	rp := strings.TrimSpace(o.roomsPath)
	if rp != "" {
		if _, err := os.Stat(rp); os.IsNotExist(err) {
			rp = ""
		}
	}
	rooms, err := multiroom.Load(rp)
	if err != nil {
		return room.Config{}, tuning.Tuning{}, nil, err
	}
	spec, ok := rooms.RoomSpecByID(roomID)
	if !ok {
		spec = rooms.DynamicSpec(roomID)
	}
	return spec.RoomConfig(tune), tune, cats, nil
}

func printReplay(w io.Writer, opts *adminOpts, res *replayResult) error {
	if opts.asJSON {
		printJSON(w, res)
		return nil
	}
	from := "empty room"
	if res.Snapshot != "" {
		from = res.Snapshot
	}
	color.New(color.FgCyan, color.Bold).Fprintf(w, "replay %s\n", res.RoomID)
	fmt.Fprintf(w, "from:     %s (tick %d)\n", from, res.StartTick)
	fmt.Fprintf(w, "applied:  %d (skipped %d older than start)\n", res.Applied, res.Skipped)
	fmt.Fprintf(w, "end tick: %d\n", res.EndTick)

	table := tablewriter.NewTable(w, tablewriter.WithHeader([]string{"Player", "Name", "Cash"}))
	for _, b := range res.Balances {
		table.Append([]string{b.PlayerID, b.Name, money(b.Cash)})
	}
	return table.Render()
}
