package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"gridcity.ai/internal/persistence/snapshot"
)

type adminOpts struct {
	dataDir    string
	configDir  string
	roomsPath  string
	tuningPath string
	asJSON     bool
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &adminOpts{}
	root := &cobra.Command{
		Use:   "gridcity-admin",
		Short: "Operator tools for gridcity rooms",
		Long: `Inspects room data on disk (snapshots, tx/audit logs, the sqlite index),
replays transaction logs and talks to a running server's admin endpoints.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(out)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.dataDir, "data", "./data", "runtime data directory")
	pf.StringVar(&opts.configDir, "configs", "./configs", "config directory")
	pf.StringVar(&opts.roomsPath, "rooms", "./configs/rooms.yaml", "room list used to rebuild room configs")
	pf.StringVar(&opts.tuningPath, "tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
	pf.BoolVar(&opts.asJSON, "json", false, "print JSON lines instead of tables")

	root.AddCommand(
		roomsCmd(opts),
		snapshotCmd(opts),
		replayCmd(opts),
		txsCmd(opts),
		auditsCmd(opts),
		snapshotsCmd(opts),
		victoriesCmd(opts),
		catalogCmd(opts),
		stateCmd(opts),
	)
	return root
}

func (o *adminOpts) roomDir(id string) string {
	return filepath.Join(o.dataDir, "rooms", id)
}

type roomDirInfo struct {
	RoomID        string `json:"room_id"`
	Snapshots     int    `json:"snapshots"`
	LatestTick    uint64 `json:"latest_tick"`
	SnapshotBytes int64  `json:"snapshot_bytes"`
	TxFiles       int    `json:"tx_files"`
	AuditFiles    int    `json:"audit_files"`
}

func roomsCmd(opts *adminOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List rooms with data on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := scanRooms(filepath.Join(opts.dataDir, "rooms"))
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if opts.asJSON {
				for _, info := range infos {
					printJSON(w, info)
				}
				return nil
			}
			table := tablewriter.NewTable(w,
				tablewriter.WithHeader([]string{"Room", "Snapshots", "Latest Tick", "Snapshot Size", "Tx Files", "Audit Files"}),
			)
			for _, info := range infos {
				table.Append([]string{
					info.RoomID,
					fmt.Sprintf("%d", info.Snapshots),
					fmt.Sprintf("%d", info.LatestTick),
					humanize.Bytes(uint64(info.SnapshotBytes)),
					fmt.Sprintf("%d", info.TxFiles),
					fmt.Sprintf("%d", info.AuditFiles),
				})
			}
			return table.Render()
		},
	}
}

func scanRooms(base string) ([]roomDirInfo, error) {
	ents, err := os.ReadDir(base)
	if err != nil {
		return nil, err
	}
	var out []roomDirInfo
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(base, e.Name())
		info := roomDirInfo{RoomID: e.Name()}
		snaps, _ := os.ReadDir(filepath.Join(dir, "snapshots"))
		for _, s := range snaps {
			if s.IsDir() || !strings.HasSuffix(s.Name(), ".snap.zst") {
				continue
			}
			info.Snapshots++
			if fi, err := s.Info(); err == nil {
				info.SnapshotBytes += fi.Size()
			}
		}
		if latest := snapshot.Latest(filepath.Join(dir, "snapshots")); latest != "" {
			if hdr, err := snapshot.ReadHeader(latest); err == nil {
				info.LatestTick = hdr.Tick
			}
		}
		info.TxFiles = countFiles(filepath.Join(dir, "txs"))
		info.AuditFiles = countFiles(filepath.Join(dir, "audit"))
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out, nil
}

func countFiles(dir string) int {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range ents {
		if !e.IsDir() {
			n++
		}
	}
	return n
}

func printJSON(w io.Writer, v any) {
	b, _ := json.Marshal(v)
	fmt.Fprintln(w, string(b))
}

func money(v int64) string { return "$" + humanize.Comma(v) }
