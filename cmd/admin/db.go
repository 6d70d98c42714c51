package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"gridcity.ai/internal/persistence/indexdb"
)

// indexFlags are shared by every command that reads the sqlite index.
type indexFlags struct {
	dbPath string
	roomID string
	limit  int
}

func (f *indexFlags) register(cmd *cobra.Command, defLimit int) {
	cmd.Flags().StringVar(&f.dbPath, "db", "", "sqlite index path (default: <data>/index/gridcity.sqlite)")
	cmd.Flags().StringVar(&f.roomID, "room", "", "room id")
	cmd.Flags().IntVar(&f.limit, "limit", defLimit, "result limit")
}

func (f *indexFlags) open(opts *adminOpts) (*indexdb.Reader, error) {
	path := strings.TrimSpace(f.dbPath)
	if path == "" {
		path = filepath.Join(opts.dataDir, "index", "gridcity.sqlite")
	}
	return indexdb.OpenReader(path)
}

func txsCmd(opts *adminOpts) *cobra.Command {
	var (
		f        indexFlags
		player   string
		txType   string
		from, to int64
	)
	cmd := &cobra.Command{
		Use:   "txs",
		Short: "Query indexed transactions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			rd, err := f.open(opts)
			if err != nil {
				return err
			}
			defer rd.Close()
			rows, err := rd.QueryTransactions(indexdb.TxFilter{
				RoomID:   f.roomID,
				PlayerID: player,
				Type:     strings.ToUpper(txType),
				FromTick: from,
				ToTick:   to,
				Limit:    f.limit,
			})
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			w := cmd.OutOrStdout()
			if opts.asJSON {
				for _, r := range rows {
					printJSON(w, r)
				}
				return nil
			}
			ok := color.New(color.FgGreen).Sprint("ok")
			table := tablewriter.NewTable(w,
				tablewriter.WithHeader([]string{"Tick", "Room", "Tx", "Player", "Type", "Result", "Balance"}),
			)
			for _, r := range rows {
				result := ok
				if !r.Success {
					result = color.New(color.FgRed).Sprint(r.Code)
				}
				balance := "-"
				if r.NewBalance != nil {
					balance = money(*r.NewBalance)
				}
				table.Append([]string{fmt.Sprintf("%d", r.Tick), r.RoomID, r.TxID, r.PlayerID, r.Type, result, balance})
			}
			return table.Render()
		},
	}
	f.register(cmd, 50)
	cmd.Flags().StringVar(&player, "player", "", "player id filter")
	cmd.Flags().StringVar(&txType, "type", "", "transaction type filter (e.g. PURCHASE_PARCEL)")
	cmd.Flags().Int64Var(&from, "from", 0, "first tick (inclusive)")
	cmd.Flags().Int64Var(&to, "to", 0, "last tick (inclusive, 0 = no bound)")
	return cmd
}

func auditsCmd(opts *adminOpts) *cobra.Command {
	var (
		f     indexFlags
		actor string
	)
	cmd := &cobra.Command{
		Use:   "audits",
		Short: "Query a room's indexed audit trail, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(f.roomID) == "" {
				return fmt.Errorf("missing --room")
			}
			rd, err := f.open(opts)
			if err != nil {
				return err
			}
			defer rd.Close()
			rows, err := rd.QueryAudits(f.roomID, actor, f.limit)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			w := cmd.OutOrStdout()
			if opts.asJSON {
				for _, r := range rows {
					printJSON(w, r)
				}
				return nil
			}
			table := tablewriter.NewTable(w,
				tablewriter.WithHeader([]string{"Tick", "Actor", "Action", "Parcel", "Amount", "Target", "Reason"}),
			)
			for _, r := range rows {
				table.Append([]string{
					fmt.Sprintf("%d", r.Tick),
					r.Actor,
					r.Action,
					fmt.Sprintf("(%d,%d)", r.Row, r.Col),
					money(r.Amount),
					r.Target,
					r.Reason,
				})
			}
			return table.Render()
		},
	}
	f.register(cmd, 50)
	cmd.Flags().StringVar(&actor, "actor", "", "actor filter")
	return cmd
}

func snapshotsCmd(opts *adminOpts) *cobra.Command {
	var f indexFlags
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List indexed snapshots of a room, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(f.roomID) == "" {
				return fmt.Errorf("missing --room")
			}
			rd, err := f.open(opts)
			if err != nil {
				return err
			}
			defer rd.Close()
			rows, err := rd.QuerySnapshots(f.roomID, f.limit)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			w := cmd.OutOrStdout()
			if opts.asJSON {
				for _, r := range rows {
					printJSON(w, r)
				}
				return nil
			}
			table := tablewriter.NewTable(w,
				tablewriter.WithHeader([]string{"Tick", "Players", "Parcels", "Buildings", "Population", "Treasury", "Listings", "Auctions", "File"}),
			)
			for _, r := range rows {
				table.Append([]string{
					fmt.Sprintf("%d", r.Tick),
					fmt.Sprintf("%d", r.Players),
					fmt.Sprintf("%d", r.Parcels),
					fmt.Sprintf("%d", r.Buildings),
					fmt.Sprintf("%d", r.Population),
					money(r.Treasury),
					fmt.Sprintf("%d", r.Listings),
					fmt.Sprintf("%d", r.Auctions),
					filepath.Base(r.Path),
				})
			}
			return table.Render()
		},
	}
	f.register(cmd, 20)
	return cmd
}

func victoriesCmd(opts *adminOpts) *cobra.Command {
	var f indexFlags
	cmd := &cobra.Command{
		Use:   "victories",
		Short: "List recorded game endings (all rooms unless --room)",
		RunE: func(cmd *cobra.Command, args []string) error {
			rd, err := f.open(opts)
			if err != nil {
				return err
			}
			defer rd.Close()
			rows, err := rd.QueryVictories(f.roomID)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			if f.limit > 0 && len(rows) > f.limit {
				rows = rows[:f.limit]
			}
			w := cmd.OutOrStdout()
			if opts.asJSON {
				for _, r := range rows {
					printJSON(w, r)
				}
				return nil
			}
			winner := color.New(color.FgYellow, color.Bold)
			table := tablewriter.NewTable(w,
				tablewriter.WithHeader([]string{"Room", "Day", "Tick", "Winner", "Score", "Total Wealth", "Population", "Recorded"}),
			)
			for _, r := range rows {
				table.Append([]string{
					r.RoomID,
					fmt.Sprintf("%d", r.Day),
					fmt.Sprintf("%d", r.Tick),
					winner.Sprint(r.Winner),
					fmt.Sprintf("%.2f", r.WinnerScore),
					money(r.TotalWealth),
					fmt.Sprintf("%d", r.FinalPopulation),
					r.RecordedAt,
				})
			}
			return table.Render()
		},
	}
	f.register(cmd, 0)
	return cmd
}

func catalogCmd(opts *adminOpts) *cobra.Command {
	var f indexFlags
	cmd := &cobra.Command{
		Use:   "catalog [name]",
		Short: "List catalog digests recorded by the server, or print one document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rd, err := f.open(opts)
			if err != nil {
				return err
			}
			defer rd.Close()
			w := cmd.OutOrStdout()
			if len(args) == 1 {
				doc, err := rd.CatalogJSON(args[0])
				if err != nil {
					return fmt.Errorf("catalog %s: %w", args[0], err)
				}
				fmt.Fprintln(w, doc)
				return nil
			}
			rows, err := rd.Catalogs()
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			if opts.asJSON {
				for _, r := range rows {
					printJSON(w, r)
				}
				return nil
			}
			table := tablewriter.NewTable(w, tablewriter.WithHeader([]string{"Name", "Digest", "Updated"}))
			for _, r := range rows {
				table.Append([]string{r.Name, r.Digest, r.UpdatedAt})
			}
			return table.Render()
		},
	}
	cmd.Flags().StringVar(&f.dbPath, "db", "", "sqlite index path (default: <data>/index/gridcity.sqlite)")
	return cmd
}
