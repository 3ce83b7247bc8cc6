// loragw-stats is an admin/inspection CLI over the gateway's telemetry
// database: sessions, frame counters, resync/inject-failure counts, and
// peer last-seen tracking.
package main

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
)

var (
	dbPath  string
	limit   int
	rootCmd = &cobra.Command{
		Use:   "loragw-stats",
		Short: "loragwd telemetry CLI",
		Long:  "Command-line tool for inspecting the loragwd gateway's telemetry database.",
	}

	sessionsCmd = &cobra.Command{
		Use:   "sessions",
		Short: "List recent gateway sessions",
		RunE:  listSessions,
	}

	peersCmd = &cobra.Command{
		Use:   "peers",
		Short: "Show known cell peers and their last-seen time",
		RunE:  listPeers,
	}

	framesCmd = &cobra.Command{
		Use:   "frames [session-id]",
		Short: "Show tx/rx frame counters, optionally for one session",
		Args:  cobra.MaximumNArgs(1),
		RunE:  showFrameCounts,
	}

	resyncCmd = &cobra.Command{
		Use:   "resync [session-id]",
		Short: "Show resync event counts",
		Args:  cobra.MaximumNArgs(1),
		RunE:  showResyncCounts,
	}

	queryCmd = &cobra.Command{
		Use:   "query [sql]",
		Short: "Execute a raw read-only SQL query",
		Args:  cobra.ExactArgs(1),
		RunE:  executeQuery,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "database", "d", "/var/lib/loragwd/telemetry.db", "Telemetry database file path")
	rootCmd.PersistentFlags().IntVarP(&limit, "limit", "n", 20, "Number of records to show")

	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(peersCmd)
	rootCmd.AddCommand(framesCmd)
	rootCmd.AddCommand(resyncCmd)
	rootCmd.AddCommand(queryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openDB() (*sql.DB, error) {
	return sql.Open("sqlite3", dbPath+"?mode=ro")
}

func listSessions(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query(
		`SELECT id, local_addr, device, started_at, stopped_at FROM sessions ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tADDR\tDEVICE\tSTARTED\tSTOPPED")
	fmt.Fprintln(w, "-------\t----\t------\t-------\t-------")

	for rows.Next() {
		var id, device string
		var localAddr int
		var started time.Time
		var stopped sql.NullTime

		if err := rows.Scan(&id, &localAddr, &device, &started, &stopped); err != nil {
			return err
		}
		stoppedStr := "running"
		if stopped.Valid {
			stoppedStr = stopped.Time.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", id, localAddr, device,
			started.Format("2006-01-02 15:04:05"), stoppedStr)
	}
	w.Flush()
	return nil
}

func listPeers(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT lora_addr, last_seen, rx_frames FROM peers ORDER BY last_seen DESC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDR\tLAST SEEN\tRX FRAMES")
	fmt.Fprintln(w, "----\t---------\t---------")

	for rows.Next() {
		var addr int
		var lastSeen time.Time
		var rxFrames int64
		if err := rows.Scan(&addr, &lastSeen, &rxFrames); err != nil {
			return err
		}
		fmt.Fprintf(w, "%d\t%s\t%d\n", addr, lastSeen.Format("2006-01-02 15:04:05"), rxFrames)
	}
	w.Flush()
	return nil
}

func showFrameCounts(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	query := `SELECT session_id, direction, COUNT(*), SUM(wire_bytes) FROM frame_events`
	var queryArgs []interface{}
	if len(args) > 0 {
		query += ` WHERE session_id = ?`
		queryArgs = append(queryArgs, args[0])
	}
	query += ` GROUP BY session_id, direction ORDER BY session_id, direction`

	rows, err := db.Query(query, queryArgs...)
	if err != nil {
		return err
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tDIR\tCOUNT\tBYTES")
	fmt.Fprintln(w, "-------\t---\t-----\t-----")

	for rows.Next() {
		var sessionID, direction string
		var count, bytes int64
		if err := rows.Scan(&sessionID, &direction, &count, &bytes); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", sessionID, direction, count, bytes)
	}
	w.Flush()
	return nil
}

func showResyncCounts(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	query := `SELECT session_id, COUNT(*) FROM resync_events`
	var queryArgs []interface{}
	if len(args) > 0 {
		query += ` WHERE session_id = ?`
		queryArgs = append(queryArgs, args[0])
	}
	query += ` GROUP BY session_id ORDER BY session_id`

	rows, err := db.Query(query, queryArgs...)
	if err != nil {
		return err
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tRESYNCS")
	fmt.Fprintln(w, "-------\t-------")

	for rows.Next() {
		var sessionID string
		var count int64
		if err := rows.Scan(&sessionID, &count); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d\n", sessionID, count)
	}
	w.Flush()
	return nil
}

func executeQuery(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	query := args[0]
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT") {
		return fmt.Errorf("only SELECT queries are allowed")
	}

	rows, err := db.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(cols, "\t"))
	fmt.Fprintln(w, strings.Repeat("-\t", len(cols)))

	values := make([]interface{}, len(cols))
	valuePtrs := make([]interface{}, len(cols))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(valuePtrs...); err != nil {
			return err
		}
		var row []string
		for _, v := range values {
			switch val := v.(type) {
			case nil:
				row = append(row, "NULL")
			case []byte:
				row = append(row, string(val))
			default:
				row = append(row, fmt.Sprintf("%v", val))
			}
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
	return nil
}
