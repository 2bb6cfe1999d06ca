package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/therealutkarshpriyadarshi/loglyzer/internal/stats"
)

// WriteSummary prints console tables for snap: totals, the status histogram
// and the top clients and paths. Unparsable lines are always listed.
func WriteSummary(w io.Writer, snap *stats.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("write summary: nil snapshot")
	}

	totals := tablewriter.NewWriter(w)
	totals.Header("Metric", "Value")
	rows := [][]string{
		{"Lines", u(snap.LinesSeen())},
		{"Admitted", u(snap.TotalRecords)},
		{"Unparsable", u(snap.Unparsable)},
		{"Filtered", u(snap.Filtered)},
		{"Bytes", humanBytes(snap.TotalBytes)},
	}
	for _, r := range rows {
		if err := totals.Append(r); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	if err := totals.Render(); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	if hist := snap.StatusHistogram(); len(hist) > 0 {
		t := tablewriter.NewWriter(w)
		t.Header("Status", "Requests")
		for _, s := range hist {
			if err := t.Append([]string{strconv.Itoa(int(s.Code)), u(s.Count)}); err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
		}
		if err := t.Render(); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}

	if len(snap.TopIPs) > 0 {
		t := tablewriter.NewWriter(w)
		t.Header("Client", "Requests")
		for _, ip := range snap.TopIPs {
			if err := t.Append([]string{ip.IP, u(ip.Count)}); err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
		}
		if err := t.Render(); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}

	if len(snap.TopPaths) > 0 {
		t := tablewriter.NewWriter(w)
		t.Header("Path", "Requests")
		for _, p := range snap.TopPaths {
			if err := t.Append([]string{p.Path, u(p.Count)}); err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
		}
		if err := t.Render(); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}

	return nil
}

func u(n uint64) string {
	return strconv.FormatUint(n, 10)
}
