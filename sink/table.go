package sink

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	pnet "github.com/jinmuyano/procnet"
	"github.com/olekukonko/tablewriter"
)

var tableHeader = []string{"PID", "Name", "Create Time", "Upload", "Download", "Upload Speed", "Download Speed"}

// Table renders each report as a console table.
type Table struct {
	mu    sync.Mutex
	out   io.Writer
	limit int
}

// NewTable writes to out (stdout when nil), keeping the top limit rows, 0 for all.
func NewTable(out io.Writer, limit int) *Table {
	if out == nil {
		out = os.Stdout
	}
	return &Table{out: out, limit: limit}
}

func (t *Table) Emit(r pnet.Report) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows := r.Rows
	if t.limit > 0 && len(rows) > t.limit {
		rows = rows[:t.limit]
	}

	fmt.Fprintf(t.out, "%s  processes: %d\n", r.At.Format("2006-01-02 15:04:05"), len(r.Rows))

	table := tablewriter.NewWriter(t.out)
	table.SetHeader(tableHeader)
	table.SetAutoFormatHeaders(false)
	for _, row := range rows {
		table.Append(tableRow(row, r))
	}
	table.Render()
	return nil
}

func tableRow(row pnet.Row, r pnet.Report) []string {
	return []string{
		strconv.Itoa(int(row.PID)),
		row.Name,
		row.CreateTime.Format("2006-01-02 15:04:05"),
		FormatSize(float64(row.Upload)),
		FormatSize(float64(row.Download)),
		FormatRate(row.UploadSpeed, r.Interval),
		FormatRate(row.DownloadSpeed, r.Interval),
	}
}
