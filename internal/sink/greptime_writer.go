package sink

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"firespread-sim/internal/fire"
)

const defaultGreptimePort = 4001

type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeDBWriter writes fire cells and status events to GreptimeDB via the
// ingester client. Every cell of a frame becomes one row.
type GreptimeDBWriter struct {
	client      greptimeClient
	cellTable   string
	statusTable string
	log         *slog.Logger
}

// NewGreptimeDBWriter connects to endpoint ("host" or "host:port"). Tables are
// created by GreptimeDB on first write.
func NewGreptimeDBWriter(endpoint, database, cellTable, statusTable string, log *slog.Logger) (*GreptimeDBWriter, error) {
	host, port, err := splitEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	cfg := greptime.NewConfig(host).WithPort(port).WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("greptime client: %w", err)
	}
	return &GreptimeDBWriter{
		client:      client,
		cellTable:   cellTable,
		statusTable: statusTable,
		log:         log,
	}, nil
}

func splitEndpoint(endpoint string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		// no port given
		return endpoint, defaultGreptimePort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid greptime port %q: %w", portStr, err)
	}
	return host, port, nil
}

// WriteFrame inserts the cells of a single frame.
func (w *GreptimeDBWriter) WriteFrame(fr fire.Frame) error {
	return w.WriteFrames([]fire.Frame{fr})
}

// WriteFrames inserts the cells of multiple frames in one request.
func (w *GreptimeDBWriter) WriteFrames(frames []fire.Frame) error {
	tbl, err := table.New(w.cellTable)
	if err != nil {
		return err
	}
	for _, c := range []struct {
		name string
		tag  bool
		typ  types.ColumnType
	}{
		{"session_id", true, types.STRING},
		{"mode", true, types.STRING},
		{"sim_time", false, types.INT64},
		{"x", false, types.FLOAT64},
		{"y", false, types.FLOAT64},
		{"intensity", false, types.FLOAT64},
		{"temperature", false, types.FLOAT64},
		{"burn_time", false, types.INT64},
		{"state", false, types.STRING},
	} {
		if c.tag {
			err = tbl.AddTagColumn(c.name, c.typ)
		} else {
			err = tbl.AddFieldColumn(c.name, c.typ)
		}
		if err != nil {
			return err
		}
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return err
	}

	rows := 0
	for _, fr := range frames {
		for _, c := range fr.FireCells {
			if err := tbl.AddRow(fr.SessionID, string(fr.Mode), int64(fr.CurrentTime),
				c.X, c.Y, c.Intensity, c.Temperature, int64(c.BurnTime), string(c.State), fr.Timestamp); err != nil {
				return err
			}
			rows++
		}
	}
	if rows == 0 {
		return nil
	}
	return w.write(tbl, rows)
}

// WriteStatus inserts a single status event.
func (w *GreptimeDBWriter) WriteStatus(ev fire.StatusEvent) error {
	return w.WriteStatuses([]fire.StatusEvent{ev})
}

// WriteStatuses inserts multiple status events.
func (w *GreptimeDBWriter) WriteStatuses(evs []fire.StatusEvent) error {
	if len(evs) == 0 {
		return nil
	}
	tbl, err := table.New(w.statusTable)
	if err != nil {
		return err
	}
	if err := tbl.AddTagColumn("session_id", types.STRING); err != nil {
		return err
	}
	if err := tbl.AddFieldColumn("status", types.STRING); err != nil {
		return err
	}
	if err := tbl.AddFieldColumn("phase", types.STRING); err != nil {
		return err
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return err
	}
	for _, ev := range evs {
		if err := tbl.AddRow(ev.SessionID, ev.Status, ev.Phase, ev.Timestamp); err != nil {
			return err
		}
	}
	return w.write(tbl, len(evs))
}

func (w *GreptimeDBWriter) write(tbl *table.Table, rows int) error {
	if _, err := w.client.Write(context.Background(), tbl); err != nil {
		if w.log != nil {
			w.log.Error("greptime write failed", "err", err)
		}
		return err
	}
	if w.log != nil {
		w.log.Debug("greptime write", "rows", rows)
	}
	return nil
}
