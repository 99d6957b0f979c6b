package zabbix

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/skyrus-io/skyrus/internal/model"
)

// Sender delivers one metric batch to the monitoring system. A failed send is
// reported to the caller but carries no state into the next cycle.
type Sender interface {
	Send(ctx context.Context, batch model.Batch) error
	Health(ctx context.Context) error
}

// TrapperSender speaks the Zabbix sender protocol directly over TCP:
// "ZBXD\x01" + little-endian payload length + JSON body, one connection per
// batch.
type TrapperSender struct {
	log      *slog.Logger
	address  string
	hostname string
	timeout  time.Duration
	dial     func(ctx context.Context, address string) (net.Conn, error)
}

func NewTrapperSender(log *slog.Logger, server string, port int, hostname string, timeout time.Duration) *TrapperSender {
	return &TrapperSender{
		log:      log,
		address:  net.JoinHostPort(server, strconv.Itoa(port)),
		hostname: hostname,
		timeout:  timeout,
		dial: func(ctx context.Context, address string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", address)
		},
	}
}

type senderItem struct {
	Host  string `json:"host"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type senderRequest struct {
	Request string       `json:"request"`
	Data    []senderItem `json:"data"`
}

type senderResponse struct {
	Response string `json:"response"`
	Info     string `json:"info"`
}

func (s *TrapperSender) Send(ctx context.Context, batch model.Batch) error {
	if len(batch) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conn, err := s.dial(ctx, s.address)
	if err != nil {
		return fmt.Errorf("failed to connect to zabbix: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	req := senderRequest{Request: "sender data"}
	for _, m := range batch {
		req.Data = append(req.Data, senderItem{
			Host:  s.hostname,
			Key:   m.Name,
			Value: strconv.FormatFloat(m.Value, 'f', -1, 64),
		})
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal sender request: %w", err)
	}

	if _, err := conn.Write(frame(payload)); err != nil {
		return fmt.Errorf("failed to write sender request: %w", err)
	}

	resp, err := readFrame(conn)
	if err != nil {
		return fmt.Errorf("failed to read sender response: %w", err)
	}

	var parsed senderResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return fmt.Errorf("failed to decode sender response: %w", err)
	}

	if parsed.Response != "success" {
		return fmt.Errorf("zabbix rejected batch: %s", parsed.Info)
	}

	s.log.Debug("metrics sent",
		slog.Int("count", len(batch)),
		slog.String("info", parsed.Info),
	)

	return nil
}

func (s *TrapperSender) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conn, err := s.dial(ctx, s.address)
	if err != nil {
		return fmt.Errorf("zabbix unreachable: %w", err)
	}
	return conn.Close()
}

// frame wraps a payload in the sender protocol header.
func frame(payload []byte) []byte {
	buf := make([]byte, 13+len(payload))
	copy(buf, "ZBXD\x01")
	binary.LittleEndian.PutUint32(buf[5:], uint32(len(payload)))
	// bytes 9-12 are the reserved field, zero
	copy(buf[13:], payload)
	return buf
}

func readFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 13)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if string(header[:5]) != "ZBXD\x01" {
		return nil, fmt.Errorf("unexpected protocol header %q", header[:5])
	}

	length := binary.LittleEndian.Uint32(header[5:9])
	if length > 1<<20 {
		return nil, fmt.Errorf("response too large: %d bytes", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// FormatLines renders a batch in the zabbix_sender input-file format, one
// `"<host>" <key> <value>` line per metric.
func FormatLines(hostname string, batch model.Batch) string {
	var b strings.Builder
	for _, m := range batch {
		b.WriteString(strconv.Quote(hostname))
		b.WriteByte(' ')
		b.WriteString(m.Name)
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(m.Value, 'f', -1, 64))
		b.WriteByte('\n')
	}
	return b.String()
}

// LogSender logs batches instead of sending them (dry-run mode).
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, batch model.Batch) error {
	for _, m := range batch {
		s.log.Info("SEND",
			slog.String("key", m.Name),
			slog.Float64("value", m.Value),
		)
	}
	return nil
}

func (s *LogSender) Health(ctx context.Context) error {
	return nil
}
