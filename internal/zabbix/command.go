package zabbix

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/skyrus-io/skyrus/internal/model"
)

// CommandSender drives the zabbix_sender binary with a temporary input file.
// Kept for deployments where the agent binary is the only sanctioned path to
// the server; the temp file is removed on every exit path.
type CommandSender struct {
	log        *slog.Logger
	senderPath string
	server     string
	port       int
	hostname   string
	timeout    time.Duration
}

func NewCommandSender(log *slog.Logger, senderPath, server string, port int, hostname string, timeout time.Duration) *CommandSender {
	return &CommandSender{
		log:        log,
		senderPath: senderPath,
		server:     server,
		port:       port,
		hostname:   hostname,
		timeout:    timeout,
	}
}

func (s *CommandSender) Send(ctx context.Context, batch model.Batch) error {
	if len(batch) == 0 {
		return nil
	}

	file, err := os.CreateTemp("", "zabbix_data_*.txt")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(file.Name())

	if _, err := file.WriteString(FormatLines(s.hostname, batch)); err != nil {
		file.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.senderPath,
		"-z", s.server,
		"-p", strconv.Itoa(s.port),
		"-i", file.Name(),
	)

	output, err := cmd.CombinedOutput()
	text := string(output)

	// zabbix_sender exits non-zero when any item fails; a partial send still
	// counts as delivered as long as the server processed the batch.
	if strings.Contains(text, "sent:") || strings.Contains(text, "processed") {
		s.log.Debug("metrics sent via zabbix_sender",
			slog.Int("count", len(batch)),
			slog.String("output", strings.TrimSpace(text)),
		)
		return nil
	}

	if err != nil {
		return fmt.Errorf("zabbix_sender failed: %w: %s", err, strings.TrimSpace(text))
	}
	return fmt.Errorf("zabbix_sender gave no delivery confirmation: %s", strings.TrimSpace(text))
}

func (s *CommandSender) Health(ctx context.Context) error {
	if _, err := exec.LookPath(s.senderPath); err != nil {
		return fmt.Errorf("zabbix_sender not found: %w", err)
	}
	return nil
}
