package publish

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"go.uber.org/zap"

	"github.com/lox/forecastbot/internal/delivery"
)

// FTPConfig describes the FTP drop charts are uploaded to.
type FTPConfig struct {
	Addr     string        `yaml:"addr" envconfig:"ADDR" validate:"omitempty,hostname_port"`
	User     string        `yaml:"user" envconfig:"USER"`
	Password string        `yaml:"password" envconfig:"PASSWORD"`
	Dir      string        `yaml:"dir" envconfig:"DIR"`
	Timeout  time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// Enabled reports whether an FTP server is configured.
func (c FTPConfig) Enabled() bool {
	return c.Addr != ""
}

// FTPSender uploads charts for "ftp:<path>" targets. A path ending in "/"
// is a directory and the chart's file name is appended; relative paths are
// resolved against the configured directory.
type FTPSender struct {
	cfg FTPConfig
	log *zap.Logger
}

func NewFTPSender(cfg FTPConfig, log *zap.Logger) *FTPSender {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.User == "" {
		cfg.User, cfg.Password = "anonymous", "anonymous"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FTPSender{cfg: cfg, log: log}
}

func (s *FTPSender) Send(ctx context.Context, d delivery.Delivery) error {
	_, dest, err := ParseTarget(d.Target)
	if err != nil {
		return &delivery.DeliveryError{Target: d.Target, Err: err}
	}
	remote := s.remotePath(dest, d.FileName)

	if err := s.upload(ctx, remote, d.Image); err != nil {
		return &delivery.DeliveryError{Target: d.Target, Err: err}
	}
	s.log.Info("publish: uploaded chart",
		zap.String("addr", s.cfg.Addr), zap.String("path", remote), zap.Int("bytes", len(d.Image)))
	return nil
}

func (s *FTPSender) remotePath(dest, fileName string) string {
	if strings.HasSuffix(dest, "/") {
		dest += fileName
	}
	if !path.IsAbs(dest) && s.cfg.Dir != "" {
		dest = path.Join(s.cfg.Dir, dest)
	}
	return path.Clean(dest)
}

func (s *FTPSender) upload(ctx context.Context, remote string, data []byte) error {
	conn, err := ftp.Dial(s.cfg.Addr, ftp.DialWithTimeout(s.cfg.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login(s.cfg.User, s.cfg.Password); err != nil {
		return fmt.Errorf("ftp login: %w", err)
	}

	// Upload under a temporary name and rename so readers never see a partial file.
	tmp := remote + ".part"
	if err := conn.Stor(tmp, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("ftp stor %s: %w", tmp, err)
	}
	if err := conn.Rename(tmp, remote); err != nil {
		return fmt.Errorf("ftp rename %s: %w", remote, err)
	}
	return nil
}
