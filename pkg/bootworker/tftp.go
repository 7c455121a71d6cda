package bootworker

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pin/tftp/v3"
	"github.com/rs/zerolog"
)

// TFTPConfig configures the read-only TFTP service that serves iPXE
// loader blobs to the earliest-stage PXE ROM clients, before they can
// speak HTTP.
type TFTPConfig struct {
	ListenAddr string // e.g. ":69"
	LoaderDir  string // directory containing undionly.kpxe, ipxe.efi, etc.
}

// TFTPServer serves loader binaries read-only. It never accepts writes;
// every request for a file outside LoaderDir, or containing a path
// separator trying to escape it, is rejected.
type TFTPServer struct {
	cfg    TFTPConfig
	logger zerolog.Logger
	server *tftp.Server
}

// NewTFTPServer constructs a TFTPServer without starting it.
func NewTFTPServer(cfg TFTPConfig, logger zerolog.Logger) *TFTPServer {
	t := &TFTPServer{
		cfg:    cfg,
		logger: logger.With().Str("component", "tftp").Logger(),
	}
	t.server = tftp.NewServer(t.readHandler, nil)
	return t
}

func (t *TFTPServer) readHandler(filename string, rf io.ReaderFrom) error {
	clean := filepath.Clean("/" + filename)
	path := filepath.Join(t.cfg.LoaderDir, clean)

	f, err := os.Open(path)
	if err != nil {
		t.logger.Warn().Err(err).Str("file", filename).Msg("tftp read rejected")
		return fmt.Errorf("file not available: %s", filename)
	}
	defer f.Close()

	n, err := rf.ReadFrom(f)
	if err != nil {
		t.logger.Warn().Err(err).Str("file", filename).Msg("tftp transfer failed")
		return err
	}
	t.logger.Debug().Str("file", filename).Int64("bytes", n).Msg("tftp transfer complete")
	return nil
}

// Start begins serving TFTP reads on cfg.ListenAddr.
func (t *TFTPServer) Start() error {
	addr := t.cfg.ListenAddr
	if addr == "" {
		addr = ":69"
	}
	t.logger.Info().Str("addr", addr).Str("loader_dir", t.cfg.LoaderDir).Msg("starting tftp service")
	go func() {
		if err := t.server.ListenAndServe(addr); err != nil {
			t.logger.Error().Err(err).Msg("tftp server stopped")
		}
	}()
	return nil
}

// Stop shuts the TFTP listener down.
func (t *TFTPServer) Stop() {
	t.server.Shutdown()
}
