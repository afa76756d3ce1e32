package main

import (
	"github.com/op/go-logging"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/samvidmistry/Armls/internal/lsp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the language server on stdio",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	level, _ := settings.Level()
	commonlog.Configure(verbosity(level), nil)

	engine, err := openEngine()
	if err != nil {
		return err
	}
	log.Infof("serving %s %s on stdio", lsp.Name, version)
	return lsp.RunStdio(engine, version, level == logging.DEBUG)
}

// verbosity maps a log level onto the transport's verbosity scale.
func verbosity(level logging.Level) int {
	switch level {
	case logging.DEBUG:
		return 2
	case logging.INFO, logging.NOTICE:
		return 1
	default:
		return 0
	}
}
