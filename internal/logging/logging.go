// Package logging sets up the process logger and defines verbosity levels
// shared by all controller components.
package logging

import (
	"os"

	"github.com/go-logr/logr"
	"github.com/onsi/ginkgo/v2"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// Verbosity levels used with logger.V().
const (
	DEBUG = 1
	TRACE = 2
)

// NewLogger builds the zap-backed logger for the process, installs it as the
// controller-runtime global logger and returns it.
func NewLogger(level string, development bool) (logr.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return logr.Discard(), err
	}
	logger := zap.New(
		zap.UseDevMode(development),
		zap.WriteTo(os.Stderr),
		zap.Level(lvl),
	)
	ctrl.SetLogger(logger)
	return logger, nil
}

// NewTestLogger installs a development logger that writes to the ginkgo writer.
func NewTestLogger() logr.Logger {
	logger := zap.New(zap.WriteTo(ginkgo.GinkgoWriter), zap.UseDevMode(true), zap.Level(zapcore.Level(-TRACE)))
	ctrl.SetLogger(logger)
	return logger
}
