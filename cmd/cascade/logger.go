// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package main

import (
	"os"

	"github.com/cascadedb/cascade"
	"github.com/sirupsen/logrus"
)

// logrusLogger adapts a logrus logger to the control core's Logger
// interface.
type logrusLogger struct {
	log *logrus.Logger
}

var _ cascade.Logger = logrusLogger{}

func newLogger(verbose bool) logrusLogger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return logrusLogger{log: log}
}

func (l logrusLogger) Infof(format string, args ...interface{}) {
	l.log.Infof(format, args...)
}

func (l logrusLogger) Errorf(format string, args ...interface{}) {
	l.log.Errorf(format, args...)
}

func (l logrusLogger) Fatalf(format string, args ...interface{}) {
	l.log.Fatalf(format, args...)
}
