/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package xfrd

import (
	"log"

	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging wires the standard logger to a rotating file, the same way
// the teacher's tdns.SetupLogging does, so the xfrd process doesn't need its
// own log-rotation story.
func SetupLogging(logfile string) error {
	log.SetFlags(log.Lshortfile | log.Ltime)

	if logfile == "" {
		log.SetFlags(0)
		return nil
	}

	log.SetOutput(&lumberjack.Logger{
		Filename:   logfile,
		MaxSize:    20,
		MaxBackups: 3,
		MaxAge:     14,
	})
	return nil
}
