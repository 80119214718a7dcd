package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/writer"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logFile *lumberjack.Logger

func setupLogging(logDebug, logTrace bool, logPath string) {

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:  true,
		DisableSorting: true,
	})

	switch {
	case logTrace:
		log.SetLevel(log.TraceLevel)
	case logDebug:
		log.SetLevel(log.DebugLevel)
	}

	if logPath == "" {
		return
	}

	logFile = &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    50, // MB
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}

	// Write everything to log file too
	log.AddHook(&writer.Hook{
		Writer:    logFile,
		LogLevels: log.AllLevels,
	})
}

func closeLogging() {
	if logFile != nil {
		if err := logFile.Close(); err != nil {
			log.WithError(err).Error("Unable to close log file")
		}
	}
}
