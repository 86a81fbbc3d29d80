package logger

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	globalLogFileHandle     *os.File
	globalBufferedLogWriter *bufio.Writer
	globalConsoleOutput     io.Writer = os.Stdout
	globalLogMessageQueue   chan string
	isLoggerInitialized     atomic.Bool
	minimumSeverityLevel    atomic.Int32
	baseLogDirectoryPath    string
	loggerMutex             sync.Mutex
	shutdownSignalChannel   chan struct{}
	backgroundWaitGroup     sync.WaitGroup
)

const (
	SeverityDebug             = 0
	SeverityInfo              = 1
	SeverityWarn              = 2
	SeverityError             = 3
	MaximumLogFileSizeInBytes = 10 * 1024 * 1024 // 10 Megabytes
	LogFileName               = "service.log"
	logQueueCapacity          = 10000
)

// InitializeLogger starts the background writer. An empty directoryPath
// keeps output on the console only.
func InitializeLogger(directoryPath string, levelString string) error {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	if isLoggerInitialized.Load() {
		closeAndFlushLoggerInternal()
	}

	baseLogDirectoryPath = directoryPath
	globalLogFileHandle = nil
	globalBufferedLogWriter = nil
	if directoryPath != "" {
		if err := os.MkdirAll(directoryPath, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		if err := openLogFileInternal(); err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
	}

	globalLogMessageQueue = make(chan string, logQueueCapacity)
	shutdownSignalChannel = make(chan struct{})
	minimumSeverityLevel.Store(int32(ParseSeverityLevel(levelString)))

	isLoggerInitialized.Store(true)
	backgroundWaitGroup.Add(1)
	go processLogQueueInBackground(globalLogMessageQueue, shutdownSignalChannel)

	return nil
}

func ParseSeverityLevel(levelString string) int {
	switch strings.ToUpper(strings.TrimSpace(levelString)) {
	case "DEBUG":
		return SeverityDebug
	case "INFO":
		return SeverityInfo
	case "WARN", "WARNING":
		return SeverityWarn
	case "ERROR":
		return SeverityError
	default:
		return SeverityInfo
	}
}

// SetConsoleOutput redirects console echo, mostly for tests.
func SetConsoleOutput(writer io.Writer) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	if writer == nil {
		writer = io.Discard
	}
	globalConsoleOutput = writer
}

func ShutdownLogger() {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	closeAndFlushLoggerInternal()
}

func closeAndFlushLoggerInternal() {
	if !isLoggerInitialized.Load() {
		return
	}

	isLoggerInitialized.Store(false)
	close(shutdownSignalChannel)
	loggerMutex.Unlock()
	backgroundWaitGroup.Wait()
	loggerMutex.Lock()

	if globalBufferedLogWriter != nil {
		globalBufferedLogWriter.Flush()
	}
	if globalLogFileHandle != nil {
		globalLogFileHandle.Close()
	}
	globalBufferedLogWriter = nil
	globalLogFileHandle = nil
}

func openLogFileInternal() error {
	filePath := filepath.Join(baseLogDirectoryPath, LogFileName)
	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	globalLogFileHandle = file
	globalBufferedLogWriter = bufio.NewWriter(file)
	return nil
}

func IsLoggerInitialized() bool {
	return isLoggerInitialized.Load()
}

func processLogQueueInBackground(queue chan string, shutdown chan struct{}) {
	defer backgroundWaitGroup.Done()
	flushTicker := time.NewTicker(500 * time.Millisecond)
	defer flushTicker.Stop()

	bytesWrittenSinceLastCheck := int64(0)

	for {
		select {
		case message := <-queue:
			bytesWrittenSinceLastCheck += writeLogMessage(message)
			if bytesWrittenSinceLastCheck > 1024*10 {
				CheckAndRotateLogFile()
				bytesWrittenSinceLastCheck = 0
			}
		case <-flushTicker.C:
			loggerMutex.Lock()
			if globalBufferedLogWriter != nil {
				globalBufferedLogWriter.Flush()
			}
			loggerMutex.Unlock()
		case <-shutdown:
			// Drain whatever was queued before shutdown.
			for {
				select {
				case message := <-queue:
					writeLogMessage(message)
				default:
					return
				}
			}
		}
	}
}

func writeLogMessage(message string) int64 {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	var written int
	if globalBufferedLogWriter != nil {
		written, _ = globalBufferedLogWriter.WriteString(message + "\n")
	}
	fmt.Fprintln(globalConsoleOutput, message)
	return int64(written)
}

func CheckAndRotateLogFile() {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	if globalLogFileHandle == nil {
		return
	}

	fileInfo, err := globalLogFileHandle.Stat()
	if err == nil && fileInfo.Size() > MaximumLogFileSizeInBytes {
		globalBufferedLogWriter.Flush()
		globalLogFileHandle.Close()

		oldFilePath := filepath.Join(baseLogDirectoryPath, LogFileName)
		newFilePath := oldFilePath + "." + fmt.Sprint(time.Now().UnixNano())
		os.Rename(oldFilePath, newFilePath)

		if err := openLogFileInternal(); err != nil {
			globalLogFileHandle = nil
			globalBufferedLogWriter = nil
		}
	}
}

func tryQueueLogMessage(prefix string, format string, args ...interface{}) {
	if !isLoggerInitialized.Load() {
		return
	}

	timestamp := time.Now().Format("2006/01/02 15:04:05")
	formattedMessage := timestamp + " " + prefix + " " + fmt.Sprintf(format, args...)

	select {
	case globalLogMessageQueue <- formattedMessage:
	default:
		// Queue full, drop message to prevent deadlock
	}
}

func isSeverityEnabled(level int) bool {
	return int(minimumSeverityLevel.Load()) <= level
}

func LogAccessEvent(format string, args ...interface{}) {
	tryQueueLogMessage("[ACC]", format, args...)
}

func LogInfoEvent(format string, args ...interface{}) {
	if isSeverityEnabled(SeverityInfo) {
		tryQueueLogMessage("[INF]", format, args...)
	}
}

func LogWarnEvent(format string, args ...interface{}) {
	if isSeverityEnabled(SeverityWarn) {
		tryQueueLogMessage("[WRN]", format, args...)
	}
}

func LogErrorEvent(format string, args ...interface{}) {
	if isSeverityEnabled(SeverityError) {
		tryQueueLogMessage("[ERR]", format, args...)
	}
}

func LogDebugEvent(format string, args ...interface{}) {
	if isSeverityEnabled(SeverityDebug) {
		tryQueueLogMessage("[DBG]", format, args...)
	}
}
