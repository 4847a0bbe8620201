package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/drunlade/go-xymodem/internal/cli"
	"github.com/drunlade/go-xymodem/xymodem"
)

var (
	verbose = flag.Bool("v", false, "verbose mode")
	quiet   = flag.Bool("q", false, "quiet mode")
	binary  = flag.Bool("b", false, "binary transfer (default)")
	ascii   = flag.Bool("a", false, "ASCII transfer (LF sent as CR/LF)")
	ymodem  = flag.Bool("y", false, "YMODEM batch transfer")
	oneK    = flag.Bool("k", false, "use 1024-byte blocks when the receiver asks for CRC")
	timeout = flag.Int("t", 100, "timeout in tenths of seconds")
	retries = flag.Int("r", 10, "retry limit")
	port    = flag.String("port", "", "serial device (default stdin/stdout)")
	baud    = flag.Int("baud", 115200, "serial baud rate")
	jpath   = flag.String("journal", "", "record transfers in this SQLite file")
	history = flag.Int("history", 0, "print the last N journal entries and exit")
	help    = flag.Bool("h", false, "show help")
	version = flag.Bool("version", false, "show version")
)

const versionString = "gsx version 0.1.0"

func main() {
	flag.Parse()

	if *help {
		showUsage(0)
	}

	if *version {
		fmt.Println(versionString)
		os.Exit(0)
	}

	log, err := cli.NewLogger(*verbose, *quiet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *history > 0 {
		if err := cli.PrintHistory(os.Stdout, *jpath, *history, log); err != nil {
			log.Fatal("history", zap.Error(err))
		}
		return
	}

	files := flag.Args()
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "%s: no files specified\n", os.Args[0])
		showUsage(1)
	}
	if !*ymodem && len(files) > 1 {
		fmt.Fprintf(os.Stderr, "%s: XMODEM sends one file; use -y for a batch\n", os.Args[0])
		os.Exit(1)
	}

	fileInfos := make([]xymodem.FileInfo, 0, len(files))
	for _, filename := range files {
		info, err := os.Stat(filename)
		if err != nil {
			log.Error("cannot access file", zap.String("file", filename), zap.Error(err))
			continue
		}
		if info.IsDir() {
			log.Warn("skipping directory", zap.String("file", filename))
			continue
		}
		fileInfos = append(fileInfos, xymodem.FileInfo{Filename: filename, Info: info})
	}
	if len(fileInfos) == 0 {
		log.Fatal("no valid files to send")
	}

	j, err := cli.OpenJournal(*jpath, log)
	if err != nil {
		log.Fatal("journal", zap.Error(err))
	}
	if j != nil {
		defer j.Close()
	}

	link, err := cli.OpenLink(*port, *baud, log)
	if err != nil {
		log.Fatal("link", zap.Error(err))
	}
	defer link.Close()

	config := xymodem.DefaultConfig()
	config.Protocol = xymodem.XMODEM
	if *ymodem {
		config.Protocol = xymodem.YMODEM
	}
	config.Use1K = *oneK
	if *ascii && !*binary {
		config.Mode = xymodem.Text
	}
	config.BlockTimeout = cli.Tenths(*timeout)
	config.RetryLimit = *retries

	abort := xymodem.NewAbortToken()
	stop := cli.AbortOnSignal(abort, log)
	defer stop()

	recorder := cli.NewRecorder(j, xymodem.Send, config.Protocol, log)
	logger := xymodem.NewZapLogger(log.Named(link.Name))

	var session *xymodem.Session
	callbacks := &xymodem.Callbacks{
		OnFileStart: func(filename string, size int64, mode os.FileMode) {
			log.Info("sending", zap.String("file", filename), zap.Int64("size", size))
		},
		OnFileComplete: func(filename string, bytesTransferred int64, duration time.Duration) {
			recorder.Record(filename, session.Transfer(), duration, nil)
			if !*quiet {
				fmt.Fprintf(os.Stderr, "\n%s: %d bytes in %v\n", filename, bytesTransferred, duration.Round(time.Millisecond))
			}
		},
		OnError: func(err error, context string) bool {
			log.Error(context, zap.Error(err))
			return false
		},
	}
	callbacks.OnProgress = cli.ProgressPrinter(*verbose, *quiet)

	session = xymodem.NewSession(link.Transport,
		xymodem.WithConfig(config),
		xymodem.WithCallbacks(callbacks),
		xymodem.WithContext(context.Background()),
		xymodem.WithLogger(logger),
		xymodem.WithAbort(abort),
	)

	start := time.Now()
	if *ymodem {
		err = session.SendFiles(context.Background(), fileInfos)
	} else {
		err = sendOne(session, fileInfos[0])
	}
	if err != nil {
		name := ""
		if !*ymodem {
			name = filepath.Base(fileInfos[0].Filename)
		}
		recorder.Record(name, session.Transfer(), time.Since(start), err)
		log.Error("transfer failed", zap.Error(err))
		link.Close()
		os.Exit(1)
	}
}

func sendOne(session *xymodem.Session, fi xymodem.FileInfo) error {
	f, err := os.Open(fi.Filename)
	if err != nil {
		return err
	}
	defer f.Close()
	return session.SendFile(context.Background(), fi.Filename, f, fi.Info)
}

func showUsage(exitcode int) {
	fmt.Fprintf(os.Stderr, `%s - send files with XMODEM/YMODEM

Usage: %s [options] file...

Options:
  -a               ASCII transfer (LF sent as CR/LF)
  -b               binary transfer (default)
  -k               1K blocks
  -y               YMODEM batch
  -t N             timeout in tenths of seconds (default: 100)
  -r N             retry limit (default: 10)
  -port DEV        serial device instead of stdin/stdout
  -baud N          serial baud rate (default: 115200)
  -journal FILE    record transfers in FILE
  -history N       print the last N journal entries
  -q               quiet mode, minimal output
  -v               verbose mode
  -version         show version

Examples:
  %s file.bin                       # XMODEM over stdin/stdout
  %s -y -k a.txt b.txt              # YMODEM batch with 1K blocks
  %s -port /dev/ttyUSB0 fw.bin      # XMODEM over a serial port

`, versionString, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	os.Exit(exitcode)
}
