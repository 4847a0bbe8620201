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
	ascii   = flag.Bool("a", false, "ASCII transfer (CR/LF converted to local line ends)")
	ymodem  = flag.Bool("y", false, "YMODEM batch transfer")
	crc     = flag.Bool("c", true, "ask for CRC16 (false: checksum)")
	protect = flag.Bool("p", false, "protect existing files")
	timeout = flag.Int("t", 100, "timeout in tenths of seconds")
	retries = flag.Int("r", 10, "retry limit")
	port    = flag.String("port", "", "serial device (default stdin/stdout)")
	baud    = flag.Int("baud", 115200, "serial baud rate")
	jpath   = flag.String("journal", "", "record transfers in this SQLite file")
	history = flag.Int("history", 0, "print the last N journal entries and exit")
	help    = flag.Bool("h", false, "show help")
	version = flag.Bool("version", false, "show version")
)

const versionString = "grx version 0.1.0"

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

	var target string
	if !*ymodem {
		if flag.NArg() != 1 {
			fmt.Fprintf(os.Stderr, "%s: XMODEM needs exactly one output file\n", os.Args[0])
			showUsage(1)
		}
		target = flag.Arg(0)
		if *protect {
			if _, err := os.Stat(target); err == nil {
				log.Fatal("refusing to overwrite", zap.String("file", target))
			}
		}
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
	config.Checksum = !*crc
	if *ascii && !*binary {
		config.Mode = xymodem.Text
	}
	config.BlockTimeout = cli.Tenths(*timeout)
	config.RetryLimit = *retries

	abort := xymodem.NewAbortToken()
	stop := cli.AbortOnSignal(abort, log)
	defer stop()

	recorder := cli.NewRecorder(j, xymodem.Receive, config.Protocol, log)
	logger := xymodem.NewZapLogger(log.Named(link.Name))

	var session *xymodem.Session
	callbacks := &xymodem.Callbacks{
		OnFilePrompt: func(filename string, size int64, mode os.FileMode) (bool, error) {
			if *protect {
				if _, err := os.Stat(filename); err == nil {
					log.Warn("skipping existing file", zap.String("file", filename))
					return false, nil
				}
			}
			return true, nil
		},
		OnFileStart: func(filename string, size int64, mode os.FileMode) {
			log.Info("receiving", zap.String("file", filename), zap.Int64("size", size))
		},
		OnFileComplete: func(filename string, bytesTransferred int64, duration time.Duration) {
			if filename == "" {
				filename = filepath.Base(target)
			}
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
		var n int
		n, err = session.ReceiveFiles(context.Background(), 0)
		log.Info("batch finished", zap.Int("files", n))
	} else {
		err = receiveOne(session, target)
	}
	if err != nil {
		name := ""
		if target != "" {
			name = filepath.Base(target)
		}
		recorder.Record(name, session.Transfer(), time.Since(start), err)
		log.Error("transfer failed", zap.Error(err))
		link.Close()
		os.Exit(1)
	}
}

func receiveOne(session *xymodem.Session, target string) (err error) {
	f, err := os.Create(target)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(target)
		}
	}()
	return session.ReceiveFile(context.Background(), f)
}

func showUsage(exitcode int) {
	fmt.Fprintf(os.Stderr, `%s - receive files with XMODEM/YMODEM

Usage: %s [options] file      (XMODEM)
       %s -y [options]        (YMODEM, files named by the sender)

Options:
  -a               ASCII transfer (CR/LF converted to local line ends)
  -b               binary transfer (default)
  -c=false         checksum instead of CRC16
  -p               protect existing files
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

`, versionString, os.Args[0], os.Args[0])
	os.Exit(exitcode)
}
