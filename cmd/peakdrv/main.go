package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"

	"github.com/spf13/viper"

	peakdrv "github.com/nist-peakdrv/peakdrv"
	"github.com/nist-peakdrv/peakdrv/internal/config"
	"github.com/nist-peakdrv/peakdrv/internal/dlog"
	"github.com/nist-peakdrv/peakdrv/internal/rpcserver"
	"github.com/nist-peakdrv/peakdrv/internal/statuspub"
)

var githash = "githash not computed"
var buildDate = "build date not computed"

const version = "0.1.0"

// defaultRPCPort and defaultStatusPort follow dastard's Ports.RPC/
// Ports.Status convention (global_config.go), chosen outside the range
// dastard itself uses so the two drivers can coexist on one host.
const (
	defaultRPCPort    = 5600
	defaultStatusPort = 5601
)

// makeFileExist checks that dir/filename exists, and creates the
// directory and file if it doesn't, matching cmd/dastard/dastard.go.
func makeFileExist(dir, filename string) (string, error) {
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		if err := os.MkdirAll(dir, 0775); err != nil {
			return "", err
		}
	}
	fullname := filepath.Join(dir, filename)
	if _, err := os.Stat(fullname); os.IsNotExist(err) {
		f, err := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err != nil {
			return "", err
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper mirrors dastard's setupViper: it ensures a YAML config file
// exists under $HOME/.peakdrv, installs peakdrv's defaults, and reads the
// first config.yaml found searching /etc/peakdrv, then $HOME/.peakdrv,
// then the working directory.
func setupViper() (*viper.Viper, error) {
	v := viper.New()
	config.SetDefaults(v)

	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Printf("peakdrv: could not find home directory: %s\n", err)
	}
	dotPeakdrv := filepath.Join(home, ".peakdrv")
	if _, err := makeFileExist(dotPeakdrv, "config.yaml"); err != nil {
		return nil, err
	}

	v.SetConfigName("config")
	v.AddConfigPath(filepath.FromSlash("/etc/peakdrv"))
	v.AddConfigPath(dotPeakdrv)
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return v, nil
}

func main() {
	printVersion := flag.Bool("version", false, "print version and quit")
	cpuprofile := flag.String("cpuprofile", "", "write CPU profile to given file")
	memprofile := flag.String("memprofile", "", "write memory profile to given file")
	mpsPath := flag.String("mps", "", "path to MPS configuration file (overrides config file)")
	once := flag.Bool("once", false, "acquire a single frame synchronously and exit, rather than running the RPC server")
	flag.Parse()

	if *printVersion {
		fmt.Printf("This is peakdrv version %s\n", version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		os.Exit(0)
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	logdir := filepath.Join(home, ".peakdrv", "logs")
	problemname, err := makeFileExist(logdir, "problems.log")
	if err != nil {
		panic(err)
	}
	updatename, err := makeFileExist(logdir, "updates.log")
	if err != nil {
		panic(err)
	}
	dlog.ProblemLogger = dlog.OpenRotating(problemname)
	dlog.UpdateLogger = dlog.OpenRotating(updatename)
	fmt.Printf("Logging problems       to %s\n", problemname)
	fmt.Printf("Logging client updates to %s\n\n", updatename)

	v, err := setupViper()
	if err != nil {
		panic(err)
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		panic(err)
	}
	if *mpsPath != "" {
		cfg.MPSPath = *mpsPath
	}

	session, err := peakdrv.NewSession(cfg)
	if err != nil {
		log.Fatalf("peakdrv: invalid configuration: %v", err)
	}
	if err := session.Configure(cfg.MPSPath); err != nil {
		log.Fatalf("peakdrv: configure: %v", err)
	}

	status, err := statuspub.Start(defaultStatusPort)
	if err != nil {
		log.Fatalf("peakdrv: status publisher: %v", err)
	}
	defer status.Close()
	session.SetStatusPublisher(status)

	if err := session.Connect(); err != nil {
		log.Fatalf("peakdrv: connect: %v", err)
	}
	defer session.Close()

	if _, err := session.Reset(); err != nil {
		log.Fatalf("peakdrv: reset: %v", err)
	}
	if err := session.SendMPSConfiguration(); err != nil {
		log.Fatalf("peakdrv: mps configuration: %v", err)
	}

	if *once {
		if err := session.AcquireOnce(); err != nil {
			log.Fatalf("peakdrv: acquire: %v", err)
		}
		f, _ := session.LatestFrame()
		fmt.Printf("acquired frame %s with %d sub-frames, max amplitude %d\n", f.AcquisitionID, len(f.SubFrames), f.MaxAmplitude)
		writeMemoryProfile(memprofile)
		return
	}

	dlog.UpdateLogger.Printf("peakdrv version %s starting RPC server on port %d", version, defaultRPCPort)
	if err := rpcserver.Run(session, defaultRPCPort, dlog.UpdateLogger); err != nil {
		log.Fatalf("peakdrv: rpc server: %v", err)
	}
	writeMemoryProfile(memprofile)
}

// writeMemoryProfile writes the memory use profile to the indicated
// file. If memprofile points to an empty string, do not write.
func writeMemoryProfile(memprofile *string) {
	if *memprofile == "" {
		return
	}
	f, err := os.Create(*memprofile)
	if err != nil {
		log.Fatal("could not create memory profile: ", err)
	}
	defer f.Close()
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Fatal("could not write memory profile: ", err)
	}
}
