// Command-line interface to mipvol: runs the HTTP server or a downsample worker,
// and sends info, cutout, ingest and downsample requests to a running server.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/janelia-flyem/mipvol/mipvol"
	"github.com/janelia-flyem/mipvol/server"
	"github.com/janelia-flyem/mipvol/storage"
	"github.com/janelia-flyem/mipvol/taskqueue"

	// Declare the storage engines that can be opened from a config file.
	_ "github.com/janelia-flyem/mipvol/storage/ngprecomputed"
)

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// Address of a running server for client commands.
	httpAddress = flag.String("http", server.DefaultWebAddress, "")

	// Output file for cutouts.  Standard output if unset.
	outputFile = flag.String("o", "", "")

	// Profile CPU usage using standard gotest system.
	cpuprofile = flag.String("cpuprofile", "", "")

	// Number of logical CPUs to use.
	useCPU = flag.Int("numcpu", 0, "")
)

const helpMessage = `
mipvol reads, writes and downsamples multi-resolution chunked volumes

Usage: mipvol [options] <command>

      -http       =string   Address of a running server for client commands.
      -o          =string   Output file for cutout data.  Standard output if unset.
      -cpuprofile =string   Write CPU profile to this file.
      -numcpu     =number   Number of logical CPUs to use.
      -verbose    (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

Commands that run locally:

	about
	help
	serve   <config.toml>
	worker  <config.toml>     Consume downsample tasks from the [kafka] topic.

Commands sent to a running server, with settings given as key=value:

	info        <volume path>
	cutout      <volume path> begin=z,y,x end=z,y,x [mip=N] [coord_mip=N] [squeeze=true]
	ingest      <path template> <raw file> shape=z,y,x dtype=uint8 begin=z,y,x end=z,y,x [...]
	downsample  <volume path> [mip=N] [begin=z,y,x end=z,y,x] [parallelism=N]

See "mipvol help" against a running server for every setting.
`

var usage = func() {
	fmt.Print(helpMessage)
	body, err := get(server.WebAPIPath + "help")
	if err != nil {
		fmt.Printf("\nUnable to get 'help' from mipvol server at %q.\n\n", *httpAddress)
		return
	}
	fmt.Print(string(body))
}

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() >= 1 && strings.ToLower(flag.Args()[0]) == "help" {
		*showHelp = true
	}
	if *runVerbose {
		mipvol.SetLogMode(mipvol.DebugMode)
	}
	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
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
	if *useCPU != 0 {
		runtime.GOMAXPROCS(*useCPU)
	}

	// Capture ctrl+c and other interrupts.  Long running commands shut down
	// gracefully when the context is done.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := DoCommand(ctx, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// DoCommand serves as a switchboard for commands, handling local ones and
// sending the others to a running server.
func DoCommand(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("blank command")
	}
	switch args[0] {
	case "help":
		flag.Usage()
		return nil
	case "about":
		fmt.Printf("mipvol %s\nStorage engines: %s\n", server.Version(), storage.EnginesAvailable())
		return nil
	case "serve":
		return DoServe(ctx, args)
	case "worker":
		return DoWorker(ctx, args)
	case "info":
		return DoInfo(args)
	case "cutout":
		return DoCutout(args)
	case "ingest":
		return DoIngest(args)
	case "downsample":
		return DoDownsample(args)
	}
	return fmt.Errorf("unknown command %q; see 'mipvol help'", args[0])
}

func loadConfig(args []string) (*server.Config, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("%s command must be followed by the path to the TOML config file", args[0])
	}
	c, err := server.LoadConfig(args[1])
	if err != nil {
		return nil, err
	}
	if err := c.Logging.SetLogger(); err != nil {
		return nil, err
	}
	return c, nil
}

// DoServe runs the HTTP server until interrupted.
func DoServe(ctx context.Context, args []string) error {
	c, err := loadConfig(args)
	if err != nil {
		return err
	}
	defer mipvol.Shutdown()
	service, err := server.NewService(c)
	if err != nil {
		return err
	}
	defer service.Close()
	mipvol.Infof("Serving store %s with %s downsample queue (version %s)\n", service.Store(), c.Downsample.Queue, server.Version())
	return service.ListenAndServe(ctx)
}

// DoWorker consumes downsample tasks from Kafka until interrupted.
func DoWorker(ctx context.Context, args []string) error {
	c, err := loadConfig(args)
	if err != nil {
		return err
	}
	defer mipvol.Shutdown()
	if len(c.Kafka.Servers) == 0 {
		return fmt.Errorf("worker requires [kafka] servers in %s", args[1])
	}
	store, err := c.OpenStore()
	if err != nil {
		return err
	}
	defer store.Close()
	producer, err := c.Kafka.NewProducer()
	if err != nil {
		return err
	}
	defer producer.Close()

	worker := taskqueue.NewWorker(c.NewExecutor(store), producer, c.Kafka, c.RetryPolicy())
	mipvol.Infof("Downsample worker consuming from %v, store %s\n", c.Kafka.Servers, store)
	return worker.Run(ctx)
}

// requestURL returns the API URL for an endpoint given positional parameters and
// key=value settings.
func requestURL(endpoint string, params url.Values, settings []string) (string, error) {
	for _, setting := range settings {
		kv := strings.SplitN(setting, "=", 2)
		if len(kv) != 2 {
			return "", fmt.Errorf("setting %q should be of form key=value", setting)
		}
		params.Set(kv[0], kv[1])
	}
	return fmt.Sprintf("http://%s%s%s?%s", *httpAddress, server.WebAPIPath, endpoint, params.Encode()), nil
}

var client = &http.Client{Timeout: time.Hour}

func checkResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func get(path string) ([]byte, error) {
	resp, err := client.Get("http://" + *httpAddress + path)
	if err != nil {
		return nil, err
	}
	return checkResponse(resp)
}

// DoInfo prints the info JSON of a volume.
func DoInfo(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("info command must be followed by a volume path")
	}
	body, err := get(server.WebAPIPath + "info?" + url.Values{"path": {args[1]}}.Encode())
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}

// DoCutout writes the raw bytes of a cutout to the -o file or standard output.
func DoCutout(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("cutout command must be followed by a volume path")
	}
	urlStr, err := requestURL("cutout", url.Values{"path": {args[1]}}, args[2:])
	if err != nil {
		return err
	}
	resp, err := client.Get(urlStr)
	if err != nil {
		return err
	}
	shape, dtype := resp.Header.Get("X-Shape"), resp.Header.Get("X-Dtype")
	body, err := checkResponse(resp)
	if err != nil {
		return err
	}
	if *outputFile == "" {
		_, err = os.Stdout.Write(body)
		return err
	}
	if err := os.WriteFile(*outputFile, body, 0644); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Wrote %s %s cutout of shape (%s) to %s\n", humanize.Bytes(uint64(len(body))), dtype, shape, *outputFile)
	return nil
}

// DoIngest posts a raw (C, Z, Y, X) file into a volume.
func DoIngest(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("ingest command must be followed by a path template and a raw data file")
	}
	urlStr, err := requestURL("ingest", url.Values{"path": {args[1]}}, args[3:])
	if err != nil {
		return err
	}
	f, err := os.Open(args[2])
	if err != nil {
		return err
	}
	defer f.Close()
	resp, err := client.Post(urlStr, "application/octet-stream", f)
	if err != nil {
		return err
	}
	body, err := checkResponse(resp)
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}

// DoDownsample submits downsample tasks for a volume.
func DoDownsample(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("downsample command must be followed by a volume path")
	}
	urlStr, err := requestURL("downsample", url.Values{"path": {args[1]}}, args[2:])
	if err != nil {
		return err
	}
	resp, err := client.Post(urlStr, "", nil)
	if err != nil {
		return err
	}
	body, err := checkResponse(resp)
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}
