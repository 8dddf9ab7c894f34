package main

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"

	"gopkg.in/yaml.v3"

	"github.com/villagaiaimpacthub/hive"
	"github.com/villagaiaimpacthub/hive/store"
)

const HiveCtlVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

type ServeConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	DbPath     string `yaml:"db_path"`
	JwtSecret  string `yaml:"jwt_secret"`
	Parser     struct {
		StableIds    *bool `yaml:"stable_ids"`
		MinWordCount *int  `yaml:"min_word_count"`
	} `yaml:"parser"`
}

func defaultServeConfig() *ServeConfig {
	return &ServeConfig{
		ListenAddr: ":8090",
		DbPath:     "hive.db",
	}
}

func main() {
	usage := `HIVE control.

The default urls are:
    api_url: http://localhost:8090
    connect_url: ws://localhost:8090/ws

Usage:
    hivectl serve [--config=<config>] [--addr=<addr>] [--db=<db>] [--secret=<secret>]
    hivectl plan parse <file> [--api_url=<api_url>]
    hivectl plan import <file> [--api_url=<api_url>]
    hivectl chat --token=<token> [--connect_url=<connect_url>]
    hivectl token --user=<user_id> --secret=<secret>

Options:
    -h --help                    Show this screen.
    --version                    Show version.
    --config=<config>            Yaml config file.
    --addr=<addr>                Listen address.
    --db=<db>                    Sqlite database path.
    --secret=<secret>            JWT signing secret.
    --api_url=<api_url>
    --connect_url=<connect_url>
    --token=<token>              Your channel JWT.
    --user=<user_id>             User id to mint a token for.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], HiveCtlVersion)
	if err != nil {
		panic(err)
	}

	if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	} else if plan_, _ := opts.Bool("plan"); plan_ {
		if parse_, _ := opts.Bool("parse"); parse_ {
			planParse(opts)
		} else if import_, _ := opts.Bool("import"); import_ {
			planImport(opts)
		}
	} else if chat_, _ := opts.Bool("chat"); chat_ {
		chat(opts)
	} else if token_, _ := opts.Bool("token"); token_ {
		token(opts)
	}
}

func loadServeConfig(opts docopt.Opts) *ServeConfig {
	config := defaultServeConfig()

	if configPath, err := opts.String("--config"); err == nil && configPath != "" {
		configBytes, err := os.ReadFile(configPath)
		if err != nil {
			Err.Fatalf("Could not read config (%s).", err)
		}
		if err := yaml.Unmarshal(configBytes, config); err != nil {
			Err.Fatalf("Could not parse config (%s).", err)
		}
	}

	if addr, err := opts.String("--addr"); err == nil && addr != "" {
		config.ListenAddr = addr
	}
	if dbPath, err := opts.String("--db"); err == nil && dbPath != "" {
		config.DbPath = dbPath
	}
	if secret, err := opts.String("--secret"); err == nil && secret != "" {
		config.JwtSecret = secret
	}

	return config
}

func serve(opts docopt.Opts) {
	config := loadServeConfig(opts)
	if config.JwtSecret == "" {
		Err.Fatalf("A jwt secret is required (--secret or config jwt_secret).")
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	taskStore, err := store.NewStore(config.DbPath)
	if err != nil {
		Err.Fatalf("Could not open store (%s).", err)
	}
	defer taskStore.Close()

	registry := hive.NewPresenceRegistry()
	router := hive.NewRouterWithDefaults(cancelCtx, registry, taskStore)

	settings := hive.DefaultServerSettings()
	if config.Parser.StableIds != nil {
		settings.Parser.StableIds = *config.Parser.StableIds
	}
	if config.Parser.MinWordCount != nil {
		settings.Validation.MinWordCount = *config.Parser.MinWordCount
	}

	server := hive.NewServer(
		cancelCtx,
		[]byte(config.JwtSecret),
		router,
		taskStore,
		taskStore,
		settings,
	)
	defer server.Close()

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		<-sigs
		cancel()
	}()

	Out.Printf("hivectl serve %s (db %s)", config.ListenAddr, config.DbPath)
	if err := server.ListenAndServe(config.ListenAddr); err != nil {
		Err.Printf("Server exited (%s).", err)
	}
}

func apiUrl(opts docopt.Opts) string {
	if url, err := opts.String("--api_url"); err == nil && url != "" {
		return url
	}
	return "http://localhost:8090"
}

func readPlanFile(opts docopt.Opts) string {
	path, _ := opts.String("<file>")
	contentBytes, err := os.ReadFile(path)
	if err != nil {
		Err.Fatalf("Could not read plan file (%s).", err)
	}
	return string(contentBytes)
}

func planParse(opts docopt.Opts) {
	api := hive.NewHiveApi(apiUrl(opts))
	defer api.Close()

	result, err := api.PlanParseSync(&hive.PlanParseArgs{
		Content: readPlanFile(opts),
		Format:  "markdown",
	})
	if err != nil {
		Err.Fatalf("Parse failed (%s).", err)
	}

	resultJson, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		Err.Fatalf("%s", err)
	}
	Out.Printf("%s", resultJson)
}

func planImport(opts docopt.Opts) {
	api := hive.NewHiveApi(apiUrl(opts))
	defer api.Close()

	preview, err := api.PlanParseSync(&hive.PlanParseArgs{
		Content: readPlanFile(opts),
		Format:  "markdown",
	})
	if err != nil {
		Err.Fatalf("Parse failed (%s).", err)
	}

	confirm, err := api.PlanConfirmSync(preview)
	if err != nil {
		Err.Fatalf("Import failed (%s).", err)
	}
	Out.Printf(
		"%s: %d waypoints, %d projects, %d tasks, %d subtasks, %d milestones",
		confirm.Status,
		confirm.Summary.WaypointsCount,
		confirm.Summary.ProjectsCount,
		confirm.Summary.TasksCount,
		confirm.Summary.SubtasksCount,
		confirm.Summary.MilestonesCount,
	)
}

func chat(opts docopt.Opts) {
	jwt, _ := opts.String("--token")

	connectUrl := "ws://localhost:8090/ws"
	if url, err := opts.String("--connect_url"); err == nil && url != "" {
		connectUrl = url
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := hive.NewRealtimeClientWithDefaults(cancelCtx, connectUrl, &hive.ChannelAuth{
		Token: jwt,
	})
	defer client.Close()

	go func() {
		for frame := range client.Receive() {
			Out.Printf("%s", frame)
		}
		cancel()
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		err := client.SendEnvelope(hive.MessageTypeChat, map[string]any{
			"message": line,
		})
		if err != nil {
			Err.Printf("Send failed (%s).", err)
			return
		}
	}
}

func token(opts docopt.Opts) {
	userIdStr, _ := opts.String("--user")
	secret, _ := opts.String("--secret")

	userId, err := hive.ParseId(userIdStr)
	if err != nil {
		Err.Fatalf("Invalid user id (%s).", err)
	}

	channelToken, err := hive.NewChannelToken(userId, []byte(secret))
	if err != nil {
		Err.Fatalf("%s", err)
	}
	Out.Printf("%s", channelToken)
}
