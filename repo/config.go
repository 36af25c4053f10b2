package repo

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcutil"
	"github.com/jessevdk/go-flags"
	"github.com/natefinch/lumberjack"
	"github.com/op/go-logging"
	"github.com/tradebay/escrowd/version"
)

const (
	defaultConfigFilename = "escrowd.conf"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "escrowd.log"
	defaultAPIAddr        = "127.0.0.1:8080"

	defaultExchangeRateProvider = "https://ticker.openbazaar.org/api"
)

var (
	// DefaultHomeDir is the default data directory.
	DefaultHomeDir = btcutil.AppDataDir("escrowd", false)

	defaultConfigFile = filepath.Join(DefaultHomeDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(DefaultHomeDir, defaultLogDirname)

	fileLogFormat   = logging.MustStringFormatter(`%{time:2006-01-02T15:04:05} [%{level}] [%{module}] %{message}`)
	stdoutLogFormat = logging.MustStringFormatter(`%{color:reset}%{color}%{time:15:04:05.000} [%{level}] [%{module}] %{message}`)
)

// sampleConfig is written to the data directory on first run. The
// api username and password lines are replaced with random values.
const sampleConfig = `; The directory to store data such as the escrowd database.
; The default is ~/.escrowd on POSIX OSes.
; datadir=~/.escrowd

; Use the test network.
; testnet=1

; The interface/port to bind the API server to.
; apiaddr=127.0.0.1:8080

; Credentials for the API server. Leave blank to disable authentication.
apiusername=
apipassword=

; Debug logging level.
; Valid levels are {debug, info, notice, warning, error, critical}
; loglevel=info
`

// Config defines the configuration options for escrowd.
//
// See LoadConfig for details on the configuration load process.
type Config struct {
	ShowVersion   bool     `short:"v" long:"version" description:"Display version information and exit"`
	ConfigFile    string   `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir       string   `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir        string   `long:"logdir" description:"Directory to log output."`
	LogLevel      string   `short:"l" long:"loglevel" description:"set the logging level [debug, info, notice, warning, error, critical]" default:"info"`
	Testnet       bool     `short:"t" long:"testnet" description:"Use the test network"`
	APIAddr       string   `long:"apiaddr" description:"Override the default API address with the provided value"`
	APINoCors     bool     `long:"apinocors" description:"Disable CORS on the API server"`
	APICookie     string   `long:"apicookie" description:"Require this cookie value on API requests"`
	APIUsername   string   `long:"apiusername" description:"Basic auth username for the API server"`
	APIPassword   string   `long:"apipassword" description:"Basic auth password for the API server (as a sha256 hex hash)"`
	APIAllowedIPs []string `long:"apiallowedip" description:"Only allow API connections from these IPs"`
	UseSSL        bool     `long:"ssl" description:"Serve the API over SSL"`
	SSLCertFile   string   `long:"sslcertfile" description:"Path to the SSL certificate"`
	SSLKeyFile    string   `long:"sslkeyfile" description:"Path to the SSL key"`

	ExchangeRateProviders []string `long:"exchangerateprovider" description:"API endpoint to fetch exchange rates from. This flag can be specified multiple times."`
}

// LoadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
// 	1) Start with a default config with sane settings
// 	2) Pre-parse the command line to check for an alternative config file
// 	3) Load configuration file overwriting defaults with any specified options
// 	4) Parse CLI options and overwrite/add any specified options
//
// The above results in escrowd functioning properly without any config
// settings while still allowing the user to override settings with
// config files and command line options. Command line options always
// take precedence.
func LoadConfig() (*Config, []string, error) {
	// Default config.
	cfg := Config{
		DataDir:               DefaultHomeDir,
		ConfigFile:            defaultConfigFile,
		LogDir:                defaultLogDir,
		APIAddr:               defaultAPIAddr,
		ExchangeRateProviders: []string{defaultExchangeRateProvider},
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.  Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return nil, nil, err
		}
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version.String())
		os.Exit(0)
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := os.Stat(preCfg.ConfigFile); os.IsNotExist(err) {
		err := createDefaultConfigFile(preCfg.ConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating a "+
				"default config file: %v\n", err)
		}
	}

	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintf(os.Stderr, "Error parsing config "+
				"file: %v\n", err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return nil, nil, err
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)

	setupLogging(cfg.LogDir, cfg.LogLevel)

	// Warn about missing config file only after all other configuration is
	// done.  This prevents the warning on help messages and invalid
	// options.  Note this should go directly before the return.
	if configFileError != nil {
		fmt.Printf("%v", configFileError)
	}
	return &cfg, remainingArgs, nil
}

// createDefaultConfigFile copies the sample config content to the given
// destination path, and populates it with some randomly generated API
// username and password.
func createDefaultConfigFile(destinationPath string) error {
	// Create the destination directory if it does not exist
	err := os.MkdirAll(filepath.Dir(destinationPath), 0700)
	if err != nil {
		return err
	}

	// We generate a random user and password
	randomBytes := make([]byte, 20)
	_, err = rand.Read(randomBytes)
	if err != nil {
		return err
	}
	generatedAPIUser := base64.StdEncoding.EncodeToString(randomBytes)

	_, err = rand.Read(randomBytes)
	if err != nil {
		return err
	}
	generatedAPIPass := base64.StdEncoding.EncodeToString(randomBytes)

	src := strings.NewReader(sampleConfig)

	dest, err := os.OpenFile(destinationPath,
		os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer dest.Close()

	// We copy every line from the sample config file to the destination,
	// only replacing the two lines for apiusername and apipassword
	reader := bufio.NewReader(src)
	for err != io.EOF {
		var line string
		line, err = reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}

		if strings.Contains(line, "apiusername=") {
			line = "apiusername=" + generatedAPIUser + "\n"
		} else if strings.Contains(line, "apipassword=") {
			line = "apipassword=" + generatedAPIPass + "\n"
		}

		if _, err := dest.WriteString(line); err != nil {
			return err
		}
	}

	return nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(DefaultHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

func setupLogging(logDir, logLevel string) {
	backendStdout := logging.NewLogBackend(os.Stdout, "", 0)
	backendStdoutFormatter := logging.NewBackendFormatter(backendStdout, stdoutLogFormat)

	if logDir != "" {
		rotator := &lumberjack.Logger{
			Filename:   path.Join(logDir, defaultLogFilename),
			MaxSize:    10, // Megabytes
			MaxBackups: 3,
			MaxAge:     30, // Days
		}

		backendFile := logging.NewLogBackend(rotator, "", 0)
		backendFileFormatter := logging.NewBackendFormatter(backendFile, fileLogFormat)
		logging.SetBackend(backendStdoutFormatter, backendFileFormatter)
	} else {
		logging.SetBackend(backendStdoutFormatter)
	}

	var level logging.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = logging.DEBUG
	case "info":
		level = logging.INFO
	case "notice":
		level = logging.NOTICE
	case "warning":
		level = logging.WARNING
	case "error":
		level = logging.ERROR
	case "critical":
		level = logging.CRITICAL
	default:
		level = logging.INFO
	}
	logging.SetLevel(level, "")
}
