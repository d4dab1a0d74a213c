package env

import (
	"log"
	"os"
	"strings"

	"github.com/agentuity/go-provision/logger"
	"github.com/spf13/cobra"
)

const (
	// EnvConfig names the configuration file when --config is not set.
	EnvConfig = "PROVISION_CONFIG"
	// EnvFile names a dotenv file loaded before the configuration is read.
	EnvFile = "PROVISION_ENV_FILE"
	// EnvLogFormat selects console or json log output.
	EnvLogFormat = "PROVISION_LOG_FORMAT"
)

type EnvLine struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// ParseEnvFile parses an environment file and returns a list of EnvLine structs.
// A missing file yields an empty list.
func ParseEnvFile(filename string) ([]EnvLine, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return []EnvLine{}, nil
	}
	buf, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseEnvBuffer(buf)
}

func dequote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// ProcessEnvLine splits a KEY=value line, removing quotes around the value.
func ProcessEnvLine(line string) EnvLine {
	key, val, ok := strings.Cut(line, "=")
	if !ok {
		return EnvLine{Key: line}
	}
	return EnvLine{Key: strings.TrimPrefix(key, "export "), Val: dequote(val)}
}

// ParseEnvBuffer parses dotenv content. Values may reference earlier keys
// and the OS environment, see Expand.
func ParseEnvBuffer(buf []byte) ([]EnvLine, error) {
	envs := make([]EnvLine, 0)
	vars := make(map[string]string)
	for _, line := range strings.Split(string(buf), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		env := ProcessEnvLine(line)
		if env.Key == "" {
			continue
		}
		env.Val = Expand(env.Val, vars)
		vars[env.Key] = env.Val
		envs = append(envs, env)
	}
	return envs, nil
}

// LoadEnvFile sets every variable of a dotenv file that is not already set
// in the process environment. It returns the number of variables set.
func LoadEnvFile(filename string) (int, error) {
	envs, err := ParseEnvFile(filename)
	if err != nil {
		return 0, err
	}
	var count int
	for _, el := range envs {
		if _, ok := os.LookupEnv(el.Key); ok {
			continue
		}
		if err := os.Setenv(el.Key, el.Val); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func findClosingBrace(input string, start int) int {
	for i := start; i < len(input); i++ {
		switch input[i] {
		case '{':
			return -1
		case '}':
			return i
		}
	}
	return -1
}

// Expand replaces ${NAME} and ${NAME:-default} references with values from
// vars, then from the process environment. ${env:NAME} only consults the
// process environment. Unresolved references without a default are kept
// as written.
func Expand(input string, vars map[string]string) string {
	if !strings.Contains(input, "${") {
		return input
	}
	var result strings.Builder
	last := 0
	for i := 0; i+1 < len(input); i++ {
		if input[i] != '$' || input[i+1] != '{' {
			continue
		}
		end := findClosingBrace(input, i+2)
		if end == -1 {
			break
		}
		result.WriteString(input[last:i])
		ref := input[i : end+1]
		name, def, _ := strings.Cut(input[i+2:end], ":-")

		var val string
		if envName, ok := strings.CutPrefix(name, "env:"); ok {
			val = os.Getenv(envName)
		} else if v, ok := vars[name]; ok && v != "" {
			val = v
		} else {
			val = os.Getenv(name)
		}
		switch {
		case name == "":
			result.WriteString(ref)
		case val != "":
			result.WriteString(val)
		case def != "":
			result.WriteString(def)
		default:
			result.WriteString(ref)
		}
		i = end
		last = end + 1
	}
	result.WriteString(input[last:])
	return result.String()
}

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if non found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	flagValue, _ := cmd.Flags().GetString(flagName)
	if flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok {
		return val
	}
	return defaultValue
}

// LogLevel resolves the --log-level flag, then PROVISION_LOG_LEVEL, then info.
func LogLevel(cmd *cobra.Command) logger.LogLevel {
	return logger.ParseLevel(FlagOrEnv(cmd, "log-level", logger.EnvLogLevel, "info"), logger.LevelInfo)
}

// NewLogger returns a logger by first checking the cobra.Command log-level flag, then use the
// PROVISION_LOG_LEVEL environment value and falling back to the info logger level.
// The log-format flag or PROVISION_LOG_FORMAT set to json selects the JSON logger.
func NewLogger(cmd *cobra.Command) logger.Logger {
	log.SetFlags(0)
	if strings.EqualFold(FlagOrEnv(cmd, "log-format", EnvLogFormat, "console"), "json") {
		return logger.NewJSONLogger(LogLevel(cmd))
	}
	return logger.NewConsoleLogger(LogLevel(cmd))
}
