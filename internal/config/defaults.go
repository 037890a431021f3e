package config

const (
	DefaultInterpreter    = "python"
	DefaultScriptDir      = "./adapter"
	DefaultScript         = "mijia_tool.py"
	DefaultTimeoutSeconds = 30
	DefaultMaxConcurrent  = 8
)

func Defaults() *Config {
	return &Config{
		Interpreter:    DefaultInterpreter,
		ScriptDir:      DefaultScriptDir,
		Script:         DefaultScript,
		TimeoutSeconds: DefaultTimeoutSeconds,
		MaxConcurrent:  DefaultMaxConcurrent,
	}
}
